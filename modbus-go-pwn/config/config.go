package config

import "time"

// Protocol limits and defaults. These are part of the tool's external contract.
const (
	MaxRegistersPerRead = 125
	MaxBitsPerRead      = 2000
	DefaultPort         = 502
	DefaultUnitID       = 1
	MaxScanSpan         = 10000
	MaxDosWorkers       = 10
)

const (
	DefaultHTTPListen = "0.0.0.0:5000"
	DefaultTargetsDB  = "targets.db"
	DefaultAuditDir   = "audit"
)

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	// NoConsole keeps debug output off stdout while it owns a terminal UI.
	NoConsole bool `mapstructure:"-"`
}

// TimingConfig holds every timeout and pacing delay used against a target.
type TimingConfig struct {
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	ScanTimeout      time.Duration `mapstructure:"scan_timeout"`
	ExploitTimeout   time.Duration `mapstructure:"exploit_timeout"`
	WorkerTimeout    time.Duration `mapstructure:"worker_timeout"`
	ChunkDelay       time.Duration `mapstructure:"chunk_delay"`
	DiscoveryDelay   time.Duration `mapstructure:"discovery_delay"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	JoinTimeout      time.Duration `mapstructure:"join_timeout"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type TargetsConfig struct {
	DB string `mapstructure:"db"`
}

type AppConfig struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Timing  TimingConfig  `mapstructure:"timing"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Targets TargetsConfig `mapstructure:"targets"`
}

// DefaultTiming mirrors the pacing the tool has always used against field devices.
func DefaultTiming() TimingConfig {
	return TimingConfig{
		ProbeTimeout:     2 * time.Second,
		DiscoveryTimeout: 1 * time.Second,
		ScanTimeout:      3 * time.Second,
		ExploitTimeout:   3 * time.Second,
		WorkerTimeout:    1 * time.Second,
		ChunkDelay:       100 * time.Millisecond,
		DiscoveryDelay:   10 * time.Millisecond,
		ReconnectDelay:   500 * time.Millisecond,
		JoinTimeout:      2 * time.Second,
	}
}
