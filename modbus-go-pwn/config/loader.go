package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "MODBUSPWN"

// Load reads the YAML config file (optional), environment overrides and defaults.
// An empty path searches ./configs and the working directory for pwn.yaml.
func Load(v *viper.Viper, path string) (*AppConfig, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pwn")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	t := DefaultTiming()
	v.SetDefault("http.listen", DefaultHTTPListen)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/modbus-go-pwn.log")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)
	v.SetDefault("timing.probe_timeout", t.ProbeTimeout)
	v.SetDefault("timing.discovery_timeout", t.DiscoveryTimeout)
	v.SetDefault("timing.scan_timeout", t.ScanTimeout)
	v.SetDefault("timing.exploit_timeout", t.ExploitTimeout)
	v.SetDefault("timing.worker_timeout", t.WorkerTimeout)
	v.SetDefault("timing.chunk_delay", t.ChunkDelay)
	v.SetDefault("timing.discovery_delay", t.DiscoveryDelay)
	v.SetDefault("timing.reconnect_delay", t.ReconnectDelay)
	v.SetDefault("timing.join_timeout", t.JoinTimeout)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.dir", DefaultAuditDir)
	v.SetDefault("targets.db", DefaultTargetsDB)
}

func validate(cfg *AppConfig) error {
	if cfg.HTTP.Listen == "" {
		return errors.New("http.listen must not be empty")
	}
	t := cfg.Timing
	if t.ProbeTimeout <= 0 || t.DiscoveryTimeout <= 0 || t.ScanTimeout <= 0 || t.ExploitTimeout <= 0 || t.WorkerTimeout <= 0 {
		return errors.New("timing timeouts must be positive")
	}
	if t.ChunkDelay < 0 || t.DiscoveryDelay < 0 || t.ReconnectDelay < 0 || t.JoinTimeout < 0 {
		return errors.New("timing delays must not be negative")
	}
	return nil
}
