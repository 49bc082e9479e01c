package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"modbus-tools/modbus-go-pwn/config"
	"modbus-tools/modbus-go-pwn/logger"
	"modbus-tools/modbus-go-pwn/version"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "modbus-go-pwn",
	Short: "Modbus TCP security assessment toolkit",
	Long: `modbus-go-pwn probes, scans, writes to and stress-tests Modbus TCP devices.
Only run it against equipment you are authorized to assess.

Examples:
  modbus-go-pwn serve
  modbus-go-pwn probe 192.168.1.10
  modbus-go-pwn scan @plc1 --start 0 --end 99 --hr --coils
  modbus-go-pwn exploit 192.168.1.10:5020 --register-address 40 --register-value 1234
  modbus-go-pwn dos @plc1 --coil-address 3 --workers 2 --rate 20 --duration 10`,
	SilenceUsage: true,
}

// loadApp reads the config, builds the logger and wires the assessment core.
func loadApp(forTUI bool) (*app, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	// log lines on stdout would tear the terminal UI
	if forTUI {
		cfg.Log.Output = "file"
		cfg.Log.NoConsole = true
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.WithFields(logrus.Fields{"version": version.Version, "build_date": version.BuildDate}).Debug("config loaded")
	return newApp(cfg, log), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/pwn.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		newServeCmd(),
		newTUICmd(),
		newProbeCmd(),
		newScanCmd(),
		newExploitCmd(),
		newDosCmd(),
		newVersionCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
