package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"modbus-tools/modbus-go-server/config"
	"modbus-tools/modbus-go-server/server"
	"modbus-tools/modbus-go-server/tui"
)

func main() {
	var (
		listen       string
		unitSpec     string
		scenarioPath string
		headless     bool
		logPath      string
	)

	rootCmd := &cobra.Command{
		Use:   "modbus-go-server",
		Short: "Lab Modbus TCP target for exercising modbus-go-pwn",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
			if !headless {
				logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
				if err != nil {
					return fmt.Errorf("failed to open log file: %w", err)
				}
				defer logFile.Close()
				logger.SetOutput(logFile)
				logger.SetLevel(logrus.DebugLevel)
			}

			units, err := config.ParseUnits(unitSpec)
			if err != nil {
				return err
			}
			modbusServer := server.NewServer(logger, units)

			go modbusServer.RunCommandProcessor()
			go modbusServer.HeartbeatLoop()

			if scenarioPath != "" {
				go func() {
					if err := modbusServer.RunScenario(scenarioPath); err != nil {
						logger.Errorf("SCENARIO ERROR: %v", err)
					}
				}()
			} else {
				modbusServer.SetHeartbeat(true)
			}

			if err := modbusServer.ListenTCP(listen); err != nil {
				return err
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			if headless {
				<-c
				modbusServer.Stop()
				return nil
			}
			go func() {
				<-c
				logger.Info("Ctrl+C detected, stopping server...")
				modbusServer.Stop()
			}()

			p := tea.NewProgram(tui.NewModel(modbusServer, logger), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("error running TUI: %w", err)
			}
			modbusServer.Stop()
			logger.Info("Application exiting.")
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&listen, "listen", fmt.Sprintf("%s:%d", config.TCPServerHost, config.TCPServerPort), "TCP listen address")
	flags.StringVar(&unitSpec, "units", "1", "Unit ids that answer, e.g. 1,3,10-12")
	flags.StringVar(&scenarioPath, "scenario", "", "Path to a scenario script file to run")
	flags.BoolVar(&headless, "headless", false, "Run without the TUI, logging to stdout")
	flags.StringVar(&logPath, "log", "server_transaction.log", "Transaction log file used while the TUI is up")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
