package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"modbus-tools/modbus-db-init/database"
	targets "modbus-tools/modbus-go-pwn/database"
)

func main() {
	var (
		dbFile string
		force  bool
		specs  []string
	)
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	rootCmd := &cobra.Command{
		Use:          "modbus-db-init",
		Short:        "Create the target profile database used by modbus-go-pwn",
		Example:      "  modbus-db-init --db targets.db --target plc1=10.0.0.5:502/1 --target hmi=10.0.0.9",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var profiles []targets.Target
			for _, spec := range specs {
				t, err := database.ParseTarget(spec)
				if err != nil {
					return err
				}
				profiles = append(profiles, t)
			}

			log.Infof("Initializing database at %s...", dbFile)
			if _, err := os.Stat(dbFile); err == nil {
				if !force {
					return fmt.Errorf("database file '%s' already exists. Use --force to overwrite", dbFile)
				}
				if err := os.Remove(dbFile); err != nil {
					return fmt.Errorf("could not remove existing database file '%s': %w", dbFile, err)
				}
				log.Info("Removed existing database file due to --force flag.")
			}

			dbConn, err := sql.Open("sqlite", dbFile)
			if err != nil {
				return fmt.Errorf("could not create database file %s: %w", dbFile, err)
			}
			defer dbConn.Close()

			if err := database.CreateAndPopulate(dbConn, profiles); err != nil {
				dbConn.Close()
				os.Remove(dbFile)
				return fmt.Errorf("failed to initialize schema and populate data: %w", err)
			}

			if len(profiles) == 0 {
				profiles = database.DefaultProfiles
			}
			for _, t := range profiles {
				log.WithFields(logrus.Fields{"host": t.Host, "port": t.Port, "unit": t.UnitID}).Infof("profile @%s", t.Name)
			}
			log.Infof("Successfully created and populated database '%s'.", dbFile)
			return nil
		},
	}
	flags := rootCmd.Flags()
	flags.StringVar(&dbFile, "db", "targets.db", "path to the SQLite database file to create")
	flags.BoolVar(&force, "force", false, "overwrite the database file if it already exists")
	flags.StringArrayVar(&specs, "target", nil, "profile as name=host[:port][/unit], repeatable")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
