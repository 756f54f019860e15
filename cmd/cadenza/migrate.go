package main

import (
	"github.com/spf13/cobra"

	"github.com/cadenzahq/cadenza/config"
	"github.com/cadenzahq/cadenza/db"
	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}

		dbPath := cfg.GetDatabasePath()
		if override, _ := cmd.Flags().GetString("db"); override != "" {
			dbPath = override
		}

		database, err := db.Open(dbPath, logger.Logger)
		if err != nil {
			return err
		}
		defer database.Close()

		return db.Migrate(database, logger.Logger)
	},
}
