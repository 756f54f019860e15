package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/cadenzahq/cadenza/config"
	"github.com/cadenzahq/cadenza/db"
	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/logger"
	"github.com/cadenzahq/cadenza/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tool surface on stdio",
	Long: `Serve the Model Context Protocol tool surface on stdio.

Run from an MCP client configuration; stdout carries the protocol, so
logs are reduced to warnings and errors.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout belongs to the protocol.
	if err := logger.InitializeWithLevel(true, zapcore.WarnLevel); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	dbPath := cfg.GetDatabasePath()
	if override, _ := cmd.Flags().GetString("db"); override != "" {
		dbPath = override
	}

	database, err := db.Open(dbPath, nil)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, nil); err != nil {
		return err
	}

	cp, err := buildControlPlane(cmd.Context(), database, cfg)
	if err != nil {
		return err
	}
	if err := cp.engine.LoadState(); err != nil {
		return errors.Wrap(err, "failed to restore scheduler state")
	}

	return mcp.NewServer(cp.engine, cp.executor, cp.budget, cp.history, logger.Logger).Run()
}
