package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/cadenzahq/cadenza/config"
	"github.com/cadenzahq/cadenza/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect Cadenza configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		if err := cfg.Validate(); err != nil {
			return errors.Wrap(err, "invalid configuration")
		}

		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to render configuration")
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
