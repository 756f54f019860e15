package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cadenzahq/cadenza/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().String())
	},
}
