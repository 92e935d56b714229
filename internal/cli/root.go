// Package cli implements the fleetwatch command-line interface.
//
// The root command is "fleetwatch" with subcommands:
//
//	fleetwatch serve    - Run the collector and HTTP API
//	fleetwatch poll     - Run one poll cycle and print the snapshot
//	fleetwatch init     - Create a fleetwatch.yaml config
//	fleetwatch version  - Print version information
//
// Global flags (--config, --verbose) are defined on the root command and
// available to all subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fleetwatch/internal/logger"
)

var (
	configFlag  string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "fleetwatch",
	Short: "tmux fleet monitor",
	Long: `fleetwatch polls a fleet of Linux hosts over SSH, tracks their tmux
sessions and resource usage, and serves the live state over HTTP and
websocket with threshold alerting.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			os.Setenv("FLEETWATCH_DEBUG", "1")
			logger.SetDefault(logger.NewEnvLogger("fleetwatch"))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
}

// Config returns the --config flag value.
func Config() string {
	return configFlag
}

// Execute runs the root command. Errors are rendered once here; commands
// return them instead of printing.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
