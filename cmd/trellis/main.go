// Command trellis manages hybrid persistence for a local artifact vault:
// a durable SQLite store that is always available, plus an optional
// connection to an external directory kept in sync with it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "Hybrid persistence and sync for your artifact vault",
	Long: `trellis keeps your artifacts in a durable local database and
synchronizes them with an external directory when one is connected.

Work is never lost while disconnected: edits land in the durable store
and are pushed out on the next sync. Conflicting edits on both sides are
detected and resolved explicitly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the config file")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
