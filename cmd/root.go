// Package cmd is the ticketcache command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "ticketcache",
	Short:         "Client-side query cache for the ticket REST API",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var (
	flagAPI      string
	flagLogLevel string
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAPI, "api", "", "ticket API base URL (overrides TICKETCACHE_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides TICKETCACHE_LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(fingerprintCmd)
}
