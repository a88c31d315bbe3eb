package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/engadi/gateway/bootstrap"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "API gateway with routing, authentication, rate limiting, and circuit breaking",
	Long: `Gateway is a self-hosted edge proxy for HTTP services.

It matches incoming requests against configured routes, verifies bearer
tokens, enforces per-client and per-user rate limits, trips circuit
breakers on failing upstreams, and forwards everything else.

Quick start:
  gateway migrate   # Prepare the store schema
  gateway serve     # Start the proxy

Management:
  gateway routes    # Inspect configured routes
  gateway validate  # Validate configuration`,
}

// Execute runs the root command and exits with the classified status.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(bootstrap.ExitCode(err))
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "gateway.yaml", "config file path")
}
