package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engadi/gateway/bootstrap"
	"github.com/engadi/gateway/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return &bootstrap.ConfigError{Err: err}
	}

	fmt.Println("Configuration valid")
	fmt.Printf("  Listen port: %d\n", cfg.Server.ListenPort)
	fmt.Printf("  Store:       %s\n", cfg.Store.DSN)
	fmt.Printf("  Rate limit:  %v\n", cfg.RateLimit.Enabled)
	fmt.Printf("  Breaker:     %v\n", cfg.Breaker.Enabled)
	return nil
}
