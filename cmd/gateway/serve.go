package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engadi/gateway/bootstrap"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the gateway server.

The server will:
  - Load configuration from gateway.yaml (or --config)
  - Or load configuration from GATEWAY_* environment variables
  - Open the store and verify its schema version
  - Start proxying requests to the configured upstreams

Environment variables (for Docker deployments):
  GATEWAY_LISTEN_PORT  - Listen port (default: 8000)
  GATEWAY_SECRET_KEY   - JWT signing secret
  GATEWAY_STORE_DSN    - Store path (default: gateway.db)
  GATEWAY_LOG_LEVEL    - Log level: debug, info, warn, error

Examples:
  gateway serve
  gateway serve --config /etc/gateway/config.yaml
  gateway serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	app.HotReload = hotReload

	// Blocks until shutdown.
	return app.Run()
}
