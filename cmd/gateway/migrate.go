package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engadi/gateway/adapters/sqlite"
	"github.com/engadi/gateway/bootstrap"
	"github.com/engadi/gateway/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending store migrations",
	Long: `Apply pending store migrations.

The serve command refuses to start against a store whose schema is not
current. Run this once after every upgrade.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return &bootstrap.StoreError{Err: err}
	}

	fmt.Println("Store schema is current.")
	return nil
}

// openStore loads configuration and opens the store it names.
func openStore() (*sqlite.DB, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, &bootstrap.ConfigError{Err: err}
	}
	db, err := sqlite.Open(cfg.Store.DSN)
	if err != nil {
		return nil, &bootstrap.StoreError{Err: err}
	}
	return db, nil
}
