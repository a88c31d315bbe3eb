package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/adapters/sqlite"
	"github.com/engadi/gateway/config"
	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/ports"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config", &ConfigError{Err: errors.New("bad yaml")}, ExitConfig},
		{"store", &StoreError{Err: errors.New("locked")}, ExitStore},
		{"schema", fmt.Errorf("open: %w", sqlite.ErrSchemaMismatch), ExitSchemaMismatch},
		{"wrapped config", fmt.Errorf("error initializing: %w", &ConfigError{Err: errors.New("x")}), ExitConfig},
		{"wrapped store", fmt.Errorf("error initializing: %w", &StoreError{Err: errors.New("x")}), ExitStore},
		{"unclassified", errors.New("boom"), ExitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelAndFallback(t *testing.T) {
	logger := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %v, want warn", logger.GetLevel())
	}

	logger = NewLogger(config.LoggingConfig{Level: "nope", Format: "console"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %v", logger.GetLevel())
	}
}

func TestNew_MissingSchemaRefusesToStart(t *testing.T) {
	dir := t.TempDir()
	cfgPath := dir + "/gateway.yaml"
	writeFile(t, cfgPath, `
server:
  listen_port: 8000
auth:
  secret_key: test-secret
store:
  dsn: `+dir+`/gateway.db
`)

	// Create the store without running migrations.
	db, err := sqlite.Open(dir + "/gateway.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.Close()

	_, err = New(cfgPath)
	if err == nil {
		t.Fatal("expected an error for an unmigrated store")
	}
	if ExitCode(err) != ExitSchemaMismatch {
		t.Fatalf("ExitCode = %d, want %d (err: %v)", ExitCode(err), ExitSchemaMismatch, err)
	}
}

func TestNew_MigratedStoreWires(t *testing.T) {
	dir := t.TempDir()
	cfgPath := dir + "/gateway.yaml"
	writeFile(t, cfgPath, `
server:
  listen_port: 8000
auth:
  secret_key: test-secret
store:
  dsn: `+dir+`/gateway.db
`)

	db, err := sqlite.Open(dir + "/gateway.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.Close()

	app, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.DB.Close()

	if !app.HotReload {
		t.Fatal("hot reload should default to on")
	}
	if got := app.Holder.Get().Server.ListenPort; got != 8000 {
		t.Fatalf("port = %d, want 8000", got)
	}
}

func TestRetentionSweepHonorsReloadedConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := dir + "/gateway.yaml"
	base := `
server:
  listen_port: 8000
auth:
  secret_key: test-secret
store:
  dsn: ` + dir + `/gateway.db
`
	writeFile(t, cfgPath, base)

	db, err := sqlite.Open(dir + "/gateway.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.Close()

	app, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.DB.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	err = app.logStore.Insert(ctx, []proxy.LogRecord{
		{RequestID: "ancient", Method: "GET", Path: "/a", ClientIP: "10.0.0.1", StatusCode: 200, CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{RequestID: "recent", Method: "GET", Path: "/b", ClientIP: "10.0.0.1", StatusCode: 200, CreatedAt: now.Add(-10 * 24 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The default 30-day retention only removes the 40-day-old record.
	app.purgeExpiredLogs(ctx)
	left, err := app.logStore.Query(ctx, ports.LogQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(left) != 1 || left[0].RequestID != "recent" {
		t.Fatalf("logs after first sweep = %+v, want only the recent one", left)
	}

	// Tighten retention on disk and reload. The next sweep must pick up
	// the new horizon without a restart.
	writeFile(t, cfgPath, base+"request_logs:\n  retention_days: 5\n")
	if err := app.Holder.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	app.purgeExpiredLogs(ctx)
	left, err = app.logStore.Query(ctx, ports.LogQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("logs after tightened retention = %+v, want none", left)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
