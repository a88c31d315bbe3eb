// Package bootstrap wires all dependencies and runs the gateway.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/engadi/gateway/adapters/auth"
	"github.com/engadi/gateway/adapters/clock"
	gwhttp "github.com/engadi/gateway/adapters/http"
	"github.com/engadi/gateway/adapters/http/admin"
	"github.com/engadi/gateway/adapters/idgen"
	"github.com/engadi/gateway/adapters/memory"
	"github.com/engadi/gateway/adapters/metrics"
	"github.com/engadi/gateway/adapters/sqlite"
	"github.com/engadi/gateway/app"
	"github.com/engadi/gateway/config"
	"github.com/engadi/gateway/domain/breaker"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitConfig         = 1
	ExitStore          = 2
	ExitSchemaMismatch = 3
)

// ConfigError marks a configuration load or validation failure.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// StoreError marks an unreachable or unusable store.
type StoreError struct{ Err error }

func (e *StoreError) Error() string { return "store: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// ExitCode classifies a startup error for the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, sqlite.ErrSchemaMismatch) {
		return ExitSchemaMismatch
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return ExitStore
	}
	return ExitConfig
}

// retentionSweepInterval controls how often expired request logs are
// purged.
const retentionSweepInterval = time.Hour

// App is the wired gateway.
type App struct {
	Logger zerolog.Logger
	Holder *config.Holder
	DB     *sqlite.DB

	// HotReload controls whether the config file is watched for
	// changes. SIGHUP reloads work either way.
	HotReload bool

	server     *http.Server
	metrics    *metrics.Collector
	sink       *app.LogSink
	healthSvc  *app.HealthService
	logStore   *sqlite.LogStore
	counters   *memory.CounterStore
	dispatcher *gwhttp.Dispatcher
	clk        *clock.System
}

// New loads configuration and wires the full application. The store
// schema must already be migrated; a mismatch is reported, not fixed.
func New(cfgPath string) (*App, error) {
	cfg, err := config.LoadWithFallback(cfgPath)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	logger := NewLogger(cfg.Logging)
	holder := config.NewHolder(cfg, cfgPath, logger)

	logger.Info().Int("port", cfg.Server.ListenPort).Msg("initializing gateway")

	db, err := sqlite.Open(cfg.Store.DSN)
	if err != nil {
		return nil, &StoreError{Err: err}
	}
	if err := db.CheckSchema(); err != nil {
		db.Close()
		if errors.Is(err, sqlite.ErrSchemaMismatch) {
			return nil, err
		}
		return nil, &StoreError{Err: err}
	}

	clk := &clock.System{}
	ids := &idgen.UUID{}
	collector := metrics.New()

	routeStore := sqlite.NewRouteStore(db)
	ruleStore := sqlite.NewRuleStore(db)
	healthStore := sqlite.NewHealthStore(db)
	logStore := sqlite.NewLogStore(db)
	counters := memory.NewCounterStore()

	routing := app.NewRoutingService(routeStore, clk, ids, logger)
	limits := app.NewRateLimitService(ruleStore, counters, clk, ids, logger)
	breakers := app.NewBreakerRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout(),
	}, clk, logger)
	healthSvc := app.NewHealthService(healthStore, breakers, clk, logger, app.HealthServiceConfig{
		Interval: cfg.Health.CheckInterval(),
		Timeout:  cfg.Health.CheckTimeout(),
		ProbeObserver: func(service string, rtt time.Duration) {
			collector.HealthProbeDuration.WithLabelValues(service).Observe(rtt.Seconds())
		},
	})
	sink := app.NewLogSink(logStore, logger, app.LogSinkConfig{
		BufferSize:    cfg.Logs.BufferSize,
		SamplingRatio: cfg.Logs.SamplingRatio,
		OnDrop:        collector.LogsDropped.Inc,
	})

	ctx := context.Background()
	if err := routing.Reload(ctx); err != nil {
		db.Close()
		return nil, &StoreError{Err: err}
	}
	if err := limits.Reload(ctx); err != nil {
		db.Close()
		return nil, &StoreError{Err: err}
	}

	verifier := auth.New(auth.Options{
		Secret:      cfg.Auth.SecretKey,
		Algorithm:   cfg.Auth.TokenAlgorithm,
		IdentityURL: cfg.Auth.IdentityServiceURL,
	})
	dispatcher := gwhttp.NewDispatcher(gwhttp.DispatcherConfig{
		DefaultTimeout: cfg.Dispatch.GatewayTimeout(),
		DefaultRetries: cfg.Dispatch.GatewayRetryCount,
	}, collector, logger)

	trusted, err := gwhttp.ParseTrustedProxies(cfg.Server.TrustedProxyCIDRs)
	if err != nil {
		db.Close()
		return nil, &ConfigError{Err: err}
	}

	gateway := gwhttp.NewGatewayHandler(gwhttp.GatewayDeps{
		Routing:    routing,
		Limits:     limits,
		Breakers:   breakers,
		Health:     healthSvc,
		Verifier:   verifier,
		Dispatcher: dispatcher,
		Sink:       sink,
		Clock:      clk,
		IDs:        ids,
		Metrics:    collector,
		Logger:     logger,
	}, gwhttp.GatewayConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		BreakerEnabled:   cfg.Breaker.Enabled,
		MaxInFlight:      cfg.Server.MaxInFlight,
		TrustedProxies:   trusted,
	})

	adminHandler := admin.NewHandler(admin.Deps{
		Routing:  routing,
		Limits:   limits,
		Health:   healthSvc,
		Logs:     logStore,
		Verifier: verifier,
		Clock:    clk,
		CORS:     cfg.CORS,
		Logger:   logger,
	})

	router := gwhttp.NewRouter(gwhttp.RouterDeps{
		Gateway: gateway,
		Admin:   adminHandler.Router(),
		Ready: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
		Metrics: promhttp.Handler(),
		CORS:    cfg.CORS,
		Logger:  logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.ListenPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Logger:     logger,
		Holder:     holder,
		DB:         db,
		HotReload:  true,
		server:     server,
		metrics:    collector,
		sink:       sink,
		healthSvc:  healthSvc,
		logStore:   logStore,
		counters:   counters,
		dispatcher: dispatcher,
		clk:        clk,
	}, nil
}

// Run starts the server and background loops, then blocks until SIGINT
// or SIGTERM. Shutdown drains in-flight requests and flushes the log
// sink.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.sink.Run(ctx)
	go a.healthSvc.Run(ctx)
	go a.retentionSweeper(ctx)

	if a.HotReload {
		if err := a.Holder.WatchFile(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
	}
	a.Holder.WatchSignals(ctx)
	a.Holder.OnChange(func(*config.Config) {
		a.metrics.ConfigReloads.Inc()
	})
	a.Holder.OnError(func(error) {
		a.metrics.ConfigReloadErrors.Inc()
	})

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.server.Addr).Msg("gateway listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-stop:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("server shutdown incomplete")
	}

	// Stop background loops, then let the sink drain its buffer.
	cancel()
	a.sink.Wait()
	a.dispatcher.Close()
	a.counters.Close()

	if err := a.DB.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("closing store")
	}
	a.Logger.Info().Msg("gateway stopped")
	return nil
}

// retentionSweeper purges request logs past the retention horizon. The
// config is fetched per tick so a hot-reloaded retention_days applies.
func (a *App) retentionSweeper(ctx context.Context) {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeExpiredLogs(ctx)
		}
	}
}

func (a *App) purgeExpiredLogs(ctx context.Context) {
	cutoff := a.Holder.Get().Logs.RetentionCutoff(a.clk.Now().UTC())
	n, err := a.logStore.PurgeBefore(ctx, cutoff)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("log retention sweep failed")
		return
	}
	if n > 0 {
		a.Logger.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("expired request logs purged")
	}
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
