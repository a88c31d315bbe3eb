package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder keeps the current configuration and supports hot reload. All
// reads go through Get so a reload swaps the config atomically for new
// requests while in-flight requests keep the snapshot they started
// with.
type Holder struct {
	mu       sync.RWMutex
	cfg      *Config
	path     string
	logger   zerolog.Logger
	onChange []func(*Config)
	onError  []func(error)
}

// NewHolder creates a holder around an already loaded configuration.
func NewHolder(cfg *Config, path string, logger zerolog.Logger) *Holder {
	return &Holder{
		cfg:    cfg,
		path:   path,
		logger: logger.With().Str("service", "config").Logger(),
	}
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// OnChange registers a callback invoked after every successful reload.
// Callbacks run on the reloading goroutine and must not block.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers a callback invoked after every failed reload.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// Reload re-reads the configuration file. On error the previous
// configuration stays in effect.
func (h *Holder) Reload() error {
	if h.path == "" {
		return fmt.Errorf("no config file to reload")
	}
	cfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping previous config")
		h.mu.RLock()
		errCallbacks := make([]func(error), len(h.onError))
		copy(errCallbacks, h.onError)
		h.mu.RUnlock()
		for _, fn := range errCallbacks {
			fn(err)
		}
		return err
	}

	h.mu.Lock()
	h.cfg = cfg
	callbacks := make([]func(*Config), len(h.onChange))
	copy(callbacks, h.onChange)
	h.mu.Unlock()

	h.logger.Info().Str("path", h.path).Msg("config reloaded")
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// WatchFile reloads the configuration when the file changes on disk.
// The watch is placed on the containing directory because editors and
// orchestrators typically replace the file atomically, which would
// orphan a watch on the file itself.
func (h *Holder) WatchFile(ctx context.Context) error {
	if h.path == "" {
		return fmt.Errorf("no config file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(h.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := h.Reload(); err != nil {
					h.logger.Warn().Err(err).Msg("file watch reload failed")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}

// WatchSignals reloads the configuration on SIGHUP.
func (h *Holder) WatchSignals(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				if err := h.Reload(); err != nil {
					h.logger.Warn().Err(err).Msg("signal reload failed")
				}
			}
		}
	}()
}
