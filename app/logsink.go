package app

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/ports"
)

const (
	logBatchSize    = 64
	logFlushEvery   = 500 * time.Millisecond
	logWriteTimeout = 5 * time.Second
)

// LogSinkConfig holds the sink's buffer settings. OnDrop, when set, is
// called once per discarded record so drops surface in metrics and not
// just in the process-local counter.
type LogSinkConfig struct {
	BufferSize    int
	SamplingRatio float64
	OnDrop        func()
}

// LogSink buffers request log records and writes them in batches off
// the request path. A full buffer drops the oldest record rather than
// blocking the data plane.
type LogSink struct {
	store  ports.LogStore
	logger zerolog.Logger

	ch       chan proxy.LogRecord
	sampling float64
	dropped  atomic.Int64
	onDrop   func()
	done     chan struct{}
}

// NewLogSink creates a log sink. Run must be started for records to
// reach the store.
func NewLogSink(store ports.LogStore, logger zerolog.Logger, cfg LogSinkConfig) *LogSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.SamplingRatio <= 0 || cfg.SamplingRatio > 1 {
		cfg.SamplingRatio = 1
	}
	return &LogSink{
		store:    store,
		logger:   logger.With().Str("service", "logsink").Logger(),
		ch:       make(chan proxy.LogRecord, cfg.BufferSize),
		sampling: cfg.SamplingRatio,
		onDrop:   cfg.OnDrop,
		done:     make(chan struct{}),
	}
}

// Record enqueues one record without ever blocking. When the buffer is
// full the oldest queued record is discarded and counted.
func (s *LogSink) Record(rec proxy.LogRecord) {
	if s.sampling < 1 && rand.Float64() >= s.sampling {
		return
	}
	for {
		select {
		case s.ch <- rec:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			if s.onDrop != nil {
				s.onDrop()
			}
		default:
		}
	}
}

// Dropped reports how many records have been discarded. The counter is
// monotonic for the life of the process.
func (s *LogSink) Dropped() int64 {
	return s.dropped.Load()
}

// Run drains the buffer into the store until the context is done, then
// flushes what remains.
func (s *LogSink) Run(ctx context.Context) {
	defer close(s.done)

	batch := make([]proxy.LogRecord, 0, logBatchSize)
	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		writeCtx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
		if err := s.store.Insert(writeCtx, batch); err != nil {
			s.logger.Error().Err(err).Int("records", len(batch)).Msg("write log batch")
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-s.ch:
					batch = append(batch, rec)
					if len(batch) == logBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case rec := <-s.ch:
			batch = append(batch, rec)
			if len(batch) == logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Wait blocks until Run has flushed and returned.
func (s *LogSink) Wait() {
	<-s.done
}
