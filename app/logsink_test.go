package app_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/app"
	"github.com/engadi/gateway/domain/proxy"
)

func rec(id string) proxy.LogRecord {
	return proxy.LogRecord{
		RequestID: id, Method: "GET", Path: "/x",
		ClientIP: "10.0.0.7", StatusCode: 200, CreatedAt: t0,
	}
}

func TestLogSink_WritesBatches(t *testing.T) {
	store := &memLogStore{}
	sink := app.NewLogSink(store, zerolog.Nop(), app.LogSinkConfig{BufferSize: 16})

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)

	for i := 0; i < 10; i++ {
		sink.Record(rec(fmt.Sprintf("req-%d", i)))
	}
	cancel()
	sink.Wait()

	got := store.all()
	if len(got) != 10 {
		t.Fatalf("stored %d records, want 10", len(got))
	}
	if sink.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", sink.Dropped())
	}
}

func TestLogSink_FullBufferDropsOldest(t *testing.T) {
	store := &memLogStore{}
	sink := app.NewLogSink(store, zerolog.Nop(), app.LogSinkConfig{BufferSize: 4})

	// No writer running: the buffer fills and must shed the oldest.
	for i := 0; i < 10; i++ {
		sink.Record(rec(fmt.Sprintf("req-%d", i)))
	}
	if got := sink.Dropped(); got != 6 {
		t.Fatalf("Dropped = %d, want 6", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	cancel()
	sink.Wait()

	got := store.all()
	if len(got) != 4 {
		t.Fatalf("stored %d records, want 4", len(got))
	}
	// The survivors are the newest ones.
	if got[0].RequestID != "req-6" || got[3].RequestID != "req-9" {
		t.Errorf("survivors = %q..%q, want req-6..req-9", got[0].RequestID, got[3].RequestID)
	}
}

func TestLogSink_OnDropFiresPerDiscard(t *testing.T) {
	store := &memLogStore{}
	var drops int
	sink := app.NewLogSink(store, zerolog.Nop(), app.LogSinkConfig{
		BufferSize: 4,
		OnDrop:     func() { drops++ },
	})

	for i := 0; i < 10; i++ {
		sink.Record(rec(fmt.Sprintf("req-%d", i)))
	}
	if drops != 6 {
		t.Errorf("OnDrop fired %d times, want 6", drops)
	}
	if got := sink.Dropped(); int(got) != drops {
		t.Errorf("Dropped = %d, callback saw %d", got, drops)
	}
}

func TestLogSink_FlushOnShutdown(t *testing.T) {
	store := &memLogStore{}
	sink := app.NewLogSink(store, zerolog.Nop(), app.LogSinkConfig{BufferSize: 128})

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)

	for i := 0; i < 100; i++ {
		sink.Record(rec(fmt.Sprintf("req-%d", i)))
	}
	cancel()
	sink.Wait()

	if got := len(store.all()); got != 100 {
		t.Fatalf("stored %d records after shutdown, want 100", got)
	}
}

func TestLogSink_SamplingDropsSilently(t *testing.T) {
	store := &memLogStore{}
	sink := app.NewLogSink(store, zerolog.Nop(), app.LogSinkConfig{BufferSize: 4096, SamplingRatio: 0.5})

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)

	const n = 2000
	for i := 0; i < n; i++ {
		sink.Record(rec(fmt.Sprintf("req-%d", i)))
	}
	cancel()
	sink.Wait()

	got := len(store.all())
	if got == 0 || got == n {
		t.Fatalf("stored %d of %d records, want roughly half", got, n)
	}
	// Sampling is not a buffer drop.
	if sink.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", sink.Dropped())
	}
}
