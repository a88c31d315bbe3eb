// Package memory provides the in-process rate-limit counter store.
package memory

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/engadi/gateway/domain/ratelimit"
	"github.com/engadi/gateway/ports"
)

const shardCount = 64

type bucket struct {
	counts  ratelimit.Counts
	window  time.Duration
	touched time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// CounterStore is a sharded in-memory counter store. Keys are spread
// over fixed shards by fnv hash; an acquisition locks only the shards
// its keys land on, in ascending order, so concurrent acquisitions on
// overlapping key sets serialize without deadlocking.
type CounterStore struct {
	shards [shardCount]shard
	stop   chan struct{}
	done   chan struct{}
}

var _ ports.CounterStore = (*CounterStore)(nil)

// NewCounterStore builds the store and starts its cleanup loop.
func NewCounterStore() *CounterStore {
	s := &CounterStore{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].buckets = make(map[string]*bucket)
	}
	go s.janitor()
	return s
}

// Close stops the cleanup loop.
func (s *CounterStore) Close() {
	close(s.stop)
	<-s.done
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

// AcquireAll evaluates every demand and commits the increments only
// when all of them allow. Holding every involved shard lock for the
// whole test-then-commit keeps the operation atomic against concurrent
// acquisitions on the same keys.
func (s *CounterStore) AcquireAll(demands []ratelimit.Demand, now time.Time) ([]ratelimit.Decision, bool) {
	if len(demands) == 0 {
		return nil, true
	}

	idxSet := make(map[int]struct{}, len(demands))
	for _, d := range demands {
		idxSet[shardIndex(d.Key)] = struct{}{}
	}
	order := make([]int, 0, len(idxSet))
	for i := range idxSet {
		order = append(order, i)
	}
	sort.Ints(order)
	for _, i := range order {
		s.shards[i].mu.Lock()
	}
	defer func() {
		for _, i := range order {
			s.shards[i].mu.Unlock()
		}
	}()

	decisions := make([]ratelimit.Decision, len(demands))
	allowed := true
	for i, d := range demands {
		b := s.bucketLocked(d.Key, d.Rule.Window(), now)
		decisions[i] = ratelimit.Evaluate(d.Rule, b.counts, now)
		if !decisions[i].Allowed {
			allowed = false
		}
	}
	if !allowed {
		return decisions, false
	}
	for _, d := range demands {
		b := s.bucketLocked(d.Key, d.Rule.Window(), now)
		b.counts = ratelimit.Advance(b.counts, d.Rule.Window(), now)
		b.counts.Curr++
		b.touched = now
	}
	return decisions, true
}

// bucketLocked fetches or creates a bucket; the caller holds its shard.
func (s *CounterStore) bucketLocked(key string, window time.Duration, now time.Time) *bucket {
	sh := &s.shards[shardIndex(key)]
	b, ok := sh.buckets[key]
	if !ok {
		b = &bucket{
			counts:  ratelimit.Counts{Start: ratelimit.WindowStart(now, window)},
			window:  window,
			touched: now,
		}
		sh.buckets[key] = b
	}
	return b
}

// janitor drops buckets idle for more than two full windows.
func (s *CounterStore) janitor() {
	defer close(s.done)
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			for i := range s.shards {
				sh := &s.shards[i]
				sh.mu.Lock()
				for k, b := range sh.buckets {
					if now.Sub(b.touched) > 2*b.window {
						delete(sh.buckets, k)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}
