package ratelimit

import (
	"math"
	"time"
)

// Counts is a counter pair for the sliding-window approximation: the
// count accumulated in the current fixed window plus the count of the
// window before it. Start is the current window's start instant.
type Counts struct {
	Curr  int64
	Prev  int64
	Start time.Time
}

// WindowStart truncates now to the fixed window boundary.
func WindowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

// Advance rolls the pair forward to the window containing now. Crossing
// one boundary shifts Curr into Prev; crossing more than one zeroes both.
func Advance(c Counts, window time.Duration, now time.Time) Counts {
	start := WindowStart(now, window)
	switch {
	case c.Start.Equal(start):
		return c
	case c.Start.Equal(start.Add(-window)):
		return Counts{Prev: c.Curr, Start: start}
	default:
		return Counts{Start: start}
	}
}

// Weighted estimates the request count over the sliding window ending at
// now: the current window's count plus the previous window's count scaled
// by how much of the previous window still overlaps the sliding one.
func Weighted(c Counts, window time.Duration, now time.Time) float64 {
	c = Advance(c, window, now)
	frac := float64(now.Sub(c.Start)) / float64(window)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return float64(c.Curr) + float64(c.Prev)*(1-frac)
}

// Demand pairs a selecting rule with its derived counter key. A request
// is admitted only when every demand's bucket is under budget.
type Demand struct {
	Key  string
	Rule Rule
}

// Decision is the outcome of evaluating one rule against one request.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
}

// Evaluate applies the rule's budget to a counter pair without mutating
// it. The caller commits the increment only when every selected rule
// allows the request.
func Evaluate(r Rule, c Counts, now time.Time) Decision {
	window := r.Window()
	used := int64(math.Ceil(Weighted(c, window, now)))

	d := Decision{
		Limit: r.MaxRequests,
		Reset: WindowStart(now, window).Add(window),
	}
	if used >= r.MaxRequests {
		d.RetryAfter = d.Reset.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
		return d
	}
	d.Allowed = true
	d.Remaining = r.MaxRequests - used - 1
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}
