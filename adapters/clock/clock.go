// Package clock provides the wall clock behind ports.Clock.
package clock

import (
	"time"

	"github.com/engadi/gateway/ports"
)

// System reads the real wall clock.
type System struct{}

var _ ports.Clock = System{}

func (System) Now() time.Time { return time.Now() }
