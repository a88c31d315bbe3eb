// Package idgen mints UUID v4 identifiers.
package idgen

import (
	"github.com/google/uuid"

	"github.com/engadi/gateway/ports"
)

// UUID generates random UUIDs for request ids and row ids.
type UUID struct{}

var _ ports.IDGenerator = UUID{}

func (UUID) NewID() string { return uuid.NewString() }
