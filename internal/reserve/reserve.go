// Package reserve implements the atomic stock reservation engine. All
// mutations of the per-SKU counters go through the reserve and release
// scripts; nothing else may touch those keys.
package reserve

import (
	"context"
	"fmt"
	"time"
)

// Status is the outcome of a reservation attempt.
type Status int

const (
	// StatusReserved means stock was decremented and the buyer's count
	// incremented in one atomic step.
	StatusReserved Status = iota
	// StatusLimitExceeded means the buyer's cumulative quantity would pass
	// the per-user limit. No mutation happened.
	StatusLimitExceeded
	// StatusOutOfStock means remaining stock is below the requested
	// quantity. No mutation happened.
	StatusOutOfStock
)

func (s Status) String() string {
	switch s {
	case StatusReserved:
		return "RESERVED"
	case StatusLimitExceeded:
		return "LIMIT_EXCEEDED"
	case StatusOutOfStock:
		return "OUT_OF_STOCK"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the tagged outcome of Reserve. NewStock is only meaningful when
// Status is StatusReserved.
type Result struct {
	Status   Status
	NewStock int64
}

// Store is the reservation engine contract. Implementations must make
// Reserve and Release atomic relative to all concurrent calls on the same
// SKU; that atomicity is the sole mechanism preventing oversell and limit
// bypass. A Store that is unreachable returns an error, never
// StatusOutOfStock: the purchase path fails closed.
type Store interface {
	// Reserve atomically checks the buyer's cumulative count against limit,
	// checks remaining stock against quantity, and applies both mutations.
	Reserve(ctx context.Context, sku, buyer string, quantity, limit int64) (Result, error)

	// Release returns quantity units to stock and decrements the buyer's
	// count, floored at zero. It compensates a reservation whose downstream
	// persistence failed; callers must invoke it at most once per
	// successful Reserve.
	Release(ctx context.Context, sku, buyer string, quantity int64) (int64, error)

	// Prime initializes the counters for a sale: stock=available,
	// total=total, buyers reset. Counters expire after expireAt.
	Prime(ctx context.Context, sku string, available, total int64, expireAt time.Time) error

	// Stock reads the live counter. ok is false when the counter is absent
	// (sale not primed or already expired).
	Stock(ctx context.Context, sku string) (stock int64, ok bool, err error)
}
