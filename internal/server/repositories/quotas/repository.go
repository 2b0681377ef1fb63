// Package quotas declares the repository contract for per-user storage
// quota records.
package quotas

import (
	"context"

	"github.com/astepanov/syncbox/internal/server/models"
)

// Repository persists QuotaRecord rows. Reserve and Release are single
// atomic statements: the admission check and the counter update happen in
// one guarded UPDATE, never as a read-then-write pair.
type Repository interface {
	// Ensure creates the quota record with the given limit if it does not
	// exist yet. Existing records are left untouched.
	Ensure(ctx context.Context, userID string, limitBytes int64) error

	// Reserve atomically adds delta to used_bytes if the result stays within
	// the limit (negative deltas always pass the check). It reports false,
	// with no state change, when the reservation would overshoot.
	Reserve(ctx context.Context, userID string, delta int64) (bool, error)

	// Release atomically subtracts delta from used_bytes, flooring at zero.
	// A negative delta adds the bytes back (the compensating direction).
	Release(ctx context.Context, userID string, delta int64) error

	// Get returns the quota record, or common.ErrorNotFound.
	Get(ctx context.Context, userID string) (*models.QuotaRecord, error)

	// SetLimit updates the limit (admin operation).
	SetLimit(ctx context.Context, userID string, limitBytes int64) error

	// SetUsed overwrites used_bytes with a recomputed true value.
	SetUsed(ctx context.Context, userID string, usedBytes int64) error
}
