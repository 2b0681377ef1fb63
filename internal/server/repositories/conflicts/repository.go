// Package conflicts declares the repository contract for pending and
// resolved conflict records.
package conflicts

import (
	"context"

	"github.com/astepanov/syncbox/internal/server/models"
)

// Repository persists Conflict rows. At most one pending conflict exists per
// file (enforced by a partial unique index); resolution is a guarded state
// transition from pending.
type Repository interface {
	// Create inserts a new pending conflict.
	Create(ctx context.Context, c *models.Conflict) error

	// Get returns a conflict by ID, or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.Conflict, error)

	// GetPendingByFile returns the pending conflict for a file, if any.
	GetPendingByFile(ctx context.Context, fileID string) (*models.Conflict, error)

	// ListPending returns all pending conflicts owned by ownerID.
	ListPending(ctx context.Context, ownerID string) ([]*models.Conflict, error)

	// Resolve transitions a pending conflict to the given terminal state.
	// It returns common.ErrorNotFound when the conflict does not exist or
	// was already resolved.
	Resolve(ctx context.Context, id string, state models.ResolutionState) error
}
