// Package files declares the repository contract for logical file records
// and their current-version pointers.
package files

import (
	"context"
	"time"

	"github.com/astepanov/syncbox/internal/server/models"
)

// Repository persists File rows. The current-version pointer is the single
// mutable serialization point per file: pointer updates are compare-and-swap
// guarded by the expected current version.
type Repository interface {
	// Create inserts a new file with its pointer at version 0 (no content yet).
	Create(ctx context.Context, file *models.File) error

	// Get returns a file by ID, or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.File, error)

	// AdvanceCurrent moves the current-version pointer from fromVersionID to
	// toVersionID and records the new live size. When the pointer no longer
	// equals fromVersionID it returns common.ErrVersionConflict and changes
	// nothing.
	AdvanceCurrent(ctx context.Context, fileID string, fromVersionID, toVersionID, sizeBytes int64) error

	// MarkDeleted tombstones the file under the same CAS guard.
	MarkDeleted(ctx context.Context, fileID string, fromVersionID, toVersionID int64) error

	// PurgeDeletedBefore hard-deletes tombstoned files whose deletion is
	// older than cutoff, cascading to their version history. Returns the
	// number of files removed.
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
