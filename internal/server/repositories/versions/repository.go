// Package versions declares the repository contract for the append-only
// FileVersion history.
package versions

import (
	"context"
	"time"

	"github.com/astepanov/syncbox/internal/server/models"
)

// Repository stores immutable version rows. Rows are never updated; the
// per-file current pointer lives on the files table.
type Repository interface {
	// Append inserts a version row and returns its global sequence number.
	Append(ctx context.Context, v *models.FileVersion) (int64, error)

	// Get returns one version of a file, or common.ErrorNotFound.
	Get(ctx context.Context, fileID string, versionID int64) (*models.FileVersion, error)

	// ListChangesSince returns up to limit versions owned by ownerID strictly
	// after the (afterModified, afterSeq) keyset position, ordered by
	// (modified_at, seq) ascending. The ordering is stable and resumable.
	ListChangesSince(ctx context.Context, ownerID string, afterModified time.Time, afterSeq int64, limit int) ([]*models.FileVersion, error)

	// AncestorChain returns the version IDs reachable from fromVersionID via
	// parent links, nearest first (fromVersionID itself included).
	AncestorChain(ctx context.Context, fileID string, fromVersionID int64) ([]int64, error)

	// CurrentHashes maps each requested file to the content hash of its
	// current version. Unknown or tombstoned files are omitted.
	CurrentHashes(ctx context.Context, ownerID string, fileIDs []string) (map[string]string, error)

	// SumLiveSizes recomputes the true storage consumption for a user: the
	// sum of current, non-tombstoned version sizes.
	SumLiveSizes(ctx context.Context, ownerID string) (int64, error)
}
