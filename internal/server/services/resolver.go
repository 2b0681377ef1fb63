package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/logging"
	"github.com/astepanov/syncbox/internal/server/config"
	"github.com/astepanov/syncbox/internal/server/models"
	"github.com/astepanov/syncbox/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

func newConflictID() string { return uuid.NewString() }

// ConflictResolver turns pending conflicts into new authoritative versions
// according to the client's decision. Every resolution goes through the same
// optimistic pointer swap as a regular submission, so a resolution racing a
// concurrent write is itself rejected with a version conflict and can be
// retried against the fresh state.
type ConflictResolver struct {
	db           *sql.DB
	repos        repomanager.RepositoryManager
	logger       logging.Logger
	defaultQuota int64
	now          func() time.Time
}

// NewConflictResolver constructs the resolver.
func NewConflictResolver(db *sql.DB, repos repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *ConflictResolver {
	return &ConflictResolver{
		db:           db,
		repos:        repos,
		logger:       logger.With("module", "resolver"),
		defaultQuota: cfg.DefaultQuotaBytes,
		now:          time.Now,
	}
}

// ListPending returns the caller's unresolved conflicts.
func (r *ConflictResolver) ListPending(ctx context.Context, userID string) ([]*models.Conflict, error) {
	return r.repos.Conflicts(r.db).ListPending(ctx, userID)
}

// Resolve applies a decision to a pending conflict and returns the new
// authoritative version (for Fork, the first version of the copied file).
//
// KeepLocal and KeepRemote create a new version parented on the *current*
// version, so the chain stays linear going forward. Fork leaves the current
// version in place and copies the losing content into a renamed new file.
func (r *ConflictResolver) Resolve(ctx context.Context, userID, conflictID string, decision models.ResolutionDecision) (*models.FileVersion, error) {
	conflict, err := r.repos.Conflicts(r.db).Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.OwnerID != userID {
		return nil, common.ErrorNotFound
	}
	if conflict.State != models.ResolutionPending {
		return nil, common.ErrorNotFound
	}

	file, err := r.repos.Files(r.db).Get(ctx, conflict.FileID)
	if err != nil {
		return nil, err
	}
	current, err := r.repos.Versions(r.db).Get(ctx, file.ID, file.CurrentVersionID)
	if err != nil {
		return nil, err
	}

	switch decision {
	case models.DecisionKeepLocal:
		return r.resolveKeep(ctx, conflict, file, current, current.ContentHash, current.SizeBytes, models.ResolutionKeepLocal)
	case models.DecisionKeepRemote:
		return r.resolveKeep(ctx, conflict, file, current, conflict.RemoteHash, conflict.RemoteSizeBytes, models.ResolutionKeepRemote)
	case models.DecisionFork:
		return r.resolveFork(ctx, conflict, file, current)
	default:
		return nil, fmt.Errorf("unknown resolution decision: %q", decision)
	}
}

// resolveKeep commits the chosen side's content as a new version on top of
// the current one.
func (r *ConflictResolver) resolveKeep(ctx context.Context, conflict *models.Conflict, file *models.File,
	current *models.FileVersion, hash string, size int64, state models.ResolutionState) (*models.FileVersion, error) {

	delta := size - file.CurrentSizeBytes
	if err := r.reserve(ctx, conflict.OwnerID, delta); err != nil {
		return nil, err
	}

	version := &models.FileVersion{
		FileID:          file.ID,
		OwnerID:         conflict.OwnerID,
		VersionID:       file.CurrentVersionID + 1,
		ParentVersionID: file.CurrentVersionID,
		ContentHash:     hash,
		SizeBytes:       size,
		ModifiedAt:      r.nextModifiedAt(current.ModifiedAt),
		OriginDeviceID:  conflict.RemoteDeviceID,
	}

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := r.repos.Files(tx).AdvanceCurrent(ctx, file.ID, file.CurrentVersionID, version.VersionID, size); err != nil {
			return err
		}
		seq, err := r.repos.Versions(tx).Append(ctx, version)
		if err != nil {
			return err
		}
		version.Seq = seq
		return r.repos.Conflicts(tx).Resolve(ctx, conflict.ID, state)
	})
	if err != nil {
		r.release(ctx, conflict.OwnerID, delta)
		return nil, err
	}

	r.logger.Info(ctx, "conflict resolved", "conflict_id", conflict.ID, "file_id", file.ID, "state", string(state))
	return version, nil
}

// resolveFork copies the losing (remote) content into a new file named
// after the original, leaving the original's current version untouched.
func (r *ConflictResolver) resolveFork(ctx context.Context, conflict *models.Conflict, file *models.File, current *models.FileVersion) (*models.FileVersion, error) {
	if err := r.reserve(ctx, conflict.OwnerID, conflict.RemoteSizeBytes); err != nil {
		return nil, err
	}

	fork := &models.File{
		ID:             uuid.NewString(),
		OwnerID:        conflict.OwnerID,
		Name:           forkName(file.Name),
		ParentFolderID: file.ParentFolderID,
	}
	version := &models.FileVersion{
		FileID:          fork.ID,
		OwnerID:         conflict.OwnerID,
		VersionID:       1,
		ParentVersionID: 0,
		ContentHash:     conflict.RemoteHash,
		SizeBytes:       conflict.RemoteSizeBytes,
		ModifiedAt:      r.nextModifiedAt(current.ModifiedAt),
		OriginDeviceID:  conflict.RemoteDeviceID,
	}

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := r.repos.Files(tx).Create(ctx, fork); err != nil {
			return err
		}
		if err := r.repos.Files(tx).AdvanceCurrent(ctx, fork.ID, 0, 1, conflict.RemoteSizeBytes); err != nil {
			return err
		}
		seq, err := r.repos.Versions(tx).Append(ctx, version)
		if err != nil {
			return err
		}
		version.Seq = seq
		return r.repos.Conflicts(tx).Resolve(ctx, conflict.ID, models.ResolutionFork)
	})
	if err != nil {
		r.release(ctx, conflict.OwnerID, conflict.RemoteSizeBytes)
		return nil, err
	}

	r.logger.Info(ctx, "conflict forked", "conflict_id", conflict.ID, "file_id", file.ID, "fork_id", fork.ID)
	return version, nil
}

func (r *ConflictResolver) reserve(ctx context.Context, userID string, delta int64) error {
	repo := r.repos.Quotas(r.db)
	if err := repo.Ensure(ctx, userID, r.defaultQuota); err != nil {
		return err
	}
	ok, err := repo.Reserve(ctx, userID, delta)
	if err != nil {
		return err
	}
	if !ok {
		rec, gerr := repo.Get(ctx, userID)
		if gerr != nil {
			return gerr
		}
		return &common.QuotaExceededError{
			UserID:         userID,
			UsedBytes:      rec.UsedBytes,
			LimitBytes:     rec.LimitBytes,
			RequestedBytes: delta,
		}
	}
	return nil
}

func (r *ConflictResolver) release(ctx context.Context, userID string, delta int64) {
	if err := r.repos.Quotas(r.db).Release(ctx, userID, delta); err != nil {
		r.logger.Error(ctx, "compensating quota release failed", "user_id", userID, "delta", delta, "error", err.Error())
	}
}

func (r *ConflictResolver) nextModifiedAt(prev time.Time) time.Time {
	now := r.now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func forkName(base string) string {
	return base + " (conflicted copy)"
}
