// Package services implements the sync core: session management, the change
// feed, the submit pipeline, conflict resolution, and the quota ledger.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/astepanov/syncbox/internal/checksum"
	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/logging"
	"github.com/astepanov/syncbox/internal/server/blob"
	"github.com/astepanov/syncbox/internal/server/config"
	"github.com/astepanov/syncbox/internal/server/models"
	"github.com/astepanov/syncbox/internal/server/repositories/repomanager"
	"github.com/astepanov/syncbox/internal/server/sessions"
	"github.com/sethvargo/go-retry"
)

// SubmitInput is one client-side change offered to the server.
type SubmitInput struct {
	SessionID string
	FileID    string
	Name      string
	// ParentFolderID locates a newly created file; ignored for updates.
	ParentFolderID string
	// ParentVersionID is the version the client derived its content from,
	// 0 when the client believes the file is new.
	ParentVersionID int64
	// Content is the raw payload; the server stores it and assigns the hash.
	Content []byte
	// DeclaredHash is the client's advisory digest. It is verified, never
	// trusted: a mismatch rejects the submission outright.
	DeclaredHash string
}

// ChangeBatch is one page of the change feed.
type ChangeBatch struct {
	Changes    []*models.FileVersion
	NextCursor string
	// FullResyncRequired is set when the client's resume point predates
	// retained history and incremental sync is impossible.
	FullResyncRequired bool
}

// SyncService coordinates one client's reconciliation pass end to end.
type SyncService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	blobs    blob.Store
	sessions *sessions.Store
	resolver *ConflictResolver
	logger   logging.Logger

	pageSize     int
	retention    time.Duration
	defaultQuota int64
	autoResolve  bool

	now func() time.Time
}

// NewSyncService wires the sync core together from configuration.
func NewSyncService(db *sql.DB, repos repomanager.RepositoryManager, blobs blob.Store,
	store *sessions.Store, resolver *ConflictResolver, logger logging.Logger, cfg *config.Config) *SyncService {
	return &SyncService{
		db:           db,
		repos:        repos,
		blobs:        blobs,
		sessions:     store,
		resolver:     resolver,
		logger:       logger.With("module", "sync"),
		pageSize:     cfg.ChangePageSize,
		retention:    cfg.RetentionWindow,
		defaultQuota: cfg.DefaultQuotaBytes,
		autoResolve:  cfg.ConflictAutoResolve,
		now:          time.Now,
	}
}

// Initialize opens a session for a device. A presented cursor resumes the
// previous pass; an absent, invalid, or stale cursor falls back to the
// beginning of time and flags that a full resync is required.
func (s *SyncService) Initialize(ctx context.Context, userID, deviceID, cursorToken string) (*sessions.Session, bool, error) {
	fullResync := false

	cursor, err := sessions.DecodeCursor(cursorToken)
	if err != nil {
		cursor = sessions.Cursor{}
		fullResync = true
	}
	if s.cursorStale(cursor) {
		cursor = sessions.Cursor{}
		fullResync = true
	}
	if cursorToken == "" {
		fullResync = true
	}

	sess := s.sessions.Create(userID, deviceID, cursor)
	s.logger.Info(ctx, "session initialized", "user_id", userID, "device_id", deviceID, "full_resync", fullResync)
	return sess, fullResync, nil
}

// GetChanges returns the next page of the change feed. The session cursor
// advances only when the client acknowledges the previous batch via
// ackToken, so a dropped connection redelivers the same batch.
func (s *SyncService) GetChanges(ctx context.Context, userID, sessionID, ackToken string) (*ChangeBatch, error) {
	if ackToken != "" {
		ack, err := sessions.DecodeCursor(ackToken)
		if err != nil {
			return nil, err
		}
		if err := s.sessions.Ack(sessionID, userID, ack); err != nil {
			return nil, err
		}
	}

	sess, err := s.sessions.Get(sessionID, userID)
	if err != nil {
		return nil, err
	}

	if s.cursorStale(sess.Cursor) {
		return &ChangeBatch{FullResyncRequired: true}, common.ErrStaleCursor
	}

	repo := s.repos.Versions(s.db)
	changes, err := repo.ListChangesSince(ctx, userID, sess.Cursor.ModifiedAt(), sess.Cursor.Seq, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	next := sess.Cursor
	if len(changes) > 0 {
		last := changes[len(changes)-1]
		next = sessions.Cursor{ModifiedAtUnixNano: last.ModifiedAt.UnixNano(), Seq: last.Seq}
		if err := s.sessions.Deliver(sessionID, userID, next); err != nil {
			return nil, err
		}
	}

	return &ChangeBatch{Changes: changes, NextCursor: next.Encode()}, nil
}

// SubmitChange runs the write pipeline: verify checksum, reserve quota, put
// the blob, then commit the version under the optimistic pointer swap. The
// quota reservation is released if any later step fails, so partial failures
// never leak quota. The returned conflict is non-nil when the submission
// diverged from the server's history and explicit resolution is required.
func (s *SyncService) SubmitChange(ctx context.Context, userID string, in SubmitInput) (*models.FileVersion, *models.Conflict, error) {
	sess, err := s.sessions.Get(in.SessionID, userID)
	if err != nil {
		return nil, nil, err
	}

	if in.DeclaredHash != "" {
		if err := checksum.Verify(in.Content, in.DeclaredHash); err != nil {
			var integrity *common.IntegrityError
			if errors.As(err, &integrity) {
				integrity.FileID = in.FileID
			}
			return nil, nil, err
		}
	}
	hash := checksum.Compute(in.Content)
	size := int64(len(in.Content))

	file, err := s.repos.Files(s.db).Get(ctx, in.FileID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		file = nil
	case err != nil:
		return nil, nil, err
	case file.OwnerID != userID:
		return nil, nil, common.ErrorNotFound
	case file.Deleted:
		return nil, nil, common.ErrFileDeleted
	}

	// Divergence pre-check. The CAS during commit is the authority; this
	// avoids reserving quota and uploading for a doomed submission.
	if file != nil && in.ParentVersionID != file.CurrentVersionID {
		return s.handleDivergence(ctx, userID, sess.DeviceID, file, in, hash, size)
	}
	if file == nil && in.ParentVersionID != 0 {
		return nil, nil, common.ErrorNotFound
	}

	var liveSize int64
	if file != nil {
		liveSize = file.CurrentSizeBytes
	}
	delta := size - liveSize

	if err := s.reserveQuota(ctx, userID, delta); err != nil {
		return nil, nil, err
	}

	if err := s.putBlob(ctx, hash, in.Content); err != nil {
		s.releaseQuota(ctx, userID, delta)
		return nil, nil, err
	}

	version, err := s.commitVersion(ctx, userID, sess.DeviceID, file, in, hash, size)
	if err != nil {
		s.releaseQuota(ctx, userID, delta)
		if errors.Is(err, common.ErrVersionConflict) {
			// Lost the race between pre-check and commit; re-read and
			// run the divergence path against the fresh state.
			fresh, ferr := s.repos.Files(s.db).Get(ctx, in.FileID)
			if ferr != nil {
				return nil, nil, ferr
			}
			return s.handleDivergence(ctx, userID, sess.DeviceID, fresh, in, hash, size)
		}
		return nil, nil, err
	}

	return version, nil, nil
}

// Tombstone soft-deletes a file: the pointer advances to a tombstone
// version (so other devices learn of the deletion through the feed), the
// live bytes are released from the quota, and history is retained for the
// retention window.
func (s *SyncService) Tombstone(ctx context.Context, userID, fileID string, parentVersionID int64) (*models.FileVersion, error) {
	file, err := s.repos.Files(s.db).Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != userID {
		return nil, common.ErrorNotFound
	}
	if file.Deleted {
		return nil, common.ErrFileDeleted
	}
	if parentVersionID != file.CurrentVersionID {
		return nil, common.ErrVersionConflict
	}

	current, err := s.repos.Versions(s.db).Get(ctx, fileID, file.CurrentVersionID)
	if err != nil {
		return nil, err
	}

	version := &models.FileVersion{
		FileID:          fileID,
		OwnerID:         userID,
		VersionID:       file.CurrentVersionID + 1,
		ParentVersionID: file.CurrentVersionID,
		ContentHash:     current.ContentHash,
		SizeBytes:       0,
		ModifiedAt:      s.nextModifiedAt(current.ModifiedAt),
		Deleted:         true,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Files(tx).MarkDeleted(ctx, fileID, file.CurrentVersionID, version.VersionID); err != nil {
			return err
		}
		seq, err := s.repos.Versions(tx).Append(ctx, version)
		if err != nil {
			return err
		}
		version.Seq = seq
		return s.repos.Quotas(tx).Release(ctx, userID, file.CurrentSizeBytes)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "file tombstoned", "file_id", fileID, "user_id", userID)
	return version, nil
}

// DownloadURL returns a short-lived URL for the current version's content.
func (s *SyncService) DownloadURL(ctx context.Context, userID, fileID string) (string, error) {
	file, err := s.repos.Files(s.db).Get(ctx, fileID)
	if err != nil {
		return "", err
	}
	if file.OwnerID != userID || file.Deleted {
		return "", common.ErrorNotFound
	}
	current, err := s.repos.Versions(s.db).Get(ctx, fileID, file.CurrentVersionID)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignGet(ctx, current.ContentHash)
}

// BatchChecksums maps each requested file to its current content hash, so
// clients can detect changes without downloading content.
func (s *SyncService) BatchChecksums(ctx context.Context, userID string, fileIDs []string) (map[string]string, error) {
	if len(fileIDs) == 0 {
		return map[string]string{}, nil
	}
	return s.repos.Versions(s.db).CurrentHashes(ctx, userID, fileIDs)
}

func (s *SyncService) cursorStale(c sessions.Cursor) bool {
	if c.IsZero() || s.retention <= 0 {
		return false
	}
	return c.ModifiedAt().Before(s.now().Add(-s.retention))
}

func (s *SyncService) nextModifiedAt(prev time.Time) time.Time {
	now := s.now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func (s *SyncService) reserveQuota(ctx context.Context, userID string, delta int64) error {
	repo := s.repos.Quotas(s.db)
	if err := repo.Ensure(ctx, userID, s.defaultQuota); err != nil {
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

func (s *SyncService) releaseQuota(ctx context.Context, userID string, delta int64) {
	if err := s.repos.Quotas(s.db).Release(ctx, userID, delta); err != nil {
		s.logger.Error(ctx, "compensating quota release failed", "user_id", userID, "delta", delta, "error", err.Error())
	}
}

// putBlob uploads content with bounded retries. The key is derived from the
// content hash, so a retried upload is idempotent.
func (s *SyncService) putBlob(ctx context.Context, hash string, content []byte) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.blobs.Put(ctx, hash, content); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (s *SyncService) commitVersion(ctx context.Context, userID, deviceID string, file *models.File, in SubmitInput, hash string, size int64) (*models.FileVersion, error) {
	version := &models.FileVersion{
		FileID:          in.FileID,
		OwnerID:         userID,
		VersionID:       in.ParentVersionID + 1,
		ParentVersionID: in.ParentVersionID,
		ContentHash:     hash,
		SizeBytes:       size,
		OriginDeviceID:  deviceID,
	}

	prev := time.Time{}
	if file != nil {
		current, err := s.repos.Versions(s.db).Get(ctx, file.ID, file.CurrentVersionID)
		if err != nil {
			return nil, err
		}
		prev = current.ModifiedAt
	}
	version.ModifiedAt = s.nextModifiedAt(prev)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if file == nil {
			if err := s.repos.Files(tx).Create(ctx, &models.File{
				ID:             in.FileID,
				OwnerID:        userID,
				Name:           in.Name,
				ParentFolderID: in.ParentFolderID,
			}); err != nil {
				return err
			}
		}
		if err := s.repos.Files(tx).AdvanceCurrent(ctx, in.FileID, in.ParentVersionID, version.VersionID, size); err != nil {
			return err
		}
		seq, err := s.repos.Versions(tx).Append(ctx, version)
		if err != nil {
			return err
		}
		version.Seq = seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// handleDivergence runs when a submission's declared parent is not the
// current version. Identical content is treated as equivalent and absorbed
// as a no-op; real divergence is persisted as a pending conflict, or fed
// straight into the last-write-wins policy when auto-resolution is enabled.
func (s *SyncService) handleDivergence(ctx context.Context, userID, deviceID string, file *models.File, in SubmitInput, hash string, size int64) (*models.FileVersion, *models.Conflict, error) {
	current, err := s.repos.Versions(s.db).Get(ctx, file.ID, file.CurrentVersionID)
	if err != nil {
		return nil, nil, err
	}

	// Same bytes on both sides: not a true conflict, discard the
	// redundant submission.
	if current.ContentHash == hash {
		return current, nil, nil
	}

	conflictRepo := s.repos.Conflicts(s.db)
	if existing, err := conflictRepo.GetPendingByFile(ctx, file.ID); err == nil {
		return nil, existing, nil
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, nil, err
	}

	ancestor, err := s.commonAncestor(ctx, file.ID, file.CurrentVersionID, in.ParentVersionID)
	if err != nil {
		return nil, nil, err
	}

	// Keep the divergent bytes so a later KeepRemote or Fork resolution
	// can commit them without a re-upload.
	if err := s.putBlob(ctx, hash, in.Content); err != nil {
		return nil, nil, err
	}

	conflict := &models.Conflict{
		ID:                      newConflictID(),
		FileID:                  file.ID,
		OwnerID:                 userID,
		LocalVersionID:          file.CurrentVersionID,
		RemoteHash:              hash,
		RemoteSizeBytes:         size,
		RemoteParentVersionID:   in.ParentVersionID,
		RemoteDeviceID:          deviceID,
		CommonAncestorVersionID: ancestor,
		State:                   models.ResolutionPending,
	}
	if err := conflictRepo.Create(ctx, conflict); err != nil {
		// A concurrent submission may have raced us to the partial
		// unique index; surface that conflict instead.
		if existing, gerr := conflictRepo.GetPendingByFile(ctx, file.ID); gerr == nil {
			return nil, existing, nil
		}
		return nil, nil, err
	}

	s.logger.Info(ctx, "conflict detected", "file_id", file.ID, "user_id", userID,
		"local_version", conflict.LocalVersionID, "remote_parent", conflict.RemoteParentVersionID)

	if s.autoResolve {
		// Last-write-wins: the newer submission replaces the current
		// version. Off by default because it silently loses data.
		version, err := s.resolver.Resolve(ctx, userID, conflict.ID, models.DecisionKeepRemote)
		if err != nil {
			return nil, conflict, nil
		}
		return version, nil, nil
	}

	return nil, conflict, nil
}

// commonAncestor walks both parent chains to their nearest shared version.
func (s *SyncService) commonAncestor(ctx context.Context, fileID string, localVersionID, remoteParentID int64) (int64, error) {
	if remoteParentID == 0 {
		return 0, nil
	}
	repo := s.repos.Versions(s.db)

	localChain, err := repo.AncestorChain(ctx, fileID, localVersionID)
	if err != nil {
		return 0, err
	}
	localSet := make(map[int64]struct{}, len(localChain))
	for _, id := range localChain {
		localSet[id] = struct{}{}
	}

	remoteChain, err := repo.AncestorChain(ctx, fileID, remoteParentID)
	if err != nil {
		return 0, err
	}
	for _, id := range remoteChain {
		if _, ok := localSet[id]; ok {
			return id, nil
		}
	}
	return 0, nil
}
