package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/logging"
	"github.com/astepanov/syncbox/internal/server/config"
	"github.com/astepanov/syncbox/internal/server/models"
	"github.com/astepanov/syncbox/internal/server/repositories/repomanager"
)

// QuotaService exposes the quota ledger: usage queries, limit administration,
// and reconciliation of the cached counter against the version store.
type QuotaService struct {
	db           *sql.DB
	repos        repomanager.RepositoryManager
	logger       logging.Logger
	defaultQuota int64
}

// NewQuotaService constructs the service.
func NewQuotaService(db *sql.DB, repos repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *QuotaService {
	return &QuotaService{
		db:           db,
		repos:        repos,
		logger:       logger.With("module", "quota"),
		defaultQuota: cfg.DefaultQuotaBytes,
	}
}

// Usage returns the user's quota record, creating it with the default limit
// on first touch.
func (s *QuotaService) Usage(ctx context.Context, userID string) (*models.QuotaRecord, error) {
	repo := s.repos.Quotas(s.db)
	if err := repo.Ensure(ctx, userID, s.defaultQuota); err != nil {
		return nil, err
	}
	return repo.Get(ctx, userID)
}

// SetLimit updates a user's storage limit. Tightening a limit below current
// usage is allowed: existing bytes stay, new reservations are denied until
// usage drops back under the limit.
func (s *QuotaService) SetLimit(ctx context.Context, userID string, limitBytes int64) error {
	if limitBytes < 0 {
		return fmt.Errorf("limit must not be negative: %d", limitBytes)
	}
	if err := s.repos.Quotas(s.db).SetLimit(ctx, userID, limitBytes); err != nil {
		return err
	}
	s.logger.Info(ctx, "quota limit updated", "user_id", userID, "limit_bytes", limitBytes)
	return nil
}

// Reconcile recomputes used_bytes from the sum of live version sizes and
// overwrites the cached counter. Run on demand when drift is suspected; the
// reservation pipeline keeps the counter exact in normal operation.
func (s *QuotaService) Reconcile(ctx context.Context, userID string) (*models.QuotaRecord, error) {
	err := dbx.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx dbx.DBTX) error {
		used, err := s.repos.Versions(tx).SumLiveSizes(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.repos.Quotas(tx).Ensure(ctx, userID, s.defaultQuota); err != nil {
			return err
		}
		return s.repos.Quotas(tx).SetUsed(ctx, userID, used)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile quota: %w", err)
	}

	rec, err := s.repos.Quotas(s.db).Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "quota reconciled", "user_id", userID, "used_bytes", rec.UsedBytes)
	return rec, nil
}
