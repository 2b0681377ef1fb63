package quotas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/server/models"
)

// PostgresRepository implements quota storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ensure creates the record with limitBytes if absent.
func (r *PostgresRepository) Ensure(ctx context.Context, userID string, limitBytes int64) error {
	query := `
		INSERT INTO quotas (user_id, limit_bytes, used_bytes)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, userID, limitBytes); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Reserve is the linearizable admission check: one guarded UPDATE, so two
// concurrent reservations can never both pass a check that together
// overshoots the limit. Zero rows affected means the reservation was denied.
func (r *PostgresRepository) Reserve(ctx context.Context, userID string, delta int64) (bool, error) {
	query := `
		UPDATE quotas
		SET used_bytes = GREATEST(0, used_bytes + $2)
		WHERE user_id = $1 AND ($2 <= 0 OR used_bytes + $2 <= limit_bytes)
	`
	res, err := r.db.ExecContext(ctx, query, userID, delta)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// Release undoes a reservation (or frees space on delete), flooring at zero.
func (r *PostgresRepository) Release(ctx context.Context, userID string, delta int64) error {
	query := `
		UPDATE quotas
		SET used_bytes = GREATEST(0, used_bytes - $2)
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID, delta); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the quota record for userID.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.QuotaRecord, error) {
	query := `SELECT user_id, limit_bytes, used_bytes FROM quotas WHERE user_id = $1`
	rec := &models.QuotaRecord{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&rec.UserID, &rec.LimitBytes, &rec.UsedBytes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// SetLimit updates the limit for userID.
func (r *PostgresRepository) SetLimit(ctx context.Context, userID string, limitBytes int64) error {
	query := `
		INSERT INTO quotas (user_id, limit_bytes, used_bytes)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET limit_bytes = EXCLUDED.limit_bytes
	`
	if _, err := r.db.ExecContext(ctx, query, userID, limitBytes); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SetUsed overwrites used_bytes with a recomputed value.
func (r *PostgresRepository) SetUsed(ctx context.Context, userID string, usedBytes int64) error {
	query := `UPDATE quotas SET used_bytes = $2 WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, usedBytes)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
