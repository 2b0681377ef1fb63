package conflicts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/server/models"
)

// PostgresRepository implements conflict storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const conflictColumns = `id, file_id, owner_id, local_version_id, remote_hash, remote_size_bytes,
	remote_parent_version_id, remote_device_id, common_ancestor_version_id, state, created_at, resolved_at`

func scanConflict(row interface{ Scan(dest ...any) error }) (*models.Conflict, error) {
	c := &models.Conflict{}
	err := row.Scan(&c.ID, &c.FileID, &c.OwnerID, &c.LocalVersionID, &c.RemoteHash,
		&c.RemoteSizeBytes, &c.RemoteParentVersionID, &c.RemoteDeviceID,
		&c.CommonAncestorVersionID, &c.State, &c.CreatedAt, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts a pending conflict row.
func (r *PostgresRepository) Create(ctx context.Context, c *models.Conflict) error {
	query := `
		INSERT INTO conflicts (id, file_id, owner_id, local_version_id, remote_hash, remote_size_bytes,
			remote_parent_version_id, remote_device_id, common_ancestor_version_id, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.ID, c.FileID, c.OwnerID, c.LocalVersionID, c.RemoteHash, c.RemoteSizeBytes,
		c.RemoteParentVersionID, c.RemoteDeviceID, c.CommonAncestorVersionID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns a conflict by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE id = $1`
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// GetPendingByFile returns the pending conflict for fileID, if any.
func (r *PostgresRepository) GetPendingByFile(ctx context.Context, fileID string) (*models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE file_id = $1 AND state = 'pending'`
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// ListPending returns all pending conflicts for ownerID, oldest first.
func (r *PostgresRepository) ListPending(ctx context.Context, ownerID string) ([]*models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE owner_id = $1 AND state = 'pending' ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select conflicts: %w", err)
	}
	defer rows.Close()

	var result []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Resolve transitions a pending conflict to a terminal state. Zero rows
// affected means the conflict is unknown or already resolved.
func (r *PostgresRepository) Resolve(ctx context.Context, id string, state models.ResolutionState) error {
	query := `
		UPDATE conflicts
		SET state = $2, resolved_at = now()
		WHERE id = $1 AND state = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, string(state))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
