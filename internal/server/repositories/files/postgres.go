package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/server/models"
)

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new file row. The pointer starts at 0; the first version
// is attached through AdvanceCurrent in the same transaction.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, owner_id, name, parent_folder_id, current_version_id, current_size_bytes)
		VALUES ($1, $2, $3, $4, 0, 0)
	`
	if _, err := r.db.ExecContext(ctx, query,
		file.ID, file.OwnerID, file.Name, file.ParentFolderID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns a file by ID, or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.File, error) {
	query := `
		SELECT id, owner_id, name, parent_folder_id, current_version_id, current_size_bytes,
		       deleted, deleted_at, created_at, updated_at
		FROM files
		WHERE id = $1
	`
	file := &models.File{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&file.ID, &file.OwnerID, &file.Name, &file.ParentFolderID,
		&file.CurrentVersionID, &file.CurrentSizeBytes,
		&file.Deleted, &file.DeletedAt, &file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return file, nil
}

// AdvanceCurrent performs the optimistic pointer swap. Zero rows affected
// means the expected version is no longer current.
func (r *PostgresRepository) AdvanceCurrent(ctx context.Context, fileID string, fromVersionID, toVersionID, sizeBytes int64) error {
	query := `
		UPDATE files
		SET current_version_id = $3, current_size_bytes = $4, updated_at = now()
		WHERE id = $1 AND current_version_id = $2 AND deleted = false
	`
	res, err := r.db.ExecContext(ctx, query, fileID, fromVersionID, toVersionID, sizeBytes)
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
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// MarkDeleted tombstones the file under the same CAS guard as AdvanceCurrent.
func (r *PostgresRepository) MarkDeleted(ctx context.Context, fileID string, fromVersionID, toVersionID int64) error {
	query := `
		UPDATE files
		SET deleted = true, deleted_at = now(), current_version_id = $3,
		    current_size_bytes = 0, updated_at = now()
		WHERE id = $1 AND current_version_id = $2 AND deleted = false
	`
	res, err := r.db.ExecContext(ctx, query, fileID, fromVersionID, toVersionID)
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
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// PurgeDeletedBefore garbage-collects tombstones past the retention window.
func (r *PostgresRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM files WHERE deleted = true AND deleted_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
