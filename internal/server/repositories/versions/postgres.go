package versions

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

// PostgresRepository implements version storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts an immutable version row and returns the database-assigned
// global sequence number.
func (r *PostgresRepository) Append(ctx context.Context, v *models.FileVersion) (int64, error) {
	query := `
		INSERT INTO file_versions (file_id, owner_id, version_id, parent_version_id, content_hash, size_bytes, modified_at, origin_device_id, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`
	var seq int64
	err := r.db.QueryRowContext(ctx, query,
		v.FileID, v.OwnerID, v.VersionID, v.ParentVersionID, v.ContentHash,
		v.SizeBytes, v.ModifiedAt, v.OriginDeviceID, v.Deleted).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return seq, nil
}

// Get returns one version of a file.
func (r *PostgresRepository) Get(ctx context.Context, fileID string, versionID int64) (*models.FileVersion, error) {
	query := `
		SELECT seq, file_id, version_id, parent_version_id, content_hash, size_bytes, modified_at, origin_device_id, deleted
		FROM file_versions
		WHERE file_id = $1 AND version_id = $2
	`
	v := &models.FileVersion{}
	err := r.db.QueryRowContext(ctx, query, fileID, versionID).Scan(
		&v.Seq, &v.FileID, &v.VersionID, &v.ParentVersionID, &v.ContentHash,
		&v.SizeBytes, &v.ModifiedAt, &v.OriginDeviceID, &v.Deleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

// ListChangesSince pages the change feed with a keyset on (modified_at, seq).
func (r *PostgresRepository) ListChangesSince(ctx context.Context, ownerID string, afterModified time.Time, afterSeq int64, limit int) ([]*models.FileVersion, error) {
	query := `
		SELECT seq, file_id, version_id, parent_version_id, content_hash, size_bytes, modified_at, origin_device_id, deleted
		FROM file_versions
		WHERE owner_id = $1 AND (modified_at > $2 OR (modified_at = $2 AND seq > $3))
		ORDER BY modified_at, seq
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID, afterModified, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select changes: %w", err)
	}
	defer rows.Close()

	var result []*models.FileVersion
	for rows.Next() {
		v := &models.FileVersion{}
		if err := rows.Scan(&v.Seq, &v.FileID, &v.VersionID, &v.ParentVersionID, &v.ContentHash,
			&v.SizeBytes, &v.ModifiedAt, &v.OriginDeviceID, &v.Deleted); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AncestorChain walks parent links from fromVersionID down to the root using
// a recursive CTE, returning version IDs nearest-first. The depth bound
// guards against a corrupted (cyclic) chain.
func (r *PostgresRepository) AncestorChain(ctx context.Context, fileID string, fromVersionID int64) ([]int64, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT version_id, parent_version_id, 0 AS depth
			FROM file_versions
			WHERE file_id = $1 AND version_id = $2
			UNION ALL
			SELECT v.version_id, v.parent_version_id, c.depth + 1
			FROM file_versions v
			JOIN chain c ON v.file_id = $1 AND v.version_id = c.parent_version_id
			WHERE c.depth < 10000
		)
		SELECT version_id FROM chain ORDER BY depth
	`
	rows, err := r.db.QueryContext(ctx, query, fileID, fromVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to select ancestor chain: %w", err)
	}
	defer rows.Close()

	var chain []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chain = append(chain, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chain, nil
}

// CurrentHashes returns the content hash of each requested file's current
// version, skipping unknown and tombstoned files.
func (r *PostgresRepository) CurrentHashes(ctx context.Context, ownerID string, fileIDs []string) (map[string]string, error) {
	query := `
		SELECT f.id, v.content_hash
		FROM files f
		JOIN file_versions v ON v.file_id = f.id AND v.version_id = f.current_version_id
		WHERE f.owner_id = $1 AND f.deleted = false AND f.id = ANY($2)
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to select current hashes: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string, len(fileIDs))
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		result[id] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SumLiveSizes recomputes the true quota consumption from current versions.
func (r *PostgresRepository) SumLiveSizes(ctx context.Context, ownerID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(v.size_bytes), 0)
		FROM files f
		JOIN file_versions v ON v.file_id = f.id AND v.version_id = f.current_version_id
		WHERE f.owner_id = $1 AND f.deleted = false
	`
	var sum int64
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return sum, nil
}
