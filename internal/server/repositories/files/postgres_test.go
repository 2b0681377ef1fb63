package files

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`(?s)INSERT INTO files .*VALUES \(\$1, \$2, \$3, \$4, 0, 0\)`)

	mock.ExpectExec(q.String()).
		WithArgs("f1", "u1", "report.txt", "folder-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.File{
		ID:             "f1",
		OwnerID:        "u1",
		Name:           "report.txt",
		ParentFolderID: "folder-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "name", "parent_folder_id", "current_version_id",
		"current_size_bytes", "deleted", "deleted_at", "created_at", "updated_at",
	}).AddRow("f1", "u1", "report.txt", "folder-1", int64(3), int64(42), false, nil, now, now)

	mock.ExpectQuery(`(?s)SELECT .* FROM files\s+WHERE id = \$1`).
		WithArgs("f1").
		WillReturnRows(rows)

	file, err := repo.Get(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.CurrentVersionID != 3 || file.CurrentSizeBytes != 42 {
		t.Fatalf("unexpected file: %+v", file)
	}
	if file.DeletedAt != nil {
		t.Fatalf("expected nil DeletedAt, got %v", file.DeletedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT .* FROM files\s+WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestAdvanceCurrent_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`(?s)UPDATE files\s+SET current_version_id = \$3, current_size_bytes = \$4, updated_at = now\(\)\s+WHERE id = \$1 AND current_version_id = \$2 AND deleted = false`)

	mock.ExpectExec(q.String()).
		WithArgs("f1", int64(2), int64(3), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AdvanceCurrent(context.Background(), "f1", 2, 3, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdvanceCurrent_StalePointerRowsAffected0(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE files\s+SET current_version_id`).
		WithArgs("f1", int64(2), int64(3), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AdvanceCurrent(context.Background(), "f1", 2, 3, 100)
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
}

func TestAdvanceCurrent_DBExecError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE files\s+SET current_version_id`).
		WithArgs("f1", int64(2), int64(3), int64(100)).
		WillReturnError(errors.New("boom"))

	err := repo.AdvanceCurrent(context.Background(), "f1", 2, 3, 100)
	if err == nil || errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want wrapped db error, got %v", err)
	}
}

func TestMarkDeleted_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`(?s)UPDATE files\s+SET deleted = true, deleted_at = now\(\), current_version_id = \$3,.*WHERE id = \$1 AND current_version_id = \$2 AND deleted = false`)

	mock.ExpectExec(q.String()).
		WithArgs("f1", int64(3), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkDeleted(context.Background(), "f1", 3, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkDeleted_StalePointerRowsAffected0(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE files\s+SET deleted = true`).
		WithArgs("f1", int64(3), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkDeleted(context.Background(), "f1", 3, 4)
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
}

func TestPurgeDeletedBefore(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM files WHERE deleted = true AND deleted_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.PurgeDeletedBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Fatalf("want 7 purged rows, got %d", n)
	}
}
