package versions

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

func TestAppend_ReturnsSeq(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	modifiedAt := time.Now()
	q := regexp.MustCompile(`(?s)INSERT INTO file_versions .*RETURNING seq`)

	mock.ExpectQuery(q.String()).
		WithArgs("f1", "u1", int64(2), int64(1), "abc123", int64(64), modifiedAt, "laptop", false).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(17)))

	seq, err := repo.Append(context.Background(), &models.FileVersion{
		FileID:          "f1",
		OwnerID:         "u1",
		VersionID:       2,
		ParentVersionID: 1,
		ContentHash:     "abc123",
		SizeBytes:       64,
		ModifiedAt:      modifiedAt,
		OriginDeviceID:  "laptop",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 17 {
		t.Fatalf("want seq 17, got %d", seq)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppend_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)INSERT INTO file_versions`).
		WillReturnError(errors.New("boom"))

	_, err := repo.Append(context.Background(), &models.FileVersion{FileID: "f1"})
	if err == nil {
		t.Fatal("want db error")
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT .* FROM file_versions\s+WHERE file_id = \$1 AND version_id = \$2`).
		WithArgs("f1", int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "f1", 99)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestListChangesSince_KeysetOrder(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	after := time.Now().Add(-time.Hour)
	t1 := after.Add(time.Minute)
	t2 := after.Add(2 * time.Minute)

	rows := sqlmock.NewRows([]string{
		"seq", "file_id", "version_id", "parent_version_id", "content_hash",
		"size_bytes", "modified_at", "origin_device_id", "deleted",
	}).
		AddRow(int64(5), "f1", int64(2), int64(1), "h1", int64(10), t1, "laptop", false).
		AddRow(int64(6), "f2", int64(1), int64(0), "h2", int64(20), t2, "phone", true)

	q := regexp.MustCompile(`(?s)SELECT .* FROM file_versions\s+WHERE owner_id = \$1 AND \(modified_at > \$2 OR \(modified_at = \$2 AND seq > \$3\)\)\s+ORDER BY modified_at, seq\s+LIMIT \$4`)

	mock.ExpectQuery(q.String()).
		WithArgs("u1", after, int64(4), 100).
		WillReturnRows(rows)

	changes, err := repo.ListChangesSince(context.Background(), "u1", after, 4, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("want 2 changes, got %d", len(changes))
	}
	if changes[0].Seq != 5 || changes[1].Seq != 6 {
		t.Fatalf("unexpected order: %d, %d", changes[0].Seq, changes[1].Seq)
	}
	if !changes[1].Deleted {
		t.Fatal("want tombstone flag on second change")
	}
}

func TestListChangesSince_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT .* FROM file_versions\s+WHERE owner_id = \$1`).
		WillReturnError(errors.New("boom"))

	_, err := repo.ListChangesSince(context.Background(), "u1", time.Now(), 0, 100)
	if err == nil {
		t.Fatal("want query error")
	}
}

func TestAncestorChain(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"version_id"}).
		AddRow(int64(3)).AddRow(int64(2)).AddRow(int64(1))

	mock.ExpectQuery(`(?s)WITH RECURSIVE chain AS .*SELECT version_id FROM chain ORDER BY depth`).
		WithArgs("f1", int64(3)).
		WillReturnRows(rows)

	chain, err := repo.AncestorChain(context.Background(), "f1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{3, 2, 1}
	for i, id := range want {
		if chain[i] != id {
			t.Fatalf("want chain %v, got %v", want, chain)
		}
	}
}

func TestSumLiveSizes(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT COALESCE\(SUM\(v\.size_bytes\), 0\)\s+FROM files f`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(140)))

	sum, err := repo.SumLiveSizes(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 140 {
		t.Fatalf("want 140, got %d", sum)
	}
}
