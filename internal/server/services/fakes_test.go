package services

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/logging"
	"github.com/astepanov/syncbox/internal/server/models"
	conflictsrepo "github.com/astepanov/syncbox/internal/server/repositories/conflicts"
	filesrepo "github.com/astepanov/syncbox/internal/server/repositories/files"
	quotasrepo "github.com/astepanov/syncbox/internal/server/repositories/quotas"
	refreshtokensrepo "github.com/astepanov/syncbox/internal/server/repositories/refreshtokens"
	usersrepo "github.com/astepanov/syncbox/internal/server/repositories/users"
	versionsrepo "github.com/astepanov/syncbox/internal/server/repositories/versions"
	"github.com/google/uuid"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

// memState is a single in-memory backing store shared by all fake
// repositories, mimicking the SQL semantics the postgres implementations
// provide (CAS pointer swaps, guarded quota reservation, keyset listing).
type memState struct {
	files     map[string]*models.File
	versions  []*models.FileVersion
	seq       int64
	quotas    map[string]*models.QuotaRecord
	conflicts map[string]*models.Conflict
	users     map[string]*models.User
	tokens    map[string]*models.RefreshToken
}

func newMemState() *memState {
	return &memState{
		files:     map[string]*models.File{},
		quotas:    map[string]*models.QuotaRecord{},
		conflicts: map[string]*models.Conflict{},
		users:     map[string]*models.User{},
		tokens:    map[string]*models.RefreshToken{},
	}
}

// --- files ---

type memFilesRepo struct {
	st *memState
	// advanceErr, when set, is returned by the next AdvanceCurrent call.
	advanceErr error
}

func (r *memFilesRepo) Create(ctx context.Context, f *models.File) error {
	cp := *f
	r.st.files[f.ID] = &cp
	return nil
}

func (r *memFilesRepo) Get(ctx context.Context, id string) (*models.File, error) {
	f, ok := r.st.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *memFilesRepo) AdvanceCurrent(ctx context.Context, fileID string, fromVersionID, toVersionID, sizeBytes int64) error {
	if r.advanceErr != nil {
		err := r.advanceErr
		r.advanceErr = nil
		return err
	}
	f, ok := r.st.files[fileID]
	if !ok || f.Deleted || f.CurrentVersionID != fromVersionID {
		return common.ErrVersionConflict
	}
	f.CurrentVersionID = toVersionID
	f.CurrentSizeBytes = sizeBytes
	return nil
}

func (r *memFilesRepo) MarkDeleted(ctx context.Context, fileID string, fromVersionID, toVersionID int64) error {
	f, ok := r.st.files[fileID]
	if !ok || f.Deleted || f.CurrentVersionID != fromVersionID {
		return common.ErrVersionConflict
	}
	now := time.Now()
	f.Deleted = true
	f.DeletedAt = &now
	f.CurrentVersionID = toVersionID
	f.CurrentSizeBytes = 0
	return nil
}

func (r *memFilesRepo) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, f := range r.st.files {
		if f.Deleted && f.DeletedAt != nil && f.DeletedAt.Before(cutoff) {
			delete(r.st.files, id)
			n++
		}
	}
	return n, nil
}

// --- versions ---

type memVersionsRepo struct {
	st *memState
}

func (r *memVersionsRepo) Append(ctx context.Context, v *models.FileVersion) (int64, error) {
	r.st.seq++
	cp := *v
	cp.Seq = r.st.seq
	r.st.versions = append(r.st.versions, &cp)
	return cp.Seq, nil
}

func (r *memVersionsRepo) Get(ctx context.Context, fileID string, versionID int64) (*models.FileVersion, error) {
	for _, v := range r.st.versions {
		if v.FileID == fileID && v.VersionID == versionID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memVersionsRepo) ListChangesSince(ctx context.Context, ownerID string, afterModified time.Time, afterSeq int64, limit int) ([]*models.FileVersion, error) {
	var out []*models.FileVersion
	for _, v := range r.st.versions {
		if v.OwnerID != ownerID {
			continue
		}
		if v.ModifiedAt.After(afterModified) || (v.ModifiedAt.Equal(afterModified) && v.Seq > afterSeq) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.Before(out[j].ModifiedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memVersionsRepo) AncestorChain(ctx context.Context, fileID string, fromVersionID int64) ([]int64, error) {
	var chain []int64
	cur := fromVersionID
	for cur != 0 {
		v, err := r.Get(ctx, fileID, cur)
		if err != nil {
			break
		}
		chain = append(chain, v.VersionID)
		cur = v.ParentVersionID
	}
	return chain, nil
}

func (r *memVersionsRepo) CurrentHashes(ctx context.Context, ownerID string, fileIDs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, id := range fileIDs {
		f, ok := r.st.files[id]
		if !ok || f.OwnerID != ownerID || f.Deleted {
			continue
		}
		v, err := r.Get(ctx, id, f.CurrentVersionID)
		if err != nil {
			continue
		}
		out[id] = v.ContentHash
	}
	return out, nil
}

func (r *memVersionsRepo) SumLiveSizes(ctx context.Context, ownerID string) (int64, error) {
	var sum int64
	for _, f := range r.st.files {
		if f.OwnerID == ownerID && !f.Deleted {
			sum += f.CurrentSizeBytes
		}
	}
	return sum, nil
}

// --- quotas ---

type memQuotasRepo struct {
	st *memState
}

func (r *memQuotasRepo) Ensure(ctx context.Context, userID string, limitBytes int64) error {
	if _, ok := r.st.quotas[userID]; !ok {
		r.st.quotas[userID] = &models.QuotaRecord{UserID: userID, LimitBytes: limitBytes}
	}
	return nil
}

func (r *memQuotasRepo) Reserve(ctx context.Context, userID string, delta int64) (bool, error) {
	q, ok := r.st.quotas[userID]
	if !ok {
		return false, nil
	}
	if delta > 0 && q.UsedBytes+delta > q.LimitBytes {
		return false, nil
	}
	q.UsedBytes += delta
	if q.UsedBytes < 0 {
		q.UsedBytes = 0
	}
	return true, nil
}

func (r *memQuotasRepo) Release(ctx context.Context, userID string, delta int64) error {
	q, ok := r.st.quotas[userID]
	if !ok {
		return nil
	}
	q.UsedBytes -= delta
	if q.UsedBytes < 0 {
		q.UsedBytes = 0
	}
	return nil
}

func (r *memQuotasRepo) Get(ctx context.Context, userID string) (*models.QuotaRecord, error) {
	q, ok := r.st.quotas[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *q
	return &cp, nil
}

func (r *memQuotasRepo) SetLimit(ctx context.Context, userID string, limitBytes int64) error {
	if q, ok := r.st.quotas[userID]; ok {
		q.LimitBytes = limitBytes
		return nil
	}
	r.st.quotas[userID] = &models.QuotaRecord{UserID: userID, LimitBytes: limitBytes}
	return nil
}

func (r *memQuotasRepo) SetUsed(ctx context.Context, userID string, usedBytes int64) error {
	q, ok := r.st.quotas[userID]
	if !ok {
		return common.ErrorNotFound
	}
	q.UsedBytes = usedBytes
	return nil
}

// --- conflicts ---

type memConflictsRepo struct {
	st *memState
}

func (r *memConflictsRepo) Create(ctx context.Context, c *models.Conflict) error {
	cp := *c
	cp.CreatedAt = time.Now()
	r.st.conflicts[c.ID] = &cp
	return nil
}

func (r *memConflictsRepo) Get(ctx context.Context, id string) (*models.Conflict, error) {
	c, ok := r.st.conflicts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memConflictsRepo) GetPendingByFile(ctx context.Context, fileID string) (*models.Conflict, error) {
	for _, c := range r.st.conflicts {
		if c.FileID == fileID && c.State == models.ResolutionPending {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memConflictsRepo) ListPending(ctx context.Context, ownerID string) ([]*models.Conflict, error) {
	var out []*models.Conflict
	for _, c := range r.st.conflicts {
		if c.OwnerID == ownerID && c.State == models.ResolutionPending {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memConflictsRepo) Resolve(ctx context.Context, id string, state models.ResolutionState) error {
	c, ok := r.st.conflicts[id]
	if !ok || c.State != models.ResolutionPending {
		return common.ErrorNotFound
	}
	now := time.Now()
	c.State = state
	c.ResolvedAt = &now
	return nil
}

// --- users / refresh tokens ---

type memUsersRepo struct {
	st *memState
}

func (r *memUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.st.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memUsersRepo) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	for _, u := range r.st.users {
		if u.UserName == userName {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsersRepo) Get(ctx context.Context, id string) (*models.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

type memRefreshRepo struct {
	st *memState
}

func (r *memRefreshRepo) Create(ctx context.Context, userID string, token string, validity time.Duration) error {
	r.st.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (r *memRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	tk, ok := r.st.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *tk
	return &cp, nil
}

func (r *memRefreshRepo) Delete(ctx context.Context, token string) error {
	delete(r.st.tokens, token)
	return nil
}

func (r *memRefreshRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var n int64
	for k, tk := range r.st.tokens {
		if tk.Expires.Before(time.Now()) {
			delete(r.st.tokens, k)
			n++
		}
	}
	return n, nil
}

// --- repo manager ---

type memRepoManager struct {
	st        *memState
	filesRepo *memFilesRepo
}

func newMemRepoManager() *memRepoManager {
	st := newMemState()
	return &memRepoManager{st: st, filesRepo: &memFilesRepo{st: st}}
}

func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *memRepoManager) Users(dbx.DBTX) usersrepo.Repository { return &memUsersRepo{st: m.st} }
func (m *memRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository {
	return &memRefreshRepo{st: m.st}
}
func (m *memRepoManager) Files(dbx.DBTX) filesrepo.Repository       { return m.filesRepo }
func (m *memRepoManager) Versions(dbx.DBTX) versionsrepo.Repository { return &memVersionsRepo{st: m.st} }
func (m *memRepoManager) Conflicts(dbx.DBTX) conflictsrepo.Repository {
	return &memConflictsRepo{st: m.st}
}
func (m *memRepoManager) Quotas(dbx.DBTX) quotasrepo.Repository { return &memQuotasRepo{st: m.st} }

// --- blob store ---

type memBlobStore struct {
	objects map[string][]byte
	// putFailures makes the next N Put calls fail.
	putFailures int
	putCalls    int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (b *memBlobStore) Put(ctx context.Context, contentHash string, data []byte) error {
	b.putCalls++
	if b.putFailures > 0 {
		b.putFailures--
		return context.DeadlineExceeded
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[contentHash] = cp
	return nil
}

func (b *memBlobStore) PresignGet(ctx context.Context, contentHash string) (string, error) {
	return "https://blobs.example/" + contentHash, nil
}
