package repomanager

import (
	"context"
	"database/sql"

	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/server/repositories/conflicts"
	"github.com/astepanov/syncbox/internal/server/repositories/files"
	"github.com/astepanov/syncbox/internal/server/repositories/quotas"
	"github.com/astepanov/syncbox/internal/server/repositories/refreshtokens"
	"github.com/astepanov/syncbox/internal/server/repositories/users"
	"github.com/astepanov/syncbox/internal/server/repositories/versions"
)

// RepositoryManager vends repositories bound to a DBTX (either the pool or a
// transaction), so services can run multi-repository units of work inside
// dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Files(db dbx.DBTX) files.Repository
	Versions(db dbx.DBTX) versions.Repository
	Conflicts(db dbx.DBTX) conflicts.Repository
	Quotas(db dbx.DBTX) quotas.Repository
}
