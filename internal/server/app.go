// Package server wires the sync service together: database, migrations,
// object storage, HTTP API, and the background janitor, with graceful
// shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/astepanov/syncbox/internal/logging"
	"github.com/astepanov/syncbox/internal/server/blob"
	"github.com/astepanov/syncbox/internal/server/config"
	"github.com/astepanov/syncbox/internal/server/httpapi"
	"github.com/astepanov/syncbox/internal/server/repositories/repomanager"
	"github.com/astepanov/syncbox/internal/server/services"
	"github.com/astepanov/syncbox/internal/server/sessions"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const janitorInterval = 5 * time.Minute

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	repos    repomanager.RepositoryManager
	sessions *sessions.Store
	handler  *httpapi.Handler
}

func NewApp(cfg *config.Config) (*App, error) {
	l := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(l)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs := blob.NewS3Store(blob.S3Options{
		Region:       cfg.S3Region,
		RootUser:     cfg.S3RootUser,
		RootPassword: cfg.S3RootPassword,
		Bucket:       cfg.S3Bucket,
		BaseEndpoint: cfg.S3BaseEndpoint,
		PresignTTL:   cfg.S3PresignTTL,
	})

	store := sessions.NewStore(cfg.SessionTTL)

	resolver := services.NewConflictResolver(db, repos, logger, cfg)
	syncSvc := services.NewSyncService(db, repos, blobs, store, resolver, logger, cfg)
	userSvc := services.NewUserService(db, repos, logger, cfg)
	quotaSvc := services.NewQuotaService(db, repos, logger, cfg)

	handler := httpapi.NewHandler(syncSvc, userSvc, quotaSvc, resolver, logger)

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		repos:    repos,
		sessions: store,
		handler:  handler,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runJanitor periodically drops expired sessions and refresh tokens and
// purges tombstoned files past the retention window.
func (app *App) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.sessions.SweepExpired(); n > 0 {
				app.logger.Debug(ctx, "expired sessions swept", "count", n)
			}

			cutoff := time.Now().Add(-app.config.RetentionWindow)
			if n, err := app.repos.Files(app.db).PurgeDeletedBefore(ctx, cutoff); err != nil {
				app.logger.Error(ctx, "tombstone purge failed", "error", err.Error())
			} else if n > 0 {
				app.logger.Info(ctx, "tombstoned files purged", "count", n)
			}

			if n, err := app.repos.RefreshTokens(app.db).DeleteExpired(ctx); err != nil {
				app.logger.Error(ctx, "refresh token cleanup failed", "error", err.Error())
			} else if n > 0 {
				app.logger.Debug(ctx, "expired refresh tokens removed", "count", n)
			}
		}
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	router := httpapi.NewRouter(app.config, app.handler)

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "server shutdown error", "error", err.Error())
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runJanitor(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
