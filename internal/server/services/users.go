package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/dbx"
	"github.com/astepanov/syncbox/internal/logging"
	"github.com/astepanov/syncbox/internal/server/auth"
	"github.com/astepanov/syncbox/internal/server/config"
	"github.com/astepanov/syncbox/internal/server/models"
	"github.com/astepanov/syncbox/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// UserService handles registration, login, and token rotation.
type UserService struct {
	db           *sql.DB
	repos        repomanager.RepositoryManager
	logger       logging.Logger
	jwtSecret    []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	defaultQuota int64
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *UserService {
	return &UserService{
		db:           db,
		repos:        m,
		logger:       logger.With("module", "users"),
		jwtSecret:    []byte(cfg.SecretKey),
		accessTTL:    cfg.AccessTokenValidityDuration,
		refreshTTL:   cfg.RefreshTokenValidityDuration,
		defaultQuota: cfg.DefaultQuotaBytes,
	}
}

// Register creates a user account and seeds its quota record with the
// default limit.
func (s *UserService) Register(ctx context.Context, userName, password string) (*models.User, error) {
	if userName == "" || password == "" {
		return nil, fmt.Errorf("username and password are required: %w", common.ErrorUnauthorized)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, common.ErrorInternal
	}

	var user *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := s.repos.Users(tx).Create(ctx, &models.User{
			UserName:     userName,
			PasswordHash: hash,
			Role:         models.RoleUser,
		})
		if err != nil {
			return fmt.Errorf("error creating user: %w", err)
		}
		user = u
		return s.repos.Quotas(tx).Ensure(ctx, u.ID, s.defaultQuota)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login verifies credentials and mints a token pair. Unknown users and bad
// passwords are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, userName, password string) (*TokenPair, error) {
	user, err := s.repos.Users(s.db).GetByUserName(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Burn comparable time so absent users don't answer faster.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, common.ErrorUnauthorized
	}
	return s.generateTokenPair(ctx, user, s.db)
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair. Expired tokens yield ErrRefreshTokenExpired.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := s.repos.RefreshTokens(s.db).Find(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expires.Before(time.Now()) {
		return nil, common.ErrRefreshTokenExpired
	}
	user, err := s.repos.Users(s.db).Get(ctx, token.UserID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, user, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// dummyHash is a bcrypt hash of an unguessable value, used only to equalize
// login timing for unknown usernames.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

func (s *UserService) generateTokenPair(ctx context.Context, user *models.User, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.GenerateToken(user.ID, user.Role, s.jwtSecret, s.accessTTL)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if err := s.repos.RefreshTokens(tx).Create(ctx, user.ID, refresh, s.refreshTTL); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
