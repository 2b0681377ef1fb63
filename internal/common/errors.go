// Package common defines shared constants and sentinel errors used across
// the syncbox server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Sync-core errors.
	ErrVersionConflict = errors.New("version conflict")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrIntegrity       = errors.New("checksum mismatch")
	ErrStaleCursor     = errors.New("stale cursor")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrSessionExpired  = errors.New("session expired")
	ErrFileDeleted     = errors.New("file deleted")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
