// Package users declares the server-side repository contract for user
// accounts.
package users

import (
	"context"

	"github.com/astepanov/syncbox/internal/server/models"
)

type Repository interface {
	// Create inserts a new user and fills in the generated ID.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByUserName returns a user by login name, or common.ErrorNotFound.
	GetByUserName(ctx context.Context, userName string) (*models.User, error)

	// Get returns a user by ID, or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.User, error)
}
