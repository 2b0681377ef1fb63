package models

import "time"

// Roles known to the authorization layer.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string
	UserName     string
	PasswordHash []byte
	Role         string
	CreatedAt    time.Time
}
