package models

import "time"

// RefreshToken is a long-lived opaque token exchanged for a fresh access
// token. Tokens are rotated on every refresh.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}
