// Package models defines server-side data models persisted in the database.
package models

import "time"

// File is a logical document owned by exactly one user. Its identity is
// stable across edits; only the current-version pointer changes.
type File struct {
	// ID is the stable, immutable file identifier (client-generated UUID).
	ID string
	// OwnerID is the owning user.
	OwnerID string
	// Name is the display name, unique only in client terms, never relied on.
	Name string
	// ParentFolderID locates the file in the folder tree ("" for root).
	ParentFolderID string
	// CurrentVersionID points at the authoritative version (see FileVersion).
	CurrentVersionID int64
	// CurrentSizeBytes caches the current version's size for quota math.
	CurrentSizeBytes int64
	// Deleted marks a tombstoned file. History is retained for the
	// retention window before garbage collection.
	Deleted bool
	// DeletedAt is set when the tombstone is written.
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
