package models

import "time"

// FileVersion is an immutable snapshot of a file's content. VersionID is
// monotonic per file; Seq is a global append order used for change-listing
// cursors. The content bytes themselves live in object storage keyed by
// ContentHash.
type FileVersion struct {
	// Seq is the global append-order sequence assigned by the database.
	Seq int64
	// FileID links the version to its file.
	FileID string
	// OwnerID denormalizes the file's owner for change-feed queries.
	OwnerID string
	// VersionID strictly increases per file, starting at 1.
	VersionID int64
	// ParentVersionID is the version this one was derived from, 0 for the
	// first version.
	ParentVersionID int64
	// ContentHash is the server-verified SHA-256 of the content bytes.
	ContentHash string
	// SizeBytes is the content length.
	SizeBytes int64
	// ModifiedAt is server-assigned and monotonic per file.
	ModifiedAt time.Time
	// OriginDeviceID identifies the client device that produced the version.
	OriginDeviceID string
	// Deleted marks a tombstone version: the entry written when the file is
	// deleted, so the change feed delivers the deletion to other devices.
	Deleted bool
}
