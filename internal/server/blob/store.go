// Package blob stores version content in an S3-compatible object store.
// Blobs are content-addressed: the object key is derived from the verified
// content hash, so re-uploading identical bytes is idempotent and an
// uncommitted upload left behind by a conflicting submission is harmless.
package blob

import "context"

// Store is the content blob interface the sync service depends on.
type Store interface {
	// Put uploads data under the object key for contentHash.
	Put(ctx context.Context, contentHash string, data []byte) error

	// PresignGet returns a temporary download URL for contentHash.
	PresignGet(ctx context.Context, contentHash string) (string, error)
}
