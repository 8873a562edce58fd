// Package store defines the durable segment store contract. The download
// engine talks only to this interface; the reference implementations live in
// the sqlite and memory subpackages.
package store

import (
	"context"

	"rangedl/pkg/segment"
)

// Store is a keyed collection of live segment records with transactional
// semantics. All mutating operations execute under a single serialized
// transaction so that concurrent workers see linearizable updates.
type Store interface {
	// Add inserts a new record, materializing the (url, file_path) parent
	// keys if absent, and returns the fresh id. It fails with
	// rangeerr.ErrStoreConflict only if the backing medium rejects the
	// write.
	Add(ctx context.Context, s segment.Segment) (segment.ID, error)

	// Update overwrites the record with matching id. It fails with
	// rangeerr.ErrNotFound if the id is unknown.
	Update(ctx context.Context, s segment.Segment) error

	// ListByURL returns all live segments for that URL in unspecified
	// order. It returns an empty slice, not an error, when none exist.
	ListByURL(ctx context.Context, url string) ([]segment.Segment, error)

	// RemoveByID removes the record if present. It is idempotent.
	RemoveByID(ctx context.Context, id segment.ID) error

	// RemoveByURL removes all segments for that URL and cascades to the
	// parent url/file_path references.
	RemoveByURL(ctx context.Context, url string) error

	// Close releases any resources held by the store.
	Close() error
}
