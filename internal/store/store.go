// Package store defines the object store contract the sharing core runs
// against: opaque objects holding a file payload, a metadata map and an
// optional preview image.
package store

import (
	"context"
	"errors"
	"time"

	"journalshare/internal/journal"
)

// ErrNotFound reports a lookup for an object id the store does not hold.
// Catalog regeneration treats it as non-fatal and skips the entry.
var ErrNotFound = errors.New("object not found in store")

// Object is one stored journal item. FilePath points at a locally readable
// copy of the payload; backends that keep payloads remotely materialize one
// on Get.
type Object struct {
	ID        string
	FilePath  string
	Metadata  journal.Metadata
	Preview   []byte
	CreatedAt time.Time
}

// Favorite reports whether the object carries the favorite flag.
func (o *Object) Favorite() bool {
	return o.Metadata[journal.KeyFavorite] == "1"
}

// Store is the persistence contract consumed by the catalog manager. It is
// not safe for concurrent mutation; callers serialize writes (the catalog
// manager holds a single mutation lock).
type Store interface {
	// Create persists a new object from the file at filePath plus metadata
	// and optional preview, and returns it with a fresh id.
	Create(ctx context.Context, filePath string, md journal.Metadata, preview []byte) (*Object, error)

	// Get resolves an object by id. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Object, error)

	// Write persists updated metadata and preview for an existing object.
	Write(ctx context.Context, obj *Object) error

	// Delete removes an object. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error

	// Favorites returns all favorite-flagged objects ordered by
	// (CreatedAt, ID). The ordering is part of the contract: catalog
	// snapshots must be stable across regenerations.
	Favorites(ctx context.Context) ([]*Object, error)
}
