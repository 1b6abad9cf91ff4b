// Package remote keeps the backup bundle and pending reservation
// documents in a remote object store.  Sync implements the naming and
// replace-by-name rules on top of an ObjectStore backend.
package remote

import (
	"context"
	"io"
	"time"
)

// Object describes one stored object.
type Object struct {
	ID       string
	Name     string
	Folder   string
	Size     int64
	Modified time.Time
}

// ObjectStore is a flat store of named objects grouped into folders.
// Names are not required to be unique.
type ObjectStore interface {
	// List returns every object visible to the store's credentials.
	List(ctx context.Context) ([]Object, error)
	// Fetch returns an object's content.
	Fetch(ctx context.Context, id string) ([]byte, error)
	// Create stores a new object under folder and returns its id.
	Create(ctx context.Context, folder, name string, r io.Reader) (string, error)
	// Replace overwrites the content of an existing object.
	Replace(ctx context.Context, id string, r io.Reader) error
	// Remove deletes an object.
	Remove(ctx context.Context, id string) error
}
