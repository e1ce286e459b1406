// Package store keeps the job collection. The collection is always loaded and saved as a whole,
// in insertion order. JSONFile keeps it as a single pretty-printed JSON array, SQLite as rows
// of one table ordered by position.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable wraps any failure to read the collection, so callers can tell
// "no jobs" from "store can't be read"
var ErrUnavailable = errors.New("store unavailable")

// Store defines the whole-collection storage operations
type Store interface {
	Initialize(ctx context.Context) error
	LoadAll(ctx context.Context) ([]Job, error)
	SaveAll(ctx context.Context, jobs []Job) error
	Close() error
	String() string
}
