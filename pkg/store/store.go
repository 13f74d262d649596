// Package store defines the chunk storage interface and its error types.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowstash/flowstash/pkg/model"
)

// SchemaVersion is incremented when schema changes require rebuilding
// the database.
const SchemaVersion = 1

// ErrNotFound is returned when a chunk id does not exist.
var ErrNotFound = errors.New("chunk not found")

// DuplicateChunkError is returned when an insert would create a second
// chunk of a non-repeatable kind for the same mid. The insert is fully
// rolled back.
type DuplicateChunkError struct {
	MID  string
	Kind string
}

func (e *DuplicateChunkError) Error() string {
	return fmt.Sprintf("duplicate chunk: kind %q already exists for mid %q", e.Kind, e.MID)
}

// Config holds configuration for a chunk store.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// WAL enables WAL mode so projections can read during writes.
	WAL bool

	// RepeatableKinds lists the kinds exempt from the (mid, kind)
	// uniqueness rule. Producers declare which kinds are multi-valued
	// per mid; everything else is unique.
	RepeatableKinds []string
}

// DefaultRepeatableKinds are the kinds the HTTP serializer emits more
// than once per mid.
var DefaultRepeatableKinds = []string{model.KindStreamChunk}

// Store is the chunk store write/read contract. Insert assigns the
// chunk id and per-mid sequence number atomically with the row itself;
// a failed insert leaves no partial state behind.
type Store interface {
	Insert(ctx context.Context, mid, kind string, payload []byte) (model.ChunkRef, error)
	GetByID(ctx context.Context, id int64) (*model.Chunk, error)
	ListByMID(ctx context.Context, mid string) ([]*model.Chunk, error)
	ListByKind(ctx context.Context, kind string) ([]*model.Chunk, error)

	// UpdatePayload replaces a chunk's payload and recomputes its
	// derived fields in the same transaction.
	UpdatePayload(ctx context.Context, id int64, payload []byte) error

	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	Close() error
}
