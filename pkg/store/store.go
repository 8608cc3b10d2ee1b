// Package store implements durable, append-only persistence for provenance
// events and their chain links. One database/sql implementation serves both
// SQLite (modernc driver, lite mode) and Postgres (lib/pq): both engines
// accept $N placeholders.
package store

import (
	"context"
	"errors"

	"github.com/witnesslabs/witness/pkg/event"
)

var (
	// ErrDuplicateEvent indicates a Put with an event_id that already exists.
	ErrDuplicateEvent = errors.New("store: duplicate event")

	// ErrNotFound indicates the requested event does not exist.
	ErrNotFound = errors.New("store: not found")
)

// EventStore is the durable record of full events.
type EventStore interface {
	// Put writes one event record. Fails with ErrDuplicateEvent when the
	// event_id already exists. Records are never updated or deleted.
	Put(ctx context.Context, rec *event.Record) error

	// Get retrieves a record by event id, or ErrNotFound.
	Get(ctx context.Context, eventID string) (*event.Record, error)

	// List returns records newest-first by write time, joined with their
	// chain position (zero for orphaned records).
	List(ctx context.Context, limit, offset int) ([]event.ListedRecord, error)

	// Stats reports store health counts, including orphaned events that
	// never received a chain link.
	Stats(ctx context.Context) (event.Stats, error)

	// OrphanedIDs lists event ids present here but absent from the chain.
	OrphanedIDs(ctx context.Context) ([]string, error)
}

// ChainStore is the ordered, append-only ledger of chain links.
type ChainStore interface {
	// Append assigns the next position atomically and stores the link.
	// Two concurrent appends can never receive the same position.
	Append(ctx context.Context, eventID, previousHash, currentHash string) (int64, error)

	// ReadOrdered returns all links in position order, lowest first.
	// Used for full verification only; O(n) is acceptable.
	ReadOrdered(ctx context.Context) ([]event.Link, error)

	// TailHash returns the current_hash of the highest-position link, or
	// the empty string when the chain is empty. Seeds the engine cursor.
	TailHash(ctx context.Context) (string, error)

	// Link returns the chain link for one event, or ErrNotFound when the
	// event was never chained (orphaned).
	Link(ctx context.Context, eventID string) (event.Link, error)
}
