package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/witnesslabs/witness/pkg/event"
)

// SQLChainStore implements ChainStore over database/sql. Position assignment
// runs inside a transaction; the UNIQUE constraints on position and event_id
// are the backstop against any append racing past it.
type SQLChainStore struct {
	db *sql.DB
}

func NewSQLChainStore(db *sql.DB) *SQLChainStore {
	return &SQLChainStore{db: db}
}

const chainSchema = `
CREATE TABLE IF NOT EXISTS chain_links (
	position INTEGER PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	previous_hash TEXT NOT NULL DEFAULT '',
	current_hash TEXT NOT NULL
);
`

func (s *SQLChainStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, chainSchema)
	return err
}

func (s *SQLChainStore) Append(ctx context.Context, eventID, previousHash, currentHash string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin append failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM chain_links`).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("store: position read failed: %w", err)
	}
	position++

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chain_links (position, event_id, previous_hash, current_hash) VALUES ($1, $2, $3, $4)`,
		position, eventID, previousHash, currentHash)
	if err != nil {
		return 0, fmt.Errorf("store: link insert failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: append commit failed: %w", err)
	}
	return position, nil
}

func (s *SQLChainStore) ReadOrdered(ctx context.Context) ([]event.Link, error) {
	query := `SELECT position, event_id, previous_hash, current_hash FROM chain_links ORDER BY position ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	links := make([]event.Link, 0)
	for rows.Next() {
		var l event.Link
		if err := rows.Scan(&l.Position, &l.EventID, &l.PreviousHash, &l.CurrentHash); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

func (s *SQLChainStore) Link(ctx context.Context, eventID string) (event.Link, error) {
	var l event.Link
	err := s.db.QueryRowContext(ctx,
		`SELECT position, event_id, previous_hash, current_hash FROM chain_links WHERE event_id = $1`,
		eventID).Scan(&l.Position, &l.EventID, &l.PreviousHash, &l.CurrentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Link{}, ErrNotFound
	}
	if err != nil {
		return event.Link{}, fmt.Errorf("store: link read failed: %w", err)
	}
	return l, nil
}

func (s *SQLChainStore) TailHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT current_hash FROM chain_links ORDER BY position DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: tail read failed: %w", err)
	}
	return hash, nil
}
