package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/witnesslabs/witness/pkg/event"
)

// SQLEventStore implements EventStore over database/sql.
type SQLEventStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLEventStore(db *sql.DB) *SQLEventStore {
	return &SQLEventStore{db: db, now: time.Now}
}

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	device_timestamp TEXT NOT NULL,
	device_timestamp_source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	trigger_payload TEXT NOT NULL DEFAULT '',
	artifact_reference TEXT NOT NULL DEFAULT '',
	artifact_hash TEXT NOT NULL,
	signature TEXT NOT NULL DEFAULT '',
	signature_algorithm TEXT NOT NULL DEFAULT '',
	signature_key_id TEXT NOT NULL DEFAULT '',
	signature_trust TEXT NOT NULL DEFAULT 'absent',
	verified INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`

func (s *SQLEventStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, eventSchema)
	return err
}

func (s *SQLEventStore) Put(ctx context.Context, rec *event.Record) error {
	query := `
		INSERT INTO events (
			event_id, timestamp, device_timestamp, device_timestamp_source,
			event_type, trigger_payload, artifact_reference, artifact_hash,
			signature, signature_algorithm, signature_key_id, signature_trust,
			verified, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	verified := 0
	if rec.Verified {
		verified = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.EventID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.DeviceTimestamp.UTC().Format(time.RFC3339Nano),
		string(rec.TimestampSource),
		string(rec.EventType),
		string(rec.TriggerPayload),
		rec.ArtifactReference,
		rec.ArtifactHash,
		rec.Signature,
		rec.SignatureMetadata.Algorithm,
		rec.SignatureMetadata.KeyID,
		string(rec.SignatureMetadata.Trust),
		verified,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		// The PRIMARY KEY on event_id decides duplicates, so two racing
		// writers cannot both get past a pre-check.
		if isDuplicateKey(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("store: failed to insert event: %w", err)
	}
	return nil
}

// isDuplicateKey matches the unique-violation text of both supported
// drivers; neither exposes a portable error code through database/sql.
func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key")
}

const eventColumns = `
	event_id, timestamp, device_timestamp, device_timestamp_source,
	event_type, trigger_payload, artifact_reference, artifact_hash,
	signature, signature_algorithm, signature_key_id, signature_trust, verified
`

func (s *SQLEventStore) Get(ctx context.Context, eventID string) (*event.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = $1`, eventID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *SQLEventStore) List(ctx context.Context, limit, offset int) ([]event.ListedRecord, error) {
	query := `
		SELECT e.event_id, e.timestamp, e.device_timestamp, e.device_timestamp_source,
			e.event_type, e.trigger_payload, e.artifact_reference, e.artifact_hash,
			e.signature, e.signature_algorithm, e.signature_key_id, e.signature_trust,
			e.verified, COALESCE(c.position, 0)
		FROM events e
		LEFT JOIN chain_links c ON e.event_id = c.event_id
		ORDER BY e.created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]event.ListedRecord, 0)
	for rows.Next() {
		var (
			lr       event.ListedRecord
			ts, dts  string
			payload  string
			verified int64
		)
		if err := rows.Scan(
			&lr.EventID, &ts, &dts, &lr.TimestampSource,
			&lr.EventType, &payload, &lr.ArtifactReference, &lr.ArtifactHash,
			&lr.Signature, &lr.SignatureMetadata.Algorithm, &lr.SignatureMetadata.KeyID,
			&lr.SignatureMetadata.Trust, &verified, &lr.Position,
		); err != nil {
			return nil, err
		}
		if err := fillTimes(&lr.Record, ts, dts); err != nil {
			return nil, err
		}
		if payload != "" {
			lr.TriggerPayload = json.RawMessage(payload)
		}
		lr.Verified = verified != 0
		result = append(result, lr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLEventStore) Stats(ctx context.Context) (event.Stats, error) {
	query := `
		SELECT
			COUNT(1),
			COALESCE(SUM(CASE WHEN signature <> '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verified <> 0 THEN 1 ELSE 0 END), 0),
			(SELECT COUNT(1) FROM chain_links)
		FROM events
	`
	var st event.Stats
	err := s.db.QueryRowContext(ctx, query).Scan(&st.Total, &st.Signed, &st.Verified, &st.Chained)
	if err != nil {
		return event.Stats{}, fmt.Errorf("store: stats query failed: %w", err)
	}
	st.Orphaned = st.Total - st.Chained
	return st, nil
}

func (s *SQLEventStore) OrphanedIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT e.event_id FROM events e
		LEFT JOIN chain_links c ON e.event_id = c.event_id
		WHERE c.event_id IS NULL
		ORDER BY e.created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*event.Record, error) {
	var (
		rec      event.Record
		ts, dts  string
		payload  string
		verified int64
	)
	err := row.Scan(
		&rec.EventID, &ts, &dts, &rec.TimestampSource,
		&rec.EventType, &payload, &rec.ArtifactReference, &rec.ArtifactHash,
		&rec.Signature, &rec.SignatureMetadata.Algorithm, &rec.SignatureMetadata.KeyID,
		&rec.SignatureMetadata.Trust, &verified,
	)
	if err != nil {
		return nil, err
	}
	if err := fillTimes(&rec, ts, dts); err != nil {
		return nil, err
	}
	if payload != "" {
		rec.TriggerPayload = json.RawMessage(payload)
	}
	rec.Verified = verified != 0
	return &rec, nil
}

func fillTimes(rec *event.Record, ts, dts string) error {
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fmt.Errorf("store: bad timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed
	parsed, err = time.Parse(time.RFC3339Nano, dts)
	if err != nil {
		return fmt.Errorf("store: bad device timestamp %q: %w", dts, err)
	}
	rec.DeviceTimestamp = parsed
	return nil
}
