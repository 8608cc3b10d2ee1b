// Package provenance implements the tamper-evident event provenance chain:
// it binds each trigger to a captured artifact and a timestamp, signs the
// bound record, and links records into an append-only hash chain so any
// retroactive edit or deletion is detectable.
package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/witnesslabs/witness/pkg/canonicalize"
	"github.com/witnesslabs/witness/pkg/clock"
	"github.com/witnesslabs/witness/pkg/crypto"
	"github.com/witnesslabs/witness/pkg/event"
	"github.com/witnesslabs/witness/pkg/store"
)

const instrumentationName = "github.com/witnesslabs/witness/pkg/provenance"

// unsignedMarker stands in for the signature when signing failed entirely,
// so unsigned records still chain deterministically.
const unsignedMarker = "unsigned"

// ErrChainAppend indicates the chain append failed after the event record
// was durably written. The event is orphaned (visible via Stats and
// ChainStatus); the cursor is not advanced, so subsequent events keep a
// correct linkage.
var ErrChainAppend = errors.New("provenance: chain append failed")

// DefaultStoreTimeout bounds one store write during record creation.
const DefaultStoreTimeout = 5 * time.Second

// Engine orchestrates record creation, single-event verification, and
// whole-chain verification. The chain tip cursor is its only mutable state.
type Engine struct {
	signer crypto.Signer
	events store.EventStore
	chain  store.ChainStore
	clock  clock.TimeSource
	logger *slog.Logger

	// mu serializes the read-cursor / sign / append / advance-cursor
	// sequence. The signature covers previous_hash, so signing has to see
	// a cursor that cannot move before the append lands.
	mu     sync.Mutex
	cursor string

	storeTimeout time.Duration

	tracer         trace.Tracer
	created        metric.Int64Counter
	appendFailures metric.Int64Counter
	verifications  metric.Int64Counter
}

// NewEngine builds an engine and seeds the cursor from the chain tail.
func NewEngine(ctx context.Context, signer crypto.Signer, events store.EventStore, chain store.ChainStore, ts clock.TimeSource, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tail, err := chain.TailHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("provenance: failed to seed cursor: %w", err)
	}

	meter := otel.Meter(instrumentationName)
	created, err := meter.Int64Counter("witness.records.created",
		metric.WithDescription("Provenance records created, by signing trust"))
	if err != nil {
		return nil, err
	}
	appendFailures, err := meter.Int64Counter("witness.chain.append_failures",
		metric.WithDescription("Chain appends that failed after the event record was written"))
	if err != nil {
		return nil, err
	}
	verifications, err := meter.Int64Counter("witness.verifications",
		metric.WithDescription("Verification operations, by kind and outcome"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		signer:         signer,
		events:         events,
		chain:          chain,
		clock:          ts,
		logger:         logger,
		cursor:         tail,
		storeTimeout:   DefaultStoreTimeout,
		tracer:         otel.Tracer(instrumentationName),
		created:        created,
		appendFailures: appendFailures,
		verifications:  verifications,
	}, nil
}

// Cursor returns the current chain tip hash ("" before the first record).
func (e *Engine) Cursor() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// CreateInput is one trigger plus its captured artifact.
type CreateInput struct {
	EventType         event.Type
	TriggerPayload    json.RawMessage
	ArtifactBytes     []byte
	ArtifactReference string
}

// CreateResult is the finalized record handed back for display/broadcast.
type CreateResult struct {
	Record      event.Record `json:"record"`
	Position    int64        `json:"position"`
	CurrentHash string       `json:"current_hash"`
	Signed      bool         `json:"signed"`
}

// signablePayload is the canonical field set covered by the signature and
// the link hash. The field list and its serialization are a contract:
// changing either breaks hash reproducibility for every stored record.
type signablePayload struct {
	EventID               string          `json:"event_id"`
	Timestamp             string          `json:"timestamp"`
	DeviceTimestamp       string          `json:"device_timestamp"`
	DeviceTimestampSource string          `json:"device_timestamp_source"`
	EventType             string          `json:"event_type"`
	TriggerPayload        json.RawMessage `json:"trigger_payload"`
	ArtifactHash          string          `json:"artifact_hash"`
	PreviousHash          string          `json:"previous_hash"`
}

func payloadFromRecord(rec *event.Record, previousHash string) signablePayload {
	payload := signablePayload{
		EventID:               rec.EventID,
		Timestamp:             rec.Timestamp.UTC().Format(time.RFC3339Nano),
		DeviceTimestamp:       rec.DeviceTimestamp.UTC().Format(time.RFC3339Nano),
		DeviceTimestampSource: string(rec.TimestampSource),
		EventType:             string(rec.EventType),
		TriggerPayload:        rec.TriggerPayload,
		ArtifactHash:          rec.ArtifactHash,
		PreviousHash:          previousHash,
	}
	if len(payload.TriggerPayload) == 0 {
		payload.TriggerPayload = json.RawMessage("null")
	}
	return payload
}

// linkHash computes current_hash over the canonical payload plus the
// signature (or the unsigned marker).
func linkHash(canonicalPayload []byte, signature string) string {
	if signature == "" {
		signature = unsignedMarker
	}
	return canonicalize.HashBytes(append(append([]byte{}, canonicalPayload...), []byte(signature)...))
}

// CreateRecord runs the full creation pipeline: hash the artifact, obtain a
// timestamp, sign the canonical payload, compute the link hash, persist the
// record and its chain link, then advance the cursor.
//
// Signer failure does not block event logging: the record is written
// unsigned with trust=absent. A chain append failure after the event write
// leaves the event orphaned and the cursor untouched (ErrChainAppend).
func (e *Engine) CreateRecord(ctx context.Context, in CreateInput) (*CreateResult, error) {
	ctx, span := e.tracer.Start(ctx, "provenance.CreateRecord",
		trace.WithAttributes(attribute.String("event.type", string(in.EventType))))
	defer span.End()

	// Artifact hashing and the timestamp read do not touch the cursor, so
	// they run before the critical section.
	artifactHash := canonicalize.HashBytes(in.ArtifactBytes)

	reading, err := e.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("provenance: time source failed: %w", err)
	}
	now := time.Now().UTC()

	rec := event.Record{
		EventID:           event.NewID(),
		Timestamp:         now,
		DeviceTimestamp:   reading.Timestamp,
		TimestampSource:   reading.Source,
		EventType:         in.EventType,
		TriggerPayload:    in.TriggerPayload,
		ArtifactReference: in.ArtifactReference,
		ArtifactHash:      artifactHash,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	previousHash := e.cursor
	payload := payloadFromRecord(&rec, previousHash)
	canonical, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("provenance: canonical serialization failed: %w", err)
	}

	res, signErr := e.signer.Sign(ctx, canonical)
	if signErr != nil {
		// Availability over confidentiality: the event is still logged,
		// visibly unsigned.
		e.logger.Error("signing failed entirely, recording unsigned event",
			"event_id", rec.EventID, "error", signErr)
		rec.SignatureMetadata = event.SignatureMetadata{Trust: event.TrustAbsent}
	} else {
		rec.Signature = res.Signature
		rec.SignatureMetadata = event.SignatureMetadata{
			Algorithm: res.Algorithm,
			KeyID:     res.KeyID,
			Trust:     res.Trust,
		}
		rec.Verified = true
	}

	currentHash := linkHash(canonical, rec.Signature)

	putCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	err = e.events.Put(putCtx, &rec)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("provenance: event write failed: %w", err)
	}

	appendCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	position, err := e.chain.Append(appendCtx, rec.EventID, previousHash, currentHash)
	cancel()
	if err != nil {
		// The event record is durable but unlinked. Advancing the cursor
		// here would corrupt linkage for every subsequent event.
		e.appendFailures.Add(ctx, 1)
		e.logger.Error("chain append failed, event is orphaned",
			"event_id", rec.EventID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrChainAppend, err)
	}

	e.cursor = currentHash
	e.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trust", string(rec.SignatureMetadata.Trust))))
	e.logger.Info("provenance record created",
		"event_id", rec.EventID,
		"position", position,
		"trust", rec.SignatureMetadata.Trust)

	return &CreateResult{
		Record:      rec,
		Position:    position,
		CurrentHash: currentHash,
		Signed:      rec.Signed(),
	}, nil
}
