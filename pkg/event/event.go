// Package event defines the durable record shapes for capture provenance:
// the event record bound to an artifact, and the chain link tying each
// record into the append-only hash chain.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type categorizes the external trigger that produced an event.
type Type string

const (
	TypeMotionDetection Type = "motion_detection"
	TypeManualCapture   Type = "manual_capture"
)

// TimestampSource tags where a device timestamp came from.
type TimestampSource string

const (
	// SourceDevice means a dedicated real-time clock produced the timestamp.
	SourceDevice TimestampSource = "device"
	// SourceHost means the host clock was used as a fallback.
	SourceHost TimestampSource = "host"
)

// Trust classifies the signing path that produced a signature.
type Trust string

const (
	TrustHardware Trust = "hardware"
	TrustSoftware Trust = "software"
	// TrustAbsent marks a record that could not be signed at all.
	TrustAbsent Trust = "absent"
)

// SignatureMetadata describes how a record's signature was produced.
type SignatureMetadata struct {
	Algorithm string `json:"algorithm,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Trust     Trust  `json:"trust"`
}

// Record is one provenance event: a trigger bound to an artifact, a
// timestamp, and (when signing succeeded) a signature. Records are
// append-only; no field is ever updated after creation.
type Record struct {
	EventID           string            `json:"event_id"`
	Timestamp         time.Time         `json:"timestamp"`
	DeviceTimestamp   time.Time         `json:"device_timestamp"`
	TimestampSource   TimestampSource   `json:"device_timestamp_source"`
	EventType         Type              `json:"event_type"`
	TriggerPayload    json.RawMessage   `json:"trigger_payload,omitempty"`
	ArtifactReference string            `json:"artifact_reference"`
	ArtifactHash      string            `json:"artifact_hash"`
	Signature         string            `json:"signature,omitempty"`
	SignatureMetadata SignatureMetadata `json:"signature_metadata"`
	Verified          bool              `json:"verified"`
}

// Signed reports whether the record carries a signature.
func (r *Record) Signed() bool {
	return r.Signature != "" && r.SignatureMetadata.Trust != TrustAbsent
}

// NewID returns a globally unique event identifier.
func NewID() string {
	return uuid.New().String()
}

// Link is one chain entry, 1:1 with an event record. Position is 1-based
// and gapless; PreviousHash is empty for the genesis link.
type Link struct {
	EventID      string `json:"event_id"`
	PreviousHash string `json:"previous_hash"`
	CurrentHash  string `json:"current_hash"`
	Position     int64  `json:"position"`
}

// ListedRecord is a record joined with its chain position for display.
// Position is zero for orphaned records that never made it into the chain.
type ListedRecord struct {
	Record
	Position int64 `json:"position,omitempty"`
}

// Stats summarizes store health for chain status reporting.
type Stats struct {
	Total    int64 `json:"total"`
	Signed   int64 `json:"signed"`
	Verified int64 `json:"verified"`
	Chained  int64 `json:"chained"`
	Orphaned int64 `json:"orphaned"`
}
