//go:build property
// +build property

// Property-based tests for link hash determinism. The link hash must be a
// pure function of the signable fields, the previous hash, and the
// signature-or-marker; any nondeterminism here silently breaks chain
// verification for every stored record.
package provenance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/witnesslabs/witness/pkg/canonicalize"
	"github.com/witnesslabs/witness/pkg/event"
)

func TestLinkHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("link hash is deterministic", prop.ForAll(
		func(eventID, artifactHash, prevHash, signature string) bool {
			rec := &event.Record{
				EventID:         eventID,
				Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				DeviceTimestamp: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC),
				TimestampSource: event.SourceHost,
				EventType:       event.TypeManualCapture,
				ArtifactHash:    artifactHash,
				Signature:       signature,
			}

			c1, err1 := canonicalize.JCS(payloadFromRecord(rec, prevHash))
			c2, err2 := canonicalize.JCS(payloadFromRecord(rec, prevHash))
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return linkHash(c1, rec.Signature) == linkHash(c2, rec.Signature)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("distinct previous hashes produce distinct link hashes", prop.ForAll(
		func(prevA, prevB string) bool {
			if prevA == prevB {
				return true
			}
			rec := &event.Record{
				EventID:         "evt-1",
				Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				DeviceTimestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				TimestampSource: event.SourceHost,
				EventType:       event.TypeMotionDetection,
				TriggerPayload:  json.RawMessage(`{"accel_g":2.1}`),
				ArtifactHash:    "abc",
			}
			cA, errA := canonicalize.JCS(payloadFromRecord(rec, prevA))
			cB, errB := canonicalize.JCS(payloadFromRecord(rec, prevB))
			if errA != nil || errB != nil {
				return false
			}
			return linkHash(cA, "") != linkHash(cB, "")
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
