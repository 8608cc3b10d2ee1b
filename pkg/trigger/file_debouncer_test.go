package trigger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witnesslabs/witness/pkg/event"
)

func newTestFileDebouncer(t *testing.T, perSecond float64, start time.Time) (*FileDebouncer, *time.Time) {
	t.Helper()
	d := NewFileDebouncer(filepath.Join(t.TempDir(), "debounce"), perSecond)
	now := start
	d.now = func() time.Time { return now }
	return d, &now
}

func TestFileDebouncer_SpacingSurvivesRestart(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, now := newTestFileDebouncer(t, 1, start)
	motion := Trigger{Type: event.TypeMotionDetection, Payload: json.RawMessage(`{"accel_g":1.8}`)}

	require.NoError(t, d.Allow(motion))

	// A second process reading the same state file must still see the
	// first accept; this is what the in-memory limiter cannot do.
	restarted := NewFileDebouncer(d.path, 1)
	restarted.now = func() time.Time { return now.Add(200 * time.Millisecond) }
	assert.ErrorIs(t, restarted.Allow(motion), ErrDebounced)

	restarted.now = func() time.Time { return now.Add(1100 * time.Millisecond) }
	assert.NoError(t, restarted.Allow(motion))
}

func TestFileDebouncer_ManualCaptureNeverDebounced(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, _ := newTestFileDebouncer(t, 1, start)
	manual := Trigger{Type: event.TypeManualCapture}

	for i := 0; i < 3; i++ {
		assert.NoError(t, d.Allow(manual))
	}
}

func TestFileDebouncer_CorruptStateDoesNotBlock(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, _ := newTestFileDebouncer(t, 1, start)
	motion := Trigger{Type: event.TypeMotionDetection, Payload: json.RawMessage(`{"accel_g":1.8}`)}

	require.NoError(t, os.WriteFile(d.path, []byte("not-a-timestamp"), 0600))
	assert.NoError(t, d.Allow(motion))
}

func TestGates_FirstRejectionWins(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fd, _ := newTestFileDebouncer(t, 1, start)
	gate := Gates(NewDebouncer(100, 100), fd)
	motion := Trigger{Type: event.TypeMotionDetection, Payload: json.RawMessage(`{"accel_g":1.8}`)}

	assert.NoError(t, gate.Allow(motion))
	// The in-memory limiter has plenty of burst left; the persistent
	// spacing guard is the one that rejects.
	assert.ErrorIs(t, gate.Allow(motion), ErrDebounced)
}
