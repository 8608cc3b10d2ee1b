package trigger

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/witnesslabs/witness/pkg/event"
)

// FileDebouncer enforces a minimum spacing between motion triggers across
// process restarts by persisting the last accepted trigger time. The
// in-memory Debouncer resets with every process, which makes it useless for
// a one-shot CLI where each capture is a fresh invocation.
type FileDebouncer struct {
	path    string
	spacing time.Duration
	now     func() time.Time
}

// NewFileDebouncer persists last-accept state at path. perSecond is the
// sustained motion trigger rate, expressed as minimum spacing between
// accepted triggers; zero or negative disables the guard.
func NewFileDebouncer(path string, perSecond float64) *FileDebouncer {
	var spacing time.Duration
	if perSecond > 0 {
		spacing = time.Duration(float64(time.Second) / perSecond)
	}
	return &FileDebouncer{path: path, spacing: spacing, now: time.Now}
}

// Allow reports whether the trigger may proceed, recording the accept time.
// Manual captures are never debounced. Unparseable state is treated as
// absent rather than blocking captures forever.
func (d *FileDebouncer) Allow(t Trigger) error {
	if t.Type == event.TypeManualCapture {
		return nil
	}

	now := d.now()
	raw, err := os.ReadFile(d.path)
	if err == nil {
		if last, parseErr := time.Parse(time.RFC3339Nano, string(raw)); parseErr == nil {
			if now.Sub(last) < d.spacing {
				return ErrDebounced
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("trigger: debounce state read failed: %w", err)
	}

	if err := os.WriteFile(d.path, []byte(now.UTC().Format(time.RFC3339Nano)), 0600); err != nil {
		return fmt.Errorf("trigger: debounce state write failed: %w", err)
	}
	return nil
}
