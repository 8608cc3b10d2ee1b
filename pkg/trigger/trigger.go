// Package trigger models the external events that start record creation and
// guards the engine against malformed or flapping sources. Sensing itself
// (interrupt lines, accelerometer sampling) happens outside this process;
// only the trigger shape crosses the boundary.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"github.com/witnesslabs/witness/pkg/event"
)

var (
	// ErrInvalidPayload indicates a trigger payload that fails schema
	// validation. Nothing is written for rejected triggers.
	ErrInvalidPayload = errors.New("trigger: invalid payload")

	// ErrDebounced indicates a trigger dropped by the rate guard.
	ErrDebounced = errors.New("trigger: debounced")
)

// Trigger is one "something happened" signal from a collaborator.
type Trigger struct {
	Type    event.Type      `json:"event_type"`
	Payload json.RawMessage `json:"trigger_payload,omitempty"`
}

// Motion payloads carry the raw measurement that tripped the sensor.
const motionSchema = `{
	"type": "object",
	"properties": {
		"accel_g": {"type": "number", "minimum": 0},
		"axes": {
			"type": "object",
			"properties": {
				"x": {"type": "number"},
				"y": {"type": "number"},
				"z": {"type": "number"}
			},
			"additionalProperties": false
		},
		"threshold_g": {"type": "number", "minimum": 0}
	},
	"required": ["accel_g"],
	"additionalProperties": true
}`

// Validator checks trigger payloads against per-type schemas.
type Validator struct {
	motion *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schema, err := jsonschema.CompileString("motion.json", motionSchema)
	if err != nil {
		return nil, fmt.Errorf("trigger: schema compile failed: %w", err)
	}
	return &Validator{motion: schema}, nil
}

// Validate rejects malformed payloads before anything is persisted.
// Manual captures carry no required payload.
func (v *Validator) Validate(t Trigger) error {
	switch t.Type {
	case event.TypeMotionDetection:
		if len(t.Payload) == 0 {
			return fmt.Errorf("%w: motion trigger requires a payload", ErrInvalidPayload)
		}
		var decoded interface{}
		if err := json.Unmarshal(t.Payload, &decoded); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := v.motion.Validate(decoded); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return nil
	case event.TypeManualCapture:
		return nil
	default:
		// Open enum: unknown types pass through so new trigger sources
		// do not require a deploy here.
		return nil
	}
}

// Gate admits or drops triggers before anything is persisted.
type Gate interface {
	Allow(t Trigger) error
}

// Gates composes gates; the first rejection wins.
func Gates(gates ...Gate) Gate {
	return gateChain(gates)
}

type gateChain []Gate

func (g gateChain) Allow(t Trigger) error {
	for _, gate := range g {
		if err := gate.Allow(t); err != nil {
			return err
		}
	}
	return nil
}

// Debouncer drops triggers arriving faster than the configured rate. A
// vibrating mount can fire the motion interrupt dozens of times a second;
// each capture is expensive and each record permanent. Its limiter state
// lives in process memory; one-shot invocations need FileDebouncer instead.
type Debouncer struct {
	limiter *rate.Limiter
}

// NewDebouncer allows up to burst triggers, refilling at perSecond.
func NewDebouncer(perSecond float64, burst int) *Debouncer {
	return &Debouncer{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether the trigger may proceed. Manual captures are never
// debounced; an operator pressing the button wins.
func (d *Debouncer) Allow(t Trigger) error {
	if t.Type == event.TypeManualCapture {
		return nil
	}
	if !d.limiter.Allow() {
		return ErrDebounced
	}
	return nil
}
