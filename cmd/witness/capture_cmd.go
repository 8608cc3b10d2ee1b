package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/witnesslabs/witness/pkg/artifacts"
	"github.com/witnesslabs/witness/pkg/event"
	"github.com/witnesslabs/witness/pkg/provenance"
	"github.com/witnesslabs/witness/pkg/trigger"
)

// runCaptureCmd implements `witness capture`.
//
// Runs the full creation pipeline for one trigger: validate, debounce, save
// the artifact, create and chain the provenance record, then broadcast it.
//
// Exit codes:
//
//	0 = record created
//	1 = trigger rejected (invalid payload or debounced)
//	2 = runtime error
func runCaptureCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("capture", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventType    string
		payload      string
		artifactPath string
		encoding     string
	)

	cmd.StringVar(&eventType, "type", string(event.TypeManualCapture), "Trigger type (motion_detection|manual_capture)")
	cmd.StringVar(&payload, "payload", "", "Trigger payload as JSON")
	cmd.StringVar(&artifactPath, "artifact", "", "Path to the captured artifact file (REQUIRED)")
	cmd.StringVar(&encoding, "encoding", "jpeg", "Artifact encoding")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if artifactPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --artifact is required")
		return 2
	}

	artifactBytes, err := os.ReadFile(artifactPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: failed to read artifact: %v\n", err)
		return 2
	}

	ctx := context.Background()
	rt, err := setup(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(ctx)

	trig := trigger.Trigger{Type: event.Type(eventType)}
	if payload != "" {
		trig.Payload = json.RawMessage(payload)
	}

	if err := rt.validator.Validate(trig); err != nil {
		_, _ = fmt.Fprintf(stderr, "Rejected: %v\n", err)
		return 1
	}
	if err := rt.debouncer.Allow(trig); err != nil {
		_, _ = fmt.Fprintf(stderr, "Rejected: %v\n", err)
		return 1
	}

	ref, err := rt.artifacts.Save(ctx, artifacts.Artifact{Bytes: artifactBytes, Encoding: encoding})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	res, err := rt.engine.CreateRecord(ctx, provenance.CreateInput{
		EventType:         trig.Type,
		TriggerPayload:    trig.Payload,
		ArtifactBytes:     artifactBytes,
		ArtifactReference: ref,
	})
	if err != nil {
		// The event record survives an append failure; surface the orphan
		// instead of pretending nothing was written.
		if errors.Is(err, provenance.ErrChainAppend) {
			_, _ = fmt.Fprintf(stderr, "Error: record stored but not chained: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if err := rt.publisher.Publish(ctx, res); err != nil {
		// Broadcast is best-effort; the record is already durable.
		rt.logger.Warn("broadcast failed", "event_id", res.Record.EventID, "error", err)
	}

	return printJSON(stdout, stderr, res)
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}
