package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/witnesslabs/witness/pkg/crypto"
)

// runStatusCmd implements `witness status`: chain tip, counts, orphans.
func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := setup(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(ctx)

	status, err := rt.engine.Status(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return printJSON(stdout, stderr, status)
}

// runListCmd implements `witness list`: recent records newest-first.
func runListCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		limit  int
		offset int
	)
	cmd.IntVar(&limit, "limit", 20, "Maximum records to return")
	cmd.IntVar(&offset, "offset", 0, "Records to skip")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := setup(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(ctx)

	records, err := rt.engine.List(ctx, limit, offset)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return printJSON(stdout, stderr, records)
}

// runKeysCmd implements `witness keys`: show the active signing material so
// an operator can pin the expected public key out of band.
func runKeysCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keys", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := setup(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(ctx)

	type keyInfo struct {
		Mode      string `json:"mode"`
		PublicKey string `json:"public_key,omitempty"`
	}
	info := keyInfo{Mode: rt.cfg.SignerMode}

	// Software key material is always loadable; hardware keys only exist
	// inside the element and surface per-record via key_id.
	if rt.cfg.SignerMode != "hardware" {
		if signer, err := crypto.LoadOrGenerateEd25519(signingKeyPath(rt.cfg.DataDir)); err == nil {
			info.PublicKey = signer.PublicKey()
		}
	}

	return printJSON(stdout, stderr, info)
}
