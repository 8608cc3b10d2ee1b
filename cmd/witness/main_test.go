package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"witness", "help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("help exited %d", code)
	}
	if !strings.Contains(stdout.String(), "capture") {
		t.Error("usage should list the capture command")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"witness", "bogus"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("unknown command exited %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command") {
		t.Error("expected unknown command message on stderr")
	}
}

func TestRun_NoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"witness"}, &stdout, &stderr); code != 2 {
		t.Fatalf("bare invocation exited %d, want 2", code)
	}
}

func TestRunVerifyCmd_RequiresEvent(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runVerifyCmd(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("verify without --event exited %d, want 2", code)
	}
}

func TestSigningKeyPath(t *testing.T) {
	want := filepath.Join("/var/lib/witness", "signing.key")
	if got := signingKeyPath("/var/lib/witness"); got != want {
		t.Errorf("signingKeyPath = %q, want %q", got, want)
	}
	// A trailing separator in the configured data dir must not leak into
	// the key path.
	if got := signingKeyPath("/var/lib/witness/"); got != want {
		t.Errorf("signingKeyPath with trailing slash = %q, want %q", got, want)
	}
}
