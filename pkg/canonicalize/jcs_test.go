package canonicalize

import (
	"testing"
)

func TestJCS_Sorting(t *testing.T) {
	// Map with unsorted keys
	input := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	// Standard encoding/json escapes <, > and &. RFC 8785 forbids that.
	input := map[string]string{
		"html": "<script>alert('xss')</script> &",
	}

	expected := `{"html":"<script>alert('xss')</script> &"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_StructTags(t *testing.T) {
	type record struct {
		EventID      string `json:"event_id"`
		ArtifactHash string `json:"artifact_hash"`
		Position     int    `json:"position"`
	}

	b, err := JCS(record{EventID: "evt-1", ArtifactHash: "abc", Position: 2})
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	expected := `{"artifact_hash":"abc","event_id":"evt-1","position":2}`
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestCanonicalHash_Stability(t *testing.T) {
	// Semantically identical inputs constructed differently must hash the same.
	v1 := map[string]interface{}{"a": 1, "b": 2}

	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	v2 := S{A: 1, B: 2}

	h1, err := CanonicalHash(v1)
	if err != nil {
		t.Fatalf("CanonicalHash(v1) failed: %v", err)
	}
	h2, err := CanonicalHash(v2)
	if err != nil {
		t.Fatalf("CanonicalHash(v2) failed: %v", err)
	}

	if h1 != h2 {
		t.Errorf("hashes diverge: %s vs %s", h1, h2)
	}
}

func TestHashBytes_KnownVector(t *testing.T) {
	// SHA-256 of empty input
	got := HashBytes(nil)
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Errorf("HashBytes(nil) = %s, want %s", got, want)
	}
}
