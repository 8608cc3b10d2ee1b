// Package artifacts persists captured artifact bytes (camera frames) and
// hands back opaque references. Stores never hash: the provenance engine
// hashes the exact bytes it was given, and hash and artifact must match
// byte-for-byte at verification time.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound indicates no artifact exists at the given reference.
var ErrNotFound = errors.New("artifacts: not found")

// Artifact is one captured payload plus its capture metadata.
type Artifact struct {
	Bytes    []byte
	Encoding string // e.g. "jpeg", "png"
}

// Store persists artifacts and resolves references back to bytes.
type Store interface {
	// Save writes the artifact and returns an opaque reference (path or
	// URI) for the event record.
	Save(ctx context.Context, art Artifact) (string, error)

	// Load retrieves the exact bytes previously saved at reference.
	Load(ctx context.Context, reference string) ([]byte, error)
}

// FileStore keeps artifacts on the local filesystem, named by capture time.
type FileStore struct {
	baseDir string
	now     func() time.Time
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("artifacts: failed to ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir, now: time.Now}, nil
}

func (s *FileStore) Save(ctx context.Context, art Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := art.Encoding
	if ext == "" {
		ext = "bin"
	}
	name := fmt.Sprintf("capture_%s.%s", s.now().UTC().Format("20060102T150405.000000000Z"), ext)
	path := filepath.Join(s.baseDir, name)
	if err := os.WriteFile(path, art.Bytes, 0640); err != nil {
		return "", fmt.Errorf("artifacts: write failed: %w", err)
	}
	return path, nil
}

func (s *FileStore) Load(ctx context.Context, reference string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(reference)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifacts: read failed: %w", err)
	}
	return data, nil
}
