// Package crypto abstracts record signing behind one contract with two
// implementations: a secure-element backed signer and a software fallback.
// Every result carries a trust tag so verification can dispatch on the
// routine that actually produced the signature.
package crypto

import (
	"context"
	"errors"

	"github.com/witnesslabs/witness/pkg/event"
)

// Signature algorithms.
const (
	AlgorithmEd25519   = "ed25519"
	AlgorithmECDSAP256 = "ecdsa-p256-sha256"
)

var (
	// ErrSignerUnavailable indicates total signing failure: neither the
	// hardware nor the software path could produce a signature.
	ErrSignerUnavailable = errors.New("crypto: signer unavailable")

	// ErrTrustMismatch indicates a signature was handed to a verification
	// routine that does not match its trust tag. Accepting such a pair
	// silently would defeat the point of the tag, so it is rejected.
	ErrTrustMismatch = errors.New("crypto: signature trust does not match verifier")
)

// SignResult is the outcome of a successful signing operation.
type SignResult struct {
	// Signature is the hex-encoded signature bytes.
	Signature string
	// Algorithm identifies the signature scheme.
	Algorithm string
	// KeyID identifies the key, encoded so verification needs no access to
	// the signing device (hex public key material).
	KeyID string
	// Trust records which signing path produced the signature.
	Trust event.Trust
}

// Signer signs and verifies record payloads.
type Signer interface {
	// Sign produces a signature over data. Implementations that wrap a
	// hardware device fall back to software rather than failing; only
	// total failure returns an error.
	Sign(ctx context.Context, data []byte) (SignResult, error)

	// Verify checks a signature against data using the routine matching
	// the result's trust tag. A trust tag this signer cannot handle is an
	// ErrTrustMismatch, never a silent pass.
	Verify(ctx context.Context, data []byte, res SignResult) (bool, error)
}
