package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/witnesslabs/witness/pkg/event"
)

// Ed25519Signer is the software signing path. The key pair lives in process
// memory; use LoadOrGenerateEd25519 to persist the seed so verification
// stays meaningful across restarts.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh ephemeral key pair. Signatures from an
// ephemeral signer cannot be verified by a later process; callers that need
// durable verification must use LoadOrGenerateEd25519 instead.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
	}
}

// LoadOrGenerateEd25519 loads the signing seed from keyPath, generating and
// persisting a new one (0600) when the file does not exist.
func LoadOrGenerateEd25519(keyPath string) (*Ed25519Signer, error) {
	if raw, err := os.ReadFile(keyPath); err == nil {
		seed, err := hex.DecodeString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid key file %s: %w", keyPath, err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("crypto: invalid seed size in %s", keyPath)
		}
		return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed)), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("crypto: failed to read %s: %w", keyPath, err)
	}

	s, err := NewEd25519Signer()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("crypto: failed to create key dir: %w", err)
	}
	seedHex := hex.EncodeToString(s.privKey.Seed())
	if err := os.WriteFile(keyPath, []byte(seedHex), 0600); err != nil {
		return nil, fmt.Errorf("crypto: failed to persist seed: %w", err)
	}
	return s, nil
}

// PublicKey returns the hex-encoded public key, which doubles as the KeyID
// stamped into signature metadata.
func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) Sign(ctx context.Context, data []byte) (SignResult, error) {
	if err := ctx.Err(); err != nil {
		return SignResult{}, err
	}
	sig := ed25519.Sign(s.privKey, data)
	return SignResult{
		Signature: hex.EncodeToString(sig),
		Algorithm: AlgorithmEd25519,
		KeyID:     s.PublicKey(),
		Trust:     event.TrustSoftware,
	}, nil
}

// Verify checks a software-trust signature. The public key comes from the
// result's KeyID, so verification works even when this process holds a
// different key pair than the one that signed.
func (s *Ed25519Signer) Verify(ctx context.Context, data []byte, res SignResult) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if res.Trust != event.TrustSoftware {
		return false, ErrTrustMismatch
	}
	return verifyEd25519(res.KeyID, res.Signature, data)
}

func verifyEd25519(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: invalid public key size %d", len(pubKey))
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
