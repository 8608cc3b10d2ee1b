package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/witnesslabs/witness/pkg/event"
)

// SecureElement is the narrow interface to a hardware signing device.
// The wire protocol to a physical element (I2C, vendor SDK) lives behind an
// implementation of this interface and is out of scope here.
type SecureElement interface {
	// SignDigest signs a 32-byte SHA-256 digest on-device.
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)

	// PublicKeyDER returns the device public key as SubjectPublicKeyInfo DER.
	PublicKeyDER() []byte

	// Ping checks the device is reachable.
	Ping(ctx context.Context) error
}

// ElementSigner is the hardware signing path: ECDSA P-256 over SHA-256,
// matching common secure elements.
type ElementSigner struct {
	element SecureElement
}

// NewElementSigner wraps a secure element.
func NewElementSigner(el SecureElement) *ElementSigner {
	return &ElementSigner{element: el}
}

func (s *ElementSigner) Sign(ctx context.Context, data []byte) (SignResult, error) {
	digest := sha256.Sum256(data)
	sig, err := s.element.SignDigest(ctx, digest[:])
	if err != nil {
		return SignResult{}, fmt.Errorf("crypto: element sign failed: %w", err)
	}
	return SignResult{
		Signature: hex.EncodeToString(sig),
		Algorithm: AlgorithmECDSAP256,
		KeyID:     hex.EncodeToString(s.element.PublicKeyDER()),
		Trust:     event.TrustHardware,
	}, nil
}

// Verify checks a hardware-trust signature against the public key embedded
// in the result's KeyID. The element itself is not consulted, so stored
// records verify even when the device is offline.
func (s *ElementSigner) Verify(ctx context.Context, data []byte, res SignResult) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if res.Trust != event.TrustHardware {
		return false, ErrTrustMismatch
	}
	return verifyECDSA(res.KeyID, res.Signature, data)
}

func verifyECDSA(keyIDHex, sigHex string, data []byte) (bool, error) {
	der, err := hex.DecodeString(keyIDHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid key id hex: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid public key DER: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("crypto: key id is not an ECDSA key")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(ecPub, digest[:], sig), nil
}

// SimulatedElement is an in-process secure element for development and
// tests. Keys are ephemeral per instance.
type SimulatedElement struct {
	priv   *ecdsa.PrivateKey
	pubDER []byte
	// Fail forces SignDigest and Ping to error, for fallback testing.
	Fail bool
}

// NewSimulatedElement generates a fresh simulated device.
func NewSimulatedElement() (*SimulatedElement, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: simulated element keygen failed: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: public key marshal failed: %w", err)
	}
	return &SimulatedElement{priv: priv, pubDER: der}, nil
}

func (e *SimulatedElement) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if e.Fail {
		return nil, fmt.Errorf("crypto: simulated element offline")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ecdsa.SignASN1(rand.Reader, e.priv, digest)
}

func (e *SimulatedElement) PublicKeyDER() []byte {
	return e.pubDER
}

func (e *SimulatedElement) Ping(ctx context.Context) error {
	if e.Fail {
		return fmt.Errorf("crypto: simulated element offline")
	}
	return ctx.Err()
}
