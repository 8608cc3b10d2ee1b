package crypto

import (
	"context"
	"log/slog"
	"time"

	"github.com/witnesslabs/witness/pkg/event"
)

// FallbackSigner tries the hardware path first and degrades to software when
// it errors, downgrading the trust tag accordingly. It never fails
// terminally unless both paths fail.
type FallbackSigner struct {
	hardware *ElementSigner
	software *Ed25519Signer
	timeout  time.Duration
	logger   *slog.Logger
}

// DefaultSignTimeout bounds one hardware signing attempt. A timed-out
// attempt is treated as hardware failure and falls back.
const DefaultSignTimeout = 2 * time.Second

// NewFallbackSigner composes the two signing paths. hardware may be nil when
// no secure element is configured; software is mandatory.
func NewFallbackSigner(hardware *ElementSigner, software *Ed25519Signer, logger *slog.Logger) *FallbackSigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackSigner{
		hardware: hardware,
		software: software,
		timeout:  DefaultSignTimeout,
		logger:   logger,
	}
}

func (s *FallbackSigner) Sign(ctx context.Context, data []byte) (SignResult, error) {
	if s.hardware != nil {
		hwCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.hardware.Sign(hwCtx, data)
		cancel()
		if err == nil {
			return res, nil
		}
		s.logger.Warn("hardware signing failed, falling back to software", "error", err)
	}

	if s.software == nil {
		return SignResult{}, ErrSignerUnavailable
	}
	res, err := s.software.Sign(ctx, data)
	if err != nil {
		return SignResult{}, ErrSignerUnavailable
	}
	return res, nil
}

// Verify dispatches on the stored trust tag. A tag with no matching
// configured routine is a mismatch, not a pass.
func (s *FallbackSigner) Verify(ctx context.Context, data []byte, res SignResult) (bool, error) {
	switch res.Trust {
	case event.TrustHardware:
		if s.hardware == nil {
			// Hardware-trust records remain verifiable without the device:
			// the key material travels in the result itself.
			return verifyECDSA(res.KeyID, res.Signature, data)
		}
		return s.hardware.Verify(ctx, data, res)
	case event.TrustSoftware:
		if s.software == nil {
			return verifyEd25519(res.KeyID, res.Signature, data)
		}
		return s.software.Verify(ctx, data, res)
	default:
		return false, ErrTrustMismatch
	}
}
