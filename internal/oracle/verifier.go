package oracle

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// Verifier authenticates a price update before it is stored.
type Verifier interface {
	Verify(u PriceUpdate) error
}

// AllowAll accepts every update. Used in tests and single-operator setups.
type AllowAll struct{}

func (AllowAll) Verify(PriceUpdate) error { return nil }

// Ed25519Verifier accepts updates signed by any of its keys.
type Ed25519Verifier struct {
	keys []ed25519.PublicKey
}

// NewEd25519Verifier builds a verifier from hex-encoded public keys.
func NewEd25519Verifier(hexKeys []string) (*Ed25519Verifier, error) {
	v := &Ed25519Verifier{}
	for _, hk := range hexKeys {
		hk = strings.TrimSpace(hk)
		if hk == "" {
			continue
		}
		raw, err := hex.DecodeString(hk)
		if err != nil {
			return nil, fmt.Errorf("decode signer key: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("signer key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
		}
		v.keys = append(v.keys, ed25519.PublicKey(raw))
	}
	return v, nil
}

// Verify checks the signature over SigningPayload(u).
func (v *Ed25519Verifier) Verify(u PriceUpdate) error {
	msg := SigningPayload(u)
	for _, k := range v.keys {
		if ed25519.Verify(k, msg, u.Signature) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidSignature, u.Asset)
}

// SigningPayload is the canonical byte form a signer signs:
// "{asset}|{price}|{unix nanos}".
func SigningPayload(u PriceUpdate) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", u.Asset, u.Price.String(), u.Timestamp.UnixNano()))
}
