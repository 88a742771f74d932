package cardcore

import (
	"encoding/hex"
	"fmt"
)

// AIDResolver produces the bytes of an Application Identifier to SELECT,
// given the card snapshot observed so far. It lets a Reader choose an AID
// dynamically (e.g. based on the ATR). It is called only on the 14443-4
// path, so the snapshot it sees carries no UID.
type AIDResolver func(Card) ([]byte, error)

// AIDConfig is the tagged-union "absent | literal bytes | callable" field
// described for the Reader's AID setting. The zero value is absent.
type AIDConfig struct {
	bytes    []byte
	resolver AIDResolver
	set      bool
}

// NewAIDFromHex decodes a hex string into a literal AID configuration.
func NewAIDFromHex(hexStr string) (AIDConfig, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return AIDConfig{}, fmt.Errorf("cardcore: invalid AID hex %q: %w", hexStr, err)
	}
	return NewAIDFromBytes(b), nil
}

// NewAIDFromBytes wraps a literal AID byte string.
func NewAIDFromBytes(b []byte) AIDConfig {
	return AIDConfig{bytes: append([]byte(nil), b...), set: true}
}

// NewAIDFromResolver wraps a callable that derives the AID from the card
// snapshot at dispatch time.
func NewAIDFromResolver(r AIDResolver) AIDConfig {
	return AIDConfig{resolver: r, set: true}
}

// IsSet reports whether an AID has been configured at all.
func (a AIDConfig) IsSet() bool {
	return a.set
}

// Resolve returns the AID bytes to SELECT for the given card snapshot.
// A resolver's return value must be non-empty; a nil/empty result from a
// resolver surfaces as an error rather than silently selecting nothing.
func (a AIDConfig) Resolve(card Card) ([]byte, error) {
	if !a.set {
		return nil, fmt.Errorf("cardcore: no AID configured")
	}
	if a.resolver != nil {
		b, err := a.resolver(card)
		if err != nil {
			return nil, fmt.Errorf("cardcore: AID resolver failed: %w", err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("cardcore: AID resolver returned no bytes")
		}
		return b, nil
	}
	return a.bytes, nil
}
