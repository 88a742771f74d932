// Package cardcore holds the data types shared across the reader pipeline:
// the Card snapshot, the tag-standard enum, and the dynamic AID configuration.
package cardcore

import (
	"encoding/hex"

	"github.com/cardkit/nfc-agent/internal/tagpayload"
)

// Standard identifies which ISO/IEC 14443 layer a card was processed under.
type Standard string

const (
	StandardUnknown    Standard = ""
	StandardISO14443_3 Standard = "ISO_14443_3"
	StandardISO14443_4 Standard = "ISO_14443_4"
)

// Card is a transient, by-value snapshot of a card's observed state.
// It is created on insertion and discarded on removal; a snapshot never
// shares its backing byte slices with the Reader's live state.
type Card struct {
	ATR      []byte
	Standard Standard
	Type     string
	UID      string
	Data     []byte

	// Payload is populated opportunistically when a 14443-4 SELECT succeeds
	// against the configured payload AID and its response decodes as CBOR.
	Payload *tagpayload.Payload
}

// Clone returns a deep copy of the card suitable for handing to a consumer:
// every byte slice is copied so the consumer cannot observe or corrupt the
// Reader's live buffers.
func (c Card) Clone() Card {
	clone := c
	if c.ATR != nil {
		clone.ATR = append([]byte(nil), c.ATR...)
	}
	if c.Data != nil {
		clone.Data = append([]byte(nil), c.Data...)
	}
	if c.Payload != nil {
		p := *c.Payload
		if c.Payload.Fields != nil {
			p.Fields = make(map[string]string, len(c.Payload.Fields))
			for k, v := range c.Payload.Fields {
				p.Fields[k] = v
			}
		}
		clone.Payload = &p
	}
	return clone
}

// StandardFromATR applies the loose ATR-byte-5 heuristic: byte index 5
// equal to 0x4F selects ISO_14443_3, anything else (including a short ATR)
// selects ISO_14443_4. This mirrors an upstream TODO rather than a
// considered protocol decision; callers that need a more precise answer
// must supply their own predicate.
func StandardFromATR(atr []byte) Standard {
	if len(atr) > 5 && atr[5] == 0x4F {
		return StandardISO14443_3
	}
	return StandardISO14443_4
}

// UIDHex renders a UID byte slice as lowercase hex, matching the codec's
// canonical key/UID formatting.
func UIDHex(uid []byte) string {
	return hex.EncodeToString(uid)
}
