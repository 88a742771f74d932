// Package tagpayload defines the structured payload written to and read
// from a selected ISO/IEC 14443-4 application's data area, encoded as CBOR.
package tagpayload

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Payload is a small structured record attached to a card when the
// configured application AID is selected.
type Payload struct {
	ID        uuid.UUID         `cbor:"1,keyasint"`
	Label     string            `cbor:"2,keyasint"`
	Fields    map[string]string `cbor:"3,keyasint"`
	WrittenAt time.Time         `cbor:"4,keyasint"`
}

// New stamps a fresh correlation id and capture time onto a payload.
func New(label string, fields map[string]string) Payload {
	return Payload{
		ID:        uuid.New(),
		Label:     label,
		Fields:    fields,
		WrittenAt: time.Now(),
	}
}

// Encode renders the payload as CBOR bytes.
func Encode(p Payload) ([]byte, error) {
	b, err := cbor.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("tagpayload: encode: %w", err)
	}
	return b, nil
}

// Decode parses CBOR bytes into a payload. Callers should treat a decode
// failure as "no payload present" rather than a fatal error: not every
// application selected via AID carries one.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("tagpayload: decode: %w", err)
	}
	return p, nil
}
