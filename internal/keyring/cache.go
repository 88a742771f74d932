// Package keyring implements the Key Slot Cache and Authenticator: a
// fixed two-slot table of loaded MIFARE keys, with deduplicated
// concurrent loads of the same key.
package keyring

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cardkit/nfc-agent/internal/apdu"
	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/cardio"
)

// SlotCount is the fixed number of key slots a reader holds in volatile
// memory, per spec §3's KeyStorage invariant.
const SlotCount = 2

// Cache is the Key Slot Cache: KeyStorage plus the load operation that
// mutates it.
type Cache struct {
	t cardio.Transmitter

	mu   sync.Mutex
	keys [SlotCount][]byte // nil when a slot is empty
}

// NewCache constructs a Cache that loads keys through t.
func NewCache(t cardio.Transmitter) *Cache {
	return &Cache{t: t}
}

func normalizeKey(key any) ([]byte, error) {
	switch k := key.(type) {
	case []byte:
		if len(k) != 6 {
			return nil, cardcore.NewLoadAuthenticationKeyError(cardcore.CodeInvalidKey, "key must be 6 bytes", nil)
		}
		return append([]byte(nil), k...), nil
	case string:
		b, err := hex.DecodeString(k)
		if err != nil || len(b) != 6 {
			return nil, cardcore.NewLoadAuthenticationKeyError(cardcore.CodeInvalidKey, "key must be 12 hex characters", err)
		}
		return b, nil
	default:
		return nil, cardcore.NewLoadAuthenticationKeyError(cardcore.CodeInvalidKey, "key must be a byte slice or hex string", nil)
	}
}

func canonicalHex(key []byte) string {
	return hex.EncodeToString(key)
}

// FindKeyNumber returns the slot holding key (by lowercase-hex equality),
// or, if key is nil, the first empty slot. ok is false if no match.
func (c *Cache) FindKeyNumber(key []byte) (slot int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == nil {
		for i, k := range c.keys {
			if k == nil {
				return i, true
			}
		}
		return 0, false
	}

	want := canonicalHex(key)
	for i, k := range c.keys {
		if k != nil && canonicalHex(k) == want {
			return i, true
		}
	}
	return 0, false
}

// LoadAuthenticationKey loads key into slot via the Load Auth Key APDU and
// records it in KeyStorage on success.
func (c *Cache) LoadAuthenticationKey(slot int, key any) (int, error) {
	if slot != 0 && slot != 1 {
		return 0, cardcore.NewLoadAuthenticationKeyError(cardcore.CodeInvalidKeyNumber, fmt.Sprintf("slot must be 0 or 1, got %d", slot), nil)
	}
	normalized, err := normalizeKey(key)
	if err != nil {
		return 0, err
	}

	cmd := apdu.LoadAuthKey(byte(slot), normalized)
	raw, err := c.t.Transmit(cmd)
	if err != nil {
		return 0, cardcore.NewLoadAuthenticationKeyError(cardcore.CodeFailure, "transmit failed", err)
	}
	resp, err := apdu.Parse(raw)
	if err != nil {
		return 0, err
	}
	if !resp.Success() {
		return 0, cardcore.NewLoadAuthenticationKeyError(cardcore.CodeOperationFailed, cardcore.StatusWordMessage(resp.Status), nil)
	}

	c.mu.Lock()
	c.keys[slot] = normalized
	c.mu.Unlock()
	return slot, nil
}
