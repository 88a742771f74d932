package keyring

import (
	"encoding/hex"
	"sync"

	"github.com/cardkit/nfc-agent/internal/apdu"
	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/cardio"
)

// pendingLoad is a shared handle for an in-flight LoadAuthenticationKey
// call. Awaiters receive the same (slot, err) the initiator observed.
type pendingLoad struct {
	done chan struct{}
	slot int
	err  error
}

// Authenticator combines a Cache with an APDU transmitter to issue MIFARE
// authenticate commands, coalescing concurrent loads of the same key.
type Authenticator struct {
	cache *Cache
	t     cardio.Transmitter

	mu      sync.Mutex
	pending map[string]*pendingLoad
}

// NewAuthenticator constructs an Authenticator over cache, issuing
// Authenticate APDUs through t.
func NewAuthenticator(cache *Cache, t cardio.Transmitter) *Authenticator {
	return &Authenticator{cache: cache, t: t, pending: make(map[string]*pendingLoad)}
}

// Authenticate issues a MIFARE authenticate command for block/keyType
// using keyHex, loading the key into a slot first if it is not already
// resident, per spec §4.4.
func (a *Authenticator) Authenticate(block byte, keyType byte, keyHex string, obsolete bool) (bool, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 6 {
		return false, cardcore.NewAuthenticationError(cardcore.CodeInvalidKey, "key must be 12 hex characters", err)
	}

	slot, err := a.resolveSlot(key)
	if err != nil {
		return false, err
	}

	var cmd []byte
	if obsolete {
		cmd = apdu.AuthenticateV201(block, keyType, byte(slot))
	} else {
		cmd = apdu.AuthenticateV207(block, keyType, byte(slot))
	}

	raw, err := a.t.Transmit(cmd)
	if err != nil {
		return false, cardcore.NewAuthenticationError(cardcore.CodeFailure, "transmit failed", err)
	}
	resp, err := apdu.Parse(raw)
	if err != nil {
		return false, err
	}
	if !resp.Success() {
		return false, cardcore.NewAuthenticationError(cardcore.CodeOperationFailed, cardcore.StatusWordMessage(resp.Status), nil)
	}
	return true, nil
}

// resolveSlot returns the slot holding key, loading it first (with
// coalesced concurrent loads for the same key) if necessary.
func (a *Authenticator) resolveSlot(key []byte) (int, error) {
	if slot, ok := a.cache.FindKeyNumber(key); ok {
		return slot, nil
	}

	canon := canonicalHex(key)

	a.mu.Lock()
	if p, ok := a.pending[canon]; ok {
		a.mu.Unlock()
		<-p.done
		return p.slot, p.err
	}
	// A load of this key may have settled between the lookup above and
	// taking a.mu; its pending entry is gone, but the key is now cached.
	if slot, ok := a.cache.FindKeyNumber(key); ok {
		a.mu.Unlock()
		return slot, nil
	}

	p := &pendingLoad{done: make(chan struct{})}
	a.pending[canon] = p
	a.mu.Unlock()

	slot, loadErr := a.loadInto(key)
	if loadErr != nil {
		loadErr = cardcore.NewAuthenticationError(cardcore.CodeUnableToLoadKey, "failed to load authentication key", loadErr)
	}
	p.slot, p.err = slot, loadErr
	close(p.done)

	a.mu.Lock()
	delete(a.pending, canon)
	a.mu.Unlock()

	return p.slot, p.err
}

// loadInto picks a target slot (preferring an empty one, overwriting slot
// 0 if both are occupied by other keys — see SPEC_FULL.md §9 on the
// undecided eviction policy) and loads key into it.
func (a *Authenticator) loadInto(key []byte) (int, error) {
	slot := 0
	if empty, ok := a.cache.FindKeyNumber(nil); ok {
		slot = empty
	}
	return a.cache.LoadAuthenticationKey(slot, key)
}
