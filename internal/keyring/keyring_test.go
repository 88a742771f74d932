package keyring

import (
	"encoding/hex"
	"sync"
	"testing"
)

type fakeTransmitter struct {
	mu        sync.Mutex
	sent      [][]byte
	loadCount int
}

func (f *fakeTransmitter) Transmit(cmd []byte) ([]byte, error) {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), cmd...))
	if len(cmd) >= 2 && cmd[0] == 0xFF && cmd[1] == 0x82 {
		f.loadCount++
	}
	f.mu.Unlock()
	return []byte{0x90, 0x00}, nil
}

func (f *fakeTransmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestFindKeyNumberEmptySlot(t *testing.T) {
	c := NewCache(&fakeTransmitter{})
	slot, ok := c.FindKeyNumber(nil)
	if !ok || slot != 0 {
		t.Fatalf("FindKeyNumber(nil) = (%d, %v), want (0, true)", slot, ok)
	}
}

func TestLoadAuthenticationKeyThenFind(t *testing.T) {
	ft := &fakeTransmitter{}
	c := NewCache(ft)
	key, _ := hex.DecodeString("FFFFFFFFFFFF")
	slot, err := c.LoadAuthenticationKey(0, key)
	if err != nil {
		t.Fatalf("LoadAuthenticationKey() error = %v", err)
	}
	if slot != 0 {
		t.Fatalf("slot = %d, want 0", slot)
	}
	if got, ok := c.FindKeyNumber(key); !ok || got != 0 {
		t.Fatalf("FindKeyNumber() = (%d, %v), want (0, true)", got, ok)
	}

	wantCmd := []byte{0xFF, 0x82, 0x00, 0x00, 0x06, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if ft.count() != 1 || string(ft.sent[0]) != string(wantCmd) {
		t.Fatalf("sent = % X, want % X", ft.sent, wantCmd)
	}
}

func TestLoadAuthenticationKeyRejectsBadSlot(t *testing.T) {
	c := NewCache(&fakeTransmitter{})
	if _, err := c.LoadAuthenticationKey(2, []byte{1, 2, 3, 4, 5, 6}); err == nil {
		t.Fatal("LoadAuthenticationKey() error = nil, want invalid_key_number")
	}
}

// TestAuthenticateLoadsThenAuthenticates exercises S4.
func TestAuthenticateLoadsThenAuthenticates(t *testing.T) {
	ft := &fakeTransmitter{}
	cache := NewCache(ft)
	auth := NewAuthenticator(cache, ft)

	ok, err := auth.Authenticate(0x04, 0x60, "FFFFFFFFFFFF", false)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Fatal("Authenticate() = false, want true")
	}

	if ft.count() != 2 {
		t.Fatalf("count() = %d, want 2 (load + authenticate)", ft.count())
	}
	wantAuth := []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, 0x04, 0x60, 0x00}
	if string(ft.sent[1]) != string(wantAuth) {
		t.Fatalf("sent[1] = % X, want % X", ft.sent[1], wantAuth)
	}
}

// TestAuthenticateCoalescesConcurrentLoads exercises S5: two concurrent
// Authenticate calls for the same absent key cause exactly one
// LoadAuthenticationKey transmission.
func TestAuthenticateCoalescesConcurrentLoads(t *testing.T) {
	ft := &fakeTransmitter{}
	cache := NewCache(ft)
	auth := NewAuthenticator(cache, ft)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = auth.Authenticate(0x04, 0x60, "AABBCCDDEEFF", false)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = auth.Authenticate(0x05, 0x60, "AABBCCDDEEFF", false)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Authenticate()[%d] error = %v", i, err)
		}
	}
	if ft.loadCount != 1 {
		t.Fatalf("loadCount = %d, want exactly 1", ft.loadCount)
	}
	auth.mu.Lock()
	pending := len(auth.pending)
	auth.mu.Unlock()
	if pending != 0 {
		t.Fatalf("pending loads = %d, want 0 after settle", pending)
	}
}

func TestAuthenticateRejectsBadKey(t *testing.T) {
	ft := &fakeTransmitter{}
	auth := NewAuthenticator(NewCache(ft), ft)
	if _, err := auth.Authenticate(0x04, 0x60, "not-hex", false); err == nil {
		t.Fatal("Authenticate() error = nil, want invalid_key")
	}
}
