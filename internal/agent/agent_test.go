package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ebfe/scard"

	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/pcsc"
)

// fakeContext and fakeCard mirror the pcsc package's own fakes, with canned
// responses keyed by the raw command bytes, scoped to what Manager
// exercises: enumeration plus a single immediate GetStatusChange failure
// so a reader's state-machine goroutine exits without spinning.
type fakeContext struct {
	readers []string
	card    *fakeCard
}

func (f *fakeContext) ListReaders() ([]string, error) { return f.readers, nil }

func (f *fakeContext) Connect(reader string, shareMode scard.ShareMode, protocol scard.Protocol) (pcsc.Card, error) {
	return f.card, nil
}

func (f *fakeContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return errors.New("fake: no provider available")
}

func (f *fakeContext) Release() error { return nil }

type fakeCard struct {
	responses map[string][]byte
	status    scard.CardStatus
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) {
	if resp, ok := c.responses[string(cmd)]; ok {
		return resp, nil
	}
	return []byte{0x90, 0x00}, nil
}

func (c *fakeCard) Status() (scard.CardStatus, error) { return c.status, nil }

func (c *fakeCard) Control(ioctl uint32, cmd []byte) ([]byte, error) {
	return []byte{0x00}, nil
}

func (c *fakeCard) Disconnect(disposition scard.Disposition) error { return nil }

func TestRefreshStartsTrackedReaders(t *testing.T) {
	ctx := &fakeContext{readers: []string{"Generic Reader"}, card: &fakeCard{}}
	m := NewManager(ctx, cardcore.AIDConfig{}, true)
	defer m.Close()

	list, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}

	readers := m.ListReaders()
	if len(readers) != 1 || readers[0].Name != "Generic Reader" {
		t.Fatalf("ListReaders() = %+v, want one entry named Generic Reader", readers)
	}
}

func TestRefreshIsIdempotentPerReader(t *testing.T) {
	ctx := &fakeContext{readers: []string{"Generic Reader"}, card: &fakeCard{}}
	m := NewManager(ctx, cardcore.AIDConfig{}, true)
	defer m.Close()

	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}
	if len(m.ListReaders()) != 1 {
		t.Fatalf("ListReaders() len = %d, want 1 (no duplicate tracking)", len(m.ListReaders()))
	}
}

func TestCardUnknownReaderFails(t *testing.T) {
	ctx := &fakeContext{readers: nil}
	m := NewManager(ctx, cardcore.AIDConfig{}, true)
	defer m.Close()

	if _, err := m.Card("nonexistent"); err == nil {
		t.Fatal("Card() error = nil, want unknown reader error")
	}
}

func TestReadMifareBlockWithoutConnectionFails(t *testing.T) {
	ctx := &fakeContext{readers: []string{"Generic Reader"}, card: &fakeCard{}}
	m := NewManager(ctx, cardcore.AIDConfig{}, true)
	defer m.Close()

	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, err := m.ReadMifareBlock("Generic Reader", 0, nil, apduKeyTypeA); err == nil {
		t.Fatal("ReadMifareBlock() error = nil, want card_not_connected")
	}
}

func TestReadMifareBlockAfterManualConnect(t *testing.T) {
	ctx := &fakeContext{readers: []string{"Generic Reader"}, card: &fakeCard{}}
	m := NewManager(ctx, cardcore.AIDConfig{}, true)
	defer m.Close()

	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	r, err := m.lookup("Generic Reader")
	if err != nil {
		t.Fatalf("lookup() error = %v", err)
	}
	if err := r.session.Connect(pcsc.ShareModeCard, scard.ProtocolAny); err != nil {
		t.Fatalf("session.Connect() error = %v", err)
	}
	r.session.SetCardPresent(true)

	data, err := m.ReadMifareBlock("Generic Reader", 0, nil, apduKeyTypeA)
	if err != nil {
		t.Fatalf("ReadMifareBlock() error = %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("ReadMifareBlock() data = % X, want empty (canned 90 00 response)", data)
	}
}

const apduKeyTypeA = 0x60
