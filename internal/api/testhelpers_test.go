package api

import (
	"time"

	"github.com/cardkit/nfc-agent/internal/agent"
	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/pcsc"
	"github.com/ebfe/scard"
)

// fakeContext is a minimal pcsc.Context with no readers attached, enough
// to back an agent.Manager for the HTTP/WebSocket handler tests below
// without touching real hardware.
type fakeContext struct{}

func (fakeContext) ListReaders() ([]string, error) { return nil, nil }
func (fakeContext) Connect(reader string, shareMode scard.ShareMode, protocol scard.Protocol) (pcsc.Card, error) {
	return nil, nil
}
func (fakeContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return nil
}
func (fakeContext) Release() error { return nil }

func init() {
	SetManager(agent.NewManager(fakeContext{}, cardcore.AIDConfig{}, true))
}
