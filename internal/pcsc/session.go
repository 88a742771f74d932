package pcsc

import (
	"sync"

	"github.com/ebfe/scard"

	"github.com/cardkit/nfc-agent/internal/cardcore"
)

// ShareMode is the core's own enum for connect modes, decoupled from the
// provider's scard.ShareMode so callers never need to import ebfe/scard.
type ShareMode int

const (
	ShareModeDirect ShareMode = iota
	ShareModeCard
)

// Connection mirrors spec §3's Connection: present only while the session
// holds an active PC/SC connection.
type Connection struct {
	ShareMode ShareMode
	Protocol  scard.Protocol
}

// Session owns one PC/SC connection handle for a single reader. Its
// connection state is guarded by mu, so Transmit may be called from
// several goroutines at once (the Block I/O Engine's fan-out does); the
// Reader State Machine and the agent's block/auth calls share one Session.
type Session struct {
	ReaderName string
	ctx        Context

	mu   sync.Mutex
	card Card
	conn *Connection
	has  bool // whether a Card has been attached via SetCardPresent
}

// NewSession constructs a Session bound to a reader name on an established
// context.
func NewSession(ctx Context, readerName string) *Session {
	return &Session{ReaderName: readerName, ctx: ctx}
}

// SetCardPresent records whether a card is currently present, per spec
// §4.2's Transmit precondition ("both a Card and a Connection exist").
func (s *Session) SetCardPresent(present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.has = present
}

// Connected reports whether the session currently holds a Connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connect opens a PC/SC connection in the requested share mode.
func (s *Session) Connect(mode ShareMode, protocol scard.Protocol) error {
	var shareMode scard.ShareMode
	switch mode {
	case ShareModeDirect:
		shareMode = scard.ShareDirect
	case ShareModeCard:
		shareMode = scard.ShareShared
	default:
		return cardcore.NewConnectError(cardcore.CodeInvalidMode, "unknown share mode", nil)
	}
	if protocol == 0 {
		protocol = scard.ProtocolAny
	}

	card, err := s.ctx.Connect(s.ReaderName, shareMode, protocol)
	if err != nil {
		return cardcore.NewConnectError(cardcore.CodeFailure, "provider connect failed", err)
	}

	s.mu.Lock()
	s.card = card
	s.conn = &Connection{ShareMode: mode, Protocol: protocol}
	s.mu.Unlock()
	return nil
}

// Disconnect closes the held PC/SC connection, leaving the card powered
// (SCARD_LEAVE_CARD), matching spec §4.2's disconnect disposition.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	card := s.card
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return cardcore.NewDisconnectError(cardcore.CodeNotConnected, "no active connection", nil)
	}

	if err := card.Disconnect(scard.LeaveCard); err != nil {
		return cardcore.NewDisconnectError(cardcore.CodeFailure, "provider disconnect failed", err)
	}

	s.mu.Lock()
	s.card = nil
	s.conn = nil
	s.mu.Unlock()
	return nil
}

// Transmit forwards an APDU to the card. Both a card presence flag and an
// active connection are required; absent either, it fails fast with
// card_not_connected rather than calling the provider.
func (s *Session) Transmit(data []byte) ([]byte, error) {
	s.mu.Lock()
	card := s.card
	ready := s.has && s.conn != nil
	s.mu.Unlock()

	if !ready {
		return nil, cardcore.NewTransmitError(cardcore.CodeCardNotConnected, "no card or connection", nil)
	}

	resp, err := card.Transmit(data)
	if err != nil {
		return nil, cardcore.NewTransmitError(cardcore.CodeFailure, "provider transmit failed", err)
	}
	return resp, nil
}

// Control issues a vendor escape command. Only a Connection is required;
// a card need not be present.
func (s *Session) Control(data []byte) ([]byte, error) {
	s.mu.Lock()
	card := s.card
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return nil, cardcore.NewControlError(cardcore.CodeNotConnected, "no active connection", nil)
	}

	resp, err := card.Control(ccidEscapeControlCode, data)
	if err != nil {
		return nil, cardcore.NewControlError(cardcore.CodeFailure, "provider control failed", err)
	}
	return resp, nil
}

// Status returns the live PC/SC status of the connection's card, used by
// the Reader State Machine to read the ATR after connecting.
func (s *Session) Status() (scard.CardStatus, error) {
	s.mu.Lock()
	card := s.card
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return scard.CardStatus{}, cardcore.NewConnectError(cardcore.CodeNotConnected, "no active connection", nil)
	}
	return card.Status()
}
