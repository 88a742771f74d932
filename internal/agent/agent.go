// Package agent wires the reader pipeline packages (pcsc, readerfsm, tag,
// keyring, cardio, cardevents) into one coordinator that the HTTP/WebSocket
// surface and the tray/service front ends consume. It owns one goroutine
// per enumerated reader, matching the per-reader lifecycle the state
// machine expects.
package agent

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/cardevents"
	"github.com/cardkit/nfc-agent/internal/cardio"
	"github.com/cardkit/nfc-agent/internal/keyring"
	"github.com/cardkit/nfc-agent/internal/logging"
	"github.com/cardkit/nfc-agent/internal/pcsc"
	"github.com/cardkit/nfc-agent/internal/readerfsm"
	"github.com/cardkit/nfc-agent/internal/tag"
	"github.com/cardkit/nfc-agent/internal/tagpayload"
)

// ReaderInfo is the shape returned by ListReaders: enough for a consumer
// to target a specific reader without depending on pcsc types.
type ReaderInfo struct {
	Name string          `json:"name"`
	Kind pcsc.ReaderKind `json:"kind"`
	Card cardcore.Card   `json:"card"`
}

// reader bundles everything the Manager keeps per enumerated reader slot.
type reader struct {
	session       *pcsc.Session
	fsm           *readerfsm.Reader
	events        *cardevents.Dispatcher
	keys          *keyring.Cache
	authenticator *keyring.Authenticator
	cancel        context.CancelFunc
}

// Manager is the coordinator: it enumerates readers through the Provider
// Adapter, spawns a Reader State Machine per reader, and answers queries
// about their current state on behalf of the HTTP/WebSocket surface.
type Manager struct {
	pcscManager *pcsc.Manager
	ctx         pcsc.Context

	defaultAID     cardcore.AIDConfig
	autoProcessing bool

	mu      sync.Mutex
	readers map[string]*reader
}

// NewManager constructs a Manager over an established PC/SC context.
func NewManager(ctx pcsc.Context, defaultAID cardcore.AIDConfig, autoProcessing bool) *Manager {
	return &Manager{
		pcscManager:    pcsc.NewManager(ctx),
		ctx:            ctx,
		defaultAID:     defaultAID,
		autoProcessing: autoProcessing,
		readers:        make(map[string]*reader),
	}
}

// Refresh enumerates the provider's readers and starts a state machine
// goroutine for every reader not already tracked. It does not remove
// readers that have since disappeared: a reader's goroutine emits end and
// exits once its status wait fails, and its entry stays tracked in the
// Ended state.
func (m *Manager) Refresh(ctx context.Context) ([]pcsc.Reader, error) {
	list, err := m.pcscManager.ListReaders()
	if err != nil {
		logging.Error(logging.CatReader, "failed to enumerate readers", map[string]any{"error": err.Error()})
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range list {
		if _, ok := m.readers[r.Name]; ok {
			continue
		}
		m.startLocked(ctx, r.Name)
		logging.Info(logging.CatReader, "reader started", map[string]any{"reader": r.Name, "kind": string(r.Kind)})
	}
	return list, nil
}

func (m *Manager) startLocked(parent context.Context, name string) {
	session := m.pcscManager.NewSession(name)
	events := cardevents.NewDispatcher()
	keys := keyring.NewCache(session)
	authenticator := keyring.NewAuthenticator(keys, session)
	dispatcher := tag.NewDispatcher(session)

	fsm := readerfsm.NewReader(name, session, dispatcher, events)
	fsm.AID = m.defaultAID
	fsm.AutoProcessing = m.autoProcessing

	// card/card.off/error are logged by readerfsm itself as they're
	// emitted; this manager only needs to relay them to subscribers.

	readerCtx, cancel := context.WithCancel(parent)
	go func() {
		defer logging.RecoverAndLog("reader state machine: "+name, false)
		if err := readerfsm.Run(readerCtx, m.ctx, fsm); err != nil && readerCtx.Err() == nil {
			logging.Warn(logging.CatReader, "reader loop exited", map[string]any{"reader": name, "error": err.Error()})
		}
	}()

	m.readers[name] = &reader{
		session:       session,
		fsm:           fsm,
		events:        events,
		keys:          keys,
		authenticator: authenticator,
		cancel:        cancel,
	}
}

// ListReaders returns the tracked readers and their current card snapshot.
func (m *Manager) ListReaders() []ReaderInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ReaderInfo, 0, len(m.readers))
	for name, r := range m.readers {
		out = append(out, ReaderInfo{
			Name: name,
			Kind: pcsc.ClassifyReader(name),
			Card: r.fsm.Card(),
		})
	}
	return out
}

func (m *Manager) lookup(name string) (*reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readers[name]
	if !ok {
		return nil, fmt.Errorf("agent: unknown reader %q", name)
	}
	return r, nil
}

// Card returns the named reader's current card snapshot.
func (m *Manager) Card(name string) (cardcore.Card, error) {
	r, err := m.lookup(name)
	if err != nil {
		return cardcore.Card{}, err
	}
	return r.fsm.Card(), nil
}

// Events returns the named reader's event dispatcher, so a WebSocket
// client can subscribe to its card/card.off/error/end stream.
func (m *Manager) Events(name string) (*cardevents.Dispatcher, error) {
	r, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return r.events, nil
}

// ReadMifareBlock authenticates (if a key is supplied) and reads a single
// MIFARE Classic block through the Block I/O Engine.
func (m *Manager) ReadMifareBlock(name string, block int, key []byte, keyType byte) ([]byte, error) {
	r, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(key) == 6 {
		if _, err := r.authenticator.Authenticate(byte(block), keyType, hex.EncodeToString(key), false); err != nil {
			return nil, err
		}
	}
	return cardio.Read(r.session, uint16(block), cardio.DefaultPacketSize, cardio.DefaultBlockSize, cardio.DefaultPacketSize, cardio.DefaultReadClass)
}

// WriteMifareBlock authenticates (if a key is supplied) and writes a
// single MIFARE Classic block through the Block I/O Engine.
func (m *Manager) WriteMifareBlock(name string, block int, data []byte, key []byte, keyType byte) error {
	r, err := m.lookup(name)
	if err != nil {
		return err
	}
	if len(key) == 6 {
		if _, err := r.authenticator.Authenticate(byte(block), keyType, hex.EncodeToString(key), false); err != nil {
			return err
		}
	}
	_, err = cardio.Write(r.session, uint16(block), data, cardio.DefaultBlockSize)
	return err
}

// WritePayload encodes a tag payload and writes it to the card's selected
// 14443-4 application.
func (m *Manager) WritePayload(name string, label string, fields map[string]string, block int) error {
	r, err := m.lookup(name)
	if err != nil {
		return err
	}
	payload := tagpayload.New(label, fields)
	encoded, err := tagpayload.Encode(payload)
	if err != nil {
		return err
	}

	padded := encoded
	if rem := len(padded) % cardio.DefaultBlockSize; rem != 0 {
		padded = append(padded, make([]byte, cardio.DefaultBlockSize-rem)...)
	}

	_, err = cardio.Write(r.session, uint16(block), padded, cardio.DefaultBlockSize)
	return err
}

// Authenticate loads (if necessary) and authenticates against a MIFARE
// key, exposing keyring.Authenticator directly to callers that only need
// the authentication step without a follow-on read/write.
func (m *Manager) Authenticate(name string, block byte, keyType byte, keyHex string) (bool, error) {
	r, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return r.authenticator.Authenticate(block, keyType, keyHex, false)
}

// ReaderState reports the named reader's current state-machine state.
func (m *Manager) ReaderState(name string) (readerfsm.State, error) {
	r, err := m.lookup(name)
	if err != nil {
		return "", err
	}
	return r.fsm.State(), nil
}

// Close stops every reader's state-machine goroutine and releases the
// underlying PC/SC context.
func (m *Manager) Close() error {
	m.mu.Lock()
	for _, r := range m.readers {
		r.cancel()
	}
	m.mu.Unlock()
	return m.pcscManager.Close()
}
