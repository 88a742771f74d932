// Package readerfsm implements the Reader State Machine: it turns a stream
// of provider status observations into connect/disconnect calls against a
// Reader Session, drives the Tag Dispatcher, and emits lifecycle events.
package readerfsm

import (
	"sync"

	"github.com/ebfe/scard"

	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/cardevents"
	"github.com/cardkit/nfc-agent/internal/logging"
	"github.com/cardkit/nfc-agent/internal/pcsc"
)

// State names the reader's current position in its lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateCardInserted State = "card_inserted"
	StateConnected    State = "connected"
	StateProcessing   State = "processing"
	StateEnded        State = "ended"
)

// Session is the subset of *pcsc.Session the state machine drives.
type Session interface {
	Connect(mode pcsc.ShareMode, protocol scard.Protocol) error
	Disconnect() error
	SetCardPresent(present bool)
	Status() (scard.CardStatus, error)
}

// Dispatcher is the subset of *tag.Dispatcher the state machine invokes
// once a connection is open, kept as an interface so tests need not build a
// real Transmitter chain.
type Dispatcher interface {
	Dispatch(card cardcore.Card, aid cardcore.AIDConfig) (cardcore.Card, error)
}

// Reader owns the lifecycle of a single PC/SC reader slot: one goroutine
// feeds it status observations via HandleStatus, and it is not otherwise
// safe for concurrent use beyond the synchronized accessors below.
type Reader struct {
	Name string

	AID            cardcore.AIDConfig
	AutoProcessing bool

	session    Session
	dispatcher Dispatcher
	events     *cardevents.Dispatcher

	mu    sync.Mutex
	state State
	card  cardcore.Card
	ended bool
}

// NewReader constructs a Reader in the Idle state, with auto-processing on
// by default per SPEC_FULL.md §6.
func NewReader(name string, session Session, dispatcher Dispatcher, events *cardevents.Dispatcher) *Reader {
	return &Reader{
		Name:           name,
		AutoProcessing: true,
		session:        session,
		dispatcher:     dispatcher,
		events:         events,
		state:          StateIdle,
	}
}

// State reports the reader's current lifecycle state.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Card returns a defensive copy of the reader's current card snapshot.
func (r *Reader) Card() cardcore.Card {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.card.Clone()
}

// HandleStatus applies one provider status observation. previous and
// current are PC/SC reader-state bitmasks (scard.StateFlag values as
// plain uint32, so callers outside this package need not import
// ebfe/scard); changes is their XOR, and the EMPTY/PRESENT edges that rose
// in it drive removal and insertion respectively, per SPEC_FULL.md §4.6.
func (r *Reader) HandleStatus(previous, current uint32) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	changes := previous ^ current
	emptyRose := changes&uint32(scard.StateEmpty) != 0 && current&uint32(scard.StateEmpty) != 0
	presentRose := changes&uint32(scard.StatePresent) != 0 && current&uint32(scard.StatePresent) != 0

	if emptyRose {
		r.handleRemoval()
	}
	if presentRose {
		r.handleInsertion()
	}
}

// End marks the reader terminally gone and emits end exactly once, per the
// "further events are not produced" rule.
func (r *Reader) End() {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	from := r.state
	r.state = StateEnded
	r.mu.Unlock()

	r.logTransition(from, StateEnded)
	r.events.Emit(cardevents.EventEnd, r.Name)
}

// logTransition traces every state change at debug level, per SPEC_FULL.md
// §4.6/§8.8.
func (r *Reader) logTransition(from, to State) {
	logging.Debug(logging.CatReader, "state transition", map[string]any{
		"reader": r.Name,
		"from":   string(from),
		"to":     string(to),
	})
}

// logError reports a reader-loop error at warn level before it is emitted
// as a cardevents.EventError, per SPEC_FULL.md §8.8.
func (r *Reader) logError(stage string, err error) {
	kind, _ := cardcore.KindOf(err)
	logging.Warn(logging.CatReader, "reader error", map[string]any{
		"reader": r.Name,
		"stage":  stage,
		"kind":   string(kind),
		"error":  err.Error(),
	})
}

func (r *Reader) handleRemoval() {
	r.mu.Lock()
	prevCard := r.card
	hadCard := r.state != StateIdle
	wasConnected := r.state == StateConnected || r.state == StateProcessing
	from := r.state
	r.state = StateIdle
	r.card = cardcore.Card{}
	r.mu.Unlock()
	r.logTransition(from, StateIdle)

	r.session.SetCardPresent(false)

	if wasConnected {
		if err := r.session.Disconnect(); err != nil {
			r.logError("disconnect", err)
			r.events.Emit(cardevents.EventError, err)
		}
	}

	if hadCard {
		logging.Info(logging.CatCard, "card.off", map[string]any{"reader": r.Name})
		r.events.Emit(cardevents.EventCardOff, prevCard.Clone())
	}
}

func (r *Reader) handleInsertion() {
	r.mu.Lock()
	from := r.state
	r.state = StateCardInserted
	r.mu.Unlock()
	r.logTransition(from, StateCardInserted)

	if err := r.session.Connect(pcsc.ShareModeCard, 0); err != nil {
		r.logError("connect", err)
		r.events.Emit(cardevents.EventError, err)
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		r.logTransition(StateCardInserted, StateIdle)
		return
	}
	r.session.SetCardPresent(true)

	status, err := r.session.Status()
	if err != nil {
		r.logError("status", err)
		r.events.Emit(cardevents.EventError, err)
		return
	}

	standard := cardcore.StandardFromATR(status.Atr)
	card := cardcore.Card{
		ATR:      append([]byte(nil), status.Atr...),
		Standard: standard,
		Type:     string(standard),
	}

	r.mu.Lock()
	r.state = StateConnected
	r.card = card
	autoProcessing := r.AutoProcessing
	aid := r.AID
	r.mu.Unlock()
	r.logTransition(StateCardInserted, StateConnected)

	if !autoProcessing {
		logging.Info(logging.CatCard, "card", map[string]any{"reader": r.Name, "uid": card.UID, "standard": string(card.Standard)})
		r.events.Emit(cardevents.EventCard, card.Clone())
		return
	}

	r.mu.Lock()
	r.state = StateProcessing
	r.mu.Unlock()
	r.logTransition(StateConnected, StateProcessing)

	result, dispatchErr := r.dispatcher.Dispatch(card, aid)

	r.mu.Lock()
	r.state = StateConnected
	r.card = result
	r.mu.Unlock()
	r.logTransition(StateProcessing, StateConnected)

	if dispatchErr != nil {
		r.logError("dispatch", dispatchErr)
		r.events.Emit(cardevents.EventError, dispatchErr)
		return
	}

	logging.Info(logging.CatCard, "card", map[string]any{"reader": r.Name, "uid": result.UID, "standard": string(result.Standard)})
	r.events.Emit(cardevents.EventCard, result.Clone())
}
