package readerfsm

import (
	"errors"
	"testing"

	"github.com/ebfe/scard"

	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/cardevents"
	"github.com/cardkit/nfc-agent/internal/pcsc"
)

type fakeSession struct {
	connectErr error
	statusErr  error
	atr        []byte
	present    bool
	connects   int
	disconnects int
}

func (f *fakeSession) Connect(mode pcsc.ShareMode, protocol scard.Protocol) error {
	f.connects++
	return f.connectErr
}

func (f *fakeSession) Disconnect() error {
	f.disconnects++
	return nil
}

func (f *fakeSession) SetCardPresent(present bool) {
	f.present = present
}

func (f *fakeSession) Status() (scard.CardStatus, error) {
	if f.statusErr != nil {
		return scard.CardStatus{}, f.statusErr
	}
	return scard.CardStatus{Atr: f.atr}, nil
}

type fakeDispatcher struct {
	result cardcore.Card
	err    error
}

func (f *fakeDispatcher) Dispatch(card cardcore.Card, aid cardcore.AIDConfig) (cardcore.Card, error) {
	if f.err != nil {
		return card, f.err
	}
	return f.result, nil
}

func atrWithByte5(b byte) []byte {
	atr := make([]byte, 6)
	atr[5] = b
	return atr
}

func TestHandleStatusInsertionEmitsCard(t *testing.T) {
	sess := &fakeSession{atr: atrWithByte5(0x4F)}
	disp := &fakeDispatcher{result: cardcore.Card{UID: "04a1b2c3"}}
	events := cardevents.NewDispatcher()
	var gotCard cardcore.Card
	events.On(cardevents.EventCard, func(p any) { gotCard = p.(cardcore.Card) })

	r := NewReader("reader-1", sess, disp, events)
	r.HandleStatus(0, uint32(scard.StatePresent))

	if r.State() != StateConnected {
		t.Fatalf("state = %v, want %v", r.State(), StateConnected)
	}
	if gotCard.UID != "04a1b2c3" {
		t.Fatalf("card.UID = %q, want 04a1b2c3", gotCard.UID)
	}
	if sess.connects != 1 {
		t.Fatalf("connects = %d, want 1", sess.connects)
	}
}

func TestHandleStatusAutoProcessingDisabledSkipsDispatch(t *testing.T) {
	sess := &fakeSession{atr: atrWithByte5(0x4F)}
	disp := &fakeDispatcher{}
	events := cardevents.NewDispatcher()
	var emitted bool
	events.On(cardevents.EventCard, func(any) { emitted = true })

	r := NewReader("reader-1", sess, disp, events)
	r.AutoProcessing = false
	r.HandleStatus(0, uint32(scard.StatePresent))

	if !emitted {
		t.Fatal("card event was not emitted")
	}
	if r.State() != StateConnected {
		t.Fatalf("state = %v, want %v", r.State(), StateConnected)
	}
}

// TestHandleStatusRemovalEmitsCardOff exercises S8: removal from Connected
// transitions to Idle and emits card.off with the prior snapshot.
func TestHandleStatusRemovalEmitsCardOff(t *testing.T) {
	sess := &fakeSession{atr: atrWithByte5(0x4F)}
	disp := &fakeDispatcher{result: cardcore.Card{UID: "04a1b2c3"}}
	events := cardevents.NewDispatcher()
	var offCard cardcore.Card
	var gotOff bool
	events.On(cardevents.EventCardOff, func(p any) {
		gotOff = true
		offCard = p.(cardcore.Card)
	})

	r := NewReader("reader-1", sess, disp, events)
	r.HandleStatus(0, uint32(scard.StatePresent))
	r.HandleStatus(uint32(scard.StatePresent), uint32(scard.StateEmpty))

	if !gotOff {
		t.Fatal("card.off was not emitted")
	}
	if offCard.UID != "04a1b2c3" {
		t.Fatalf("card.off payload UID = %q, want 04a1b2c3", offCard.UID)
	}
	if r.State() != StateIdle {
		t.Fatalf("state = %v, want %v", r.State(), StateIdle)
	}
	if sess.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", sess.disconnects)
	}
	if sess.present {
		t.Fatal("session still reports card present after removal")
	}
}

func TestHandleStatusOrdersCardOffBeforeNextCard(t *testing.T) {
	sess := &fakeSession{atr: atrWithByte5(0x4F)}
	disp := &fakeDispatcher{result: cardcore.Card{UID: "card-n"}}
	events := cardevents.NewDispatcher()
	var order []string
	events.On(cardevents.EventCardOff, func(any) { order = append(order, "card.off") })
	events.On(cardevents.EventCard, func(any) { order = append(order, "card") })

	r := NewReader("reader-1", sess, disp, events)
	r.HandleStatus(0, uint32(scard.StatePresent))
	order = nil

	disp.result = cardcore.Card{UID: "card-n+1"}
	r.HandleStatus(uint32(scard.StatePresent), uint32(scard.StateEmpty))
	r.HandleStatus(uint32(scard.StateEmpty), uint32(scard.StatePresent))

	want := []string{"card.off", "card"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestHandleStatusConnectFailureEmitsErrorAndStaysIdle(t *testing.T) {
	sess := &fakeSession{connectErr: errors.New("busy")}
	disp := &fakeDispatcher{}
	events := cardevents.NewDispatcher()
	var gotErr error
	events.On(cardevents.EventError, func(p any) { gotErr = p.(error) })

	r := NewReader("reader-1", sess, disp, events)
	r.HandleStatus(0, uint32(scard.StatePresent))

	if gotErr == nil {
		t.Fatal("expected error event on connect failure")
	}
	if r.State() != StateIdle {
		t.Fatalf("state = %v, want %v", r.State(), StateIdle)
	}
}

func TestEndEmitsOnceAndIgnoresFurtherStatus(t *testing.T) {
	sess := &fakeSession{atr: atrWithByte5(0x4F)}
	disp := &fakeDispatcher{}
	events := cardevents.NewDispatcher()
	count := 0
	events.On(cardevents.EventEnd, func(any) { count++ })

	r := NewReader("reader-1", sess, disp, events)
	r.End()
	r.End()
	r.HandleStatus(0, uint32(scard.StatePresent))

	if count != 1 {
		t.Fatalf("end emitted %d times, want 1", count)
	}
	if sess.connects != 0 {
		t.Fatal("reader connected after End was called")
	}
	if r.State() != StateEnded {
		t.Fatalf("state = %v, want %v", r.State(), StateEnded)
	}
}
