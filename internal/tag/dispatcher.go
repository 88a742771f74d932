// Package tag implements the Tag Dispatcher: it picks ISO/IEC 14443-3 vs
// 14443-4 processing based on the card's ATR and runs the corresponding
// Get-UID or AID-SELECT exchange.
package tag

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cardkit/nfc-agent/internal/apdu"
	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/tagpayload"
)

// Transmitter is the minimal capability the dispatcher needs from a
// Reader Session.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// PayloadAID, when non-empty, is the AID whose SELECT response the
// dispatcher additionally attempts to CBOR-decode into Card.Payload
// (spec §4.5 / §4.11). Callers configure it via Dispatcher.PayloadAID.
type Dispatcher struct {
	Transmitter Transmitter
	PayloadAID  []byte
}

// NewDispatcher constructs a Dispatcher issuing APDUs through t.
func NewDispatcher(t Transmitter) *Dispatcher {
	return &Dispatcher{Transmitter: t}
}

// Dispatch runs the UID or AID-SELECT path for card, based on its
// Standard, and returns the updated card snapshot. aid is resolved here
// against card (a resolver may depend on the snapshot) and is only
// consulted for the 14443-4 path.
func (d *Dispatcher) Dispatch(card cardcore.Card, aid cardcore.AIDConfig) (cardcore.Card, error) {
	switch card.Standard {
	case cardcore.StandardISO14443_3:
		return d.getUID(card)
	default:
		return d.selectAID(card, aid)
	}
}

func (d *Dispatcher) getUID(card cardcore.Card) (cardcore.Card, error) {
	raw, err := d.Transmitter.Transmit(apdu.GetUID())
	if err != nil {
		return card, cardcore.NewGetUIDError(cardcore.CodeFailure, "transmit failed", err)
	}
	resp, err := apdu.Parse(raw)
	if err != nil {
		return card, cardcore.NewGetUIDError(cardcore.CodeInvalidResponse, "short response", err)
	}
	if !resp.Success() {
		return card, cardcore.NewGetUIDError(cardcore.CodeOperationFailed, cardcore.StatusWordMessage(resp.Status), nil)
	}

	card.UID = cardcore.UIDHex(resp.Data)
	return card, nil
}

func (d *Dispatcher) selectAID(card cardcore.Card, aidConfig cardcore.AIDConfig) (cardcore.Card, error) {
	if !aidConfig.IsSet() {
		return card, fmt.Errorf("tag: no AID configured for 14443-4 dispatch")
	}
	aid, err := aidConfig.Resolve(card)
	if err != nil {
		return card, err
	}

	raw, err := d.Transmitter.Transmit(apdu.SelectAID(aid))
	if err != nil {
		return card, cardcore.NewConnectError(cardcore.CodeFailure, "select AID transmit failed", err)
	}
	resp, err := apdu.Parse(raw)
	if err != nil {
		return card, err
	}

	switch resp.Status {
	case apdu.StatusFileNotFound:
		return card, fmt.Errorf("tag: not compatible, AID %s not found", strings.ToUpper(hex.EncodeToString(aid)))
	case apdu.StatusSuccess:
		card.Data = append([]byte(nil), resp.Data...)
		if d.PayloadAID != nil && hex.EncodeToString(aid) == hex.EncodeToString(d.PayloadAID) {
			if p, err := tagpayload.Decode(resp.Data); err == nil {
				card.Payload = &p
			}
		}
		return card, nil
	default:
		return card, fmt.Errorf("tag: select AID failed with status %04X", resp.Status)
	}
}
