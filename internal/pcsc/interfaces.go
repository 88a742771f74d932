// Package pcsc wraps github.com/ebfe/scard behind small interfaces so the
// reader pipeline can be exercised against a fake provider in tests, and
// implements the Reader Session and Provider Adapter components.
package pcsc

import (
	"time"

	"github.com/ebfe/scard"
)

// Context is the subset of *scard.Context the pipeline depends on.
type Context interface {
	ListReaders() ([]string, error)
	Connect(reader string, shareMode scard.ShareMode, protocol scard.Protocol) (Card, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Release() error
}

// Card is the subset of *scard.Card the pipeline depends on.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (scard.CardStatus, error)
	Control(ioctl uint32, cmd []byte) ([]byte, error)
	Disconnect(disposition scard.Disposition) error
}

// ContextFactory establishes a new Context. Production code uses
// EstablishContext (backed by real PC/SC); tests substitute a fake.
type ContextFactory interface {
	EstablishContext() (Context, error)
}

// DefaultContextFactory establishes a real PC/SC context via ebfe/scard.
type DefaultContextFactory struct{}

func (DefaultContextFactory) EstablishContext() (Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return scardContext{ctx}, nil
}

// scardContext adapts *scard.Context to the Context interface, converting
// its *scard.Card results to the Card interface.
type scardContext struct {
	ctx *scard.Context
}

func (c scardContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c scardContext) Connect(reader string, shareMode scard.ShareMode, protocol scard.Protocol) (Card, error) {
	card, err := c.ctx.Connect(reader, shareMode, protocol)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func (c scardContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return c.ctx.GetStatusChange(states, timeout)
}

func (c scardContext) Release() error {
	return c.ctx.Release()
}
