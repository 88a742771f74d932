package readerfsm

import (
	"context"
	"time"

	"github.com/ebfe/scard"
)

// StatusSource is the subset of pcsc.Context the polling loop needs: a
// blocking wait for the next reader-state change.
type StatusSource interface {
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
}

// blockingTimeout matches spec §5's guidance of one blocking wait per
// iteration rather than busy-polling; -1 means infinite timeout, per the
// teacher's own WaitForCard.
const blockingTimeout time.Duration = -1

// Run drives reader against ctx's status source until ctx is cancelled or
// the underlying provider call fails, at which point it calls reader.End.
// It owns the previous/current bitmask bookkeeping that HandleStatus
// expects.
func Run(ctx context.Context, src StatusSource, reader *Reader) error {
	states := []scard.ReaderState{{
		Reader:       reader.Name,
		CurrentState: scard.StateUnaware,
	}}

	var previous uint32
	for {
		if ctx.Err() != nil {
			reader.End()
			return ctx.Err()
		}

		if err := src.GetStatusChange(states, blockingTimeout); err != nil {
			reader.End()
			return err
		}

		current := uint32(states[0].EventState)
		reader.HandleStatus(previous, current)
		previous = current
		states[0].CurrentState = states[0].EventState
	}
}
