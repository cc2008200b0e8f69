package pipeline

import (
	"context"
	"time"
)

// DefaultCoScheduledRxPoll bounds how long each iteration blocks
// waiting for an RX frame before yielding to a TX step, trading RX
// latency for TX responsiveness when both directions share one
// goroutine (spec §5.1 "single-threaded fallback mode").
const DefaultCoScheduledRxPoll = 2 * time.Millisecond

// CoScheduledLoop drives RxLoop and TxLoop from a single goroutine,
// alternating a short RX poll with one TX step per iteration. It
// exists for backends whose Bus reports (via can.ConcurrentCapable)
// that its split RX/TX halves cannot be driven from separate
// goroutines without contending for the same underlying transport
// (spec §4.1, §5.1, §9.1).
type CoScheduledLoop struct {
	rx     *RxLoop
	tx     *TxLoop
	rxPoll time.Duration
}

// NewCoScheduledLoop constructs a CoScheduledLoop over an already
// constructed RxLoop/TxLoop pair.
func NewCoScheduledLoop(rx *RxLoop, tx *TxLoop) *CoScheduledLoop {
	return &CoScheduledLoop{rx: rx, tx: tx, rxPoll: DefaultCoScheduledRxPoll}
}

// Run alternates RxLoop.Step and TxLoop.Step until ctx is canceled or
// either step reports a terminal error (bus-off, FIFO producer
// disconnected).
func (c *CoScheduledLoop) Run(ctx context.Context) error {
	for {
		if err := c.rx.Step(ctx, c.rxPoll); err != nil {
			return err
		}
		if err := c.tx.Step(ctx); err != nil {
			return err
		}
	}
}
