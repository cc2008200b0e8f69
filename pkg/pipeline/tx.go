package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/armsix/armcan"
	"github.com/armsix/armcan/pkg/can"
	"github.com/armsix/armcan/pkg/command"
)

// DefaultTimeBudget is the per-iteration wall-clock budget for
// draining the reliable FIFO (spec §4.5 "e.g. 500 µs per iteration").
const DefaultTimeBudget = 500 * time.Microsecond

// DefaultFrameCap bounds frames drained per iteration regardless of
// remaining time budget (spec §4.5 "or a frame count cap, e.g. 32").
const DefaultFrameCap = 32

// DefaultFIFOPollTimeout is how long TxLoop blocks on the reliable
// FIFO when both channels are empty (spec §4.5 "short receive timeout
// ~1 ms").
const DefaultFIFOPollTimeout = time.Millisecond

// TxLoop owns frame transmission: pop the realtime mailbox first, then
// drain the reliable FIFO up to a time/frame budget, then block
// briefly on the FIFO if both are empty.
type TxLoop struct {
	tx       can.Tx
	mailbox  *command.Mailbox
	fifo     *command.FIFO
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewTxLoop constructs a TxLoop over the given TX half.
func NewTxLoop(tx can.Tx, mailbox *command.Mailbox, fifo *command.FIFO, logger *slog.Logger) *TxLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxLoop{
		tx:      tx,
		mailbox: mailbox,
		fifo:    fifo,
		limiter: rate.NewLimiter(rate.Every(DefaultTimeBudget/DefaultFrameCap), DefaultFrameCap),
		logger:  logger.With("service", "[CAN]", "thread", "tx"),
	}
}

// Run blocks draining the command channels onto the bus until ctx is
// canceled or the reliable FIFO producer side disconnects (spec
// scenario S5).
func (t *TxLoop) Run(ctx context.Context) error {
	for {
		if err := t.Step(ctx); err != nil {
			return err
		}
	}
}

// Step performs one drain cycle: send the realtime mailbox frame if
// there is one, then drain the reliable FIFO up to its time/frame
// budget, and block briefly on the FIFO only if neither had anything
// to send. Run calls this in a loop on its own
// goroutine; CoScheduledLoop calls it from the single goroutine that
// also drives RxLoop.Step, for backends that cannot service RX and TX
// concurrently (spec §5.1 "single-threaded fallback mode").
func (t *TxLoop) Step(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sentRealtime := false
	if f, ok := t.mailbox.Take(); ok {
		t.send(f)
		sentRealtime = true
	}

	drained, disconnected := t.drainFIFO()
	if disconnected {
		t.logger.Info("reliable fifo producer disconnected, exiting tx loop")
		return armcan.ErrAlreadyDisconnected
	}
	if drained || sentRealtime {
		return nil
	}

	f, err := t.fifo.Receive(DefaultFIFOPollTimeout)
	if err != nil {
		if errors.Is(err, armcan.ErrTimeout) {
			return nil
		}
		if errors.Is(err, armcan.ErrAlreadyDisconnected) {
			t.logger.Info("reliable fifo producer disconnected, exiting tx loop")
			return err
		}
		t.logger.Warn("fifo receive error", "err", err)
		return nil
	}
	t.send(f)
	return nil
}

// drainFIFO pops ready FIFO frames up to the configured time/frame
// budget and transmits each, returning whether at least one frame was
// sent and whether the FIFO was found closed-and-drained.
func (t *TxLoop) drainFIFO() (sent bool, disconnected bool) {
	deadline := time.Now().Add(DefaultTimeBudget)
	for i := 0; i < DefaultFrameCap; i++ {
		if time.Now().After(deadline) {
			break
		}
		if !t.limiter.Allow() {
			break
		}
		f, ok, closed := t.fifo.TryReceive()
		if closed {
			return sent, true
		}
		if !ok {
			break
		}
		t.send(f)
		sent = true
	}
	return sent, false
}

func (t *TxLoop) send(f command.Frame) {
	var frame armcan.Frame
	if f.Extended {
		frame = armcan.NewExtendedFrame(f.ID, f.Data[:])
	} else {
		frame = armcan.NewFrame(f.ID, f.Data[:])
	}
	if err := t.tx.Send(frame); err != nil {
		t.logger.Warn("send failed", "id", f.ID, "err", err)
	}
}
