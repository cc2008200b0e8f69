// Package virtual implements an in-memory CAN bus used by tests and by
// the synthetic-frame injection scenarios in spec §8.2. It is grounded
// on the teacher's pkg/can/virtual TCP loopback bus, simplified to a
// broker-less in-process bus since tests inject frames directly rather
// than through a second process.
package virtual

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/armsix/armcan"
	"github.com/armsix/armcan/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", New)
}

// Bus is a loopback CAN bus: frames sent with Inject are what Receive
// returns, and frames sent with Send are recorded for assertions.
type Bus struct {
	mu       sync.Mutex
	rx       chan armcan.Frame
	sent     []armcan.Frame
	closed   bool
	logger   *slog.Logger
	sendHook func(armcan.Frame) // optional, used by tests to simulate echo
}

// New constructs an unopened virtual Bus.
func New() can.Bus {
	return &Bus{logger: slog.Default().With("service", "[CAN]", "backend", "virtual")}
}

func (b *Bus) Open(_ context.Context, _ string, _ int, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rx = make(chan armcan.Frame, 4096)
	b.closed = false
	return nil
}

// Inject feeds a synthetic frame into the RX path, as used by the
// spec's end-to-end scenarios (S1-S6).
func (b *Bus) Inject(frame armcan.Frame) error {
	b.mu.Lock()
	rx := b.rx
	closed := b.closed
	b.mu.Unlock()
	if closed || rx == nil {
		return armcan.ErrNotStarted
	}
	select {
	case rx <- frame:
		return nil
	default:
		return armcan.ErrBufferOverflow
	}
}

func (b *Bus) Send(frame armcan.Frame) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return armcan.ErrIo
	}
	b.sent = append(b.sent, frame)
	hook := b.sendHook
	b.mu.Unlock()
	// The hook runs without b.mu held so it may call Inject.
	if hook != nil {
		hook(frame)
	}
	return nil
}

// Sent returns a copy of all frames handed to Send so far.
func (b *Bus) Sent() []armcan.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]armcan.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

// SetSendHook installs a callback invoked synchronously on every Send,
// letting tests emulate TX-echo frames arriving back on RX.
func (b *Bus) SetSendHook(hook func(armcan.Frame)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendHook = hook
}

func (b *Bus) Receive(timeout time.Duration) (armcan.Frame, error) {
	b.mu.Lock()
	rx := b.rx
	b.mu.Unlock()
	if rx == nil {
		return armcan.Frame{}, armcan.ErrNotStarted
	}
	select {
	case frame := <-rx:
		return frame, nil
	case <-time.After(timeout):
		return armcan.Frame{}, armcan.ErrTimeout
	}
}

func (b *Bus) Split() (can.Rx, can.Tx, error) {
	return &rxHalf{b}, &txHalf{b}, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("virtual: already closed")
	}
	b.closed = true
	if b.rx != nil {
		close(b.rx)
	}
	return nil
}

type rxHalf struct{ b *Bus }

func (r *rxHalf) Receive(timeout time.Duration) (armcan.Frame, error) { return r.b.Receive(timeout) }
func (r *rxHalf) Close() error                                        { return nil }

type txHalf struct{ b *Bus }

func (t *txHalf) Send(frame armcan.Frame) error { return t.b.Send(frame) }
func (t *txHalf) Close() error                  { return nil }
