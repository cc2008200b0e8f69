// Package command implements the three command channels the TX thread
// drains: a realtime mailbox (last-write-wins), a reliable bounded
// FIFO, and a one-shot query/ack correlation table keyed by expected
// response CAN ID, grounded on the teacher's SDO query/response
// correlation in sdo_client.go (spec §4.6).
package command

import (
	"sync"
	"time"

	"github.com/armsix/armcan"
)

// Frame is the unit both channels carry: the frame to place on the
// bus plus the ID it will be sent under. Extended marks a 29-bit CAN
// ID, needed by the configuration frame family (0x4xx/0x5xx, spec
// §3.2 "Configuration, extended ID").
type Frame struct {
	ID       uint32
	Data     [8]byte
	Extended bool
}

// Mailbox is a one-slot overwrite register for realtime setpoints
// (PID output, MIT torque). Producer writes replace any pending
// value; consumer reads-and-clears. At most one pending value exists
// at any instant (spec §4.6 "realtime mailbox").
type Mailbox struct {
	mu      sync.Mutex
	pending *Frame
}

// NewMailbox constructs an empty Mailbox.
func NewMailbox() *Mailbox { return &Mailbox{} }

// Write replaces any pending frame with f. Older unconsumed frames are
// silently discarded — the correct behavior for high-rate setpoint
// streams.
func (m *Mailbox) Write(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := f
	m.pending = &cp
}

// Take reads and clears the pending frame, if any.
func (m *Mailbox) Take() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Frame{}, false
	}
	f := *m.pending
	m.pending = nil
	return f, true
}

// FIFO is a bounded multi-producer single-consumer queue for
// configuration, mode switches, enable/disable, and zeroing commands.
// Send fails with ErrQueueFull on overflow rather than dropping (spec
// §4.6 "reliable FIFO").
type FIFO struct {
	ch chan Frame
}

// NewFIFO constructs a FIFO with the given bounded capacity.
func NewFIFO(capacity int) *FIFO {
	return &FIFO{ch: make(chan Frame, capacity)}
}

// Send enqueues f, returning ErrQueueFull immediately if the FIFO is
// at capacity.
func (q *FIFO) Send(f Frame) error {
	select {
	case q.ch <- f:
		return nil
	default:
		return armcan.ErrQueueFull
	}
}

// Receive blocks until a frame is available or timeout elapses (0
// means no timeout). A closed FIFO (Close
// called) returns armcan.ErrAlreadyDisconnected once drained, letting
// the TX thread exit its blocking receive cleanly on producer
// shutdown (spec §4.5 scenario S5).
func (q *FIFO) Receive(timeout time.Duration) (Frame, error) {
	if timeout <= 0 {
		f, ok := <-q.ch
		if !ok {
			return Frame{}, armcan.ErrAlreadyDisconnected
		}
		return f, nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f, ok := <-q.ch:
		if !ok {
			return Frame{}, armcan.ErrAlreadyDisconnected
		}
		return f, nil
	case <-t.C:
		return Frame{}, armcan.ErrTimeout
	}
}

// TryReceive pops a buffered frame without blocking. ok is false if
// the FIFO is currently empty; disconnected reports whether the FIFO
// has been closed and fully drained.
func (q *FIFO) TryReceive() (f Frame, ok bool, disconnected bool) {
	select {
	case f, open := <-q.ch:
		if !open {
			return Frame{}, false, true
		}
		return f, true, false
	default:
		return Frame{}, false, false
	}
}

// Close signals no further sends will occur; Receive drains remaining
// buffered frames then returns ErrAlreadyDisconnected.
func (q *FIFO) Close() { close(q.ch) }

// queryEntry is one pending one-shot query awaiting a reply.
type queryEntry struct {
	replyCh chan [8]byte
}

// QueryTable correlates configuration-read requests with their reply
// frame by expected response CAN ID. The requester registers a
// one-shot waiter; the RX thread, upon parsing a matching feedback
// frame, fulfills it. Unmatched replies are dropped. Timeouts are the
// caller's responsibility (spec §4.6 "query/ack channel").
type QueryTable struct {
	mu      sync.Mutex
	pending map[uint32]*queryEntry
}

// NewQueryTable constructs an empty QueryTable.
func NewQueryTable() *QueryTable {
	return &QueryTable{pending: make(map[uint32]*queryEntry)}
}

// Await registers a one-shot waiter for replyID and blocks until
// Fulfill delivers a matching reply or timeout elapses.
func (t *QueryTable) Await(replyID uint32, timeout time.Duration) ([8]byte, error) {
	entry := &queryEntry{replyCh: make(chan [8]byte, 1)}
	t.mu.Lock()
	t.pending[replyID] = entry
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.pending[replyID] == entry {
			delete(t.pending, replyID)
		}
		t.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-entry.replyCh:
		return data, nil
	case <-timer.C:
		return [8]byte{}, armcan.ErrTimeout
	}
}

// Fulfill delivers data to the waiter registered for id, if any.
// Unmatched replies (no registered waiter) are dropped, per spec.
func (t *QueryTable) Fulfill(id uint32, data [8]byte) {
	t.mu.Lock()
	entry, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case entry.replyCh <- data:
	default:
	}
}
