// Package can defines the adapter contract shared by every CAN backend
// (socketcan, usbcan, virtual) and a small plugin registry so a backend
// can be selected by name at Open time, grounded on the teacher's
// init()-based RegisterInterface pattern.
package can

import (
	"context"
	"fmt"
	"time"

	"github.com/armsix/armcan"
)

// Bus is the uniform send/receive contract a backend must satisfy
// before it is split into RX/TX halves (spec §4.1).
type Bus interface {
	// Open starts the adapter against the given interface/serial at the
	// given bitrate. realtime requests short TX timeouts and, where the
	// backend supports it, RX-thread priority elevation.
	Open(ctx context.Context, ifaceOrSerial string, bitrate int, realtime bool) error

	// Send transmits one frame, fire-and-forget.
	Send(frame armcan.Frame) error

	// Receive blocks for up to timeout waiting for the next frame.
	Receive(timeout time.Duration) (armcan.Frame, error)

	// Split divides a started adapter into independent RX/TX halves.
	// The original Bus must not be used again afterward.
	Split() (Rx, Tx, error)

	// Close releases the adapter. Safe to call more than once.
	Close() error
}

// Rx is the receive-only half of a split adapter.
type Rx interface {
	Receive(timeout time.Duration) (armcan.Frame, error)
	Close() error
}

// Tx is the transmit-only half of a split adapter.
type Tx interface {
	Send(frame armcan.Frame) error
	Close() error
}

// HealthScorer is an optional sub-interface a backend may implement to
// expose link-quality telemetry (spec §4.1, USB bridge bullet list).
type HealthScorer interface {
	Health() HealthScore
}

// ConcurrentCapable is an optional sub-interface a backend may
// implement when it can only determine at Open time whether its split
// RX/TX halves tolerate being driven from separate goroutines.
// ConcurrentSplit reports the outcome of that check; false means a
// caller must co-schedule both halves from a single goroutine instead
// (spec §4.1, §5.1, §9.1). A backend that does not implement this
// interface is assumed concurrent-safe.
type ConcurrentCapable interface {
	ConcurrentSplit() bool
}

// HealthScore is a snapshot of adapter link quality.
type HealthScore struct {
	BusOffEvents    uint64
	ErrorPassive    bool
	EndpointStalls  uint64
	RxFPS           float64
	RxFPSBaseline   float64 // EWMA baseline
}

// NewFunc constructs a fresh, unopened Bus for a backend name.
type NewFunc func() Bus

var registry = make(map[string]NewFunc)

// RegisterInterface makes a backend constructor available under name.
// Backends call this from an init() function, e.g.:
//
//	func init() { can.RegisterInterface("socketcan", New) }
func RegisterInterface(name string, ctor NewFunc) {
	registry[name] = ctor
}

// Registered lists the backend names currently registered.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// New constructs a Bus for the named backend.
func New(name string) (Bus, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("can: unregistered backend %q (have: %v)", name, Registered())
	}
	return ctor(), nil
}
