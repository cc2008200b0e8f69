// Package daemon defines the socket-facing contract for sharing one
// CAN adapter across multiple client processes: an interface and wire
// message types only. No network server is implemented here — the
// core pipeline depends solely on pkg/can.Bus, so a daemon client
// satisfying Frontend is a drop-in backend exactly like pkg/can/virtual
// is today (spec §6.4, grounded on the teacher's BaseGateway contract
// in gateway.go, which separates protocol framing from the underlying
// network transport the same way).
package daemon

import (
	"context"

	"github.com/armsix/armcan"
)

// ConnectMessage is the first message a client sends on a new
// connection. ClientID of 0 requests auto-assignment; the daemon
// replies with the assigned id in the corresponding ConnectAck (spec
// §6.4 "sending id=0 in a Connect message opts into auto-assignment").
type ConnectMessage struct {
	ClientID   uint32
	Interface  string
	BitrateBps int
}

// ConnectAck is the daemon's reply to ConnectMessage.
type ConnectAck struct {
	ClientID uint32
	Err      string // empty on success
}

// FrameMessage relays one opaque CAN frame in either direction over an
// established connection.
type FrameMessage struct {
	ClientID uint32
	Frame    armcan.Frame
}

// Frontend is the contract a daemon client implementation must satisfy
// to serve as a pkg/can.Bus-equivalent backend for the core pipeline.
// This package defines the contract only; transport (unix socket, TCP,
// websocket) and the server side mediating multiple clients against one
// physical adapter are out of scope for this module (spec §6.4
// "optional daemon boundary (out of core but specified)").
type Frontend interface {
	// Connect performs the handshake described by ConnectMessage and
	// returns the daemon-assigned client id.
	Connect(ctx context.Context, req ConnectMessage) (ConnectAck, error)

	// Send relays one frame to the daemon for transmission.
	Send(ctx context.Context, msg FrameMessage) error

	// Receive blocks for the next frame relayed to this client.
	Receive(ctx context.Context) (FrameMessage, error)

	// Disconnect tears down the client's daemon session.
	Disconnect(ctx context.Context) error
}
