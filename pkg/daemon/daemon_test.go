package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/armsix/armcan"
)

// fakeFrontend is a minimal in-memory Frontend used only to confirm the
// interface contract is implementable without a real transport.
type fakeFrontend struct {
	assigned uint32
	inbox    chan FrameMessage
}

func (f *fakeFrontend) Connect(_ context.Context, req ConnectMessage) (ConnectAck, error) {
	id := req.ClientID
	if id == 0 {
		id = 7 // stand-in for daemon-assigned auto-id
	}
	f.assigned = id
	return ConnectAck{ClientID: id}, nil
}

func (f *fakeFrontend) Send(_ context.Context, msg FrameMessage) error {
	f.inbox <- msg
	return nil
}

func (f *fakeFrontend) Receive(ctx context.Context) (FrameMessage, error) {
	select {
	case m := <-f.inbox:
		return m, nil
	case <-ctx.Done():
		return FrameMessage{}, ctx.Err()
	}
}

func (f *fakeFrontend) Disconnect(_ context.Context) error { return nil }

var _ Frontend = (*fakeFrontend)(nil)

func TestConnectMessageZeroClientIDRequestsAutoAssignment(t *testing.T) {
	f := &fakeFrontend{inbox: make(chan FrameMessage, 1)}
	ack, err := f.Connect(context.Background(), ConnectMessage{ClientID: 0, Interface: "virtual"})
	assert.NoError(t, err)
	assert.EqualValues(t, 7, ack.ClientID)
}

func TestFrameMessageRoundTripsThroughFrontend(t *testing.T) {
	f := &fakeFrontend{inbox: make(chan FrameMessage, 1)}
	ctx := context.Background()
	_, err := f.Connect(ctx, ConnectMessage{ClientID: 3})
	assert.NoError(t, err)

	want := FrameMessage{ClientID: 3, Frame: armcan.NewFrame(0x2A1, []byte{1, 2, 3})}
	assert.NoError(t, f.Send(ctx, want))

	got, err := f.Receive(ctx)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}
