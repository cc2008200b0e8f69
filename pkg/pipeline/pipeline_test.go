package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armsix/armcan"
	"github.com/armsix/armcan/pkg/can"
	"github.com/armsix/armcan/pkg/can/virtual"
	"github.com/armsix/armcan/pkg/command"
	"github.com/armsix/armcan/pkg/protocol"
	"github.com/armsix/armcan/pkg/state"
)

func newHarness(t *testing.T) (*virtual.Bus, can.Rx, can.Tx, *state.Store, *RxLoop) {
	t.Helper()
	bus := virtual.New().(*virtual.Bus)
	require.NoError(t, bus.Open(context.Background(), "virtual0", 1000000, false))
	rx, tx, err := bus.Split()
	require.NoError(t, err)
	store := state.New()
	queries := command.NewQueryTable()
	loop := NewRxLoop(rx, store, queries, nil)
	return bus, rx, tx, store, loop
}

func frame(id uint32, data [8]byte) armcan.Frame {
	return armcan.NewFrame(id, data[:])
}

func TestS1PositionGroupAssembly(t *testing.T) {
	bus, _, _, store, loop := newHarness(t)

	lo := protocol.JointPositionFrame{ID: armcan.IDJointPositionLo, JointA: 0.10, JointB: 0.20}.Encode()
	mid := protocol.JointPositionFrame{ID: armcan.IDJointPositionMid, JointA: 0.30, JointB: 0.40}.Encode()
	hi := protocol.JointPositionFrame{ID: armcan.IDJointPositionHi, JointA: 0.50, JointB: 0.60}.Encode()

	require.NoError(t, bus.Inject(frame(armcan.IDJointPositionLo, lo)))
	require.NoError(t, bus.Inject(frame(armcan.IDJointPositionMid, mid)))
	require.NoError(t, bus.Inject(frame(armcan.IDJointPositionHi, hi)))

	for i := 0; i < 3; i++ {
		f, err := loop.rx.Receive(time.Second)
		require.NoError(t, err)
		loop.dispatch(f)
	}

	snap, ok := store.JointPositionValid()
	require.True(t, ok)
	assert.InDeltaSlice(t, []float32{0.10, 0.20, 0.30, 0.40, 0.50, 0.60}, snap.Joints[:], 0.001)
	assert.EqualValues(t, 0b111, snap.FrameValidMask)
}

func TestS2PartialGroupTimeout(t *testing.T) {
	_, _, _, store, loop := newHarness(t)

	lo := protocol.JointPositionFrame{ID: armcan.IDJointPositionLo, JointA: 0.10, JointB: 0.20}.Encode()
	mid := protocol.JointPositionFrame{ID: armcan.IDJointPositionMid, JointA: 0.30, JointB: 0.40}.Encode()

	loop.position.lastFrame = time.Now().Add(-15 * time.Millisecond)
	loop.handlePosition(armcan.IDJointPositionLo, lo[:], time.Now().Add(-15*time.Millisecond), 1000)
	loop.handlePosition(armcan.IDJointPositionMid, mid[:], time.Now().Add(-15*time.Millisecond), 1200)

	// Fresh 0x2A5 arrives after the group has gone stale: the stale mid
	// data must be discarded, not merged.
	lo2 := protocol.JointPositionFrame{ID: armcan.IDJointPositionLo, JointA: 0.11, JointB: 0.21}.Encode()
	loop.handlePosition(armcan.IDJointPositionLo, lo2[:], time.Now(), 2000)

	_, ok := store.JointPositionValid()
	assert.False(t, ok, "group must not be complete: only the fresh 0x2A5 should be pending")
}

func TestS3RealtimeMailboxOverwrite(t *testing.T) {
	mailbox := command.NewMailbox()
	mailbox.Write(command.Frame{ID: armcan.IDJointTargetLo, Data: [8]byte{1}})
	mailbox.Write(command.Frame{ID: armcan.IDJointTargetLo, Data: [8]byte{2}})
	mailbox.Write(command.Frame{ID: armcan.IDJointTargetLo, Data: [8]byte{3}})

	f, ok := mailbox.Take()
	require.True(t, ok)
	assert.Equal(t, byte(3), f.Data[0], "only the last write must ever reach the bus")

	_, ok = mailbox.Take()
	assert.False(t, ok)
}

func TestS5TxLoopExitsOnFIFODisconnect(t *testing.T) {
	bus := virtual.New().(*virtual.Bus)
	require.NoError(t, bus.Open(context.Background(), "virtual0", 1000000, false))
	_, tx, err := bus.Split()
	require.NoError(t, err)

	fifo := command.NewFIFO(4)
	mailbox := command.NewMailbox()
	txLoop := NewTxLoop(tx, mailbox, fifo, nil)

	done := make(chan error, 1)
	go func() { done <- txLoop.Run(context.Background()) }()

	fifo.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, armcan.ErrAlreadyDisconnected)
	case <-time.After(time.Second):
		t.Fatal("tx loop did not exit within one iteration of fifo disconnect")
	}
}

func TestS6UnknownEnumValueDoesNotUpdateState(t *testing.T) {
	_, _, _, store, loop := newHarness(t)

	data := [8]byte{0xFE, 0x00, 0x00, 0, 0, 0, 0, 0}
	loop.handleRobotControl(data[:], time.Now().UnixMicro())

	_, ok := store.RobotControl()
	assert.False(t, ok, "robot control state must not be updated on an undefined enum value")
	assert.EqualValues(t, 1, store.DroppedCount())
}

func TestIndexValidationNeverMutatesWrongJoint(t *testing.T) {
	_, _, _, store, loop := newHarness(t)

	// In-band joint byte out of [1,6]: must be dropped, never saturated.
	var bad [8]byte
	bad[0] = 9
	loop.handleDriver(armcan.IDJointDriverBase, bad[:], time.Now(), 1000)

	_, ok := store.JointDriver()
	assert.False(t, ok)
	assert.EqualValues(t, 1, store.DroppedCount())
}

func TestCoScheduledLoopDrivesBothDirectionsFromOneGoroutine(t *testing.T) {
	bus := virtual.New().(*virtual.Bus)
	require.NoError(t, bus.Open(context.Background(), "virtual0", 1000000, false))
	rx, tx, err := bus.Split()
	require.NoError(t, err)

	store := state.New()
	queries := command.NewQueryTable()
	rxLoop := NewRxLoop(rx, store, queries, nil)

	fifo := command.NewFIFO(4)
	mailbox := command.NewMailbox()
	txLoop := NewTxLoop(tx, mailbox, fifo, nil)

	sent := make(chan armcan.Frame, 1)
	bus.SetSendHook(func(f armcan.Frame) { sent <- f })

	loop := NewCoScheduledLoop(rxLoop, txLoop)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	mailbox.Write(command.Frame{ID: armcan.IDJointTargetLo, Data: [8]byte{0xFE}})

	select {
	case f := <-sent:
		assert.Equal(t, armcan.IDJointTargetLo, f.ID)
	case <-time.After(time.Second):
		t.Fatal("co-scheduled loop never drained the mailbox onto the bus")
	}

	robotStatus := protocol.RobotControlFrame{ControlMode: protocol.ControlModeMit, RobotStatus: protocol.RobotStatusEnabled, FeedbackCounter: 5}.Encode()
	require.NoError(t, bus.Inject(frame(armcan.IDRobotStatus, robotStatus)))

	require.Eventually(t, func() bool {
		_, ok := store.RobotControl()
		return ok
	}, time.Second, time.Millisecond, "co-scheduled loop never dispatched the injected frame")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("co-scheduled loop did not exit after cancel")
	}
}

func TestFrameGroupIsolationPoseAndPositionIndependent(t *testing.T) {
	_, _, _, store, loop := newHarness(t)

	// Force the position group to time out...
	loop.position.lastFrame = time.Now().Add(-15 * time.Millisecond)
	lo := protocol.JointPositionFrame{ID: armcan.IDJointPositionLo, JointA: 0.1, JointB: 0.2}.Encode()
	loop.handlePosition(armcan.IDJointPositionLo, lo[:], time.Now(), 1000)

	// ...while independently completing the pose group in full.
	poseLo := protocol.EndPoseFrame{ID: armcan.IDEndPoseLo, First: 0.01, Second: 0.02}.Encode()
	poseMid := protocol.EndPoseFrame{ID: armcan.IDEndPoseMid, First: 0.03, Second: 0.04}.Encode()
	poseHi := protocol.EndPoseFrame{ID: armcan.IDEndPoseHi, First: 0.05, Second: 0.06}.Encode()
	loop.handlePose(armcan.IDEndPoseLo, poseLo[:], time.Now(), 1000)
	loop.handlePose(armcan.IDEndPoseMid, poseMid[:], time.Now(), 1000)
	loop.handlePose(armcan.IDEndPoseHi, poseHi[:], time.Now(), 1000)

	_, posOk := store.JointPositionValid()
	assert.False(t, posOk, "position group reset by its own timeout")

	poseSnap, poseOk := store.EndPoseValid()
	require.True(t, poseOk, "pose group must complete independently of position's timeout")
	assert.EqualValues(t, 0b111, poseSnap.FrameValidMask)
}
