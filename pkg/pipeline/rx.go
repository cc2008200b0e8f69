// Package pipeline implements the dual-thread CAN I/O pipeline: RxLoop
// parses frames into the state store, TxLoop drains the command
// channels onto the bus, grounded on the teacher's read/write-loop
// shape in socketcanv3 and the SDO client's request/response
// correlation (spec §4.4, §4.5).
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/armsix/armcan"
	"github.com/armsix/armcan/pkg/can"
	"github.com/armsix/armcan/pkg/command"
	"github.com/armsix/armcan/pkg/protocol"
	"github.com/armsix/armcan/pkg/state"
)

// DefaultGroupTimeout is the independent per-group staleness window
// for the position and pose frame groups (spec §4.4 "default ≈10 ms").
const DefaultGroupTimeout = 10 * time.Millisecond

// DefaultCommitThreshold is the buffered-commit deadline for the
// dynamics and driver-diagnostics groups (spec §4.4 "default 6-10 ms").
const DefaultCommitThreshold = 8 * time.Millisecond

// groupBuffer assembles a fixed-size frame group by reset-on-timeout:
// a late-arriving subframe after the group has gone stale discards the
// rest of the pending state rather than merging with it (spec
// invariant 6, scenario S2).
type groupBuffer[T any] struct {
	pending   T
	mask      uint8
	fullMask  uint8
	lastFrame time.Time
	timeout   time.Duration
}

func newGroupBuffer[T any](fullMask uint8, timeout time.Duration) *groupBuffer[T] {
	return &groupBuffer[T]{fullMask: fullMask, timeout: timeout}
}

// observe resets the pending buffer if the group has gone stale since
// the last contributing frame, then reports whether the caller should
// start from a fresh zero value.
func (g *groupBuffer[T]) observe(now time.Time) (reset bool) {
	if !g.lastFrame.IsZero() && now.Sub(g.lastFrame) > g.timeout {
		var zero T
		g.pending = zero
		g.mask = 0
		reset = true
	}
	g.lastFrame = now
	return reset
}

func (g *groupBuffer[T]) setBit(bit uint) { g.mask |= 1 << bit }
func (g *groupBuffer[T]) full() bool      { return g.mask == g.fullMask }
func (g *groupBuffer[T]) resetMask()      { g.mask = 0 }

// commitBuffer implements the buffered-commit discipline for
// self-contained per-joint frames (dynamics, driver diagnostics):
// commit on full mask OR elapsed-since-first-pending exceeds the
// threshold; the very first commit after startup is accepted
// unconditionally (spec §4.4).
type commitBuffer[T any] struct {
	pending      T
	mask         uint8
	fullMask     uint8
	firstPending time.Time
	lastCommit   time.Time
	threshold    time.Duration
}

func newCommitBuffer[T any](fullMask uint8, threshold time.Duration) *commitBuffer[T] {
	return &commitBuffer[T]{fullMask: fullMask, threshold: threshold}
}

func (c *commitBuffer[T]) onUpdate(now time.Time) {
	if c.mask == 0 {
		c.firstPending = now
	}
}

// shouldCommit reports whether the accumulated state should publish
// now, given the full-mask-or-deadline rule, with the startup
// exception.
func (c *commitBuffer[T]) shouldCommit(now time.Time) bool {
	if c.full() {
		return true
	}
	if c.lastCommit.IsZero() {
		return true // first frame after startup, accept unconditionally
	}
	return now.Sub(c.firstPending) > c.threshold
}

func (c *commitBuffer[T]) full() bool { return c.mask == c.fullMask }

func (c *commitBuffer[T]) commit(now time.Time) T {
	v := c.pending
	c.lastCommit = now
	var zero T
	c.pending = zero
	c.mask = 0
	return v
}

// RxLoop owns frame ingestion: read from the bus, dispatch on CAN ID,
// assemble frame groups, publish to the state store.
type RxLoop struct {
	rx      can.Rx
	store   *state.Store
	queries *command.QueryTable
	logger  *slog.Logger

	position *groupBuffer[state.JointPositionState]
	pose     *groupBuffer[state.EndPoseState]
	dynamic  *commitBuffer[state.JointDynamicState]
	driver   *commitBuffer[state.JointDriverState]

	lastFeedbackCounter   uint8
	haveFeedbackCounter   bool
	feedbackGapThreshold  uint8
}

// NewRxLoop constructs an RxLoop over the given RX half.
func NewRxLoop(rx can.Rx, store *state.Store, queries *command.QueryTable, logger *slog.Logger) *RxLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &RxLoop{
		rx:                   rx,
		store:                store,
		queries:              queries,
		logger:               logger.With("service", "[CAN]", "thread", "rx"),
		position:             newGroupBuffer[state.JointPositionState](0b111, DefaultGroupTimeout),
		pose:                 newGroupBuffer[state.EndPoseState](0b111, DefaultGroupTimeout),
		dynamic:              newCommitBuffer[state.JointDynamicState](0b111111, DefaultCommitThreshold),
		driver:               newCommitBuffer[state.JointDriverState](0b111111, DefaultCommitThreshold),
		feedbackGapThreshold: 8,
	}
}

// Run blocks dispatching frames until ctx is canceled or the adapter
// reports BusOff, at which point it increments the store's fault
// counter (IncFault) and returns ErrBusOff. No separate health flag is
// kept; the fault counter and the returned error are the only signals.
func (r *RxLoop) Run(ctx context.Context) error {
	for {
		if err := r.Step(ctx, 50*time.Millisecond); err != nil {
			return err
		}
	}
}

// Step performs one receive-dispatch cycle, blocking up to timeout for
// the next frame. Run calls this in a loop on its own goroutine;
// CoScheduledLoop calls it from the single goroutine that also drives
// TxLoop.Step, for backends that cannot service RX and TX concurrently
// (spec §5.1 "single-threaded fallback mode").
func (r *RxLoop) Step(ctx context.Context, timeout time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	frame, err := r.rx.Receive(timeout)
	if err != nil {
		if errors.Is(err, armcan.ErrTimeout) {
			return nil
		}
		if errors.Is(err, armcan.ErrBusOff) {
			r.logger.Error("bus-off, terminating rx loop")
			r.store.IncFault()
			return armcan.ErrBusOff
		}
		if errors.Is(err, armcan.ErrBufferOverflow) {
			r.logger.Warn("adapter receive buffer overflow")
			r.store.IncFault()
			return nil
		}
		r.logger.Warn("receive error", "err", err)
		return nil
	}
	r.dispatch(frame)
	return nil
}

// dispatch routes one parsed frame to its handler by CAN ID; unknown
// IDs are logged at trace-equivalent (Debug, Go has no trace level)
// and ignored (spec §4.4 "frame dispatch table").
func (r *RxLoop) dispatch(frame armcan.Frame) {
	now := time.Now()
	hwTs := frame.HWTimestampUs
	id := frame.ID
	data := frame.Data[:frame.Length]

	switch {
	case id == armcan.IDRobotStatus:
		r.handleRobotControl(data, hwTs)
	case id == armcan.IDEndPoseLo || id == armcan.IDEndPoseMid || id == armcan.IDEndPoseHi:
		r.handlePose(id, data, now, hwTs)
	case id == armcan.IDJointPositionLo || id == armcan.IDJointPositionMid || id == armcan.IDJointPositionHi:
		r.handlePosition(id, data, now, hwTs)
	case id == armcan.IDGripperFeedback:
		r.handleGripper(data, hwTs)
	case id >= armcan.IDJointDynamicBase && id <= armcan.IDJointDynamicEnd:
		r.handleDynamic(id, data, now, hwTs)
	case id >= armcan.IDJointDriverBase && id <= armcan.IDJointDriverEnd:
		r.handleDriver(id, data, now, hwTs)
	case id >= armcan.IDJointLimitsBase && id <= armcan.IDJointLimitsBase+5,
		id == armcan.IDJointAccelLimits, id == armcan.IDEndVelocityCaps,
		id == armcan.IDCollisionLevel, id == armcan.IDGripperTeach:
		r.queries.Fulfill(id, frame.Data)
	default:
		r.logger.Debug("unknown frame id, ignored", "id", id)
	}
}

func (r *RxLoop) handlePosition(id uint32, data []byte, now time.Time, hwTs int64) {
	f, err := protocol.DecodeJointPositionFrame(id, data)
	if err != nil {
		r.logger.Warn("joint position decode failed", "err", err)
		r.store.IncDropped()
		return
	}
	if r.position.observe(now) {
		r.logger.Debug("position group timeout, pending discarded")
	}
	lo, hi := f.Slot()
	r.position.pending.Joints[lo] = f.JointA
	r.position.pending.Joints[hi] = f.JointB
	r.position.pending.HWTimestampUs = hwTs
	r.position.setBit(f.Bit())
	if r.position.full() {
		snap := r.position.pending
		snap.FrameValidMask = r.position.mask
		r.store.PublishJointPosition(snap)
		r.position.resetMask()
	}
}

func (r *RxLoop) handlePose(id uint32, data []byte, now time.Time, hwTs int64) {
	f, err := protocol.DecodeEndPoseFrame(id, data)
	if err != nil {
		r.logger.Warn("end pose decode failed", "err", err)
		r.store.IncDropped()
		return
	}
	if r.pose.observe(now) {
		r.logger.Debug("pose group timeout, pending discarded")
	}
	switch id {
	case armcan.IDEndPoseLo:
		r.pose.pending.Pose[0] = f.First
		r.pose.pending.Pose[1] = f.Second
	case armcan.IDEndPoseMid:
		r.pose.pending.Pose[2] = f.First
		r.pose.pending.Pose[3] = f.Second
	case armcan.IDEndPoseHi:
		r.pose.pending.Pose[4] = f.First
		r.pose.pending.Pose[5] = f.Second
	}
	r.pose.pending.HWTimestampUs = hwTs
	r.pose.setBit(protocol.PoseBit(id))
	if r.pose.full() {
		snap := r.pose.pending
		snap.FrameValidMask = r.pose.mask
		r.store.PublishEndPose(snap)
		r.pose.resetMask()
	}
}

func (r *RxLoop) handleDynamic(id uint32, data []byte, now time.Time, hwTs int64) {
	f, err := protocol.DecodeJointDynamicFrame(id, data)
	if err != nil {
		r.logger.Warn("joint dynamic decode failed", "err", err)
		r.store.IncDropped()
		return
	}
	r.dynamic.onUpdate(now)
	idx := f.Joint - 1
	r.dynamic.pending.VelocityRadS[idx] = f.Velocity
	r.dynamic.pending.CurrentA[idx] = f.Current
	r.dynamic.pending.PerJointTimestamp[idx] = hwTs
	r.dynamic.pending.HWTimestampUs = hwTs
	r.dynamic.mask |= 1 << f.Bit()
	if r.dynamic.shouldCommit(now) {
		mask := r.dynamic.mask
		snap := r.dynamic.commit(now)
		snap.ValidMask = mask
		r.store.PublishJointDynamic(snap)
	}
}

func (r *RxLoop) handleDriver(id uint32, data []byte, now time.Time, hwTs int64) {
	f, err := protocol.DecodeJointDriverFrame(id, data)
	if err != nil {
		r.logger.Warn("joint driver decode failed", "err", err)
		r.store.IncDropped()
		return
	}
	if !armcan.JointIndexValid(f.Joint) {
		r.store.IncDropped()
		return
	}
	r.driver.onUpdate(now)
	idx := f.Joint - 1
	r.driver.pending.TempC[idx] = f.TempC
	r.driver.pending.BusVoltageV[idx] = f.BusVoltageV
	r.driver.pending.FaultCode[idx] = f.FaultCode
	r.driver.pending.HWTimestampUs = hwTs
	r.driver.mask |= 1 << uint(idx)
	if r.driver.shouldCommit(now) {
		mask := r.driver.mask
		snap := r.driver.commit(now)
		snap.ValidMask = mask
		r.store.PublishJointDriver(snap)
	}
}

func (r *RxLoop) handleGripper(data []byte, hwTs int64) {
	f, err := protocol.DecodeGripperFeedbackFrame(armcan.IDGripperFeedback, data)
	if err != nil {
		r.logger.Warn("gripper feedback decode failed", "err", err)
		r.store.IncDropped()
		return
	}
	prior, _ := r.store.Gripper()
	r.store.PublishGripper(state.GripperState{
		TravelMm:      f.TravelMm,
		TorqueNm:      f.TorqueNm,
		Status:        f.Status,
		PriorTravelMm: prior.TravelMm,
		HWTimestampUs: hwTs,
	})
}

func (r *RxLoop) handleRobotControl(data []byte, hwTs int64) {
	f, err := protocol.DecodeRobotControlFrame(armcan.IDRobotStatus, data)
	if err != nil {
		r.logger.Warn("robot control decode failed", "err", err)
		r.store.IncDropped()
		return
	}
	if r.haveFeedbackCounter {
		gap := f.FeedbackCounter - r.lastFeedbackCounter
		if gap > r.feedbackGapThreshold {
			r.logger.Warn("feedback counter gap exceeds threshold, link may have stalled",
				"gap", gap, "threshold", r.feedbackGapThreshold)
		}
	}
	r.lastFeedbackCounter = f.FeedbackCounter
	r.haveFeedbackCounter = true

	r.store.PublishRobotControl(state.RobotControlState{
		ControlMode:         f.ControlMode,
		RobotStatus:         f.RobotStatus,
		MoveMode:            f.MoveMode,
		TeachStatus:         f.TeachStatus,
		MotionStatus:        f.MotionStatus,
		TrajectoryIndex:     f.TrajectoryIndex,
		AngleLimitFaultMask: f.AngleLimitFaultMask,
		CommErrorFaultMask:  f.CommErrorFaultMask,
		IsEnabled:           f.IsEnabled(),
		FeedbackCounter:     f.FeedbackCounter,
		HWTimestampUs:       hwTs,
	})
}
