package robot

import "github.com/armsix/armcan/pkg/state"

// Observer is a read-only handle on a connection's state store: freely
// copyable and safe for concurrent use from multiple goroutines, since
// every method it exposes is one of the store's wait-free getters
// (spec §4.8). It never exposes publication or cold-config-write
// methods, unlike the *state.Store it wraps.
type Observer struct {
	store *state.Store
}

func newObserver(store *state.Store) Observer { return Observer{store: store} }

// JointPosition returns the last published joint-position snapshot.
func (o Observer) JointPosition() (state.JointPositionState, bool) { return o.store.JointPosition() }

// JointPositionValid returns the snapshot only when every sub-frame in
// the group has landed.
func (o Observer) JointPositionValid() (state.JointPositionState, bool) {
	return o.store.JointPositionValid()
}

// EndPose returns the last published end-effector pose snapshot.
func (o Observer) EndPose() (state.EndPoseState, bool) { return o.store.EndPose() }

// EndPoseValid returns the snapshot only when every sub-frame in the
// group has landed.
func (o Observer) EndPoseValid() (state.EndPoseState, bool) { return o.store.EndPoseValid() }

// JointDynamic returns the last committed per-joint dynamics snapshot.
func (o Observer) JointDynamic() (state.JointDynamicState, bool) { return o.store.JointDynamic() }

// JointDriver returns the last committed per-joint driver-diagnostics
// snapshot.
func (o Observer) JointDriver() (state.JointDriverState, bool) { return o.store.JointDriver() }

// RobotControl returns the last published robot-control snapshot.
func (o Observer) RobotControl() (state.RobotControlState, bool) { return o.store.RobotControl() }

// Gripper returns the last published gripper snapshot.
func (o Observer) Gripper() (state.GripperState, bool) { return o.store.Gripper() }

// ColdConfig returns a copy of the current cold configuration.
func (o Observer) ColdConfig() state.ColdConfig { return o.store.ColdConfig() }

// Motion gathers every hot state kind into one composite snapshot
// (spec §4.8 "composite motion-snapshot getter").
func (o Observer) Motion() state.MotionSnapshot { return o.store.Motion() }

// FaultCount returns the cumulative fault counter.
func (o Observer) FaultCount() uint64 { return o.store.FaultCount() }

// DroppedCount returns the cumulative dropped-frame counter.
func (o Observer) DroppedCount() uint64 { return o.store.DroppedCount() }

// Subscribe registers for change notifications on category, with
// bounded buffering that drops the oldest pending notification on
// overflow rather than blocking the publisher (spec §4.8). The
// returned cancel func must be called when the subscription is no
// longer needed.
func (o Observer) Subscribe(category state.Category) (<-chan struct{}, func()) {
	return o.store.Subscribe(category)
}
