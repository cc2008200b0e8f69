// Package state implements the hot/cold state store: hot feedback
// snapshots are published via atomic pointer swap and read wait-free;
// cold configuration is guarded by a non-blocking-writer semaphore
// layered over sync.RWMutex, grounded on the teacher's discipline of
// never letting the RX thread block on a configuration reader (spec
// §4.3).
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/armsix/armcan/pkg/protocol"
)

// JointPositionState is the published snapshot for 0x2A5-0x2A7.
type JointPositionState struct {
	Joints            [6]float32 // radians
	HWTimestampUs     int64
	SystemTimestampUs int64
	FrameValidMask    uint8 // bits 0-2
}

// EndPoseState is the published snapshot for 0x2A2-0x2A4.
type EndPoseState struct {
	Pose              [6]float32 // x,y,z (m), rx,ry,rz (rad)
	HWTimestampUs     int64
	SystemTimestampUs int64
	FrameValidMask    uint8 // bits 0-2
}

// JointDynamicState is the published snapshot for 0x251-0x256.
type JointDynamicState struct {
	VelocityRadS      [6]float32
	CurrentA          [6]float32
	PerJointTimestamp [6]int64
	HWTimestampUs     int64
	SystemTimestampUs int64
	ValidMask         uint8 // bits 0-5
}

// JointDriverState is the published snapshot for 0x261-0x266
// (SPEC_FULL.md §3.5, supplemented).
type JointDriverState struct {
	TempC             [6]int8
	BusVoltageV       [6]float32
	FaultCode         [6]uint8
	HWTimestampUs     int64
	SystemTimestampUs int64
	ValidMask         uint8 // bits 0-5
}

// RobotControlState is the published snapshot for 0x2A1.
type RobotControlState struct {
	ControlMode         protocol.ControlMode
	RobotStatus         protocol.RobotStatus
	MoveMode            protocol.MoveMode
	TeachStatus         protocol.TeachStatus
	MotionStatus        protocol.MotionStatus
	TrajectoryIndex     uint8
	AngleLimitFaultMask uint8
	CommErrorFaultMask  uint8
	IsEnabled           bool
	FeedbackCounter     uint8
	HWTimestampUs       int64
	SystemTimestampUs   int64
}

// GripperState is the published snapshot for 0x2A8.
type GripperState struct {
	TravelMm          float32
	TorqueNm          float32
	Status            uint8
	PriorTravelMm     float32
	HWTimestampUs     int64
	SystemTimestampUs int64
}

// JointLimits is one joint's cold angle-limit configuration.
type JointLimits struct {
	MinRad float32
	MaxRad float32
}

// ColdConfig is the slow-changing configuration the state store
// mediates with a non-blocking-writer discipline (spec §3.3, §4.3).
type ColdConfig struct {
	JointLimits     [6]JointLimits
	JointLimitsMask uint8 // per-joint valid mask
	MaxVelocityRadS float32
	MaxAccelRadS2   float32
	MaxLinearMmS    float32
	MaxAngularRadS  float32
	CollisionLevel  protocol.CollisionLevel
	TeachThreshold  float32
	TeachAutoRelease bool
}

// Category names a hot state kind for change-notification subscription
// (spec §4.8 "subscription to a change-notification channel for state
// categories").
type Category string

const (
	CategoryJointPosition Category = "joint_position"
	CategoryEndPose       Category = "end_pose"
	CategoryJointDynamic  Category = "joint_dynamic"
	CategoryJointDriver   Category = "joint_driver"
	CategoryRobotControl  Category = "robot_control"
	CategoryGripper       Category = "gripper"
)

// Store is the pipeline-owned state store. Readers obtain a Store via
// Observer (pkg/robot), never a mutable reference.
type Store struct {
	jointPosition atomic.Pointer[JointPositionState]
	endPose       atomic.Pointer[EndPoseState]
	jointDynamic  atomic.Pointer[JointDynamicState]
	jointDriver   atomic.Pointer[JointDriverState]
	robotControl  atomic.Pointer[RobotControlState]
	gripper       atomic.Pointer[GripperState]

	coldMu   sync.RWMutex
	cold     ColdConfig
	coldSem  chan struct{} // capacity 1, guards non-blocking writer acquisition

	subMu       sync.Mutex
	subscribers map[Category][]chan struct{}

	frameCounter  atomic.Uint64
	faultCounter  atomic.Uint64
	droppedCount  atomic.Uint64
}

// New constructs an empty Store; every hot getter returns ok=false
// until the first publication (spec invariant 1: hw_timestamp_us==0
// means "never received").
func New() *Store {
	s := &Store{coldSem: make(chan struct{}, 1), subscribers: make(map[Category][]chan struct{})}
	s.coldSem <- struct{}{}
	return s
}

// Subscribe registers for change notifications on category. The
// returned channel is buffered to depth 1 and drops the oldest pending
// notification on overflow rather than blocking the publisher (spec
// §4.8). cancel unregisters the channel; callers should always defer it.
func (s *Store) Subscribe(category Category) (ch <-chan struct{}, cancel func()) {
	c := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subscribers[category] = append(s.subscribers[category], c)
	s.subMu.Unlock()

	cancel = func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		subs := s.subscribers[category]
		for i, existing := range subs {
			if existing == c {
				s.subscribers[category] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return c, cancel
}

// notify wakes every subscriber of category, evicting a stale pending
// notification first so the newest publication is never starved behind
// one the subscriber hasn't consumed yet.
func (s *Store) notify(category Category) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, c := range s.subscribers[category] {
		select {
		case c <- struct{}{}:
		default:
			select {
			case <-c:
			default:
			}
			select {
			case c <- struct{}{}:
			default:
			}
		}
	}
}

// PublishJointPosition atomically swaps in a new snapshot.
func (s *Store) PublishJointPosition(v JointPositionState) {
	v.SystemTimestampUs = time.Now().UnixMicro()
	s.jointPosition.Store(&v)
	s.frameCounter.Add(1)
	s.notify(CategoryJointPosition)
}

// JointPosition returns the last published snapshot. ok is false if
// nothing has ever been published.
func (s *Store) JointPosition() (JointPositionState, bool) {
	p := s.jointPosition.Load()
	if p == nil {
		return JointPositionState{}, false
	}
	return *p, true
}

// JointPositionValid returns the snapshot only if its frame_valid_mask
// is full (spec §3.3 invariant 2 "valid-only getters").
func (s *Store) JointPositionValid() (JointPositionState, bool) {
	v, ok := s.JointPosition()
	if !ok || v.FrameValidMask != 0b111 {
		return JointPositionState{}, false
	}
	return v, true
}

func (s *Store) PublishEndPose(v EndPoseState) {
	v.SystemTimestampUs = time.Now().UnixMicro()
	s.endPose.Store(&v)
	s.frameCounter.Add(1)
	s.notify(CategoryEndPose)
}

func (s *Store) EndPose() (EndPoseState, bool) {
	p := s.endPose.Load()
	if p == nil {
		return EndPoseState{}, false
	}
	return *p, true
}

func (s *Store) EndPoseValid() (EndPoseState, bool) {
	v, ok := s.EndPose()
	if !ok || v.FrameValidMask != 0b111 {
		return EndPoseState{}, false
	}
	return v, true
}

func (s *Store) PublishJointDynamic(v JointDynamicState) {
	v.SystemTimestampUs = time.Now().UnixMicro()
	s.jointDynamic.Store(&v)
	s.frameCounter.Add(1)
	s.notify(CategoryJointDynamic)
}

func (s *Store) JointDynamic() (JointDynamicState, bool) {
	p := s.jointDynamic.Load()
	if p == nil {
		return JointDynamicState{}, false
	}
	return *p, true
}

func (s *Store) PublishJointDriver(v JointDriverState) {
	v.SystemTimestampUs = time.Now().UnixMicro()
	s.jointDriver.Store(&v)
	s.frameCounter.Add(1)
	s.notify(CategoryJointDriver)
}

func (s *Store) JointDriver() (JointDriverState, bool) {
	p := s.jointDriver.Load()
	if p == nil {
		return JointDriverState{}, false
	}
	return *p, true
}

func (s *Store) PublishRobotControl(v RobotControlState) {
	v.SystemTimestampUs = time.Now().UnixMicro()
	s.robotControl.Store(&v)
	s.frameCounter.Add(1)
	s.notify(CategoryRobotControl)
}

func (s *Store) RobotControl() (RobotControlState, bool) {
	p := s.robotControl.Load()
	if p == nil {
		return RobotControlState{}, false
	}
	return *p, true
}

func (s *Store) PublishGripper(v GripperState) {
	v.SystemTimestampUs = time.Now().UnixMicro()
	s.gripper.Store(&v)
	s.frameCounter.Add(1)
	s.notify(CategoryGripper)
}

func (s *Store) Gripper() (GripperState, bool) {
	p := s.gripper.Load()
	if p == nil {
		return GripperState{}, false
	}
	return *p, true
}

// ColdConfig returns a copy of the current cold configuration.
func (s *Store) ColdConfig() ColdConfig {
	s.coldMu.RLock()
	defer s.coldMu.RUnlock()
	return s.cold
}

// TryUpdateColdConfig attempts a non-blocking write; it returns false
// immediately if another writer currently holds the single writer
// slot, rather than blocking the caller (spec §4.3 "non-blocking
// writer acquisition").
func (s *Store) TryUpdateColdConfig(fn func(*ColdConfig)) bool {
	select {
	case <-s.coldSem:
	default:
		return false
	}
	defer func() { s.coldSem <- struct{}{} }()

	s.coldMu.Lock()
	defer s.coldMu.Unlock()
	fn(&s.cold)
	return true
}

// writerBusy reports whether the cold-config writer slot is currently
// held, without blocking. Exposed for tests exercising the
// non-blocking-acquisition discipline.
func (s *Store) writerBusy() bool {
	select {
	case <-s.coldSem:
		s.coldSem <- struct{}{}
		return false
	default:
		return true
	}
}

// IncFault records a fault/error-frame observation (spec §4.4 "counter
// increments").
func (s *Store) IncFault() { s.faultCounter.Add(1) }

// FaultCount returns the cumulative fault counter.
func (s *Store) FaultCount() uint64 { return s.faultCounter.Load() }

// IncDropped records a frame dropped for index validation or decode
// failure.
func (s *Store) IncDropped() { s.droppedCount.Add(1) }

// DroppedCount returns the cumulative dropped-frame counter.
func (s *Store) DroppedCount() uint64 { return s.droppedCount.Load() }

// FrameCount returns the cumulative count of published frame groups.
func (s *Store) FrameCount() uint64 { return s.frameCounter.Load() }

// MotionSnapshot is the composite getter spec §4.8 requires: every hot
// state gathered in one wait-free call. Each state is loaded
// separately, so the result is not a globally consistent snapshot;
// callers needing consistency compare the HWTimestampUs values.
type MotionSnapshot struct {
	JointPosition JointPositionState
	EndPose       EndPoseState
	JointDynamic  JointDynamicState
	JointDriver   JointDriverState
	RobotControl  RobotControlState
	Gripper       GripperState
}

// Motion gathers all hot state into one MotionSnapshot. Entries never
// published are left as their zero value (HWTimestampUs == 0).
func (s *Store) Motion() MotionSnapshot {
	var snap MotionSnapshot
	if v, ok := s.JointPosition(); ok {
		snap.JointPosition = v
	}
	if v, ok := s.EndPose(); ok {
		snap.EndPose = v
	}
	if v, ok := s.JointDynamic(); ok {
		snap.JointDynamic = v
	}
	if v, ok := s.JointDriver(); ok {
		snap.JointDriver = v
	}
	if v, ok := s.RobotControl(); ok {
		snap.RobotControl = v
	}
	if v, ok := s.Gripper(); ok {
		snap.Gripper = v
	}
	return snap
}
