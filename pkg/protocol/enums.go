package protocol

import "github.com/armsix/armcan"

// ControlMode is the robot's active motion-control mode, carried in
// robot-status feedback (0x2A1) and selected via the mode-select
// command (spec §3.2).
type ControlMode uint8

const (
	ControlModeStandby  ControlMode = 0x00
	ControlModePosition ControlMode = 0x01
	ControlModeMit      ControlMode = 0x02
	ControlModeTeach    ControlMode = 0x03
)

// ParseControlMode fallibly decodes a control-mode byte. Unknown
// values return ErrInvalidEnumValue rather than defaulting to
// ControlModeStandby (spec §4.2 "unknown values yield InvalidEnumValue
// rather than silently defaulting to variant zero").
func ParseControlMode(b byte) (ControlMode, error) {
	switch ControlMode(b) {
	case ControlModeStandby, ControlModePosition, ControlModeMit, ControlModeTeach:
		return ControlMode(b), nil
	default:
		return 0, armcan.ErrInvalidEnumValue
	}
}

// RobotStatus is the coarse operating status reported in 0x2A1.
type RobotStatus uint8

const (
	RobotStatusDisabled RobotStatus = 0x00
	RobotStatusEnabled  RobotStatus = 0x01
	RobotStatusFault    RobotStatus = 0x02
	RobotStatusEStop    RobotStatus = 0x03
)

func ParseRobotStatus(b byte) (RobotStatus, error) {
	switch RobotStatus(b) {
	case RobotStatusDisabled, RobotStatusEnabled, RobotStatusFault, RobotStatusEStop:
		return RobotStatus(b), nil
	default:
		return 0, armcan.ErrInvalidEnumValue
	}
}

// MoveMode selects how joint/pose targets are interpolated.
type MoveMode uint8

const (
	MoveModeJoint     MoveMode = 0x00
	MoveModeLinear    MoveMode = 0x01
	MoveModeCircular  MoveMode = 0x02
)

func ParseMoveMode(b byte) (MoveMode, error) {
	switch MoveMode(b) {
	case MoveModeJoint, MoveModeLinear, MoveModeCircular:
		return MoveMode(b), nil
	default:
		return 0, armcan.ErrInvalidEnumValue
	}
}

// TeachStatus reports whether the arm is under teach-by-demonstration.
type TeachStatus uint8

const (
	TeachStatusInactive TeachStatus = 0x00
	TeachStatusActive   TeachStatus = 0x01
	TeachStatusPaused   TeachStatus = 0x02
)

func ParseTeachStatus(b byte) (TeachStatus, error) {
	switch TeachStatus(b) {
	case TeachStatusInactive, TeachStatusActive, TeachStatusPaused:
		return TeachStatus(b), nil
	default:
		return 0, armcan.ErrInvalidEnumValue
	}
}

// MotionStatus reports whether the arm is currently moving along a
// trajectory, holding, or idle.
type MotionStatus uint8

const (
	MotionStatusIdle    MotionStatus = 0x00
	MotionStatusMoving  MotionStatus = 0x01
	MotionStatusHolding MotionStatus = 0x02
)

func ParseMotionStatus(b byte) (MotionStatus, error) {
	switch MotionStatus(b) {
	case MotionStatusIdle, MotionStatusMoving, MotionStatusHolding:
		return MotionStatus(b), nil
	default:
		return 0, armcan.ErrInvalidEnumValue
	}
}
