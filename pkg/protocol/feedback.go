package protocol

import (
	"fmt"

	"github.com/armsix/armcan"
)

// RobotControlFrame is the decoded payload of 0x2A1. move_mode,
// teach_status, and motion_status are LSB-first bit-packed two bits
// each into byte 2, freeing a byte for the link-freeze feedback
// counter (spec §3.3 RobotControlState, §3.2).
type RobotControlFrame struct {
	ControlMode        ControlMode
	RobotStatus        RobotStatus
	MoveMode           MoveMode
	TeachStatus        TeachStatus
	MotionStatus       MotionStatus
	TrajectoryIndex    uint8
	AngleLimitFaultMask uint8 // bit i (LSB-first) = joint i+1
	CommErrorFaultMask  uint8 // bit i (LSB-first) = joint i+1
	FeedbackCounter     uint8 // monotone modulo 256
}

// DecodeRobotControlFrame validates id/length then fallibly decodes
// every enumerated field (spec §4.2: ID/length checked first; unknown
// enum values fail rather than defaulting to zero).
func DecodeRobotControlFrame(id uint32, data []byte) (RobotControlFrame, error) {
	if id != armcan.IDRobotStatus {
		return RobotControlFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return RobotControlFrame{}, armcan.ErrInvalidLength
	}
	controlMode, err := ParseControlMode(data[0])
	if err != nil {
		return RobotControlFrame{}, fmt.Errorf("control_mode: %w", err)
	}
	status, err := ParseRobotStatus(data[1])
	if err != nil {
		return RobotControlFrame{}, fmt.Errorf("robot_status: %w", err)
	}
	moveMode, err := ParseMoveMode(bitsLSB(data[2], 0, 2))
	if err != nil {
		return RobotControlFrame{}, fmt.Errorf("move_mode: %w", err)
	}
	teachStatus, err := ParseTeachStatus(bitsLSB(data[2], 2, 2))
	if err != nil {
		return RobotControlFrame{}, fmt.Errorf("teach_status: %w", err)
	}
	motionStatus, err := ParseMotionStatus(bitsLSB(data[2], 4, 2))
	if err != nil {
		return RobotControlFrame{}, fmt.Errorf("motion_status: %w", err)
	}
	return RobotControlFrame{
		ControlMode:         controlMode,
		RobotStatus:         status,
		MoveMode:            moveMode,
		TeachStatus:         teachStatus,
		MotionStatus:        motionStatus,
		TrajectoryIndex:     data[3],
		AngleLimitFaultMask: data[4],
		CommErrorFaultMask:  data[5],
		FeedbackCounter:     data[6],
	}, nil
}

// Encode is total up to the domain constraints of its enumerated
// fields (spec §4.2 "Encoding is total").
func (f RobotControlFrame) Encode() [8]byte {
	var data [8]byte
	data[0] = byte(f.ControlMode)
	data[1] = byte(f.RobotStatus)
	setBitsLSB(&data[2], 0, 2, byte(f.MoveMode))
	setBitsLSB(&data[2], 2, 2, byte(f.TeachStatus))
	setBitsLSB(&data[2], 4, 2, byte(f.MotionStatus))
	data[3] = f.TrajectoryIndex
	data[4] = f.AngleLimitFaultMask
	data[5] = f.CommErrorFaultMask
	data[6] = f.FeedbackCounter
	return data
}

// IsEnabled derives RobotControlState.is_enabled (spec §3.3).
func (f RobotControlFrame) IsEnabled() bool {
	return f.RobotStatus == RobotStatusEnabled
}

// EndPoseFrame is one of the three 0x2A2-0x2A4 pose sub-frames, each
// carrying two float fields in millimeters (translation) or
// milliradians (rotation), big-endian int16 fixed point.
type EndPoseFrame struct {
	ID     uint32
	First  float32 // x, z, or ry depending on ID
	Second float32 // y, rx, or rz depending on ID
}

func poseFrameKind(id uint32) (translation bool, ok bool) {
	switch id {
	case armcan.IDEndPoseLo:
		return true, true // x, y (mm)
	case armcan.IDEndPoseMid:
		return false, true // z (mm) ... but also rx (rad); mixed, handled below
	case armcan.IDEndPoseHi:
		return false, true // ry, rz (rad)
	default:
		return false, false
	}
}

// DecodeEndPoseFrame decodes one pose sub-frame. 0x2A2 carries [x,y] in
// mm; 0x2A3 carries [z in mm, rx in mrad]; 0x2A4 carries [ry, rz] in
// mrad (spec §3.2 EndPoseState layout [x,y,z,rx,ry,rz]).
func DecodeEndPoseFrame(id uint32, data []byte) (EndPoseFrame, error) {
	if _, ok := poseFrameKind(id); !ok {
		return EndPoseFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return EndPoseFrame{}, armcan.ErrInvalidLength
	}
	var first, second float32
	switch id {
	case armcan.IDEndPoseLo:
		first = int16ToMeters(beInt16(data[0:2]))
		second = int16ToMeters(beInt16(data[2:4]))
	case armcan.IDEndPoseMid:
		first = int16ToMeters(beInt16(data[0:2]))
		second = milliradInt16ToRadians(beInt16(data[2:4]))
	case armcan.IDEndPoseHi:
		first = milliradInt16ToRadians(beInt16(data[0:2]))
		second = milliradInt16ToRadians(beInt16(data[2:4]))
	}
	if !finite(first) || !finite(second) {
		return EndPoseFrame{}, fmt.Errorf("end pose: %w", armcan.ErrAllZeroPayload)
	}
	return EndPoseFrame{ID: id, First: first, Second: second}, nil
}

func (f EndPoseFrame) Encode() [8]byte {
	var data [8]byte
	var a, b int16
	switch f.ID {
	case armcan.IDEndPoseLo:
		a, b = millimetersToInt16(f.First), millimetersToInt16(f.Second)
	case armcan.IDEndPoseMid:
		a, b = millimetersToInt16(f.First), radiansToMilliradInt16(f.Second)
	default:
		a, b = radiansToMilliradInt16(f.First), radiansToMilliradInt16(f.Second)
	}
	putBeInt16(data[0:2], a)
	putBeInt16(data[2:4], b)
	return data
}

// JointPositionFrame is one of the three 0x2A5-0x2A7 sub-frames, each
// carrying two joint angles in radians, big-endian int16 milliradian
// fixed point.
type JointPositionFrame struct {
	ID     uint32
	JointA float32
	JointB float32
}

func jointFrameOk(id uint32) bool {
	return id == armcan.IDJointPositionLo || id == armcan.IDJointPositionMid || id == armcan.IDJointPositionHi
}

func DecodeJointPositionFrame(id uint32, data []byte) (JointPositionFrame, error) {
	if !jointFrameOk(id) {
		return JointPositionFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return JointPositionFrame{}, armcan.ErrInvalidLength
	}
	a := milliradInt16ToRadians(beInt16(data[0:2]))
	b := milliradInt16ToRadians(beInt16(data[2:4]))
	if !finite(a) || !finite(b) {
		return JointPositionFrame{}, fmt.Errorf("joint position: %w", armcan.ErrAllZeroPayload)
	}
	return JointPositionFrame{ID: id, JointA: a, JointB: b}, nil
}

func (f JointPositionFrame) Encode() [8]byte {
	var data [8]byte
	putBeInt16(data[0:2], radiansToMilliradInt16(f.JointA))
	putBeInt16(data[2:4], radiansToMilliradInt16(f.JointB))
	return data
}

// Slot returns which two of the six joint slots (0-based) this
// sub-frame fills: 0x2A5 -> {0,1}, 0x2A6 -> {2,3}, 0x2A7 -> {4,5}.
func (f JointPositionFrame) Slot() (int, int) {
	switch f.ID {
	case armcan.IDJointPositionLo:
		return 0, 1
	case armcan.IDJointPositionMid:
		return 2, 3
	default:
		return 4, 5
	}
}

// Bit returns the bit (of the 3-bit frame_valid_mask) this sub-frame
// contributes.
func (f JointPositionFrame) Bit() uint {
	switch f.ID {
	case armcan.IDJointPositionLo:
		return 0
	case armcan.IDJointPositionMid:
		return 1
	default:
		return 2
	}
}

// PoseBit mirrors JointPositionFrame.Bit for the pose group.
func PoseBit(id uint32) uint {
	switch id {
	case armcan.IDEndPoseLo:
		return 0
	case armcan.IDEndPoseMid:
		return 1
	default:
		return 2
	}
}

// GripperFeedbackFrame is the decoded payload of 0x2A8.
type GripperFeedbackFrame struct {
	TravelMm float32
	TorqueNm float32
	Status   uint8
}

func DecodeGripperFeedbackFrame(id uint32, data []byte) (GripperFeedbackFrame, error) {
	if id != armcan.IDGripperFeedback {
		return GripperFeedbackFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return GripperFeedbackFrame{}, armcan.ErrInvalidLength
	}
	travel := float32(beInt16(data[0:2])) / 100 // 0.01mm resolution
	torque := float32(beInt16(data[2:4])) / 1000 // 0.001 Nm resolution
	if !finite(travel) || !finite(torque) {
		return GripperFeedbackFrame{}, armcan.ErrAllZeroPayload
	}
	return GripperFeedbackFrame{TravelMm: travel, TorqueNm: torque, Status: data[4]}, nil
}

func (f GripperFeedbackFrame) Encode() [8]byte {
	var data [8]byte
	putBeInt16(data[0:2], int16(f.TravelMm*100))
	putBeInt16(data[2:4], int16(f.TorqueNm*1000))
	data[4] = f.Status
	return data
}

func beInt16(b []byte) int16 { return int16(uint16(b[0])<<8 | uint16(b[1])) }

func putBeInt16(b []byte, v int16) {
	u := uint16(v)
	b[0] = byte(u >> 8)
	b[1] = byte(u)
}
