package protocol

import (
	"fmt"

	"github.com/armsix/armcan"
)

// ModeSelectFrame is the encoding for 0x1A1: selects the active control
// mode and move-interpolation mode in one frame (spec §3.2, §4.7
// "mode-select command").
type ModeSelectFrame struct {
	ControlMode ControlMode
	MoveMode    MoveMode
}

func DecodeModeSelectFrame(id uint32, data []byte) (ModeSelectFrame, error) {
	if id != armcan.IDModeSelect {
		return ModeSelectFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return ModeSelectFrame{}, armcan.ErrInvalidLength
	}
	controlMode, err := ParseControlMode(data[0])
	if err != nil {
		return ModeSelectFrame{}, fmt.Errorf("control_mode: %w", err)
	}
	moveMode, err := ParseMoveMode(data[1])
	if err != nil {
		return ModeSelectFrame{}, fmt.Errorf("move_mode: %w", err)
	}
	return ModeSelectFrame{ControlMode: controlMode, MoveMode: moveMode}, nil
}

func (f ModeSelectFrame) Encode() [8]byte {
	var data [8]byte
	data[0] = byte(f.ControlMode)
	data[1] = byte(f.MoveMode)
	return data
}

// JointTargetFrame is one of the three 0x1A2-0x1A4 sub-frames of a
// joint-position-target command, splitting 6 joints across 3 frames
// exactly like the 0x2A5-0x2A7 feedback group (spec §3.2).
type JointTargetFrame struct {
	ID     uint32
	JointA float32 // radians
	JointB float32 // radians
}

func jointTargetOk(id uint32) bool {
	return id == armcan.IDJointTargetLo || id == armcan.IDJointTargetMid || id == armcan.IDJointTargetHi
}

func DecodeJointTargetFrame(id uint32, data []byte) (JointTargetFrame, error) {
	if !jointTargetOk(id) {
		return JointTargetFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return JointTargetFrame{}, armcan.ErrInvalidLength
	}
	a := milliradInt16ToRadians(beInt16(data[0:2]))
	b := milliradInt16ToRadians(beInt16(data[2:4]))
	if !finite(a) || !finite(b) {
		return JointTargetFrame{}, armcan.ErrAllZeroPayload
	}
	return JointTargetFrame{ID: id, JointA: a, JointB: b}, nil
}

func (f JointTargetFrame) Encode() [8]byte {
	var data [8]byte
	putBeInt16(data[0:2], radiansToMilliradInt16(f.JointA))
	putBeInt16(data[2:4], radiansToMilliradInt16(f.JointB))
	return data
}

// Slot mirrors JointPositionFrame.Slot for the command-side split.
func (f JointTargetFrame) Slot() (int, int) {
	switch f.ID {
	case armcan.IDJointTargetLo:
		return 0, 1
	case armcan.IDJointTargetMid:
		return 2, 3
	default:
		return 4, 5
	}
}

// SplitJointTargets packages 6 joint targets into the three wire
// frames a caller must send in one realtime mailbox write (spec §4.6
// "setpoint write goes to the realtime mailbox").
func SplitJointTargets(joints [6]float32) [3]struct {
	ID   uint32
	Data [8]byte
} {
	return [3]struct {
		ID   uint32
		Data [8]byte
	}{
		{armcan.IDJointTargetLo, JointTargetFrame{armcan.IDJointTargetLo, joints[0], joints[1]}.Encode()},
		{armcan.IDJointTargetMid, JointTargetFrame{armcan.IDJointTargetMid, joints[2], joints[3]}.Encode()},
		{armcan.IDJointTargetHi, JointTargetFrame{armcan.IDJointTargetHi, joints[4], joints[5]}.Encode()},
	}
}

// MitCommandFrame is one per-joint 0x1A5+（joint-1) MIT impedance
// setpoint: torque, stiffness, and damping (spec glossary "MIT mode").
// The joint index is carried in-band as well as in the ID, exercising
// the same agreement check as JointDriverFrame.
type MitCommandFrame struct {
	Joint     int // 1-based
	TorqueNm  float32
	Stiffness float32
	Damping   float32
}

func DecodeMitCommandFrame(id uint32, data []byte) (MitCommandFrame, error) {
	if id < armcan.IDMitTorqueBase || id > armcan.IDMitTorqueBase+5 {
		return MitCommandFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return MitCommandFrame{}, armcan.ErrInvalidLength
	}
	idJoint := int(id-armcan.IDMitTorqueBase) + 1
	inBandJoint := int(data[6])
	if !armcan.JointIndexValid(inBandJoint) {
		return MitCommandFrame{}, fmt.Errorf("mit command: %w", armcan.ErrInvalidJointIndex)
	}
	if inBandJoint != idJoint {
		return MitCommandFrame{}, fmt.Errorf("mit command: in-band joint %d disagrees with id-derived joint %d: %w",
			inBandJoint, idJoint, armcan.ErrInvalidJointIndex)
	}
	torque := float32(beInt16(data[0:2])) / 1000
	stiffness := float32(beInt16(data[2:4])) / 1000
	damping := float32(beInt16(data[4:6])) / 1000
	if !finite(torque) || !finite(stiffness) || !finite(damping) {
		return MitCommandFrame{}, armcan.ErrAllZeroPayload
	}
	return MitCommandFrame{Joint: idJoint, TorqueNm: torque, Stiffness: stiffness, Damping: damping}, nil
}

func (f MitCommandFrame) Encode() (uint32, [8]byte) {
	id := armcan.IDMitTorqueBase + uint32(f.Joint-1)
	var data [8]byte
	putBeInt16(data[0:2], int16(f.TorqueNm*1000))
	putBeInt16(data[2:4], int16(f.Stiffness*1000))
	putBeInt16(data[4:6], int16(f.Damping*1000))
	data[6] = byte(f.Joint)
	return id, data
}

// GripperCommandFrame is the encoding for 0x1AB.
type GripperCommandFrame struct {
	TargetTravelMm float32
	MaxTorqueNm    float32
}

func DecodeGripperCommandFrame(id uint32, data []byte) (GripperCommandFrame, error) {
	if id != armcan.IDGripperCommand {
		return GripperCommandFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return GripperCommandFrame{}, armcan.ErrInvalidLength
	}
	travel := float32(beInt16(data[0:2])) / 100
	torque := float32(beInt16(data[2:4])) / 1000
	if !finite(travel) || !finite(torque) {
		return GripperCommandFrame{}, armcan.ErrAllZeroPayload
	}
	return GripperCommandFrame{TargetTravelMm: travel, MaxTorqueNm: torque}, nil
}

func (f GripperCommandFrame) Encode() [8]byte {
	var data [8]byte
	putBeInt16(data[0:2], int16(f.TargetTravelMm*100))
	putBeInt16(data[2:4], int16(f.MaxTorqueNm*1000))
	return data
}

// EnableDisableFrame is the encoding for 0x1AC. Enable is requested per
// spec §4.7 "enable_<M>_mode" as a reliable-FIFO command, not realtime.
type EnableDisableFrame struct {
	Enable bool
}

func DecodeEnableDisableFrame(id uint32, data []byte) (EnableDisableFrame, error) {
	if id != armcan.IDEnableDisable {
		return EnableDisableFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return EnableDisableFrame{}, armcan.ErrInvalidLength
	}
	return EnableDisableFrame{Enable: data[0] != 0}, nil
}

func (f EnableDisableFrame) Encode() [8]byte {
	var data [8]byte
	if f.Enable {
		data[0] = 1
	}
	return data
}

// ResetScope selects what a reset command clears.
type ResetScope uint8

const (
	ResetScopeFaults  ResetScope = 0x00
	ResetScopeBusOff  ResetScope = 0x01
	ResetScopeEStop   ResetScope = 0x02
)

func ParseResetScope(b byte) (ResetScope, error) {
	switch ResetScope(b) {
	case ResetScopeFaults, ResetScopeBusOff, ResetScopeEStop:
		return ResetScope(b), nil
	default:
		return 0, armcan.ErrInvalidEnumValue
	}
}

// ResetFrame is the encoding for 0x1AD.
type ResetFrame struct {
	Scope ResetScope
}

func DecodeResetFrame(id uint32, data []byte) (ResetFrame, error) {
	if id != armcan.IDReset {
		return ResetFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return ResetFrame{}, armcan.ErrInvalidLength
	}
	scope, err := ParseResetScope(data[0])
	if err != nil {
		return ResetFrame{}, fmt.Errorf("reset scope: %w", err)
	}
	return ResetFrame{Scope: scope}, nil
}

func (f ResetFrame) Encode() [8]byte {
	var data [8]byte
	data[0] = byte(f.Scope)
	return data
}
