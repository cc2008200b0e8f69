package protocol

import (
	"fmt"

	"github.com/armsix/armcan"
)

// JointDynamicFrame is the decoded payload of one 0x251-0x256 frame.
// The CAN ID itself encodes the joint (base + joint-1); velocity is
// milli-rad/s and current is milliamps, both big-endian int16 (spec
// §3.3 JointDynamicState).
type JointDynamicFrame struct {
	Joint    int // 1-based
	Velocity float32
	Current  float32
}

// DecodeJointDynamicFrame validates the ID falls in the dynamics range
// and derives the joint index from it.
func DecodeJointDynamicFrame(id uint32, data []byte) (JointDynamicFrame, error) {
	if id < armcan.IDJointDynamicBase || id > armcan.IDJointDynamicEnd {
		return JointDynamicFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return JointDynamicFrame{}, armcan.ErrInvalidLength
	}
	joint := int(id-armcan.IDJointDynamicBase) + 1
	if !armcan.JointIndexValid(joint) {
		return JointDynamicFrame{}, fmt.Errorf("joint dynamics: %w", armcan.ErrInvalidJointIndex)
	}
	velocity := float32(beInt16(data[0:2])) / 1000 // mrad/s -> rad/s
	current := float32(beInt16(data[2:4])) / 1000  // mA -> A
	if !finite(velocity) || !finite(current) {
		return JointDynamicFrame{}, armcan.ErrAllZeroPayload
	}
	return JointDynamicFrame{Joint: joint, Velocity: velocity, Current: current}, nil
}

func (f JointDynamicFrame) Encode() (uint32, [8]byte) {
	id := armcan.IDJointDynamicBase + uint32(f.Joint-1)
	var data [8]byte
	putBeInt16(data[0:2], int16(f.Velocity*1000))
	putBeInt16(data[2:4], int16(f.Current*1000))
	return id, data
}

// Bit returns this frame's position (0-based, joint-1) in the 6-bit
// valid_mask of JointDynamicState (spec §3.3).
func (f JointDynamicFrame) Bit() uint { return uint(f.Joint - 1) }

// JointDriverFrame is the decoded payload of one 0x261-0x266 low-rate
// driver-diagnostics frame (SPEC_FULL.md §3.5, supplemented feature).
// The joint index is carried BOTH in the CAN ID and in-band at byte 0;
// the two must agree, exercising the in-band joint-index validation
// rule spec §4.4 calls out for "low-speed driver feedback".
type JointDriverFrame struct {
	Joint       int // 1-based
	TempC       int8
	BusVoltageV float32
	FaultCode   uint8
}

func DecodeJointDriverFrame(id uint32, data []byte) (JointDriverFrame, error) {
	if id < armcan.IDJointDriverBase || id > armcan.IDJointDriverEnd {
		return JointDriverFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return JointDriverFrame{}, armcan.ErrInvalidLength
	}
	idJoint := int(id-armcan.IDJointDriverBase) + 1
	inBandJoint := int(data[0])
	if !armcan.JointIndexValid(inBandJoint) {
		return JointDriverFrame{}, fmt.Errorf("driver diagnostics: %w", armcan.ErrInvalidJointIndex)
	}
	if inBandJoint != idJoint {
		return JointDriverFrame{}, fmt.Errorf("driver diagnostics: in-band joint %d disagrees with id-derived joint %d: %w",
			inBandJoint, idJoint, armcan.ErrInvalidJointIndex)
	}
	busMv := uint16(data[2])<<8 | uint16(data[3])
	return JointDriverFrame{
		Joint:       idJoint,
		TempC:       int8(data[1]),
		BusVoltageV: float32(busMv) / 1000,
		FaultCode:   data[4],
	}, nil
}

func (f JointDriverFrame) Encode() (uint32, [8]byte) {
	id := armcan.IDJointDriverBase + uint32(f.Joint-1)
	var data [8]byte
	data[0] = byte(f.Joint)
	data[1] = byte(f.TempC)
	busMv := uint16(f.BusVoltageV * 1000)
	data[2] = byte(busMv >> 8)
	data[3] = byte(busMv)
	data[4] = f.FaultCode
	return id, data
}
