package protocol

import (
	"fmt"

	"github.com/armsix/armcan"
)

// JointLimitsFrame is one per-joint 0x410+(joint-1) configuration
// message carrying min/max joint angle limits (spec §3.3 cold
// configuration "joint angle ... limits with per-joint valid mask").
type JointLimitsFrame struct {
	Joint  int // 1-based
	MinRad float32
	MaxRad float32
}

func DecodeJointLimitsFrame(id uint32, data []byte) (JointLimitsFrame, error) {
	if id < armcan.IDJointLimitsBase || id > armcan.IDJointLimitsBase+5 {
		return JointLimitsFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return JointLimitsFrame{}, armcan.ErrInvalidLength
	}
	joint := int(id-armcan.IDJointLimitsBase) + 1
	if !armcan.JointIndexValid(joint) {
		return JointLimitsFrame{}, fmt.Errorf("joint limits: %w", armcan.ErrInvalidJointIndex)
	}
	lo := milliradInt16ToRadians(beInt16(data[0:2]))
	hi := milliradInt16ToRadians(beInt16(data[2:4]))
	if !finite(lo) || !finite(hi) {
		return JointLimitsFrame{}, armcan.ErrAllZeroPayload
	}
	return JointLimitsFrame{Joint: joint, MinRad: lo, MaxRad: hi}, nil
}

func (f JointLimitsFrame) Encode() (uint32, [8]byte) {
	id := armcan.IDJointLimitsBase + uint32(f.Joint-1)
	var data [8]byte
	putBeInt16(data[0:2], radiansToMilliradInt16(f.MinRad))
	putBeInt16(data[2:4], radiansToMilliradInt16(f.MaxRad))
	return id, data
}

// JointAccelLimitsFrame is the single 0x420 message carrying a shared
// velocity and acceleration ceiling applied to all six joints.
type JointAccelLimitsFrame struct {
	MaxVelocityRadS float32
	MaxAccelRadS2   float32
}

func DecodeJointAccelLimitsFrame(id uint32, data []byte) (JointAccelLimitsFrame, error) {
	if id != armcan.IDJointAccelLimits {
		return JointAccelLimitsFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return JointAccelLimitsFrame{}, armcan.ErrInvalidLength
	}
	vel := float32(beInt16(data[0:2])) / 100
	accel := float32(beInt16(data[2:4])) / 100
	if !finite(vel) || !finite(accel) {
		return JointAccelLimitsFrame{}, armcan.ErrAllZeroPayload
	}
	return JointAccelLimitsFrame{MaxVelocityRadS: vel, MaxAccelRadS2: accel}, nil
}

func (f JointAccelLimitsFrame) Encode() [8]byte {
	var data [8]byte
	putBeInt16(data[0:2], int16(f.MaxVelocityRadS*100))
	putBeInt16(data[2:4], int16(f.MaxAccelRadS2*100))
	return data
}

// EndVelocityCapsFrame is the single 0x430 message capping end-effector
// linear and angular speed.
type EndVelocityCapsFrame struct {
	MaxLinearMmS  float32
	MaxAngularRadS float32
}

func DecodeEndVelocityCapsFrame(id uint32, data []byte) (EndVelocityCapsFrame, error) {
	if id != armcan.IDEndVelocityCaps {
		return EndVelocityCapsFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return EndVelocityCapsFrame{}, armcan.ErrInvalidLength
	}
	linear := float32(beInt16(data[0:2]))
	angular := milliradInt16ToRadians(beInt16(data[2:4]))
	if !finite(linear) || !finite(angular) {
		return EndVelocityCapsFrame{}, armcan.ErrAllZeroPayload
	}
	return EndVelocityCapsFrame{MaxLinearMmS: linear, MaxAngularRadS: angular}, nil
}

func (f EndVelocityCapsFrame) Encode() [8]byte {
	var data [8]byte
	putBeInt16(data[0:2], int16(f.MaxLinearMmS))
	putBeInt16(data[2:4], radiansToMilliradInt16(f.MaxAngularRadS))
	return data
}

// CollisionLevel is the sensitivity tier of collision protection.
type CollisionLevel uint8

const (
	CollisionLevelOff    CollisionLevel = 0x00
	CollisionLevelLow    CollisionLevel = 0x01
	CollisionLevelMedium CollisionLevel = 0x02
	CollisionLevelHigh   CollisionLevel = 0x03
)

func ParseCollisionLevel(b byte) (CollisionLevel, error) {
	switch CollisionLevel(b) {
	case CollisionLevelOff, CollisionLevelLow, CollisionLevelMedium, CollisionLevelHigh:
		return CollisionLevel(b), nil
	default:
		return 0, armcan.ErrInvalidEnumValue
	}
}

// CollisionLevelFrame is the single 0x440 message.
type CollisionLevelFrame struct {
	Level CollisionLevel
}

func DecodeCollisionLevelFrame(id uint32, data []byte) (CollisionLevelFrame, error) {
	if id != armcan.IDCollisionLevel {
		return CollisionLevelFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return CollisionLevelFrame{}, armcan.ErrInvalidLength
	}
	level, err := ParseCollisionLevel(data[0])
	if err != nil {
		return CollisionLevelFrame{}, fmt.Errorf("collision_level: %w", err)
	}
	return CollisionLevelFrame{Level: level}, nil
}

func (f CollisionLevelFrame) Encode() [8]byte {
	var data [8]byte
	data[0] = byte(f.Level)
	return data
}

// GripperTeachFrame is the single 0x500 message parameterizing
// teach-by-demonstration gripper behavior: the force threshold (Nm)
// at which a human push is interpreted as a teach gesture, and
// whether teach mode auto-releases the gripper on detection.
type GripperTeachFrame struct {
	ForceThresholdNm float32
	AutoRelease      bool
}

func DecodeGripperTeachFrame(id uint32, data []byte) (GripperTeachFrame, error) {
	if id != armcan.IDGripperTeach {
		return GripperTeachFrame{}, armcan.ErrInvalidCanId
	}
	if len(data) != 8 {
		return GripperTeachFrame{}, armcan.ErrInvalidLength
	}
	threshold := float32(beInt16(data[0:2])) / 1000
	if !finite(threshold) {
		return GripperTeachFrame{}, armcan.ErrAllZeroPayload
	}
	return GripperTeachFrame{ForceThresholdNm: threshold, AutoRelease: data[2] != 0}, nil
}

func (f GripperTeachFrame) Encode() [8]byte {
	var data [8]byte
	putBeInt16(data[0:2], int16(f.ForceThresholdNm*1000))
	if f.AutoRelease {
		data[2] = 1
	}
	return data
}
