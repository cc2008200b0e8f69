package armcan

// CAN identifier families (spec §3.2, §6.1). Standard 11-bit IDs cover
// control and feedback; configuration uses extended 29-bit IDs.
const (
	// Control commands, standard ID, 0x1A1-0x1FF.
	IDModeSelect      uint32 = 0x1A1
	IDJointTargetLo   uint32 = 0x1A2 // joints 1-2
	IDJointTargetMid  uint32 = 0x1A3 // joints 3-4
	IDJointTargetHi   uint32 = 0x1A4 // joints 5-6
	IDMitTorqueBase   uint32 = 0x1A5 // one frame per joint, +joint-1
	IDGripperCommand  uint32 = 0x1AB
	IDEnableDisable   uint32 = 0x1AC
	IDReset           uint32 = 0x1AD

	// Feedback, standard ID, 0x2A1-0x2A8.
	IDRobotStatus      uint32 = 0x2A1
	IDEndPoseLo        uint32 = 0x2A2
	IDEndPoseMid       uint32 = 0x2A3
	IDEndPoseHi        uint32 = 0x2A4
	IDJointPositionLo  uint32 = 0x2A5
	IDJointPositionMid uint32 = 0x2A6
	IDJointPositionHi  uint32 = 0x2A7
	IDGripperFeedback  uint32 = 0x2A8

	// High-rate per-joint dynamics, standard ID, 0x251-0x256.
	IDJointDynamicBase uint32 = 0x251
	IDJointDynamicEnd  uint32 = 0x256

	// Low-rate per-joint driver diagnostics, standard ID, 0x261-0x266
	// (spec §3.2 names these; §3.5 of SPEC_FULL.md models them).
	IDJointDriverBase uint32 = 0x261
	IDJointDriverEnd  uint32 = 0x266

	// Configuration, extended ID, 0x4xx / 0x5xx.
	IDJointLimitsBase  uint32 = 0x410 // +joint-1
	IDJointAccelLimits uint32 = 0x420
	IDEndVelocityCaps  uint32 = 0x430
	IDCollisionLevel   uint32 = 0x440
	IDGripperTeach     uint32 = 0x500
)

// JointIndexValid reports whether a 1-based joint index decoded from a
// CAN payload is in the legal range [1,6] (spec §4.4 "per-joint integer
// index validation").
func JointIndexValid(idx int) bool { return idx >= 1 && idx <= 6 }

// IsConfigID reports whether id belongs to the configuration frame
// family, which is carried under extended (29-bit) CAN IDs rather than
// the standard 11-bit IDs control and feedback frames use (spec §3.2,
// §6.1).
func IsConfigID(id uint32) bool {
	if id >= IDJointLimitsBase && id <= IDJointLimitsBase+5 {
		return true
	}
	switch id {
	case IDJointAccelLimits, IDEndVelocityCaps, IDCollisionLevel, IDGripperTeach:
		return true
	default:
		return false
	}
}
