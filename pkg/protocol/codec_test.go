package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armsix/armcan"
)

func TestRobotControlFrameRoundTrip(t *testing.T) {
	f := RobotControlFrame{
		ControlMode:         ControlModeMit,
		RobotStatus:         RobotStatusEnabled,
		MoveMode:            MoveModeLinear,
		TeachStatus:         TeachStatusPaused,
		MotionStatus:        MotionStatusMoving,
		TrajectoryIndex:     7,
		AngleLimitFaultMask: 0b101010,
		CommErrorFaultMask:  0b010101,
		FeedbackCounter:     200,
	}
	data := f.Encode()
	got, err := DecodeRobotControlFrame(armcan.IDRobotStatus, data[:])
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.True(t, got.IsEnabled())
}

func TestRobotControlFrameInvalidEnum(t *testing.T) {
	data := [8]byte{0xFF, 0x00, 0x00, 0, 0, 0, 0, 0}
	_, err := DecodeRobotControlFrame(armcan.IDRobotStatus, data[:])
	assert.ErrorIs(t, err, armcan.ErrInvalidEnumValue)
}

func TestRobotControlFrameWrongID(t *testing.T) {
	var data [8]byte
	_, err := DecodeRobotControlFrame(armcan.IDEndPoseLo, data[:])
	assert.ErrorIs(t, err, armcan.ErrInvalidCanId)
}

func TestRobotControlFrameWrongLength(t *testing.T) {
	_, err := DecodeRobotControlFrame(armcan.IDRobotStatus, make([]byte, 4))
	assert.ErrorIs(t, err, armcan.ErrInvalidLength)
}

func TestEndPoseFrameRoundTrip(t *testing.T) {
	cases := []EndPoseFrame{
		{ID: armcan.IDEndPoseLo, First: 0.123, Second: -0.456},
		{ID: armcan.IDEndPoseMid, First: 1.5, Second: 0.987},
		{ID: armcan.IDEndPoseHi, First: -1.2, Second: 2.5},
	}
	for _, c := range cases {
		data := c.Encode()
		got, err := DecodeEndPoseFrame(c.ID, data[:])
		require.NoError(t, err)
		assert.InDelta(t, c.First, got.First, 0.001)
		assert.InDelta(t, c.Second, got.Second, 0.001)
	}
}

func TestJointPositionFrameRoundTripAndSlots(t *testing.T) {
	f := JointPositionFrame{ID: armcan.IDJointPositionMid, JointA: 0.3, JointB: 0.4}
	data := f.Encode()
	got, err := DecodeJointPositionFrame(armcan.IDJointPositionMid, data[:])
	require.NoError(t, err)
	assert.InDelta(t, f.JointA, got.JointA, 0.001)
	assert.InDelta(t, f.JointB, got.JointB, 0.001)
	lo, hi := got.Slot()
	assert.Equal(t, 2, lo)
	assert.Equal(t, 3, hi)
	assert.EqualValues(t, 1, got.Bit())
}

func TestGripperFeedbackRoundTrip(t *testing.T) {
	f := GripperFeedbackFrame{TravelMm: 12.34, TorqueNm: 0.567, Status: 3}
	data := f.Encode()
	got, err := DecodeGripperFeedbackFrame(armcan.IDGripperFeedback, data[:])
	require.NoError(t, err)
	assert.InDelta(t, f.TravelMm, got.TravelMm, 0.01)
	assert.InDelta(t, f.TorqueNm, got.TorqueNm, 0.001)
	assert.Equal(t, f.Status, got.Status)
}

func TestJointDynamicFrameRoundTripAndIDDerivedJoint(t *testing.T) {
	f := JointDynamicFrame{Joint: 4, Velocity: 1.234, Current: 2.5}
	id, data := f.Encode()
	assert.Equal(t, armcan.IDJointDynamicBase+3, id)
	got, err := DecodeJointDynamicFrame(id, data[:])
	require.NoError(t, err)
	assert.Equal(t, 4, got.Joint)
	assert.InDelta(t, f.Velocity, got.Velocity, 0.001)
	assert.InDelta(t, f.Current, got.Current, 0.001)
	assert.EqualValues(t, 3, got.Bit())
}

func TestJointDriverFrameAgreementCheck(t *testing.T) {
	f := JointDriverFrame{Joint: 2, TempC: 45, BusVoltageV: 24.0, FaultCode: 1}
	id, data := f.Encode()
	got, err := DecodeJointDriverFrame(id, data[:])
	require.NoError(t, err)
	assert.Equal(t, f, got)

	// Corrupt the in-band joint byte so it disagrees with the ID.
	data[0] = 5
	_, err = DecodeJointDriverFrame(id, data[:])
	assert.ErrorIs(t, err, armcan.ErrInvalidJointIndex)
}

func TestJointDriverFrameOutOfRangeIndexNeverIndexes(t *testing.T) {
	var data [8]byte
	data[0] = 9 // out of [1,6]
	_, err := DecodeJointDriverFrame(armcan.IDJointDriverBase, data[:])
	assert.ErrorIs(t, err, armcan.ErrInvalidJointIndex)
}

func TestModeSelectRoundTrip(t *testing.T) {
	f := ModeSelectFrame{ControlMode: ControlModePosition, MoveMode: MoveModeCircular}
	data := f.Encode()
	got, err := DecodeModeSelectFrame(armcan.IDModeSelect, data[:])
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestSplitJointTargets(t *testing.T) {
	joints := [6]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	frames := SplitJointTargets(joints)
	require.Len(t, frames, 3)
	assert.Equal(t, armcan.IDJointTargetLo, frames[0].ID)
	assert.Equal(t, armcan.IDJointTargetMid, frames[1].ID)
	assert.Equal(t, armcan.IDJointTargetHi, frames[2].ID)
	for _, fr := range frames {
		decoded, err := DecodeJointTargetFrame(fr.ID, fr.Data[:])
		require.NoError(t, err)
		lo, hi := decoded.Slot()
		assert.InDelta(t, joints[lo], decoded.JointA, 0.001)
		assert.InDelta(t, joints[hi], decoded.JointB, 0.001)
	}
}

func TestMitCommandFrameAgreementCheck(t *testing.T) {
	f := MitCommandFrame{Joint: 6, TorqueNm: 1.5, Stiffness: 20, Damping: 0.5}
	id, data := f.Encode()
	assert.Equal(t, armcan.IDMitTorqueBase+5, id)
	got, err := DecodeMitCommandFrame(id, data[:])
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestEnableDisableRoundTrip(t *testing.T) {
	for _, enable := range []bool{true, false} {
		f := EnableDisableFrame{Enable: enable}
		data := f.Encode()
		got, err := DecodeEnableDisableFrame(armcan.IDEnableDisable, data[:])
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestResetFrameRoundTrip(t *testing.T) {
	f := ResetFrame{Scope: ResetScopeBusOff}
	data := f.Encode()
	got, err := DecodeResetFrame(armcan.IDReset, data[:])
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestJointLimitsFrameRoundTrip(t *testing.T) {
	f := JointLimitsFrame{Joint: 3, MinRad: -1.5, MaxRad: 1.5}
	id, data := f.Encode()
	got, err := DecodeJointLimitsFrame(id, data[:])
	require.NoError(t, err)
	assert.Equal(t, f.Joint, got.Joint)
	assert.InDelta(t, f.MinRad, got.MinRad, 0.001)
	assert.InDelta(t, f.MaxRad, got.MaxRad, 0.001)
}

func TestCollisionLevelRoundTrip(t *testing.T) {
	f := CollisionLevelFrame{Level: CollisionLevelHigh}
	data := f.Encode()
	got, err := DecodeCollisionLevelFrame(armcan.IDCollisionLevel, data[:])
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestGripperTeachRoundTrip(t *testing.T) {
	f := GripperTeachFrame{ForceThresholdNm: 2.5, AutoRelease: true}
	data := f.Encode()
	got, err := DecodeGripperTeachFrame(armcan.IDGripperTeach, data[:])
	require.NoError(t, err)
	assert.InDelta(t, f.ForceThresholdNm, got.ForceThresholdNm, 0.001)
	assert.Equal(t, f.AutoRelease, got.AutoRelease)
}

func TestBitsLSBPacking(t *testing.T) {
	var b byte
	setBitsLSB(&b, 0, 2, 0b11)
	setBitsLSB(&b, 2, 2, 0b01)
	setBitsLSB(&b, 4, 2, 0b10)
	assert.Equal(t, byte(0b11), bitsLSB(b, 0, 2))
	assert.Equal(t, byte(0b01), bitsLSB(b, 2, 2))
	assert.Equal(t, byte(0b10), bitsLSB(b, 4, 2))
}
