package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armsix/armcan/pkg/protocol"
	"github.com/armsix/armcan/pkg/state"
)

const sampleProfile = `
[joint1]
MinRad = -3.14
MaxRad = 3.14

[joint2]
MinRad = -1.57
MaxRad = 1.57

[motion]
MaxVelocityRadS = 2.5
MaxAccelRadS2 = 10.0
MaxLinearMmS = 250
MaxAngularRadS = 3.0

[safety]
CollisionLevel = 2

[gripper_teach]
ForceThresholdNm = 1.5
AutoRelease = true
`

func TestLoadProfileParsesAllSections(t *testing.T) {
	cfg, err := LoadProfile([]byte(sampleProfile))
	require.NoError(t, err)

	assert.EqualValues(t, 0b000011, cfg.JointLimitsMask, "only joint1/joint2 sections present")
	assert.InDelta(t, -3.14, cfg.JointLimits[0].MinRad, 0.001)
	assert.InDelta(t, 3.14, cfg.JointLimits[0].MaxRad, 0.001)
	assert.InDelta(t, -1.57, cfg.JointLimits[1].MinRad, 0.001)

	assert.InDelta(t, 2.5, cfg.MaxVelocityRadS, 0.001)
	assert.InDelta(t, 250, cfg.MaxLinearMmS, 0.001)

	assert.Equal(t, protocol.CollisionLevelMedium, cfg.CollisionLevel)

	assert.InDelta(t, 1.5, cfg.TeachThreshold, 0.001)
	assert.True(t, cfg.TeachAutoRelease)
}

func TestLoadProfileMissingSectionsLeaveZeroValue(t *testing.T) {
	cfg, err := LoadProfile([]byte("[joint1]\nMinRad = -1\nMaxRad = 1\n"))
	require.NoError(t, err)
	assert.EqualValues(t, 0b000001, cfg.JointLimitsMask)
	assert.Equal(t, protocol.CollisionLevel(0), cfg.CollisionLevel)
}

func TestLoadProfileInvalidCollisionLevelErrors(t *testing.T) {
	_, err := LoadProfile([]byte("[safety]\nCollisionLevel = 9\n"))
	assert.Error(t, err)
}

func TestLoadProfileMalformedJointLimitErrors(t *testing.T) {
	_, err := LoadProfile([]byte("[joint1]\nMinRad = not-a-number\nMaxRad = 1\n"))
	assert.Error(t, err)
}

func TestApplyInstallsColdConfig(t *testing.T) {
	store := state.New()
	cfg, err := LoadProfile([]byte(sampleProfile))
	require.NoError(t, err)

	require.NoError(t, Apply(store, cfg))
	assert.Equal(t, cfg, store.ColdConfig())
}
