// Package config loads the cold configuration profile (joint limits,
// velocity/accel ceilings, collision sensitivity, gripper teach
// threshold) from an ini-format profile file into pkg/state.ColdConfig,
// grounded on the teacher's EDS/ini parsing in pkg/od/parser_v1.go
// (spec §3.3, §4.3 "cold configuration").
package config

import (
	"fmt"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/armsix/armcan/pkg/protocol"
	"github.com/armsix/armcan/pkg/state"
)

// jointSectionName returns the profile section name for a 1-based
// joint index, e.g. "joint1".
func jointSectionName(joint int) string { return "joint" + strconv.Itoa(joint) }

// LoadProfile parses an ini-format profile file (path, []byte, or
// io.Reader — anything gopkg.in/ini.v1's Load accepts) into a
// ColdConfig. Missing sections, and missing keys in the motion and
// gripper_teach sections, fall back to the ColdConfig zero value for
// that field rather than erroring. A present jointN section must carry
// numeric MinRad and MaxRad, and a present safety section a valid
// CollisionLevel; otherwise LoadProfile returns an error.
func LoadProfile(source any) (state.ColdConfig, error) {
	file, err := ini.Load(source)
	if err != nil {
		return state.ColdConfig{}, fmt.Errorf("config: load profile: %w", err)
	}

	var cfg state.ColdConfig

	for joint := 1; joint <= 6; joint++ {
		section, err := file.GetSection(jointSectionName(joint))
		if err != nil {
			continue // joint section absent: limits mask bit for it stays unset
		}
		minRad, errMin := section.Key("MinRad").Float64()
		maxRad, errMax := section.Key("MaxRad").Float64()
		if errMin != nil || errMax != nil {
			return state.ColdConfig{}, fmt.Errorf("config: %s: MinRad/MaxRad: must be numeric", jointSectionName(joint))
		}
		cfg.JointLimits[joint-1] = state.JointLimits{MinRad: float32(minRad), MaxRad: float32(maxRad)}
		cfg.JointLimitsMask |= 1 << uint(joint-1)
	}

	if motion, err := file.GetSection("motion"); err == nil {
		cfg.MaxVelocityRadS = float32(motion.Key("MaxVelocityRadS").MustFloat64(0))
		cfg.MaxAccelRadS2 = float32(motion.Key("MaxAccelRadS2").MustFloat64(0))
		cfg.MaxLinearMmS = float32(motion.Key("MaxLinearMmS").MustFloat64(0))
		cfg.MaxAngularRadS = float32(motion.Key("MaxAngularRadS").MustFloat64(0))
	}

	if safety, err := file.GetSection("safety"); err == nil {
		levelByte, err := safety.Key("CollisionLevel").Int()
		if err != nil {
			return state.ColdConfig{}, fmt.Errorf("config: safety.CollisionLevel: must be numeric: %w", err)
		}
		level, err := protocol.ParseCollisionLevel(byte(levelByte))
		if err != nil {
			return state.ColdConfig{}, fmt.Errorf("config: safety.CollisionLevel: %w", err)
		}
		cfg.CollisionLevel = level
	}

	if teach, err := file.GetSection("gripper_teach"); err == nil {
		cfg.TeachThreshold = float32(teach.Key("ForceThresholdNm").MustFloat64(0))
		cfg.TeachAutoRelease = teach.Key("AutoRelease").MustBool(false)
	}

	return cfg, nil
}

// Apply installs cfg into store using the non-blocking cold-config
// writer discipline: it makes a single attempt and returns an error if
// the writer slot is busy. Profile application happens at startup,
// before any RX-thread traffic exists to contend with it.
func Apply(store *state.Store, cfg state.ColdConfig) error {
	ok := store.TryUpdateColdConfig(func(c *state.ColdConfig) { *c = cfg })
	if !ok {
		return fmt.Errorf("config: cold-config writer busy")
	}
	return nil
}
