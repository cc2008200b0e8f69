// Package protocol implements the deterministic bidirectional mapping
// between typed messages and 8-byte CAN payloads (spec §4.2). Integer
// fields are big-endian; sub-byte bit fields are packed LSB-first
// within a byte, grounded on the teacher's sdo_common.go /
// pdo_common.go style of hand-rolled wire encoding.
package protocol

import "math"

// bitLSB reads bit index (0 = least significant) from b.
func bitLSB(b byte, index uint) bool {
	return b&(1<<index) != 0
}

// setBitLSB sets or clears bit index (0 = least significant) in *b.
func setBitLSB(b *byte, index uint, v bool) {
	if v {
		*b |= 1 << index
	} else {
		*b &^= 1 << index
	}
}

// bitsLSB extracts a width-bit field starting at bit offset (LSB-first).
func bitsLSB(b byte, offset, width uint) byte {
	mask := byte(1<<width) - 1
	return (b >> offset) & mask
}

// setBitsLSB writes value (width bits) into *b starting at bit offset.
func setBitsLSB(b *byte, offset, width uint, value byte) {
	mask := byte(1<<width) - 1
	*b &^= mask << offset
	*b |= (value & mask) << offset
}

// finite reports whether f is safe to publish to the state store
// (spec §4.2 "validated as finite (no NaN / ±Inf)").
func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// radiansToMilliradInt16 / milliradInt16ToRadians convert a radian
// value to/from the wire's fixed-point millirad representation
// (int16, big-endian), giving +-32.767 rad of range at 1 mrad
// resolution -- ample for joint angles.
func radiansToMilliradInt16(rad float32) int16 {
	v := rad * 1000
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func milliradInt16ToRadians(raw int16) float32 {
	return float32(raw) / 1000
}

// millimetersToInt16 / int16ToMeters convert translation fields: the
// wire carries millimeters (spec §3.2), the state store keeps meters
// (spec §3.2 "converted to meters on ingest").
func millimetersToInt16(meters float32) int16 {
	mm := meters * 1000
	if mm > math.MaxInt16 {
		return math.MaxInt16
	}
	if mm < math.MinInt16 {
		return math.MinInt16
	}
	return int16(mm)
}

func int16ToMeters(raw int16) float32 {
	return float32(raw) / 1000
}
