package armcan

// Frame is a raw CAN frame as produced or consumed by an adapter
// backend (spec §3.1). IDs are 11-bit (standard) unless Extended is
// set, in which case ID carries the 29-bit identifier.
type Frame struct {
	ID             uint32
	Data           [8]byte
	Length         uint8 // number of valid bytes in Data, 0-8
	Extended       bool
	HWTimestampUs  int64 // monotonic microseconds from the adapter, 0 if unavailable
}

// NewFrame builds a standard-ID Frame carrying data (up to 8 bytes).
func NewFrame(id uint32, data []byte) Frame {
	f := Frame{ID: id, Length: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

// NewExtendedFrame builds an extended (29-bit) ID Frame carrying data.
func NewExtendedFrame(id uint32, data []byte) Frame {
	f := NewFrame(id, data)
	f.Extended = true
	return f
}

// Payload returns the valid portion of Data.
func (f Frame) Payload() []byte {
	if int(f.Length) > len(f.Data) {
		return f.Data[:]
	}
	return f.Data[:f.Length]
}
