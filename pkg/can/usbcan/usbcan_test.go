package usbcan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armsix/armcan"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	frame := armcan.Frame{ID: 0x1A1, Length: 4, Data: [8]byte{1, 2, 3, 4}}
	raw := encodeFrame(frame, echoSentinel)
	require.Len(t, raw, wireFrameSize)

	decoded, echoID, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.EqualValues(t, echoSentinel, echoID)
	assert.Equal(t, frame.ID, decoded.ID)
	assert.Equal(t, frame.Length, decoded.Length)
	assert.Equal(t, frame.Data, decoded.Data)
}

func TestDecodeFrameTranscribesDeviceTimestamp(t *testing.T) {
	raw := encodeFrame(armcan.Frame{ID: 1, Length: 1, Data: [8]byte{9}}, 0x03)
	raw[14] = 0x00
	raw[15] = 0x01
	raw[16] = 0x02
	raw[17] = 0x03

	decoded, echoID, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 0x03, echoID)
	assert.EqualValues(t, 0x00010203, decoded.HWTimestampUs, "device timestamp field must be transcribed verbatim, not stamped from the host clock")
}

func TestDecodeFrameRejectsWrongLength(t *testing.T) {
	_, _, err := decodeFrame(make([]byte, wireFrameSize-1))
	assert.ErrorIs(t, err, armcan.ErrInvalidLength)

	_, _, err = decodeFrame(make([]byte, wireFrameSize+1))
	assert.ErrorIs(t, err, armcan.ErrInvalidLength)
}

func TestDecodeFrameRejectsOversizedDLC(t *testing.T) {
	raw := encodeFrame(armcan.Frame{ID: 1, Length: 9}, echoSentinel)
	raw[5] = 9
	_, _, err := decodeFrame(raw)
	assert.ErrorIs(t, err, armcan.ErrInvalidLength)
}

func TestTransferBlockedDistinguishesTimeoutFromRealError(t *testing.T) {
	assert.False(t, transferBlocked(nil))
	assert.False(t, transferBlocked(context.DeadlineExceeded))
	assert.True(t, transferBlocked(errors.New("libusb: pipe error")))
}
