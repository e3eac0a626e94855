package kernelschedule

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildFrameLayout(t *testing.T) {
	buf := make([]byte, 64)
	sp, err := buildFrame(buf)
	require.NoError(t, err)
	require.Equal(t, byte(stackSentinel), buf[0], "sentinel must be written at byte 0")

	cursor := len(buf)

	cursor -= 2
	require.Equal(t, frameExitMarker, beUint16(buf[cursor:]))

	cursor -= 2
	require.Equal(t, frameEntryMarker, beUint16(buf[cursor:]))

	cursor--
	require.Equal(t, byte(0), buf[cursor], "last-register-restored byte must start zeroed")

	cursor--
	require.Equal(t, byte(0x80), buf[cursor], "status register must have interrupts enabled")

	cursor -= frameRegisterBytes
	for i := 0; i < frameRegisterBytes; i++ {
		require.Equal(t, byte(0), buf[cursor+i])
	}

	require.Equal(t, StackPointer(cursor), sp)
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func TestBuildFrameRejectsUndersizedBuffer(t *testing.T) {
	_, err := buildFrame(make([]byte, minStackBufBytes-1))
	require.ErrorIs(t, err, ErrStackTooSmall)
}

func TestBuildFrameMinimalSizeSucceeds(t *testing.T) {
	_, err := buildFrame(make([]byte, minStackBufBytes))
	require.NoError(t, err)
}

func TestTCBCorruption(t *testing.T) {
	tc := newTCB()
	require.False(t, tc.corrupted(), "bootstrap-style TCB with no stack buffer is never corrupted")

	buf := make([]byte, 64)
	_, err := buildFrame(buf)
	require.NoError(t, err)
	tc.stackBuf = buf
	require.False(t, tc.corrupted())

	buf[0] = 0x00
	require.True(t, tc.corrupted())
}

func TestTCBStateRoundTrip(t *testing.T) {
	tc := newTCB()
	require.Equal(t, Unused, tc.getState())

	tc.setState(Ready)
	require.Equal(t, Ready, tc.getState())
}
