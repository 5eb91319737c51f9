package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16XModemKnownAnswer(t *testing.T) {
	got := CRC16XModem([]byte("123456789"))
	assert.Equal(t, uint16(0x31C3), got)
}

func TestHandshakeBPayloadShape(t *testing.T) {
	// S1 — handshake packet.
	frame, err := HandshakeB("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	want := []byte{0x5A, 0x0B, 0x14, 0x14, 0x14, 0x14, 0x14, 0x14, 0x14, 0x14, 0x14, 0x14}
	assert.Equal(t, want, frame)
}

func TestHandshakeBPayloadShapeIsUniform(t *testing.T) {
	frame, err := HandshakeB("00:11:22:33:44:55")
	require.NoError(t, err)
	require.Len(t, frame, 12)
	b := frame[2]
	for _, got := range frame[2:] {
		assert.Equal(t, b, got)
	}
}

func TestEventBegin(t *testing.T) {
	// S2 — event begin.
	got := Event(300, false)
	want := []byte{0x5A, 0x04, 0x01, 0x2C, 0x00, 0x00}
	assert.Equal(t, want, got)
}

func TestEventEnd(t *testing.T) {
	// S3 — event end.
	got := Event(300, true)
	want := []byte{0x5A, 0x04, 0x01, 0x2C, 0x01, 0x00}
	assert.Equal(t, want, got)
}

func TestEventEndianMixing(t *testing.T) {
	for _, end := range []bool{false, true} {
		b := Event(12345, end)
		require.Len(t, b, 6)
		assert.Equal(t, byte(12345>>8), b[2])
		assert.Equal(t, byte(12345&0xFF), b[3])
		var wantEnd byte
		if end {
			wantEnd = 1
		}
		assert.Equal(t, wantEnd, b[4])
		assert.Equal(t, byte(0), b[5])
	}
}

func TestLineFrameSize(t *testing.T) {
	var payload PackedLine
	frame := Line(7, payload)
	assert.Len(t, frame, 1+2+PackedLineBytes+1)
	assert.Equal(t, byte(0x55), frame[0])
	assert.Equal(t, byte(0x00), frame[1])
	assert.Equal(t, byte(0x07), frame[2])
	assert.Equal(t, byte(0x00), frame[len(frame)-1])
}

func TestHardwareInfoAndHandshakeAShape(t *testing.T) {
	hw := HardwareInfo()
	assert.Len(t, hw, 12)
	assert.Equal(t, []byte{0x5A, 0x01}, hw[:2])
	for _, b := range hw[2:] {
		assert.Equal(t, byte(0), b)
	}

	ha := HandshakeA()
	assert.Len(t, ha, 12)
	assert.Equal(t, []byte{0x5A, 0x0A}, ha[:2])
	for _, b := range ha[2:] {
		assert.Equal(t, byte(0), b)
	}
}

func TestDensityRange(t *testing.T) {
	for d := uint8(0); d <= 7; d++ {
		b, err := Density(d)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x5A, 0x0C, d}, b)
	}
	_, err := Density(8)
	assert.Error(t, err)
}

func TestParseNotifyLost(t *testing.T) {
	// S4 — parse lost.
	ev := ParseNotify([]byte{0x5A, 0x05, 0x00, 0x07, 0x00})
	require.Equal(t, NotifyLost, ev.Kind)
	assert.Equal(t, uint16(7), ev.LostLineNo)
}

func TestParseNotifyStatus(t *testing.T) {
	// S5 — parse status.
	ev := ParseNotify([]byte{0x5A, 0x02, 0x55, 0x01, 0x00, 0x01})
	require.Equal(t, NotifyStatus, ev.Kind)
	assert.Equal(t, byte(0x55), ev.Status.Battery)
	assert.True(t, ev.Status.NoPaper)
	assert.True(t, ev.Status.Overheat)
}

func TestParseNotifyOther(t *testing.T) {
	assert.Equal(t, NotifyOther, ParseNotify(nil).Kind)
	assert.Equal(t, NotifyOther, ParseNotify([]byte{0x5A}).Kind)
	assert.Equal(t, NotifyOther, ParseNotify([]byte{0x5A, 0xFF}).Kind)
}

func TestParseNotifyHandshakeB(t *testing.T) {
	ok := ParseNotify([]byte{0x5A, 0x0B, 0x01})
	assert.Equal(t, NotifyHandshakeB, ok.Kind)
	assert.True(t, ok.HandshakeBOK)

	rejected := ParseNotify([]byte{0x5A, 0x0B, 0x00})
	assert.Equal(t, NotifyHandshakeB, rejected.Kind)
	assert.False(t, rejected.HandshakeBOK)
}

func TestParseNotifyFinishedAndPaused(t *testing.T) {
	assert.Equal(t, NotifyFinished, ParseNotify([]byte{0x5A, 0x06}).Kind)
	assert.Equal(t, NotifyPaused, ParseNotify([]byte{0x5A, 0x08}).Kind)
	assert.Equal(t, NotifyHandshakeA, ParseNotify([]byte{0x5A, 0x0A}).Kind)
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeMAC("aa-bb-cc-dd-ee-ff"))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeMAC("AA:bb:CC:dd:EE:ff"))
}
