package cds55xx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	testCases := []struct {
		name   string
		frame  []byte
		expect byte
	}{
		// ~(FE + 04 + 03 + 18 + 00) = ~0x1D = 0xE2
		{"broadcast mode write", []byte{0xFF, 0xFF, 0xFE, 0x04, 0x03, 0x18, 0x00, 0x00}, 0xE2},
		{"read position", []byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x1E, 0x04, 0x00}, 0xD6},
		{"checksum slot ignored", []byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x1E, 0x04, 0x55}, 0xD6},
		{"sum wraps past a byte", []byte{0xFF, 0xFF, 0xFE, 0xFF, 0xFF, 0xFF, 0x00}, 0x04},
		{"header only", []byte{0xFF, 0xFF, 0x00}, 0xFF},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, Checksum(tc.frame))
		})
	}
}

func TestChecksumMatchesComplementOfSum(t *testing.T) {
	frame := []byte{0xFF, 0xFF}
	for i := 0; i < 120; i++ {
		frame = append(frame, byte(i*37))
	}
	frame = append(frame, 0)

	sum := 0
	for _, b := range frame[2 : len(frame)-1] {
		sum += int(b)
	}
	require.Equal(t, byte(^sum&0xFF), Checksum(frame))
}

func TestFrame(t *testing.T) {
	frame, err := Frame([]byte{0xFE, 0x04, 0x03, 0x18, 0x00})
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x04, 0x03, 0x18, 0x00, 0xE2}, frame)
}

func TestFrameCapacity(t *testing.T) {
	_, err := Frame(make([]byte, MaxFrameSize-frameOverhead))
	require.NoError(t, err)

	_, err = Frame(make([]byte, MaxFrameSize-frameOverhead+1))
	require.Error(t, err)
	require.True(t, IsCapacityError(err))

	var capErr *CapacityError
	require.True(t, errors.As(err, &capErr))
	require.Equal(t, MaxFrameSize+1, capErr.Size)
	require.Equal(t, MaxFrameSize, capErr.Max)
}

func TestFrameTooShort(t *testing.T) {
	_, err := Frame([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrInvalidPacket)
}

func TestProtocol_ModePacket(t *testing.T) {
	p := NewProtocol()

	testCases := []struct {
		name   string
		id     byte
		mode   byte
		expect []byte
	}{
		{"broadcast servo mode", BroadcastID, ModeServo, []byte{0xFF, 0xFF, 0xFE, 0x04, 0x03, 0x18, 0x00, 0xE2}},
		{"servo mode", 0x01, ModeServo, []byte{0xFF, 0xFF, 0x01, 0x04, 0x03, 0x18, 0x00, 0xDF}},
		{"motor mode", 0x01, ModeMotor, []byte{0xFF, 0xFF, 0x01, 0x04, 0x03, 0x18, 0x01, 0xDE}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			packet, err := p.ModePacket(tc.id, tc.mode)
			require.NoError(t, err)
			require.Equal(t, tc.expect, packet)
		})
	}

	_, err := p.ModePacket(0x01, 0x07)
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = p.ModePacket(0xFF, ModeServo)
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestProtocol_ReadPacket(t *testing.T) {
	p := NewProtocol()

	// Read 4 bytes from goal position on servo 1
	packet, err := p.ReadPacket(0x01, RegGoalPosition.Address, 0x04)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x1E, 0x04, 0xD6}, packet)
}

func TestProtocol_SyncPositionSpeedPacket(t *testing.T) {
	p := NewProtocol()

	testCases := []struct {
		name      string
		ids       []byte
		positions []int16
		speeds    []int16
		expect    []byte
	}{
		{
			"single unit",
			[]byte{1}, []int16{512}, []int16{100},
			[]byte{0xFF, 0xFF, 0xFE, 0x09, 0x83, 0x1E, 0x04, 0x01, 0x00, 0x02, 0x64, 0x00, 0xEC},
		},
		{
			"single unit clamped",
			[]byte{1}, []int16{2000}, []int16{2000},
			[]byte{0xFF, 0xFF, 0xFE, 0x09, 0x83, 0x1E, 0x04, 0x01, 0xFF, 0x03, 0xFF, 0x03, 0x4E},
		},
		{
			"two units at the bounds",
			[]byte{5, 9}, []int16{0, 1023}, []int16{1023, 0},
			[]byte{
				0xFF, 0xFF, 0xFE, 0x0E, 0x83, 0x1E, 0x04,
				0x05, 0x00, 0x00, 0xFF, 0x03,
				0x09, 0xFF, 0x03, 0x00, 0x00,
				0x3C,
			},
		},
		{
			// Negative positions are not clamped and reach the wire as two's complement.
			"three units mixed",
			[]byte{1, 2, 3}, []int16{512, 4000, -5}, []int16{100, 300, 2000},
			[]byte{
				0xFF, 0xFF, 0xFE, 0x13, 0x83, 0x1E, 0x04,
				0x01, 0x00, 0x02, 0x64, 0x00,
				0x02, 0xFF, 0x03, 0x2C, 0x01,
				0x03, 0xFB, 0xFF, 0xFF, 0x03,
				0xB2,
			},
		},
		{
			"duplicate ids kept in order",
			[]byte{1, 1}, []int16{100, 200}, []int16{10, 20},
			[]byte{
				0xFF, 0xFF, 0xFE, 0x0E, 0x83, 0x1E, 0x04,
				0x01, 0x64, 0x00, 0x0A, 0x00,
				0x01, 0xC8, 0x00, 0x14, 0x00,
				0x02,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			packet, err := p.SyncPositionSpeedPacket(tc.ids, tc.positions, tc.speeds)
			require.NoError(t, err)
			require.Equal(t, tc.expect, packet)
		})
	}
}

func TestProtocol_SyncSpeedPacket(t *testing.T) {
	p := NewProtocol()

	testCases := []struct {
		name   string
		ids    []byte
		speeds []int16
		expect []byte
	}{
		{
			"reverse",
			[]byte{1}, []int16{-500},
			[]byte{0xFF, 0xFF, 0xFE, 0x09, 0x83, 0x1E, 0x04, 0x01, 0x00, 0x02, 0xF4, 0x05, 0x57},
		},
		{
			"forward",
			[]byte{1}, []int16{500},
			[]byte{0xFF, 0xFF, 0xFE, 0x09, 0x83, 0x1E, 0x04, 0x01, 0x00, 0x02, 0xF4, 0x01, 0x5B},
		},
		{
			"clamped both ways",
			[]byte{1, 2, 3}, []int16{2000, -2000, 0},
			[]byte{
				0xFF, 0xFF, 0xFE, 0x13, 0x83, 0x1E, 0x04,
				0x01, 0x00, 0x02, 0xFF, 0x03,
				0x02, 0x00, 0x02, 0xFF, 0x07,
				0x03, 0x00, 0x02, 0x00, 0x00,
				0x35,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			packet, err := p.SyncSpeedPacket(tc.ids, tc.speeds)
			require.NoError(t, err)
			require.Equal(t, tc.expect, packet)
		})
	}
}

func TestProtocol_SyncLengthAndBroadcast(t *testing.T) {
	p := NewProtocol()

	for n := 1; n <= MaxSyncUnits; n++ {
		ids := make([]byte, n)
		values := make([]int16, n)
		for i := range ids {
			ids[i] = byte(i + 1)
			values[i] = int16(i * 40)
		}

		posFrame, err := p.SyncPositionSpeedPacket(ids, values, values)
		require.NoError(t, err)
		speedFrame, err := p.SyncSpeedPacket(ids, values)
		require.NoError(t, err)

		for _, frame := range [][]byte{posFrame, speedFrame} {
			require.Equal(t, byte(BroadcastID), frame[2])
			require.Equal(t, byte(4+5*n), frame[3], "length byte for %d units", n)
			require.Len(t, frame, 4+int(frame[3]))
			require.Equal(t, Checksum(frame), frame[len(frame)-1])
		}
	}
}

func TestProtocol_SyncErrors(t *testing.T) {
	p := NewProtocol()

	_, err := p.SyncPositionSpeedPacket([]byte{1, 2}, []int16{1}, []int16{1, 2})
	require.ErrorIs(t, err, ErrBatchMismatch)

	_, err = p.SyncSpeedPacket([]byte{1}, nil)
	require.ErrorIs(t, err, ErrBatchMismatch)

	_, err = p.SyncSpeedPacket([]byte{1, 0xFF}, []int16{1, 2})
	require.ErrorIs(t, err, ErrInvalidID)

	n := MaxSyncUnits + 1
	_, err = p.SyncPositionSpeedPacket(make([]byte, n), make([]int16, n), make([]int16, n))
	require.ErrorIs(t, err, ErrFrameTooLarge)

	var capErr *CapacityError
	require.True(t, errors.As(err, &capErr))
	require.Equal(t, n, capErr.Units)
}

func TestProtocol_EmptySyncFrame(t *testing.T) {
	p := NewProtocol()

	packet, err := p.SyncSpeedPacket(nil, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x04, 0x83, 0x1E, 0x04, 0x58}, packet)
}

func TestProtocol_Decode(t *testing.T) {
	p := NewProtocol()

	frame, err := p.WritePacket(0x03, RegGoalPosition.Address, []byte{0x80, 0x01})
	require.NoError(t, err)

	pkt, err := p.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, byte(0x03), pkt.ID)
	require.Equal(t, InstWrite, pkt.Instruction)
	require.Equal(t, []byte{RegGoalPosition.Address, 0x80, 0x01}, pkt.Parameters)

	testCases := []struct {
		name  string
		frame []byte
		err   error
	}{
		{"too short", []byte{0xFF, 0xFF, 0x01}, ErrInvalidPacket},
		{"bad header", []byte{0xFF, 0x00, 0x01, 0x04, 0x03, 0x18, 0x00, 0xDF}, ErrInvalidPacket},
		{"bad length", []byte{0xFF, 0xFF, 0x01, 0x05, 0x03, 0x18, 0x00, 0xDF}, ErrInvalidPacket},
		{"bad checksum", []byte{0xFF, 0xFF, 0x01, 0x04, 0x03, 0x18, 0x00, 0xDE}, ErrChecksum},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Decode(tc.frame)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestMotorSpeedEncoding(t *testing.T) {
	testCases := []struct {
		speed  int16
		expect uint16
	}{
		{0, 0},
		{500, 0x01F4},
		{-500, 0x05F4},
		{1023, 1023},
		{-1023, 2047},
		{2000, 1023},
		{-2000, 2047},
		{-1, 1025},
	}

	for _, tc := range testCases {
		encoded := EncodeMotorSpeed(tc.speed)
		require.Equal(t, tc.expect, encoded, "speed %d", tc.speed)
		require.Equal(t, ClampMotorSpeed(tc.speed), DecodeMotorSpeed(encoded))
	}
}

func TestClamps(t *testing.T) {
	require.Equal(t, int16(1023), ClampPosition(2000))
	require.Equal(t, int16(-5), ClampPosition(-5))
	require.Equal(t, int16(1023), ClampSpeed(1024))
	require.Equal(t, int16(-1), ClampSpeed(-1))
	require.Equal(t, int16(-1023), ClampMotorSpeed(-30000))
}
