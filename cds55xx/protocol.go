// Package cds55xx provides a Go library for commanding CDS55xx serial bus servos.
package cds55xx

import (
	"encoding/binary"
	"fmt"
)

// Instruction codes per the CDS55xx protocol.
const (
	InstRead      byte = 0x02
	InstWrite     byte = 0x03
	InstSyncWrite byte = 0x83
)

// Special ID values.
const (
	BroadcastID = 0xFE
	MaxServoID  = 0xFD
)

// Packet header bytes.
const (
	headerByte1 = 0xFF
	headerByte2 = 0xFF
)

// Frame sizing. Every frame is built in a buffer of at most MaxFrameSize bytes.
const (
	MaxFrameSize = 128

	frameOverhead = 3 // header(2) + checksum(1)
	syncPrefixLen = 5 // id + length + instruction + address + data length
	syncUnitLen   = 5 // id + position(2) + speed(2)

	// MaxSyncUnits is the largest batch that fits in one sync write frame.
	MaxSyncUnits = (MaxFrameSize - frameOverhead - syncPrefixLen) / syncUnitLen
)

// Value limits.
const (
	MaxPosition = 1023
	MaxSpeed    = 1023
	MinSpeed    = -1023

	motorReverseFlag      = 1 << 10
	motorPositionSentinel = 0x0200
)

// Packet represents a CDS55xx instruction packet.
type Packet struct {
	ID          byte
	Instruction byte
	Parameters  []byte
}

// Checksum computes the checksum byte of an assembled frame.
// frame must include the header and a trailing slot for the checksum itself;
// the sum runs from the ID byte through the last parameter.
func Checksum(frame []byte) byte {
	var sum int16
	for i := 2; i < len(frame)-1; i++ {
		sum += int16(frame[i])
	}
	return ^byte(sum)
}

// Frame wraps a payload (ID, length, instruction, parameters) with the
// header and checksum. It fails rather than exceed MaxFrameSize.
func Frame(payload []byte) ([]byte, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrInvalidPacket, len(payload))
	}

	size := len(payload) + frameOverhead
	if size > MaxFrameSize {
		return nil, &CapacityError{Size: size, Max: MaxFrameSize}
	}

	buf := make([]byte, size, MaxFrameSize)
	buf[0], buf[1] = headerByte1, headerByte2
	copy(buf[2:], payload)
	buf[size-1] = Checksum(buf)

	return buf, nil
}

// Protocol encodes CDS55xx instruction packets. All multi-byte fields are
// little-endian.
type Protocol struct {
	byteOrder binary.ByteOrder
}

// NewProtocol creates a protocol encoder.
func NewProtocol() *Protocol {
	return &Protocol{byteOrder: binary.LittleEndian}
}

// ByteOrder returns the byte order for multi-byte values.
func (p *Protocol) ByteOrder() binary.ByteOrder {
	return p.byteOrder
}

// Encode constructs a wire-format frame from the given packet.
func (p *Protocol) Encode(pkt Packet) ([]byte, error) {
	if err := validateByteID(pkt.ID); err != nil {
		return nil, err
	}

	// Build payload: id(1) + length(1) + instruction(1) + params(n)
	payload := make([]byte, 0, 3+len(pkt.Parameters))
	payload = append(payload, pkt.ID, byte(len(pkt.Parameters)+2), pkt.Instruction)
	payload = append(payload, pkt.Parameters...)

	return Frame(payload)
}

// Decode parses and verifies a single instruction frame. It is meant for
// inspecting frames produced by this package.
func (p *Protocol) Decode(frame []byte) (Packet, error) {
	if len(frame) < 6 {
		return Packet{}, fmt.Errorf("%w: %d bytes is too short", ErrInvalidPacket, len(frame))
	}
	if frame[0] != headerByte1 || frame[1] != headerByte2 {
		return Packet{}, fmt.Errorf("%w: bad header %02X %02X", ErrInvalidPacket, frame[0], frame[1])
	}

	length := int(frame[3])
	if length < 2 || len(frame) != 4+length {
		return Packet{}, fmt.Errorf("%w: length byte %d does not match %d byte frame", ErrInvalidPacket, length, len(frame))
	}

	expected := Checksum(frame)
	if actual := frame[len(frame)-1]; actual != expected {
		return Packet{}, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, expected, actual)
	}

	pkt := Packet{
		ID:          frame[2],
		Instruction: frame[4],
	}
	if paramLen := length - 2; paramLen > 0 {
		pkt.Parameters = make([]byte, paramLen)
		copy(pkt.Parameters, frame[5:5+paramLen])
	}

	return pkt, nil
}

// Instruction packet builders

// ReadPacket creates a read instruction packet.
func (p *Protocol) ReadPacket(id, address, length byte) ([]byte, error) {
	return p.Encode(Packet{
		ID:          id,
		Instruction: InstRead,
		Parameters:  []byte{address, length},
	})
}

// WritePacket creates a write instruction packet.
func (p *Protocol) WritePacket(id, address byte, data []byte) ([]byte, error) {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)

	return p.Encode(Packet{
		ID:          id,
		Instruction: InstWrite,
		Parameters:  params,
	})
}

// ModePacket creates a write of the operating mode register.
func (p *Protocol) ModePacket(id, mode byte) ([]byte, error) {
	if mode != ModeServo && mode != ModeMotor {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	return p.WritePacket(id, RegMode.Address, []byte{mode})
}

// SyncPositionSpeedPacket creates a broadcast sync write of goal position and
// speed. Units appear in input order; values above 1023 are clamped.
func (p *Protocol) SyncPositionSpeedPacket(ids []byte, positions, speeds []int16) ([]byte, error) {
	if len(positions) != len(ids) || len(speeds) != len(ids) {
		return nil, fmt.Errorf("%w: %d ids, %d positions, %d speeds",
			ErrBatchMismatch, len(ids), len(positions), len(speeds))
	}

	return p.syncWrite(ids, func(i int, data []byte) {
		p.byteOrder.PutUint16(data[0:2], uint16(ClampPosition(positions[i])))
		p.byteOrder.PutUint16(data[2:4], uint16(ClampSpeed(speeds[i])))
	})
}

// SyncSpeedPacket creates a broadcast sync write of motor mode speeds.
// The position field carries the fixed motor mode sentinel 0x0200.
func (p *Protocol) SyncSpeedPacket(ids []byte, speeds []int16) ([]byte, error) {
	if len(speeds) != len(ids) {
		return nil, fmt.Errorf("%w: %d ids, %d speeds", ErrBatchMismatch, len(ids), len(speeds))
	}

	return p.syncWrite(ids, func(i int, data []byte) {
		p.byteOrder.PutUint16(data[0:2], motorPositionSentinel)
		p.byteOrder.PutUint16(data[2:4], EncodeMotorSpeed(speeds[i]))
	})
}

// syncWrite lays out the sync write prefix and one unit per id. fill writes
// the unit's four data bytes.
func (p *Protocol) syncWrite(ids []byte, fill func(i int, data []byte)) ([]byte, error) {
	if size := frameOverhead + syncPrefixLen + len(ids)*syncUnitLen; size > MaxFrameSize {
		return nil, &CapacityError{Size: size, Max: MaxFrameSize, Units: len(ids)}
	}
	for _, id := range ids {
		if err := validateByteID(id); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, syncPrefixLen, syncPrefixLen+len(ids)*syncUnitLen)
	payload[0] = BroadcastID
	payload[2] = InstSyncWrite
	payload[3] = RegGoalPosition.Address
	payload[4] = syncDataLen

	var unit [syncUnitLen]byte
	for i, id := range ids {
		unit[0] = id
		fill(i, unit[1:])
		payload = append(payload, unit[:]...)
	}

	// instruction through checksum
	payload[1] = byte(len(payload) - 2 + 1)

	return Frame(payload)
}

// ClampPosition caps a goal position at MaxPosition. Negative values pass
// through unchanged.
func ClampPosition(position int16) int16 {
	return min(position, MaxPosition)
}

// ClampSpeed caps a servo mode speed at MaxSpeed. Negative values pass
// through unchanged.
func ClampSpeed(speed int16) int16 {
	return min(speed, MaxSpeed)
}

// ClampMotorSpeed limits a motor mode speed to [MinSpeed, MaxSpeed].
func ClampMotorSpeed(speed int16) int16 {
	return max(MinSpeed, min(speed, MaxSpeed))
}

// EncodeMotorSpeed clamps a motor mode speed and converts it to the
// sign-magnitude register value: bit 10 set means reverse.
func EncodeMotorSpeed(speed int16) uint16 {
	speed = ClampMotorSpeed(speed)
	if speed < 0 {
		return uint16(-speed) + motorReverseFlag
	}
	return uint16(speed)
}

// DecodeMotorSpeed converts a sign-magnitude register value back to a signed speed.
func DecodeMotorSpeed(value uint16) int16 {
	magnitude := int16(value & (motorReverseFlag - 1))
	if value&motorReverseFlag != 0 {
		return -magnitude
	}
	return magnitude
}

func validateByteID(id byte) error {
	if id > BroadcastID {
		return fmt.Errorf("%w: %d (valid range: 0-%d, %d for broadcast)", ErrInvalidID, id, MaxServoID, BroadcastID)
	}
	return nil
}
