package cds55xx

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrInvalidID     = errors.New("invalid servo ID")
	ErrInvalidMode   = errors.New("invalid operating mode")
	ErrBatchMismatch = errors.New("batch length mismatch")
	ErrFrameTooLarge = errors.New("frame exceeds buffer capacity")
	ErrTransmit      = errors.New("transmit failed")
	ErrBusClosed     = errors.New("bus is closed")
	ErrInvalidPacket = errors.New("invalid packet format")
	ErrChecksum      = errors.New("checksum mismatch")
	ErrNotInGroup    = errors.New("servo not in group")
)

// CapacityError reports a frame that would not fit in the frame buffer.
type CapacityError struct {
	Size  int // Frame size the command needs
	Max   int // Buffer capacity
	Units int // Batch size, for sync writes
}

func (e *CapacityError) Error() string {
	if e.Units > 0 {
		return fmt.Sprintf("%v: %d units need %d bytes, capacity is %d (max %d units)",
			ErrFrameTooLarge, e.Units, e.Size, e.Max, MaxSyncUnits)
	}
	return fmt.Sprintf("%v: need %d bytes, capacity is %d", ErrFrameTooLarge, e.Size, e.Max)
}

// Is matches ErrFrameTooLarge.
func (e *CapacityError) Is(target error) bool {
	return target == ErrFrameTooLarge
}

// TransmitError reports a failure of the transmit collaborator.
type TransmitError struct {
	Op  string // Command being sent (e.g., "set_mode", "sync_write_speed")
	Err error  // Underlying error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("%v during %s: %v", ErrTransmit, e.Op, e.Err)
}

func (e *TransmitError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransmit.
func (e *TransmitError) Is(target error) bool {
	return target == ErrTransmit
}

// ServoError represents an error commanding a specific servo.
type ServoError struct {
	ID  int    // Servo ID
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *ServoError) Error() string {
	return fmt.Sprintf("servo %d %s failed: %v", e.ID, e.Op, e.Err)
}

func (e *ServoError) Unwrap() error {
	return e.Err
}

// IsTransmitError returns true if the error came from the transmit collaborator.
func IsTransmitError(err error) bool {
	return errors.Is(err, ErrTransmit)
}

// IsCapacityError returns true if a frame would have overflowed its buffer.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrFrameTooLarge)
}

// GetServoError extracts a ServoError from an error chain, if present.
func GetServoError(err error) (*ServoError, bool) {
	var servoErr *ServoError
	if errors.As(err, &servoErr) {
		return servoErr, true
	}
	return nil, false
}
