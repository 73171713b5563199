package cds55xx

import (
	"context"
	"fmt"
	"math"
)

// Servo provides a high-level interface for commanding a single servo.
type Servo struct {
	codec       *Codec
	id          int
	model       *Model
	calibration *MotorCalibration
}

// NewServo creates a new Servo instance.
// If model is nil, defaults to CDS5516.
func NewServo(codec *Codec, id int, model *Model) *Servo {
	if model == nil {
		model = &ModelCDS5516
	}
	return &Servo{
		codec: codec,
		id:    id,
		model: model,
	}
}

// ID returns the servo's ID.
func (s *Servo) ID() int {
	return s.id
}

// Model returns the servo's model specification.
func (s *Servo) Model() *Model {
	return s.model
}

// Calibration returns the servo's calibration, or nil.
func (s *Servo) Calibration() *MotorCalibration {
	return s.calibration
}

// SetCalibration attaches a calibration used by SetAngle.
func (s *Servo) SetCalibration(cal *MotorCalibration) {
	s.calibration = cal
}

// Mode

// SetMode writes the operating mode.
func (s *Servo) SetMode(ctx context.Context, mode byte) error {
	id, err := servoByteID(s.id)
	if err != nil {
		return err
	}
	if err := s.codec.SetMode(ctx, id, mode); err != nil {
		return &ServoError{ID: s.id, Op: "set mode", Err: err}
	}
	return nil
}

// UseServoMode switches to position control.
func (s *Servo) UseServoMode(ctx context.Context) error {
	return s.SetMode(ctx, ModeServo)
}

// UseMotorMode switches to continuous rotation.
func (s *Servo) UseMotorMode(ctx context.Context) error {
	return s.SetMode(ctx, ModeMotor)
}

// Position Control

// SetPosition commands the servo to move to position at speed.
// Both values are capped at 1023.
func (s *Servo) SetPosition(ctx context.Context, position, speed int) error {
	id, err := servoByteID(s.id)
	if err != nil {
		return err
	}
	if err := s.codec.SetPosition(ctx, id, saturateInt16(position), saturateInt16(speed)); err != nil {
		return &ServoError{ID: s.id, Op: "set position", Err: err}
	}
	return nil
}

// SetAngle moves the servo to an angle in degrees relative to the center of
// travel. With a calibration attached the angle is mapped through it.
func (s *Servo) SetAngle(ctx context.Context, degrees float64, speed int) error {
	position, err := s.PositionForAngle(degrees)
	if err != nil {
		return &ServoError{ID: s.id, Op: "set angle", Err: err}
	}
	return s.SetPosition(ctx, position, speed)
}

// PositionForAngle returns the goal position SetAngle would send.
func (s *Servo) PositionForAngle(degrees float64) (int, error) {
	if s.calibration == nil {
		return s.model.PositionForAngle(degrees), nil
	}
	if s.calibration.NormMode != NormModeDegrees {
		return 0, fmt.Errorf("calibration for servo %d is not in degrees (%s)",
			s.id, s.calibration.NormalizationModeString())
	}
	return s.calibration.Denormalize(degrees)
}

// Velocity Control

// SetSpeed sets the rotation speed in motor mode.
// Positive values rotate forward, negative values reverse.
func (s *Servo) SetSpeed(ctx context.Context, speed int) error {
	id, err := servoByteID(s.id)
	if err != nil {
		return err
	}
	if err := s.codec.SetSpeed(ctx, id, saturateInt16(speed)); err != nil {
		return &ServoError{ID: s.id, Op: "set speed", Err: err}
	}
	return nil
}

// Stop sets the motor mode speed to zero.
func (s *Servo) Stop(ctx context.Context) error {
	return s.SetSpeed(ctx, 0)
}

func servoByteID(id int) (byte, error) {
	if id < 0 || id > MaxServoID {
		return 0, fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, id, MaxServoID)
	}
	return byte(id), nil
}

// saturateInt16 narrows v without wrapping; the codec applies the register
// limits afterwards.
func saturateInt16(v int) int16 {
	return int16(max(math.MinInt16, min(v, math.MaxInt16)))
}
