package cds55xx

import (
	"context"

	"go.uber.org/zap"
)

// Clamp describes a value that was saturated to its register range before
// being encoded.
type Clamp struct {
	ID        byte
	Field     string // "position", "speed" or "motor_speed"
	Requested int16
	Applied   int16
}

// Codec encodes motion commands and hands each frame to a Transmitter.
// It holds no per-call state; serialising access to the physical link is the
// Transmitter's job (see Bus).
type Codec struct {
	tx       Transmitter
	protocol *Protocol
	logger   *zap.Logger
	onClamp  func(Clamp)
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the logger used to report clamped values.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Codec) {
		c.logger = logger
	}
}

// WithClampObserver registers a callback invoked for every saturated value.
func WithClampObserver(fn func(Clamp)) Option {
	return func(c *Codec) {
		c.onClamp = fn
	}
}

// NewCodec creates a codec that sends frames through tx.
func NewCodec(tx Transmitter, opts ...Option) *Codec {
	c := &Codec{
		tx:       tx,
		protocol: NewProtocol(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Protocol returns the packet encoder used by the codec.
func (c *Codec) Protocol() *Protocol {
	return c.protocol
}

// SetMode writes the operating mode (ModeServo or ModeMotor) of one servo,
// or of every servo when id is BroadcastID.
func (c *Codec) SetMode(ctx context.Context, id, mode byte) error {
	frame, err := c.protocol.ModePacket(id, mode)
	if err != nil {
		return err
	}
	return c.send(ctx, "set_mode", frame)
}

// SetPosition moves one servo to position at speed (servo mode).
// Both values are capped at 1023.
func (c *Codec) SetPosition(ctx context.Context, id byte, position, speed int16) error {
	return c.SyncWritePositionSpeed(ctx, []byte{id}, []int16{position}, []int16{speed})
}

// SetSpeed spins one servo at speed (motor mode). Speed is limited to
// [-1023, 1023]; negative values reverse.
func (c *Codec) SetSpeed(ctx context.Context, id byte, speed int16) error {
	return c.SyncWriteSpeed(ctx, []byte{id}, []int16{speed})
}

// SyncWritePositionSpeed sends goal positions and speeds for several servos
// in one broadcast packet. ids, positions and speeds are matched by index.
// An empty batch sends nothing; use Protocol().SyncPositionSpeedPacket to
// build the zero-unit frame.
func (c *Codec) SyncWritePositionSpeed(ctx context.Context, ids []byte, positions, speeds []int16) error {
	if len(ids) == 0 && len(positions) == 0 && len(speeds) == 0 {
		return nil
	}

	frame, err := c.protocol.SyncPositionSpeedPacket(ids, positions, speeds)
	if err != nil {
		return err
	}

	for i, id := range ids {
		c.observe(id, "position", positions[i], ClampPosition(positions[i]))
		c.observe(id, "speed", speeds[i], ClampSpeed(speeds[i]))
	}

	return c.send(ctx, "sync_write_position_speed", frame)
}

// SyncWriteSpeed sends motor mode speeds for several servos in one broadcast
// packet. An empty batch sends nothing; use Protocol().SyncSpeedPacket to
// build the zero-unit frame.
func (c *Codec) SyncWriteSpeed(ctx context.Context, ids []byte, speeds []int16) error {
	if len(ids) == 0 && len(speeds) == 0 {
		return nil
	}

	frame, err := c.protocol.SyncSpeedPacket(ids, speeds)
	if err != nil {
		return err
	}

	for i, id := range ids {
		c.observe(id, "motor_speed", speeds[i], ClampMotorSpeed(speeds[i]))
	}

	return c.send(ctx, "sync_write_speed", frame)
}

func (c *Codec) observe(id byte, field string, requested, applied int16) {
	if requested == applied {
		return
	}

	c.logger.Debug("value clamped",
		zap.Uint8("id", id),
		zap.String("field", field),
		zap.Int16("requested", requested),
		zap.Int16("applied", applied),
	)

	if c.onClamp != nil {
		c.onClamp(Clamp{ID: id, Field: field, Requested: requested, Applied: applied})
	}
}

func (c *Codec) send(ctx context.Context, op string, frame []byte) error {
	if err := c.tx.Transmit(ctx, frame); err != nil {
		return &TransmitError{Op: op, Err: err}
	}
	return nil
}
