package cds55xx

import (
	"context"
	"fmt"
)

// PositionMap is a map of servo ID to position value.
type PositionMap map[int]int

// SpeedMap is a map of servo ID to speed value.
type SpeedMap map[int]int

// ServoGroup manages coordinated operations across multiple servos.
// Sync writes list servos in group order.
type ServoGroup struct {
	codec  *Codec
	servos []*Servo
	ids    []int
}

// NewServoGroup creates a new group from the given servos.
func NewServoGroup(codec *Codec, servos ...*Servo) *ServoGroup {
	ids := make([]int, len(servos))
	for i, s := range servos {
		ids[i] = s.ID()
	}
	return &ServoGroup{
		codec:  codec,
		servos: servos,
		ids:    ids,
	}
}

// NewServoGroupByIDs creates servos with the given IDs and groups them.
// All servos default to the CDS5516 model.
func NewServoGroupByIDs(codec *Codec, ids ...int) *ServoGroup {
	servos := make([]*Servo, len(ids))
	for i, id := range ids {
		servos[i] = NewServo(codec, id, nil)
	}
	return NewServoGroup(codec, servos...)
}

// Servos returns the servos in this group.
func (g *ServoGroup) Servos() []*Servo {
	return g.servos
}

// IDs returns the servo IDs in this group.
func (g *ServoGroup) IDs() []int {
	return g.ids
}

// Servo returns the servo at the given index.
func (g *ServoGroup) Servo(index int) *Servo {
	if index < 0 || index >= len(g.servos) {
		return nil
	}
	return g.servos[index]
}

// ServoByID returns the servo with the given ID, or nil if not found.
func (g *ServoGroup) ServoByID(id int) *Servo {
	for _, s := range g.servos {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

// SetPositions moves servos to positions in one sync write.
// Only servos present in positions are written. A servo missing from speeds
// gets speed 0, which the servo treats as its maximum speed.
func (g *ServoGroup) SetPositions(ctx context.Context, positions PositionMap, speeds SpeedMap) error {
	if len(positions) == 0 {
		return nil // No-op for empty map
	}
	if err := checkMembers(g, positions); err != nil {
		return err
	}
	if err := checkMembers(g, speeds); err != nil {
		return err
	}

	ids := make([]byte, 0, len(positions))
	posList := make([]int16, 0, len(positions))
	speedList := make([]int16, 0, len(positions))

	for _, id := range g.ids {
		pos, ok := positions[id]
		if !ok {
			continue
		}
		ids = append(ids, byte(id))
		posList = append(posList, saturateInt16(pos))
		speedList = append(speedList, saturateInt16(speeds[id]))
	}

	return g.codec.SyncWritePositionSpeed(ctx, ids, posList, speedList)
}

// SetAngles moves servos to angles in degrees in one sync write, using each
// servo's model or calibration.
func (g *ServoGroup) SetAngles(ctx context.Context, angles map[int]float64, speeds SpeedMap) error {
	positions := make(PositionMap, len(angles))
	for id, deg := range angles {
		servo := g.ServoByID(id)
		if servo == nil {
			return fmt.Errorf("%w: %d", ErrNotInGroup, id)
		}
		pos, err := servo.PositionForAngle(deg)
		if err != nil {
			return &ServoError{ID: id, Op: "set angle", Err: err}
		}
		positions[id] = pos
	}
	return g.SetPositions(ctx, positions, speeds)
}

// SetSpeeds sets motor mode speeds in one sync write.
// Only servos present in speeds are written.
func (g *ServoGroup) SetSpeeds(ctx context.Context, speeds SpeedMap) error {
	if len(speeds) == 0 {
		return nil // No-op for empty map
	}
	if err := checkMembers(g, speeds); err != nil {
		return err
	}

	ids := make([]byte, 0, len(speeds))
	speedList := make([]int16, 0, len(speeds))

	for _, id := range g.ids {
		speed, ok := speeds[id]
		if !ok {
			continue
		}
		ids = append(ids, byte(id))
		speedList = append(speedList, saturateInt16(speed))
	}

	return g.codec.SyncWriteSpeed(ctx, ids, speedList)
}

// StopAll sets every servo's motor mode speed to zero.
func (g *ServoGroup) StopAll(ctx context.Context) error {
	speeds := make(SpeedMap, len(g.ids))
	for _, id := range g.ids {
		speeds[id] = 0
	}
	return g.SetSpeeds(ctx, speeds)
}

// SetModeAll writes the operating mode of each servo in turn.
// The protocol has no sync form of the mode write.
func (g *ServoGroup) SetModeAll(ctx context.Context, mode byte) error {
	for _, s := range g.servos {
		if err := s.SetMode(ctx, mode); err != nil {
			return err
		}
	}
	return nil
}

// checkMembers verifies every key of values is a valid ID that belongs to
// the group.
func checkMembers[M ~map[int]int](g *ServoGroup, values M) error {
	for id := range values {
		if _, err := servoByteID(id); err != nil {
			return err
		}
		if g.ServoByID(id) == nil {
			return fmt.Errorf("%w: %d", ErrNotInGroup, id)
		}
	}
	return nil
}
