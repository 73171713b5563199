package cds55xx

// Register represents a servo control table register.
type Register struct {
	Address byte
	Size    int // 1 or 2 bytes
}

// Control table registers written by this package.
var (
	RegMode         = Register{Address: 0x18, Size: 1}
	RegGoalPosition = Register{Address: 0x1E, Size: 2}
	RegMovingSpeed  = Register{Address: 0x20, Size: 2}
)

// syncDataLen is the per-unit data length of a sync write starting at
// RegGoalPosition: goal position followed by moving speed.
var syncDataLen = byte(RegGoalPosition.Size + RegMovingSpeed.Size)

// Operating modes written to RegMode.
const (
	ModeServo byte = 0x00
	ModeMotor byte = 0x01 // continuous rotation; not yet verified on hardware
)

// ModeName returns a human-readable name for an operating mode.
func ModeName(mode byte) string {
	switch mode {
	case ModeServo:
		return "servo"
	case ModeMotor:
		return "motor"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode name ("servo" or "motor") to its register value.
func ParseMode(name string) (byte, bool) {
	switch name {
	case "servo":
		return ModeServo, true
	case "motor":
		return ModeMotor, true
	default:
		return 0, false
	}
}
