package cds55xx

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
)

// Normalization modes
const (
	NormModeRaw       = 0 // Raw goal positions (0-1023)
	NormModeRange100  = 1 // Normalized to 0-100 range
	NormModeRangeM100 = 2 // Normalized to -100 to +100 range
	NormModeDegrees   = 3 // Degrees from the center of the calibrated range
)

// MotorCalibration defines calibration parameters for a servo motor
type MotorCalibration struct {
	ID        int `json:"id"`         // Servo ID
	DriveMode int `json:"drive_mode"` // Drive direction (0=normal, 1=inverted)
	RangeMin  int `json:"range_min"`  // Minimum usable position
	RangeMax  int `json:"range_max"`  // Maximum usable position
	NormMode  int `json:"norm_mode"`  // Normalization mode (defaults to degrees when absent)
}

// UnmarshalJSON decodes a calibration. A missing norm_mode means degrees; an
// explicit 0 stays raw.
func (c *MotorCalibration) UnmarshalJSON(data []byte) error {
	type plain MotorCalibration
	cal := plain{NormMode: NormModeDegrees}
	if err := json.Unmarshal(data, &cal); err != nil {
		return err
	}
	*c = MotorCalibration(cal)
	return nil
}

// NewMotorCalibration creates a new motor calibration with default values
func NewMotorCalibration(id int) *MotorCalibration {
	return &MotorCalibration{
		ID:       id,
		RangeMin: 0,
		RangeMax: MaxPosition,
		NormMode: NormModeDegrees,
	}
}

// Validate checks if the calibration parameters are valid
func (c *MotorCalibration) Validate() error {
	if c.ID < 0 || c.ID > MaxServoID {
		return fmt.Errorf("%w: %d (must be 0-%d)", ErrInvalidID, c.ID, MaxServoID)
	}

	if c.RangeMin >= c.RangeMax {
		return fmt.Errorf("invalid range: min (%d) must be less than max (%d)", c.RangeMin, c.RangeMax)
	}

	if c.RangeMin < 0 || c.RangeMax > MaxPosition {
		return fmt.Errorf("range values must be between 0-%d, got min=%d max=%d", MaxPosition, c.RangeMin, c.RangeMax)
	}

	if c.NormMode < NormModeRaw || c.NormMode > NormModeDegrees {
		return fmt.Errorf("invalid normalization mode: %d", c.NormMode)
	}

	return nil
}

// Clone creates a copy of the calibration
func (c *MotorCalibration) Clone() *MotorCalibration {
	clone := *c
	return &clone
}

// RangeSize returns the usable range size
func (c *MotorCalibration) RangeSize() int {
	return c.RangeMax - c.RangeMin
}

// CenterPosition returns the center position of the calibrated range
func (c *MotorCalibration) CenterPosition() int {
	return (c.RangeMin + c.RangeMax) / 2
}

// NormalizationModeString returns a human-readable string for the normalization mode
func (c *MotorCalibration) NormalizationModeString() string {
	switch c.NormMode {
	case NormModeRaw:
		return "Raw"
	case NormModeRange100:
		return "0-100"
	case NormModeRangeM100:
		return "-100 to +100"
	case NormModeDegrees:
		return "Degrees"
	default:
		return "Unknown"
	}
}

// String returns a string representation of the calibration
func (c *MotorCalibration) String() string {
	direction := "Normal"
	if c.DriveMode != 0 {
		direction = "Inverted"
	}

	return fmt.Sprintf("ID %d: Range[%d-%d] %s %s",
		c.ID, c.RangeMin, c.RangeMax, c.NormalizationModeString(), direction)
}

// LoadCalibrations loads calibration data from a JSON file
// keyed by motor name.
func LoadCalibrations(filename string) (map[int]*MotorCalibration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var motorMap map[string]*MotorCalibration
	if err := json.Unmarshal(data, &motorMap); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	names := make([]string, 0, len(motorMap))
	for name := range motorMap {
		names = append(names, name)
	}
	slices.Sort(names)

	result := make(map[int]*MotorCalibration, len(motorMap))
	for _, motorName := range names {
		cal := motorMap[motorName]
		if cal == nil {
			return nil, fmt.Errorf("empty calibration for motor %s", motorName)
		}

		if err := cal.Validate(); err != nil {
			return nil, fmt.Errorf("invalid calibration for motor %s: %w", motorName, err)
		}

		if _, exists := result[cal.ID]; exists {
			return nil, fmt.Errorf("duplicate servo ID %d found in calibration file", cal.ID)
		}

		result[cal.ID] = cal
	}

	return result, nil
}

// SaveCalibrations saves calibration data to a JSON file keyed by motor name.
// Servos without a name are stored as motor_<id>.
func SaveCalibrations(filename string, calibrations map[int]*MotorCalibration, motorNames map[int]string) error {
	motorMap := make(map[string]*MotorCalibration, len(calibrations))

	for id, cal := range calibrations {
		motorName, exists := motorNames[id]
		if !exists {
			motorName = fmt.Sprintf("motor_%d", id)
		}
		motorMap[motorName] = cal
	}

	data, err := json.MarshalIndent(motorMap, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibrations: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}

	return nil
}

// Normalize converts a raw goal position to a normalized value.
func (c *MotorCalibration) Normalize(rawValue int) (float64, error) {
	if c.RangeMax == c.RangeMin {
		return 0, fmt.Errorf("invalid calibration: min and max are equal")
	}

	center := float64(c.RangeMin+c.RangeMax) / 2.0
	halfRange := float64(c.RangeMax-c.RangeMin) / 2.0

	var normalized float64
	switch c.NormMode {
	case NormModeRaw:
		normalized = float64(rawValue)
	case NormModeRange100:
		normalized = float64(rawValue-c.RangeMin) / float64(c.RangeMax-c.RangeMin) * 100.0
		normalized = math.Max(0, math.Min(100, normalized))
	case NormModeRangeM100:
		normalized = (float64(rawValue) - center) / halfRange * 100.0
		normalized = math.Max(-100, math.Min(100, normalized))
	case NormModeDegrees:
		limit := halfRange * degreesPerStep
		normalized = (float64(rawValue) - center) * degreesPerStep
		normalized = math.Max(-limit, math.Min(limit, normalized))
	default:
		return 0, fmt.Errorf("unknown normalization mode: %d", c.NormMode)
	}

	if c.DriveMode != 0 {
		normalized = c.invert(normalized)
	}

	return normalized, nil
}

// Denormalize converts a normalized value to a goal position within the
// calibrated range.
func (c *MotorCalibration) Denormalize(normalizedValue float64) (int, error) {
	if c.RangeMax == c.RangeMin {
		return 0, fmt.Errorf("invalid calibration: min and max are equal")
	}

	adjusted := normalizedValue
	if c.DriveMode != 0 {
		adjusted = c.invert(normalizedValue)
	}

	center := float64(c.RangeMin+c.RangeMax) / 2.0
	halfRange := float64(c.RangeMax-c.RangeMin) / 2.0

	var rawValue int
	switch c.NormMode {
	case NormModeRaw:
		rawValue = int(math.Round(adjusted))
	case NormModeRange100:
		clamped := math.Max(0, math.Min(100, adjusted))
		rawValue = int(math.Round(clamped/100.0*float64(c.RangeMax-c.RangeMin) + float64(c.RangeMin)))
	case NormModeRangeM100:
		clamped := math.Max(-100, math.Min(100, adjusted))
		rawValue = int(math.Round(center + clamped/100.0*halfRange))
	case NormModeDegrees:
		rawValue = int(math.Round(center + adjusted/degreesPerStep))
	default:
		return 0, fmt.Errorf("unknown normalization mode: %d", c.NormMode)
	}

	return max(c.RangeMin, min(rawValue, c.RangeMax)), nil
}

// invert mirrors a normalized value for servos mounted in reverse.
func (c *MotorCalibration) invert(value float64) float64 {
	switch c.NormMode {
	case NormModeRaw:
		return float64(c.RangeMin+c.RangeMax) - value
	case NormModeRange100:
		return 100.0 - value
	default:
		return -value
	}
}

// degreesPerStep is the angle of one position step on a CDS55xx (300 degrees
// over 1023 steps).
var degreesPerStep = ModelCDS5516.DegreesPerStep()
