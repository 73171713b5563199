package cds55xx

import (
	"fmt"
	"math"
	"slices"
)

// Model represents a servo model specification.
type Model struct {
	Name        string
	Resolution  int     // Position resolution in steps
	MaxPosition int     // Maximum goal position value
	AngleRange  float64 // Degrees covered by positions 0..MaxPosition

	// BaudRates lists supported baud rates, fastest first.
	BaudRates []int
}

// DefaultBaudRates for CDS55xx servos.
var DefaultBaudRates = []int{
	1000000,
	500000,
	250000,
	115200,
	57600,
}

// Predefined servo models.
var (
	ModelCDS5500 = Model{
		Name:        "cds5500",
		Resolution:  1024,
		MaxPosition: MaxPosition,
		AngleRange:  300,
		BaudRates:   DefaultBaudRates,
	}

	ModelCDS5516 = Model{
		Name:        "cds5516",
		Resolution:  1024,
		MaxPosition: MaxPosition,
		AngleRange:  300,
		BaudRates:   DefaultBaudRates,
	}
)

var modelRegistry = make(map[string]*Model)

func init() {
	RegisterModel(&ModelCDS5500)
	RegisterModel(&ModelCDS5516)
}

// RegisterModel adds a model to the registry.
func RegisterModel(m *Model) {
	modelRegistry[m.Name] = m
}

// GetModel returns a model by name.
func GetModel(name string) (*Model, bool) {
	m, ok := modelRegistry[name]
	return m, ok
}

// ListModels returns all registered model names in sorted order.
func ListModels() []string {
	names := make([]string, 0, len(modelRegistry))
	for name := range modelRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CenterPosition returns the goal position of the middle of the travel.
func (m *Model) CenterPosition() int {
	return m.Resolution / 2
}

// DegreesPerStep returns the angle covered by one position step.
func (m *Model) DegreesPerStep() float64 {
	return m.AngleRange / float64(m.MaxPosition)
}

// PositionForAngle converts an angle in degrees, relative to the center of
// travel, to a goal position. The result is limited to [0, MaxPosition].
func (m *Model) PositionForAngle(degrees float64) int {
	pos := int(math.Round(float64(m.CenterPosition()) + degrees/m.DegreesPerStep()))
	return max(0, min(pos, m.MaxPosition))
}

// AngleForPosition converts a goal position to degrees relative to the center.
func (m *Model) AngleForPosition(position int) float64 {
	return float64(position-m.CenterPosition()) * m.DegreesPerStep()
}

// ValidatePosition checks if a position value is valid for this servo model.
func (m *Model) ValidatePosition(position int) error {
	if position < 0 || position > m.MaxPosition {
		return fmt.Errorf("position %d out of range [0, %d] for model %s",
			position, m.MaxPosition, m.Name)
	}
	return nil
}

// BaudRateIndex returns the index for a baud rate, or -1 if not supported.
func (m *Model) BaudRateIndex(baudRate int) int {
	return slices.Index(m.BaudRates, baudRate)
}
