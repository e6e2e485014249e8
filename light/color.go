package light

import (
	"context"
	"fmt"
)

// HSB is a color as hue, saturation and brightness.
type HSB struct {
	// Degrees, 0 through 360.
	Hue uint16

	// Percentages, 0 through 100.
	Saturation uint8
	Brightness uint8
}

// Validate returns an error if any component is out of range.
func (c HSB) Validate() error {
	if c.Hue > 360 {
		return fmt.Errorf("hue %d out of range [0, 360]", c.Hue)
	}
	if c.Saturation > 100 {
		return fmt.Errorf("saturation %d out of range [0, 100]", c.Saturation)
	}
	if c.Brightness > 100 {
		return fmt.Errorf("brightness %d out of range [0, 100]", c.Brightness)
	}
	return nil
}

// Kelvin is a white color temperature.
type Kelvin uint16

// ColorSetter is a light that can be switched on to a color.
type ColorSetter interface {
	SetColor(ctx context.Context, c HSB) error
}

// TemperatureSetter is a light that can be switched on
// to a white color temperature.
type TemperatureSetter interface {
	SetTemperature(ctx context.Context, k Kelvin, brightness uint8) error
}
