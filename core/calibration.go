package core

import "errors"

// Calibration maps raw converter codes onto the sensor's engineering span.
type Calibration struct {
	LowBits  uint16    // raw code at zero
	HighBits uint16    // raw code at MaxValue
	MaxValue float64   // engineering span, e.g. MPa
	Coefs    []float64 // optional linearization, Coefs[i] multiplies v^i
}

var (
	ErrCalibrationSpan  = errors.New("calibration high bits must exceed low bits")
	ErrCalibrationRange = errors.New("calibration max value must be positive")
)

// DefaultCalibration returns the commissioning values for the 0-300 MPa
// transducer.
func DefaultCalibration() Calibration {
	return Calibration{
		LowBits:  12000,
		HighBits: 60000,
		MaxValue: 300,
	}
}

// Validate checks the calibration invariants.
func (c Calibration) Validate() error {
	if c.HighBits <= c.LowBits {
		return ErrCalibrationSpan
	}
	if !(c.MaxValue > 0) {
		return ErrCalibrationRange
	}
	return nil
}

// ToEngineeringUnits converts a raw code. Codes outside LowBits..HighBits
// extrapolate linearly.
func (c Calibration) ToEngineeringUnits(raw uint16) float64 {
	span := float64(c.HighBits) - float64(c.LowBits)
	v := (float64(raw) - float64(c.LowBits)) / span * c.MaxValue
	if len(c.Coefs) == 0 {
		return v
	}

	// Horner evaluation of the refinement polynomial
	out := 0.0
	for i := len(c.Coefs) - 1; i >= 0; i-- {
		out = out*v + c.Coefs[i]
	}
	return out
}
