package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalibrationMidpoint(t *testing.T) {
	cal := DefaultCalibration()
	assert.Equal(t, 150.0, cal.ToEngineeringUnits(36000))
}

func TestCalibrationEndpoints(t *testing.T) {
	tests := []Calibration{
		DefaultCalibration(),
		{LowBits: 0, HighBits: 65535, MaxValue: 10},
		{LowBits: 1000, HighBits: 1001, MaxValue: 0.5},
	}
	for _, cal := range tests {
		assert.InDelta(t, 0.0, cal.ToEngineeringUnits(cal.LowBits), 1e-12)
		assert.InDelta(t, cal.MaxValue, cal.ToEngineeringUnits(cal.HighBits), 1e-9)
	}
}

func TestCalibrationMonotonic(t *testing.T) {
	cal := DefaultCalibration()
	prev := cal.ToEngineeringUnits(cal.LowBits)
	for raw := uint32(cal.LowBits) + 1; raw <= uint32(cal.HighBits); raw += 7 {
		v := cal.ToEngineeringUnits(uint16(raw))
		if v < prev {
			t.Fatalf("not monotonic at %d: %f < %f", raw, v, prev)
		}
		prev = v
	}
}

func TestCalibrationExtrapolates(t *testing.T) {
	cal := DefaultCalibration()
	assert.InDelta(t, -75.0, cal.ToEngineeringUnits(0), 1e-9)
	assert.Greater(t, cal.ToEngineeringUnits(65535), cal.MaxValue)
}

func TestCalibrationCoefficients(t *testing.T) {
	cal := DefaultCalibration()

	// identity refinement
	cal.Coefs = []float64{0, 1}
	assert.InDelta(t, 150.0, cal.ToEngineeringUnits(36000), 1e-9)

	// offset and quadratic term: 1 + 0.5v + 0.01v^2 at v=150
	cal.Coefs = []float64{1, 0.5, 0.01}
	assert.InDelta(t, 1+75+225, cal.ToEngineeringUnits(36000), 1e-9)
}

func TestCalibrationValidate(t *testing.T) {
	tests := []struct {
		name string
		cal  Calibration
		want error
	}{
		{"default", DefaultCalibration(), nil},
		{"equal bits", Calibration{LowBits: 100, HighBits: 100, MaxValue: 1}, ErrCalibrationSpan},
		{"inverted", Calibration{LowBits: 200, HighBits: 100, MaxValue: 1}, ErrCalibrationSpan},
		{"zero span", Calibration{LowBits: 0, HighBits: 100, MaxValue: 0}, ErrCalibrationRange},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cal.Validate())
		})
	}
}
