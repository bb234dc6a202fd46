package core

import (
	"fmt"
	"math"
)

// DACFullScale is the largest 12-bit code.
const DACFullScale = DACCodeMask

// DACRange is the output span wired to the AD7243.
type DACRange struct {
	Min float64
	Max float64
}

// BipolarRange is the ±5 V configuration used by the valve driver.
var BipolarRange = DACRange{Min: -OutputLimit, Max: OutputLimit}

// DAC converts volts to codes and emits them.
type DAC struct {
	port  DACPort
	Range DACRange
}

// NewDAC creates an output service over port with span r.
func NewDAC(port DACPort, r DACRange) *DAC {
	return &DAC{port: port, Range: r}
}

// Code maps volts onto the 12-bit scale. Out-of-range input is clamped.
func (d *DAC) Code(volts float64) uint16 {
	span := d.Range.Max - d.Range.Min
	if span <= 0 || math.IsNaN(volts) {
		return 0
	}
	v := (volts - d.Range.Min) / span * DACFullScale
	switch {
	case v <= 0:
		return 0
	case v >= DACFullScale:
		return DACFullScale
	}
	return uint16(math.Round(v))
}

// Volts is the inverse of Code.
func (d *DAC) Volts(code uint16) float64 {
	code &= DACCodeMask
	return d.Range.Min + float64(code)/DACFullScale*(d.Range.Max-d.Range.Min)
}

// Emit writes code twice. The device occasionally drops a frame.
func (d *DAC) Emit(code uint16) error {
	code &= DACCodeMask
	for i := 0; i < 2; i++ {
		if err := d.port.WriteDAC(code); err != nil {
			return fmt.Errorf("dac write %d: %w", i+1, err)
		}
	}
	return nil
}

// Set converts and emits volts, returning the code sent.
func (d *DAC) Set(volts float64) (uint16, error) {
	code := d.Code(volts)
	return code, d.Emit(code)
}
