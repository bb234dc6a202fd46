package core

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDACCode(t *testing.T) {
	dac := NewDAC(&fakePort{}, BipolarRange)
	tests := []struct {
		volts float64
		want  uint16
	}{
		{-5, 0},
		{0, 2048},
		{5, 4095},
		{2.5, 3071},
		{-12, 0},
		{25, 4095},
		{math.Inf(1), 4095},
		{math.NaN(), 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, dac.Code(tc.volts), "%v V", tc.volts)
	}
}

func TestDACVoltsInverse(t *testing.T) {
	dac := NewDAC(&fakePort{}, BipolarRange)
	for _, v := range []float64{-5, -1.25, 0, 3.3, 5} {
		assert.InDelta(t, v, dac.Volts(dac.Code(v)), 10.0/4095)
	}
}

func TestDACUnipolarRange(t *testing.T) {
	dac := NewDAC(&fakePort{}, DACRange{Min: 0, Max: 10})
	assert.Equal(t, uint16(0), dac.Code(-5))
	assert.Equal(t, uint16(2048), dac.Code(5))
}

func TestDACEmitWritesTwice(t *testing.T) {
	port := &fakePort{}
	dac := NewDAC(port, BipolarRange)

	require.NoError(t, dac.Emit(0xF800))
	assert.Equal(t, []uint16{0x0800, 0x0800}, port.dac)
}

func TestDACSet(t *testing.T) {
	port := &fakePort{}
	dac := NewDAC(port, BipolarRange)

	code, err := dac.Set(25)
	require.NoError(t, err)
	assert.Equal(t, uint16(DACFullScale), code)
	assert.Equal(t, []uint16{DACFullScale, DACFullScale}, port.dac)

	lost := errors.New("frame lost")
	port.err = lost
	_, err = dac.Set(0)
	assert.ErrorIs(t, err, lost)
}
