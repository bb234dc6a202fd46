package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*Bus, *MockGPIODriver) {
	t.Helper()
	m := NewMockGPIODriver()
	bus, err := NewBus(m, testPins)
	require.NoError(t, err)
	return bus, m
}

func TestNewBusIdleState(t *testing.T) {
	_, m := newTestBus(t)

	for _, pin := range []GPIOPin{testPins.ADCSelect, testPins.DACSelect, testPins.Clock, testPins.DataIn, testPins.Reset} {
		assert.True(t, m.outputs[pin], "pin %d output", pin)
		assert.True(t, m.pins[pin], "pin %d idles high", pin)
	}
	assert.True(t, m.inputs[testPins.DataOut])
}

func TestBusWriteADCByte(t *testing.T) {
	tests := []byte{0x00, 0x20, 0x38, 0xA5, 0xFF}
	for _, v := range tests {
		bus, m := newTestBus(t)
		require.NoError(t, bus.WriteADCByte(v))

		assert.Equal(t, []byte{v}, m.bytesOn(testPins.ADCSelect), "byte 0x%02X", v)
		assert.Empty(t, m.latched[testPins.DACSelect])
		assert.True(t, m.pins[testPins.ADCSelect], "select released")
		assert.True(t, m.pins[testPins.Clock], "clock idles high")
	}
}

func TestBusReadADCWord(t *testing.T) {
	bus, m := newTestBus(t)
	m.queueWord(0x8CA0)

	w, err := bus.ReadADCWord()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x8CA0), w)

	// DIN held high during the read
	assert.Equal(t, []byte{0xFF, 0xFF}, m.bytesOn(testPins.ADCSelect))
	assert.True(t, m.pins[testPins.ADCSelect])
}

func TestBusWriteDACMasks(t *testing.T) {
	tests := []struct {
		code uint16
		want []byte
	}{
		{0x0000, []byte{0x00, 0x00}},
		{0x0800, []byte{0x08, 0x00}},
		{0x0FFF, []byte{0x0F, 0xFF}},
		{0xF123, []byte{0x01, 0x23}},
	}
	for _, tc := range tests {
		bus, m := newTestBus(t)
		require.NoError(t, bus.WriteDAC(tc.code))
		assert.Equal(t, tc.want, m.bytesOn(testPins.DACSelect), "code 0x%04X", tc.code)
		assert.Empty(t, m.latched[testPins.ADCSelect])
	}
}

func TestBusResetADC(t *testing.T) {
	bus, m := newTestBus(t)
	require.NoError(t, bus.ResetADC())
	assert.Equal(t, 1, m.resetPulses)
	assert.True(t, m.pins[testPins.Reset])

	pins := testPins
	pins.Reset = NoPin
	m2 := NewMockGPIODriver()
	bus2, err := NewBus(m2, pins)
	require.NoError(t, err)
	require.NoError(t, bus2.ResetADC())
	assert.Zero(t, m2.resetPulses)
}

func TestSoftSPITx(t *testing.T) {
	m := NewMockGPIODriver()
	delays := 0
	spi := NewSoftSPI(m, testPins.Clock, testPins.DataIn, testPins.DataOut)
	spi.Delay = func() { delays++ }

	m.queueWord(0x1234)
	rx := make([]byte, 2)
	require.NoError(t, spi.Tx([]byte{0xAA, 0x55}, rx))
	assert.Equal(t, []byte{0x12, 0x34}, rx)
	assert.Equal(t, 32, delays)

	assert.Error(t, spi.Tx([]byte{1}, make([]byte, 2)))
}

func TestBusReadADCByte(t *testing.T) {
	bus, m := newTestBus(t)
	m.queueWord(0x5A00)

	b, err := bus.ReadADCByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x5A), b)
	assert.True(t, m.pins[testPins.ADCSelect])
}
