package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopid/config"
	"gopid/core"
	"gopid/host/console"
	"gopid/host/sim"
)

func TestOpenHardwareSim(t *testing.T) {
	cfg := config.Default()
	cfg.Encoder.TickFrequency = 1

	hw, err := openHardware(cfg)
	require.NoError(t, err)
	assert.IsType(t, &sim.Board{}, hw.GPIO)
	assert.Equal(t, sim.Pins, hw.Pins)
	assert.Equal(t, sim.StatusLED, hw.StatusLED)
	assert.NotNil(t, hw.Capture)
	assert.Equal(t, float64(core.DefaultTickFrequency), cfg.Encoder.TickFrequency)
}

func TestOpenHardwareUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "fpga"

	_, err := openHardware(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fpga")
}

func TestBusWait(t *testing.T) {
	assert.Nil(t, busWait(0))
	assert.Nil(t, busWait(-time.Millisecond))

	wait := busWait(time.Microsecond)
	require.NotNil(t, wait)
	wait()
}

func TestOpenConsoleStdin(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.Port = ""

	con, closeCon, err := openConsole(cfg)
	require.NoError(t, err)
	assert.NotNil(t, con)
	assert.NoError(t, closeCon())
}

func TestOpenConsoleMissingPort(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.Port = "/nonexistent/tty"

	_, _, err := openConsole(cfg)
	assert.Error(t, err)
}

func TestSessionEndsWhenInputCloses(t *testing.T) {
	var out bytes.Buffer
	con := console.New(strings.NewReader(""), &out, false)

	cfg := config.Default()
	hw, err := openHardware(cfg)
	require.NoError(t, err)

	loop, err := core.NewRig(core.RigConfig{
		GPIO:        hw.GPIO,
		Pins:        hw.Pins,
		StatusLED:   hw.StatusLED,
		Capture:     hw.Capture,
		CaptureBits: 32,
		NVM:         core.NewMemoryNVM(256),
		ADC:         core.DefaultADCConfig(),
		Calibration: cfg.CoreCalibration(),
		DACRange:    cfg.DACRange(),
		Operator:    con,
		Diag:        core.NewDiagnostics(nil),
		ADCSleep:    func(time.Duration) {},
	})
	require.NoError(t, err)

	err = session(context.Background(), con, loop, 0)
	assert.ErrorIs(t, err, console.ErrClosed)
}
