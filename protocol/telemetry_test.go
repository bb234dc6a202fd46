package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTelemetryFormat(t *testing.T) {
	tm := Telemetry{
		Count:    20,
		Setpoint: 220,
		MV:       150.5,
		ADC:      36000,
		Volts:    5,
		Error:    69.5,
		P:        5,
		I:        0.25,
		D:        -0.5,
		RPM:      60,
	}

	line := tm.Format()
	assert.True(t, strings.HasPrefix(line, "\r\nCount:0020, SP:220.00,MV:150.50,"))
	assert.Contains(t, line, "ADC:36000 (0x8CA0)")
	assert.Contains(t, line, "DAC/PID:5.00(V)")
	assert.Contains(t, line, "(P:5.000000,I:0.250000,D:-0.500000)")
	assert.True(t, strings.HasSuffix(line, "RPM:60.000000"))
	assert.NotContains(t, line, "DEGRADED")

	tm.Degraded = true
	assert.True(t, strings.HasSuffix(tm.Format(), ",DEGRADED"))
}
