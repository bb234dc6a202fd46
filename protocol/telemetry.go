// Package protocol holds the wire-level pieces shared by the firmware and
// host: the image checksum and the operator telemetry line.
package protocol

import "fmt"

// Operator keys recognised by the control loop
const (
	KeyAbort    = 0x1B // ESC
	KeySetpoint = '?'
)

// Markers written on cycles without a full report
const (
	ProgressMarker = "."
	DegradedMarker = "!"
)

// Telemetry is one periodic control loop report.
type Telemetry struct {
	Count    uint32
	Setpoint float64
	MV       float64
	ADC      uint16
	Volts    float64
	Error    float64
	P, I, D  float64
	RPM      float64
	Degraded bool
}

// Format renders the report as a single CR LF prefixed line.
func (t Telemetry) Format() string {
	s := fmt.Sprintf("\r\nCount:%04d, SP:%3.2f,MV:%3.2f,ADC:%05d (0x%04X),DAC/PID:%2.2f(V),ERR:%f,(P:%f,I:%f,D:%f),RPM:%f",
		t.Count, t.Setpoint, t.MV, t.ADC, t.ADC, t.Volts, t.Error, t.P, t.I, t.D, t.RPM)
	if t.Degraded {
		s += ",DEGRADED"
	}
	return s
}
