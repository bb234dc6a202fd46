// PID with a proportional band and a windowed derivative.
//
// Vo = Kp*P + Ki*I + Kd*D, where
//
//	P  error scaled so the band edge maps to ±OutputLimit
//	I  mean of the last PIDWindow errors over the sensor span
//	D  process value drop across the last window over PIDWindow
//
// Outside the band only Kp*P drives the output.
package core

import "math"

const (
	// PIDWindow is the error history length and derivative stride.
	PIDWindow = 5

	// OutputLimit bounds P and the output voltage.
	OutputLimit = 5.0
)

// PIDResult carries one step's terms for telemetry.
type PIDResult struct {
	P, I, D   float64
	Error     float64 // setpoint minus process value, sign adjusted for direction
	Volts     float64
	Saturated bool  // P pinned at ±OutputLimit, I and D suppressed
	Cycle     uint8 // position in the window, 0 at the boundary
}

// PID holds the control cycle state. The zero value is ready to use.
type PID struct {
	integ   [PIDWindow]float64
	count   uint8
	mvStart float64
	mvLast  float64
	mvNew   float64
	d       float64
	dir     Direction
	primed  bool
}

// Reset clears the history. The next Step starts a new window.
func (p *PID) Reset() {
	*p = PID{}
}

// Proportional maps err onto ±OutputLimit across the band pb.
func Proportional(err, pb float64) float64 {
	v := err / pb * OutputLimit
	switch {
	case v >= OutputLimit:
		return OutputLimit
	case v <= -OutputLimit:
		return -OutputLimit
	}
	return v
}

// Step runs one cycle for process value mv. maxValue is the calibration span.
// s must satisfy Setup.Validate.
func (p *PID) Step(mv float64, s Setup, maxValue float64) PIDResult {
	if !p.primed || s.Direction != p.dir {
		p.Reset()
		p.primed = true
		p.dir = s.Direction
		p.mvNew = mv
		p.mvStart = mv
	}
	sign := s.Direction.Sign()

	p.count %= PIDWindow
	p.mvLast = p.mvNew
	p.mvNew = mv
	if p.count == 0 {
		p.d = sign * (p.mvStart - p.mvNew) / PIDWindow
		p.mvStart = p.mvNew
	}

	errv := sign * (s.TargetSetpoint - mv)
	p.integ[p.count] = errv
	var sum float64
	for _, e := range p.integ {
		sum += e
	}
	r := PIDResult{
		I:     sum / (PIDWindow * maxValue),
		D:     p.d,
		P:     Proportional(errv, s.ProportionalBand),
		Error: errv,
		Cycle: p.count,
	}

	if r.P != OutputLimit && r.P != -OutputLimit {
		r.Volts = clamp(s.Kp*r.P+s.Ki*r.I+s.Kd*r.D, -OutputLimit, OutputLimit)
	} else {
		// Only the upper bound applies here.
		r.Saturated = true
		r.Volts = math.Min(s.Kp*r.P, OutputLimit)
	}

	p.count++
	return r
}

// LastDelta returns the change in process value over the previous step.
func (p *PID) LastDelta() float64 {
	return p.mvNew - p.mvLast
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
