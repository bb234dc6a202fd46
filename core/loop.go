// Control loop: acquire, convert, compute, actuate, report, poll.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/drivers"

	"gopid/protocol"
)

const (
	DefaultReportEvery     = 20
	DefaultPollTimeout     = 5 * time.Millisecond
	DefaultSetpointTimeout = 5 * time.Second
)

// ErrSetupNotValid is returned when the loop is started without a valid
// Setup installed.
var ErrSetupNotValid = errors.New("no valid setup installed")

// Operator is the console seen by the loop. Parsing is the operator's job;
// the loop only receives keys and finished numbers.
type Operator interface {
	// PollKey waits up to timeout for a key. ok is false when none arrived.
	PollKey(ctx context.Context, timeout time.Duration) (key byte, ok bool)

	// ReadSetpoint prompts for and returns one numeric value.
	ReadSetpoint(ctx context.Context) (float64, error)
}

// Watchdog is the keep-alive the loop kicks every cycle.
type Watchdog interface {
	Update()
}

// LoopConfig wires the collaborators. Velocity, Watchdog and GPIO are
// optional.
type LoopConfig struct {
	ADC      *ADC
	Sensor   *PressureSensor
	DAC      *DAC
	Velocity *Velocity
	Settings *Settings
	Operator Operator
	Watchdog Watchdog
	Diag     *Diagnostics

	GPIO      GPIODriver
	StatusLED GPIOPin
	Channel   uint8

	ReportEvery     int
	PollTimeout     time.Duration
	SetpointTimeout time.Duration
}

// CycleReport is the outcome of one Cycle.
type CycleReport struct {
	Count    uint32
	Setpoint float64
	MV       float64
	Code     uint16 // ADC code
	DACCode  uint16
	PID      PIDResult
	Degraded bool
	Err      error // device anomaly absorbed by the cycle
}

// Telemetry converts the report for the diagnostic stream.
func (r CycleReport) Telemetry(rpm float64) protocol.Telemetry {
	return protocol.Telemetry{
		Count:    r.Count,
		Setpoint: r.Setpoint,
		MV:       r.MV,
		ADC:      r.Code,
		Volts:    r.PID.Volts,
		Error:    r.PID.Error,
		P:        r.PID.P,
		I:        r.PID.I,
		D:        r.PID.D,
		RPM:      rpm,
		Degraded: r.Degraded,
	}
}

// Loop is the orchestrator.
type Loop struct {
	cfg LoopConfig
	pid PID

	cycles uint32
	led    bool
}

// NewLoop validates the wiring and fills in defaults.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	switch {
	case cfg.ADC == nil, cfg.Sensor == nil:
		return nil, errors.New("loop: ADC and sensor required")
	case cfg.DAC == nil:
		return nil, errors.New("loop: DAC required")
	case cfg.Settings == nil:
		return nil, errors.New("loop: settings required")
	case cfg.Operator == nil:
		return nil, errors.New("loop: operator required")
	}
	if cfg.Diag == nil {
		cfg.Diag = NewDiagnostics(nil)
	}
	if cfg.GPIO == nil {
		cfg.StatusLED = NoPin
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = DefaultReportEvery
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.SetpointTimeout <= 0 {
		cfg.SetpointTimeout = DefaultSetpointTimeout
	}
	if cfg.ADC.Diag == nil {
		cfg.ADC.Diag = cfg.Diag
	}
	return &Loop{cfg: cfg}, nil
}

// Settings returns the live configuration.
func (l *Loop) Settings() *Settings {
	return l.cfg.Settings
}

// Diag returns the diagnostic sink.
func (l *Loop) Diag() *Diagnostics {
	return l.cfg.Diag
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() uint32 {
	return l.cycles
}

// Boot loads the persisted setup, installing defaults when absent, and
// prints the summary.
func (l *Loop) Boot() error {
	d := l.cfg.Diag
	d.Printf("\r\n       Reading Setup : (Size : %d Bytes)", SetupImageSize)
	if store := l.cfg.Settings.store; store != nil {
		d.Printf("         Data EEPROM : (Size : %d Bytes)", store.Size())
	}

	installed, err := l.cfg.Settings.LoadOrInstallDefaults()
	if err != nil {
		return err
	}
	if installed {
		l.cfg.Diag.Record(EvtSetupInvalid, 0, 0, 0)
		d.Println("          First Run : No Setup")
		d.Println("              Status : Writing NVM Setup")
	} else {
		d.Println("         Setup Read : Ok")
	}
	l.ShowSetup()
	return nil
}

// Start resets and calibrates the converter, reports the zero-scale codes
// of both channels and restarts the cycle count.
func (l *Loop) Start() error {
	if err := l.cfg.ADC.Reset(); err != nil {
		return err
	}
	if err := l.cfg.ADC.Configure(l.cfg.ADC.Config()); err != nil {
		return err
	}
	for ch := uint8(0); ch < ADCChannels; ch++ {
		z, err := l.cfg.ADC.ReadZeroScale(ch)
		if err != nil {
			return err
		}
		l.cfg.Diag.Printf("CH%d Zero : %d", ch, z)
	}
	l.pid.Reset()
	l.cycles = 0
	return nil
}

// ShowSetup prints the live configuration.
func (l *Loop) ShowSetup() {
	s := l.cfg.Settings.Snapshot()
	d := l.cfg.Diag
	d.Printf("              Ident : %s", s.Ident)
	d.Printf("      MV : %03.2f  TSP : %03.2f  RSP : %03.2f  Rate : %2.2f", s.MeasuredValue, s.TargetSetpoint, s.RampSetpoint, s.RampRate)
	d.Printf("      Kp : %3.2f  Ki : %3.2f  Kd : %3.2f", s.Kp, s.Ki, s.Kd)
	d.Printf("    Mode : %s  PB : %f  Setup : %02x", s.Direction, s.ProportionalBand, s.Validity)
}

// Cycle runs acquire, convert, compute and actuate once. Device anomalies
// are absorbed into the report; only an invalid setup is returned.
func (l *Loop) Cycle() (CycleReport, error) {
	setup := l.cfg.Settings.Snapshot()
	if !setup.Valid() || setup.Validate() != nil {
		return CycleReport{}, ErrSetupNotValid
	}

	rep := CycleReport{Count: l.cycles, Setpoint: setup.TargetSetpoint}
	if err := l.cfg.Sensor.Update(drivers.Pressure); err != nil {
		rep.Degraded = true
		rep.Err = err
		l.cfg.Diag.Record(EvtDegraded, l.cycles, uint32(l.cfg.Sensor.Code()), 0)
	}
	rep.Code = l.cfg.Sensor.Code()
	rep.MV = l.cfg.Sensor.Pressure()
	l.cfg.Settings.NoteMeasuredValue(rep.MV)

	rep.PID = l.pid.Step(rep.MV, setup, l.cfg.Sensor.Calibration().MaxValue)
	code, err := l.cfg.DAC.Set(rep.PID.Volts)
	rep.DACCode = code
	if err != nil && rep.Err == nil {
		rep.Degraded = true
		rep.Err = err
	}

	l.cycles++
	return rep, nil
}

// Run cycles until the operator aborts or ctx ends. The watchdog is kicked
// on every pass.
func (l *Loop) Run(ctx context.Context) error {
	s := l.cfg.Settings.Snapshot()
	if !s.Valid() || s.Validate() != nil {
		return ErrSetupNotValid
	}
	d := l.cfg.Diag
	d.Println("\r\nPID Test Program Vo=(Kp*P)+(Ki*I)+(Kd*D)")
	d.Println("Uses Loop Gain only within proportional band")
	d.Printf("Starting PID Control Loop with (Kp=%f,Ki=%f,Kd=%f)..<ESC> to Exit.", s.Kp, s.Ki, s.Kd)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.kick()

		rep, err := l.Cycle()
		if err != nil {
			return err
		}
		if rep.Count%uint32(l.cfg.ReportEvery) == 0 {
			d.Print(rep.Telemetry(l.rpm(ctx)).Format())
		} else if rep.Degraded {
			d.Print(protocol.DegradedMarker)
		} else {
			d.Print(protocol.ProgressMarker)
		}

		key, ok := l.cfg.Operator.PollKey(ctx, l.cfg.PollTimeout)
		if !ok {
			continue
		}
		switch key {
		case protocol.KeyAbort:
			d.Record(EvtAbort, l.cycles, 0, 0)
			d.Println("\r\nLoop aborted")
			return nil
		case protocol.KeySetpoint:
			l.kick()
			l.overrideSetpoint(ctx)
		}
	}
}

func (l *Loop) overrideSetpoint(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.SetpointTimeout)
	defer cancel()

	v, err := l.cfg.Operator.ReadSetpoint(ctx)
	l.kick()
	if err != nil {
		l.cfg.Diag.Printf("\r\nSetpoint unchanged: %v", err)
		return
	}
	if err := l.cfg.Settings.SetTargetSetpoint(v); err != nil {
		l.cfg.Diag.Printf("\r\nSetpoint rejected: %v", err)
		return
	}
	l.cfg.Diag.Printf("\r\nSetpoint: %f", v)
}

func (l *Loop) rpm(ctx context.Context) float64 {
	if l.cfg.Velocity == nil {
		return 0
	}
	rpm, err := l.cfg.Velocity.MeasureRPM(ctx)
	if err != nil {
		return 0
	}
	return rpm
}

func (l *Loop) kick() {
	if l.cfg.Watchdog != nil {
		l.cfg.Watchdog.Update()
	}
	if l.cfg.StatusLED != NoPin {
		l.led = !l.led
		l.cfg.GPIO.SetPin(l.cfg.StatusLED, l.led)
	}
}

// Countdown waits seconds for ESC, printing the remaining time. It returns
// true when the countdown ran out and false when the operator pressed ESC.
func (l *Loop) Countdown(ctx context.Context, seconds int) bool {
	for n := seconds; n > 0; n-- {
		l.kick()
		l.cfg.Diag.Print(fmt.Sprintf("\r%d ", n))
		key, ok := l.cfg.Operator.PollKey(ctx, time.Second)
		if ok && key == protocol.KeyAbort {
			return false
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return true
}

// ExerciseDAC ramps the output across the full code range in steps.
func (l *Loop) ExerciseDAC(ctx context.Context, step uint16, dwell time.Duration) error {
	if step == 0 {
		step = 1
	}
	for code := uint32(0); code <= DACFullScale; code += uint32(step) {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.kick()
		if err := l.cfg.DAC.Emit(uint16(code)); err != nil {
			return err
		}
		l.cfg.Diag.Printf("DAC 0x%03X %2.2f(V)", code, l.cfg.DAC.Volts(uint16(code)))
		if dwell > 0 {
			time.Sleep(dwell)
		}
	}
	return nil
}

// ExerciseADC prints n acquisitions with their engineering values.
func (l *Loop) ExerciseADC(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.kick()
		err := l.cfg.Sensor.Update(drivers.Pressure)
		code := l.cfg.Sensor.Code()
		if err != nil {
			l.cfg.Diag.Printf("ADC:%05d (0x%04X) %v", code, code, err)
			continue
		}
		l.cfg.Diag.Printf("ADC:%05d (0x%04X) MV:%3.2f", code, code, l.cfg.Sensor.Pressure())
	}
	return nil
}

// ExerciseEncoder prints n velocity measurements.
func (l *Loop) ExerciseEncoder(ctx context.Context, n int) error {
	if l.cfg.Velocity == nil {
		return errors.New("no encoder configured")
	}
	for i := 0; i < n; i++ {
		l.kick()
		r, err := l.cfg.Velocity.Measure(ctx)
		if err != nil {
			return err
		}
		l.cfg.Diag.Printf("Width:%d Period:%d RPM:%f fresh=%t", r.Sample.Width, r.PeriodTicks, r.RPM, r.Fresh)
	}
	return nil
}

// CurrentCode acquires once and returns the raw code, for capturing
// calibration points.
func (l *Loop) CurrentCode() (uint16, error) {
	return l.cfg.ADC.Acquire(l.cfg.Channel)
}

// SetCalibration replaces the sensor scaling between cycles.
func (l *Loop) SetCalibration(cal Calibration) error {
	return l.cfg.Sensor.SetCalibration(cal)
}

// Calibration returns the active sensor scaling.
func (l *Loop) Calibration() Calibration {
	return l.cfg.Sensor.Calibration()
}
