package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"gopid/core"
)

// ErrReset asks the caller to restart the controller.
var ErrReset = errors.New("reset requested")

// Menu is the monitor shown between control runs.
type Menu struct {
	con  *Console
	loop *core.Loop

	// DACDwell is the hold time per code in the DAC ramp test.
	DACDwell time.Duration
	// LoopQueue is the telemetry backlog while the loop runs. Lines
	// beyond it are dropped rather than stalling a cycle.
	LoopQueue int
}

// NewMenu binds the menu to a console and a loop.
func NewMenu(con *Console, loop *core.Loop) *Menu {
	return &Menu{con: con, loop: loop, DACDwell: 20 * time.Millisecond, LoopQueue: 256}
}

// Show prints the current parameters and the choices.
func (m *Menu) Show() {
	s := m.loop.Settings().Snapshot()
	c := m.con
	c.Print("\r\n\r\n ===============[ PID Control Operator Console ]===============\r\n")
	c.Printf("\r\nCurrent Parms -> MV : %03.2f, TSP : %03.2f, Rate : %2.2f", s.MeasuredValue, s.TargetSetpoint, s.RampRate)
	c.Printf("\r\nConfig PID -> Kp : %3.2f,  Ki : %3.2f,  Kd : %3.2f", s.Kp, s.Ki, s.Kd)
	c.Printf("\r\nMode : %s    PB : %f\r\n", s.Direction, s.ProportionalBand)
	c.Print("\r\n\t1. Reset CPU")
	c.Print("\r\n\t2. Enter PID/Rate Values")
	c.Print("\r\n\t3. Enter Setpoint")
	c.Print("\r\n\t4. Calibrate Sensor")
	c.Print("\r\n\t5. Toggle Direction")
	c.Print("\r\n\t6. Run PID Loop")
	c.Print("\r\n\t7. Load Defaults")
	c.Print("\r\n\t8. Save Setup")
	c.Print("\r\n\t9. Device Tests")
	c.Print("\r\n\r\nSelect: ")
}

// Run shows the menu and dispatches keys until ctx ends, input closes or
// the operator asks for a reset.
func (m *Menu) Run(ctx context.Context) error {
	for {
		m.Show()
		key, err := m.con.ReadKey(ctx)
		if err != nil {
			return err
		}
		if err := m.Dispatch(ctx, key); err != nil {
			if errors.Is(err, ErrReset) || errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return err
			}
			m.con.Printf("\r\nError: %v", err)
		}
	}
}

// Dispatch runs one menu item. Unknown keys are ignored.
func (m *Menu) Dispatch(ctx context.Context, key byte) error {
	if key >= '1' && key <= '9' {
		m.con.Print(string(key))
	}
	switch key {
	case '1':
		m.con.Print("\r\nResetting...")
		return ErrReset
	case '2':
		return m.enterGains(ctx)
	case '3':
		return m.enterSetpoint(ctx)
	case '4':
		return m.calibrate(ctx)
	case '5':
		d, err := m.loop.Settings().ToggleDirection()
		if err != nil {
			return err
		}
		m.con.Printf("\r\nDirection : %s", d)
	case '6':
		return m.runLoop(ctx)
	case '7':
		return m.loadDefaults()
	case '8':
		if err := m.loop.Settings().PersistNow(); err != nil {
			return err
		}
		m.con.Print("\r\nSetup saved")
	case '9':
		return m.deviceTests(ctx)
	}
	return nil
}

// RunLoop starts the converter and runs the control loop until abort.
func (m *Menu) RunLoop(ctx context.Context) error {
	return m.runLoop(ctx)
}

func (m *Menu) runLoop(ctx context.Context) error {
	if err := m.loop.Start(); err != nil {
		return err
	}
	m.con.Drain()

	d := m.loop.Diag()
	before := d.Dropped()
	d.StartAsync(m.LoopQueue)
	err := m.loop.Run(ctx)
	d.Stop()
	if n := d.Dropped() - before; n > 0 {
		m.con.Printf("\r\n%d telemetry lines dropped", n)
	}
	return err
}

func (m *Menu) enterGains(ctx context.Context) error {
	s := m.loop.Settings().Snapshot()
	var err error
	read := func(label string, cur float64) float64 {
		if err != nil {
			return cur
		}
		var v float64
		v, err = m.con.ReadFloat(ctx, fmt.Sprintf("\r\n%14s [%f] : ", label, cur), cur)
		return v
	}
	kp := read("Kp", s.Kp)
	ki := read("Ki", s.Ki)
	kd := read("Kd", s.Kd)
	rate := read("Rate", s.RampRate)
	pb := read("PB", s.ProportionalBand)
	if err != nil {
		return err
	}

	settings := m.loop.Settings()
	return multierr.Combine(
		settings.SetGains(kp, ki, kd),
		settings.SetRampRate(rate),
		settings.SetProportionalBand(pb),
	)
}

func (m *Menu) enterSetpoint(ctx context.Context) error {
	s := m.loop.Settings().Snapshot()
	tsp, err := m.con.ReadFloat(ctx, fmt.Sprintf("\r\n           TSP [%f] : ", s.TargetSetpoint), s.TargetSetpoint)
	if err != nil {
		return err
	}
	rsp, err := m.con.ReadFloat(ctx, fmt.Sprintf("\r\n           RSP [%f] : ", s.RampSetpoint), s.RampSetpoint)
	if err != nil {
		return err
	}
	settings := m.loop.Settings()
	return multierr.Append(settings.SetTargetSetpoint(tsp), settings.SetRampSetpoint(rsp))
}

// calibrate shows the live code and lets the operator capture it as the
// zero or span point.
func (m *Menu) calibrate(ctx context.Context) error {
	code, err := m.loop.CurrentCode()
	if err != nil {
		return err
	}
	cal := m.loop.Calibration()
	m.con.Printf("\r\n Current ADC value : %d (%3.2f)", code, cal.ToEngineeringUnits(code))
	m.con.Printf("\r\n Low : %d  High : %d  Max : %f", cal.LowBits, cal.HighBits, cal.MaxValue)
	m.con.Print("\r\n Capture as (L)ow, (H)igh, (M)ax value or any key to skip: ")

	key, err := m.con.ReadKey(ctx)
	if err != nil {
		return err
	}
	switch key {
	case 'l', 'L':
		cal.LowBits = code
	case 'h', 'H':
		cal.HighBits = code
	case 'm', 'M':
		v, err := m.con.ReadFloat(ctx, "\r\n Max value : ", cal.MaxValue)
		if err != nil {
			return err
		}
		cal.MaxValue = v
	default:
		return nil
	}
	if err := m.loop.SetCalibration(cal); err != nil {
		return err
	}
	m.con.Printf("\r\n Calibration : %d..%d -> 0..%f", cal.LowBits, cal.HighBits, cal.MaxValue)
	return nil
}

func (m *Menu) loadDefaults() error {
	m.con.Print("\r\n\n================( Loading/Saving default Setup Values )================\r\n")
	var mv float64
	if code, err := m.loop.CurrentCode(); err == nil {
		mv = m.loop.Calibration().ToEngineeringUnits(code)
	}
	if err := m.loop.Settings().ResetToDefaults(mv); err != nil {
		return err
	}
	m.con.Print("\r\n              Status : Writing NVM Setup")
	m.loop.ShowSetup()
	return nil
}

func (m *Menu) deviceTests(ctx context.Context) error {
	m.con.Print("\r\n (D)AC ramp, (A)DC samples, (E)ncoder, (V)iew events, (X) erase setup NVM : ")
	key, err := m.con.ReadKey(ctx)
	if err != nil {
		return err
	}
	switch key {
	case 'd', 'D':
		return m.loop.ExerciseDAC(ctx, 256, m.DACDwell)
	case 'a', 'A':
		return m.loop.ExerciseADC(ctx, 10)
	case 'e', 'E':
		return m.loop.ExerciseEncoder(ctx, 5)
	case 'v', 'V':
		m.con.Print("\r\n")
		m.loop.Diag().DumpEvents()
	case 'x', 'X':
		m.con.Print("\r\n Setup values cleared from memory, erasing NVM")
		if err := m.loop.Settings().Erase(); err != nil {
			return err
		}
		m.con.Print("\r\n Erase verified")
	}
	return nil
}
