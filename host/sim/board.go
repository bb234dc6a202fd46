// Package sim is a simulated controller board. It implements the GPIO
// driver at the bit level, so the real bus, ADC and DAC code run against
// an AD7705 and AD7243 model driving a first-order plant.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"gopid/core"
)

// Pins is the line assignment of the simulated board.
var Pins = core.BusPins{
	ADCSelect: 0,
	DACSelect: 1,
	Clock:     2,
	DataIn:    3,
	DataOut:   4,
	Reset:     5,
}

// StatusLED is the simulated status LED line.
const StatusLED core.GPIOPin = 6

// Config shapes the plant.
type Config struct {
	Calibration  core.Calibration // maps the process value to ADC codes
	DAC          core.DACRange
	StartValue   float64
	Gain         float64       // process units per volt at steady state
	TimeConstant time.Duration // first-order lag
	Noise        float64       // uniform noise amplitude in process units
	RPMPerVolt   float64
	Seed         int64
}

// Board is the simulated hardware.
type Board struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	pins   map[core.GPIOPin]bool
	config map[core.GPIOPin]bool // true output, false input
	adc    ad7705
	dac    ad7243
	pv     float64
	last   time.Time
	rng    *rand.Rand
}

var _ core.GPIODriver = (*Board)(nil)

// NewBoard creates a board with the plant at StartValue.
func NewBoard(cfg Config) *Board {
	if cfg.DAC.Max <= cfg.DAC.Min {
		cfg.DAC = core.BipolarRange
	}
	b := &Board{
		cfg:    cfg,
		now:    time.Now,
		pins:   make(map[core.GPIOPin]bool),
		config: make(map[core.GPIOPin]bool),
		pv:     cfg.StartValue,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	// bus lines idle high
	for _, pin := range []core.GPIOPin{Pins.ADCSelect, Pins.DACSelect, Pins.Clock, Pins.DataIn, Pins.Reset} {
		b.pins[pin] = true
	}
	b.adc.reset()
	b.dac.code = (&core.DAC{Range: cfg.DAC}).Code(0)
	b.last = b.now()
	return b
}

// SetClock replaces the time source of the plant.
func (b *Board) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.last = now()
	b.mu.Unlock()
}

func (b *Board) ConfigureOutput(pin core.GPIOPin) error {
	b.mu.Lock()
	b.config[pin] = true
	b.mu.Unlock()
	return nil
}

func (b *Board) ConfigureInput(pin core.GPIOPin) error {
	b.mu.Lock()
	b.config[pin] = false
	b.mu.Unlock()
	return nil
}

func (b *Board) SetPin(pin core.GPIOPin, value bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.pins[pin]
	b.pins[pin] = value
	if prev == value {
		return nil
	}

	switch pin {
	case Pins.Reset:
		if !value {
			b.adc.reset()
		}
	case Pins.ADCSelect:
		if value {
			b.adc.deselect()
		}
	case Pins.DACSelect:
		if value {
			b.dac.latch()
		} else {
			b.dac.shift, b.dac.bits = 0, 0
		}
	case Pins.Clock:
		adcSel := !b.pins[Pins.ADCSelect] && b.pins[Pins.Reset]
		dacSel := !b.pins[Pins.DACSelect]
		din := b.pins[Pins.DataIn]
		if !value {
			if adcSel {
				b.adc.falling()
			}
			return nil
		}
		if adcSel {
			b.adc.rising(din, b.sample)
		}
		if dacSel {
			b.dac.rising(din)
		}
	}
	return nil
}

func (b *Board) ReadPin(pin core.GPIOPin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pin == Pins.DataOut {
		return b.adc.dout
	}
	return b.pins[pin]
}

// sample advances the plant and returns the conversion for ch. Channel 1
// is the unused input and reads mid scale. Called with mu held.
func (b *Board) sample(ch byte) uint16 {
	b.advance()
	if ch != 0 {
		return 0x8000
	}
	if b.adc.satReads > 0 {
		b.adc.satReads--
		return 0xFFFF
	}
	if b.adc.stuck[0] {
		return 0xFFFF
	}

	v := b.pv
	if b.cfg.Noise > 0 {
		v += (b.rng.Float64()*2 - 1) * b.cfg.Noise
	}
	cal := b.cfg.Calibration
	code := float64(cal.LowBits) + v/cal.MaxValue*(float64(cal.HighBits)-float64(cal.LowBits))
	return uint16(math.Max(0, math.Min(0xFFFE, math.Round(code))))
}

// advance moves the plant toward the steady state for the current output.
func (b *Board) advance() {
	now := b.now()
	dt := now.Sub(b.last)
	b.last = now
	if dt <= 0 {
		return
	}
	target := b.cfg.StartValue + b.cfg.Gain*b.volts()
	if b.cfg.TimeConstant <= 0 {
		b.pv = target
		return
	}
	alpha := 1 - math.Exp(-dt.Seconds()/b.cfg.TimeConstant.Seconds())
	b.pv += (target - b.pv) * alpha
}

func (b *Board) volts() float64 {
	r := b.cfg.DAC
	return r.Min + float64(b.dac.code)/core.DACFullScale*(r.Max-r.Min)
}

// ProcessValue returns the plant state without noise.
func (b *Board) ProcessValue() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pv
}

// SetProcessValue forces the plant state.
func (b *Board) SetProcessValue(v float64) {
	b.mu.Lock()
	b.pv = v
	b.mu.Unlock()
}

// DACCode returns the latched output code and how many frames were latched.
func (b *Board) DACCode() (code uint16, writes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dac.code, b.dac.writes
}

// Volts returns the DAC output voltage.
func (b *Board) Volts() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volts()
}

// ADCSetup returns the setup register of ch.
func (b *Board) ADCSetup(ch int) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adc.setup[ch]
}

// Calibrations returns how many self or zero-scale calibrations ch ran.
func (b *Board) Calibrations(ch int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adc.calibrated[ch]
}

// StickADC pins channel 0 at full scale until the next calibration.
func (b *Board) StickADC() {
	b.mu.Lock()
	b.adc.stuck[0] = true
	b.mu.Unlock()
}

// SaturateReads makes the next n channel 0 conversions read full scale.
func (b *Board) SaturateReads(n int) {
	b.mu.Lock()
	b.adc.satReads = n
	b.mu.Unlock()
}

// RPM returns the shaft speed implied by the DAC output. Outputs within half
// an LSB of 0 V read as stopped.
func (b *Board) RPM() float64 {
	v := math.Abs(b.Volts())
	r := b.cfg.DAC
	if v < (r.Max-r.Min)/core.DACFullScale/2 {
		return 0
	}
	return v * b.cfg.RPMPerVolt
}
