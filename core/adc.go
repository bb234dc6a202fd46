// AD7705 acquisition: register setup, self-calibration and saturation retry.
package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// Communications register bytes. The low bits select the channel.
const (
	ADCRegClock = 0x20 // write clock register
	ADCRegSetup = 0x10 // write setup register
	ADCRegData  = 0x38 // read data register
	ADCRegZero  = 0x68 // read zero-scale calibration register
)

// Setup register: calibration mode (MD1 MD0)
const (
	ADCModeNormal    = 0x00
	ADCModeSelf      = 0x40
	ADCModeZeroScale = 0x80
	ADCModeFullScale = 0xC0
)

// Setup register: PGA gain (G2 G1 G0)
const (
	ADCGain1   = 0x00
	ADCGain2   = 0x08
	ADCGain4   = 0x10
	ADCGain8   = 0x18
	ADCGain16  = 0x20
	ADCGain32  = 0x28
	ADCGain64  = 0x30
	ADCGain128 = 0x38
)

// Setup register: low control bits
const (
	ADCUnipolar   = 0x04
	ADCBuffered   = 0x02
	ADCFilterSync = 0x01
)

// Clock register values for a 4.9152 MHz crystal
const (
	ADCRate50  = 0x04
	ADCRate60  = 0x05
	ADCRate250 = 0x06
	ADCRate500 = 0x07
)

const (
	// ADCChannels is the number of differential inputs on the part.
	ADCChannels = 2

	// SaturationThreshold is the lowest code treated as a stuck converter.
	SaturationThreshold = 0xFFF0

	// DefaultADCSettle is the wait after each calibration step.
	DefaultADCSettle = 100 * time.Millisecond

	// DefaultADCRetries bounds recalibration attempts per acquisition.
	DefaultADCRetries = 3
)

// ErrSaturated reports an acquisition that stayed at full scale after every
// recalibration attempt.
var ErrSaturated = errors.New("adc saturated")

// ADCConfig selects the converter operating point.
type ADCConfig struct {
	Mode          byte // calibration mode used when SelfCalibrate is false
	Gain          byte
	Rate          byte
	Polarity      byte // ADCUnipolar or 0 for bipolar
	SelfCalibrate bool
}

// DefaultADCConfig is gain 1, unipolar, 50 Hz with a zero-scale calibration.
func DefaultADCConfig() ADCConfig {
	return ADCConfig{
		Mode:          ADCModeNormal,
		Gain:          ADCGain1,
		Rate:          ADCRate50,
		Polarity:      ADCUnipolar,
		SelfCalibrate: true,
	}
}

// ADC drives an AD7705 through an ADCPort.
type ADC struct {
	port ADCPort
	cfg  ADCConfig

	// Sleep waits for the device. Tests replace it.
	Sleep func(time.Duration)

	Settle     time.Duration
	MaxRetries int

	// Diag receives saturation and recalibration events. May be nil.
	Diag  *Diagnostics
	recal uint32
}

// NewADC creates an acquisition service with the default operating point.
func NewADC(port ADCPort) *ADC {
	return &ADC{
		port:       port,
		cfg:        DefaultADCConfig(),
		Sleep:      time.Sleep,
		Settle:     DefaultADCSettle,
		MaxRetries: DefaultADCRetries,
	}
}

// Config returns the operating point last passed to Configure.
func (a *ADC) Config() ADCConfig {
	return a.cfg
}

// Reset pulses the hardware reset line and waits for the oscillator.
func (a *ADC) Reset() error {
	if err := a.port.ResetADC(); err != nil {
		return fmt.Errorf("adc reset: %w", err)
	}
	a.Sleep(a.Settle)
	return nil
}

// Configure programs both channels. With SelfCalibrate each channel is set
// to buffered normal mode, zero-scale calibrated in filter sync, then
// released to normal mode.
func (a *ADC) Configure(cfg ADCConfig) error {
	a.cfg = cfg
	for ch := uint8(0); ch < ADCChannels; ch++ {
		if !cfg.SelfCalibrate {
			if err := a.writeSetup(ch, cfg.Mode|ADCBuffered); err != nil {
				return err
			}
			continue
		}
		if err := a.calibrate(ch); err != nil {
			return err
		}
	}
	return nil
}

func (a *ADC) calibrate(ch uint8) error {
	if err := a.writeSetup(ch, ADCModeNormal|ADCBuffered); err != nil {
		return err
	}
	a.Sleep(a.Settle)
	if err := a.writeSetup(ch, ADCModeZeroScale|ADCBuffered|ADCFilterSync); err != nil {
		return err
	}
	a.Sleep(a.Settle)
	if err := a.writeSetup(ch, ADCModeNormal); err != nil {
		return err
	}
	a.Sleep(a.Settle)
	return nil
}

// writeSetup writes the clock register then the setup register for ch.
func (a *ADC) writeSetup(ch uint8, modeBits byte) error {
	seq := [4]byte{
		ADCRegClock | ch,
		a.cfg.Rate,
		ADCRegSetup | ch,
		modeBits | a.cfg.Gain | a.cfg.Polarity,
	}
	for _, b := range seq {
		if err := a.port.WriteADCByte(b); err != nil {
			return fmt.Errorf("adc setup ch%d: %w", ch, err)
		}
	}
	return nil
}

// AcquireRaw reads one conversion result from ch.
func (a *ADC) AcquireRaw(ch uint8) (uint16, error) {
	if err := a.port.WriteADCByte(ADCRegData | ch); err != nil {
		return 0, fmt.Errorf("adc select ch%d: %w", ch, err)
	}
	code, err := a.port.ReadADCWord()
	if err != nil {
		return 0, fmt.Errorf("adc read ch%d: %w", ch, err)
	}
	return code, nil
}

// Acquire reads ch and recalibrates on saturation. The last code read is
// returned together with ErrSaturated if every retry saturates.
func (a *ADC) Acquire(ch uint8) (uint16, error) {
	code, err := a.AcquireRaw(ch)
	if err != nil {
		return 0, err
	}
	for attempt := 0; code >= SaturationThreshold; attempt++ {
		if a.Diag != nil {
			a.Diag.Record(EvtSaturated, uint32(attempt), uint32(code), uint32(ch))
		}
		if attempt >= a.MaxRetries {
			return code, fmt.Errorf("%w: ch%d code 0x%04X after %d recalibrations", ErrSaturated, ch, code, attempt)
		}
		if err := a.calibrate(ch); err != nil {
			return code, err
		}
		a.recal++
		if a.Diag != nil {
			a.Diag.Record(EvtRecalibrated, a.recal, uint32(code), uint32(ch))
		}
		if code, err = a.AcquireRaw(ch); err != nil {
			return 0, err
		}
	}
	return code, nil
}

// Recalibrations returns how many saturation recoveries have run.
func (a *ADC) Recalibrations() uint32 {
	return a.recal
}

// ReadZeroScale returns the 24-bit zero-scale calibration register for ch.
func (a *ADC) ReadZeroScale(ch uint8) (uint32, error) {
	if err := a.port.WriteADCByte(ADCRegZero | ch); err != nil {
		return 0, fmt.Errorf("adc select zero ch%d: %w", ch, err)
	}
	hi, err := a.port.ReadADCWord()
	if err != nil {
		return 0, err
	}
	lo, err := a.port.ReadADCByte()
	if err != nil {
		return 0, err
	}
	return uint32(hi)<<8 | uint32(lo), nil
}

var _ drivers.Sensor = (*PressureSensor)(nil)

// PressureSensor presents one ADC channel in engineering units. A
// saturated acquisition keeps the last good value.
type PressureSensor struct {
	adc *ADC
	ch  uint8

	mu       sync.Mutex
	cal      Calibration
	code     uint16 // last code read, saturated or not
	value    float64
	degraded bool
}

// NewPressureSensor creates a sensor on ch.
func NewPressureSensor(adc *ADC, ch uint8, cal Calibration) *PressureSensor {
	return &PressureSensor{adc: adc, ch: ch, cal: cal}
}

// Update acquires a new sample when which includes drivers.Pressure.
func (p *PressureSensor) Update(which drivers.Measurement) error {
	if which&drivers.Pressure == 0 {
		return nil
	}
	code, err := p.adc.Acquire(p.ch)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrSaturated) {
			p.code = code
			p.degraded = true
		}
		return err
	}
	p.code = code
	p.value = p.cal.ToEngineeringUnits(code)
	p.degraded = false
	return nil
}

// Pressure returns the last good value in calibration units.
func (p *PressureSensor) Pressure() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Code returns the most recent raw code.
func (p *PressureSensor) Code() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

// Degraded reports whether the last update failed to saturation.
func (p *PressureSensor) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// Calibration returns the active scaling.
func (p *PressureSensor) Calibration() Calibration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cal
}

// SetCalibration replaces the scaling after validating it.
func (p *PressureSensor) SetCalibration(cal Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cal = cal
	p.mu.Unlock()
	return nil
}
