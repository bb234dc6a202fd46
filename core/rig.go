package core

import (
	"errors"
	"fmt"
	"time"
)

// RigConfig describes a controller board: where the bus and encoder are
// wired, where the Setup lives, and how the signals are scaled.
type RigConfig struct {
	GPIO      GPIODriver
	Pins      BusPins
	StatusLED GPIOPin

	// Capture is optional. CaptureBits is the counter width of its
	// timestamps.
	Capture       CaptureSource
	CaptureBits   uint
	TickFrequency float64
	PulsesPerRev  uint32
	CaptureSettle time.Duration

	// BusWait runs after every clock edge. Nil runs the bus flat out.
	BusWait func()

	NVM     NVM
	NVMBase int64

	ADC         ADCConfig
	Channel     uint8
	Calibration Calibration
	DACRange    DACRange

	Operator Operator
	Watchdog Watchdog
	Diag     *Diagnostics

	// ADCSleep replaces time.Sleep for converter settling. Optional.
	ADCSleep      func(time.Duration)
	ADCSettle     time.Duration
	ADCMaxRetries int

	ReportEvery     int
	PollTimeout     time.Duration
	SetpointTimeout time.Duration
}

// NewRig assembles the services over cfg and returns the loop driving
// them.
func NewRig(cfg RigConfig) (*Loop, error) {
	if cfg.GPIO == nil {
		return nil, errors.New("rig: GPIO driver required")
	}
	if cfg.NVM == nil {
		return nil, errors.New("rig: NVM required")
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	if cfg.Channel >= ADCChannels {
		return nil, fmt.Errorf("rig: channel %d out of range", cfg.Channel)
	}
	if cfg.DACRange.Max <= cfg.DACRange.Min {
		cfg.DACRange = BipolarRange
	}
	if cfg.Diag == nil {
		cfg.Diag = NewDiagnostics(nil)
	}

	bus, err := NewBus(cfg.GPIO, cfg.Pins)
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	bus.SPI().Delay = cfg.BusWait
	adc := NewADC(bus)
	adc.cfg = cfg.ADC
	adc.Diag = cfg.Diag
	if cfg.ADCSleep != nil {
		adc.Sleep = cfg.ADCSleep
	}
	if cfg.ADCSettle > 0 {
		adc.Settle = cfg.ADCSettle
	}
	if cfg.ADCMaxRetries > 0 {
		adc.MaxRetries = cfg.ADCMaxRetries
	}

	store, err := NewSetupStore(cfg.NVM, cfg.NVMBase)
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	store.Diag = cfg.Diag

	var vel *Velocity
	if cfg.Capture != nil {
		vel = NewVelocity(cfg.Capture, NewCapture(cfg.CaptureBits))
		if cfg.TickFrequency > 0 {
			vel.TickFrequency = cfg.TickFrequency
		}
		if cfg.PulsesPerRev > 0 {
			vel.PulsesPerRev = cfg.PulsesPerRev
		}
		if cfg.CaptureSettle > 0 {
			vel.Settle = cfg.CaptureSettle
		}
	}

	if cfg.StatusLED != NoPin {
		if err := cfg.GPIO.ConfigureOutput(cfg.StatusLED); err != nil {
			return nil, fmt.Errorf("rig: status led: %w", err)
		}
	}

	return NewLoop(LoopConfig{
		ADC:             adc,
		Sensor:          NewPressureSensor(adc, cfg.Channel, cfg.Calibration),
		DAC:             NewDAC(bus, cfg.DACRange),
		Velocity:        vel,
		Settings:        NewSettings(store),
		Operator:        cfg.Operator,
		Watchdog:        cfg.Watchdog,
		Diag:            cfg.Diag,
		GPIO:            cfg.GPIO,
		StatusLED:       cfg.StatusLED,
		Channel:         cfg.Channel,
		ReportEvery:     cfg.ReportEvery,
		PollTimeout:     cfg.PollTimeout,
		SetpointTimeout: cfg.SetpointTimeout,
	})
}
