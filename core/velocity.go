// Encoder pulse-width capture and RPM conversion.
package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// DefaultTickFrequency is the capture timer rate in Hz.
	DefaultTickFrequency = 1000000

	// DefaultPulsesPerRev is the encoder resolution.
	DefaultPulsesPerRev = 1024

	// DefaultVelocitySettle is how long capture stays armed per measurement.
	DefaultVelocitySettle = 50 * time.Millisecond
)

// CaptureSource arms edge capture on the encoder input and feeds every
// rise/fall pair into c.Record from interrupt context.
type CaptureSource interface {
	Enable(c *Capture) error
	Disable() error
}

// VelocitySample is one recorded pulse.
type VelocitySample struct {
	Seq   uint32 // increments per recorded pulse, 0 if none yet
	Rise  uint32
	Fall  uint32
	Width uint32 // ticks from rise to fall
}

// Capture hands pulse timings from one interrupt producer to one reader.
// The producer does integer work and atomic stores only.
type Capture struct {
	mask uint32

	seq   atomic.Uint32 // odd while a record is in progress
	rise  atomic.Uint32
	fall  atomic.Uint32
	width atomic.Uint32
}

// NewCapture creates a handoff for a free-running counter of the given
// width in bits (16 for the classic CCP timers, 32 for µs timestamps).
func NewCapture(counterBits uint) *Capture {
	mask := uint32(0xFFFFFFFF)
	if counterBits > 0 && counterBits < 32 {
		mask = 1<<counterBits - 1
	}
	return &Capture{mask: mask}
}

// Record stores a rise/fall pair. Safe to call from an interrupt handler.
func (c *Capture) Record(rise, fall uint32) {
	c.publish(rise, fall, (fall-rise)&c.mask)
}

// RecordWidth stores a width measured directly by hardware.
func (c *Capture) RecordWidth(width uint32) {
	c.publish(0, width, width&c.mask)
}

func (c *Capture) publish(rise, fall, width uint32) {
	c.seq.Add(1)
	c.rise.Store(rise)
	c.fall.Store(fall)
	c.width.Store(width)
	c.seq.Add(1)
}

// Snapshot returns the latest complete record.
func (c *Capture) Snapshot() VelocitySample {
	for {
		s := c.seq.Load()
		if s&1 != 0 {
			continue
		}
		out := VelocitySample{
			Seq:   s / 2,
			Rise:  c.rise.Load(),
			Fall:  c.fall.Load(),
			Width: c.width.Load(),
		}
		if c.seq.Load() == s {
			return out
		}
	}
}

// ToRPM converts a full pulse period to revolutions per minute.
func ToRPM(periodTicks uint32, tickFrequency float64, pulsesPerRev uint32) float64 {
	if periodTicks == 0 || pulsesPerRev == 0 {
		return 0
	}
	return tickFrequency / float64(periodTicks) / float64(pulsesPerRev) * 60
}

// VelocityReading is the result of one on-demand measurement.
type VelocityReading struct {
	Sample      VelocitySample
	PeriodTicks uint32
	RPM         float64
	Fresh       bool // a pulse was recorded while capture was armed
}

// Velocity measures shaft speed on demand.
type Velocity struct {
	src  CaptureSource
	capt *Capture

	TickFrequency float64
	PulsesPerRev  uint32
	Settle        time.Duration
}

// NewVelocity creates a measurement service over src.
func NewVelocity(src CaptureSource, capt *Capture) *Velocity {
	return &Velocity{
		src:           src,
		capt:          capt,
		TickFrequency: DefaultTickFrequency,
		PulsesPerRev:  DefaultPulsesPerRev,
		Settle:        DefaultVelocitySettle,
	}
}

// SamplePeriodTicks returns twice the latest pulse width, assuming a 50%
// duty cycle.
func (v *Velocity) SamplePeriodTicks() uint32 {
	return 2 * v.capt.Snapshot().Width
}

// ToRPM converts periodTicks with this encoder's constants.
func (v *Velocity) ToRPM(periodTicks uint32) float64 {
	return ToRPM(periodTicks, v.TickFrequency, v.PulsesPerRev)
}

// Measure arms capture for one settling interval and converts the result.
// The sample may predate the interval when the shaft is stopped.
func (v *Velocity) Measure(ctx context.Context) (VelocityReading, error) {
	before := v.capt.Snapshot().Seq
	if err := v.src.Enable(v.capt); err != nil {
		return VelocityReading{}, fmt.Errorf("capture enable: %w", err)
	}

	t := time.NewTimer(v.Settle)
	var waitErr error
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		waitErr = ctx.Err()
	}

	s := v.capt.Snapshot()
	if err := v.src.Disable(); err != nil && waitErr == nil {
		waitErr = fmt.Errorf("capture disable: %w", err)
	}
	if waitErr != nil {
		return VelocityReading{}, waitErr
	}

	period := 2 * s.Width
	return VelocityReading{
		Sample:      s,
		PeriodTicks: period,
		RPM:         v.ToRPM(period),
		Fresh:       s.Seq != before,
	}, nil
}

// MeasureRPM is Measure reduced to the speed.
func (v *Velocity) MeasureRPM(ctx context.Context) (float64, error) {
	r, err := v.Measure(ctx)
	return r.RPM, err
}
