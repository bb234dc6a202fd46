package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pulseSource records a fixed pulse whenever capture is armed.
type pulseSource struct {
	rise, fall uint32
	enabled    int
	disabled   int
	fire       bool
	enableErr  error
}

func (p *pulseSource) Enable(c *Capture) error {
	if p.enableErr != nil {
		return p.enableErr
	}
	p.enabled++
	if p.fire {
		c.Record(p.rise, p.fall)
	}
	return nil
}

func (p *pulseSource) Disable() error {
	p.disabled++
	return nil
}

func TestToRPM(t *testing.T) {
	rpm := ToRPM(1024, 1000000, 1024)
	assert.InDelta(t, 57.22, rpm, 0.01)
	t.Logf("1024 ticks -> %.4f rpm", rpm)

	assert.Zero(t, ToRPM(0, 1000000, 1024))
	assert.Zero(t, ToRPM(100, 1000000, 0))
}

func TestCaptureWidthWraps(t *testing.T) {
	c := NewCapture(16)
	c.Record(0xFFF0, 0x0010)
	s := c.Snapshot()
	assert.Equal(t, uint32(0x20), s.Width)
	assert.Equal(t, uint32(1), s.Seq)

	c32 := NewCapture(32)
	c32.Record(0xFFFFFFF0, 0x00000010)
	assert.Equal(t, uint32(0x20), c32.Snapshot().Width)
}

func TestCaptureRecordWidth(t *testing.T) {
	c := NewCapture(0)
	assert.Equal(t, VelocitySample{}, c.Snapshot())

	c.RecordWidth(512)
	c.RecordWidth(640)
	s := c.Snapshot()
	assert.Equal(t, uint32(640), s.Width)
	assert.Equal(t, uint32(2), s.Seq)
}

func TestCaptureConcurrentSnapshot(t *testing.T) {
	c := NewCapture(32)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(1); i <= 10000; i++ {
			c.Record(i, 3*i)
		}
	}()
	for i := 0; i < 10000; i++ {
		s := c.Snapshot()
		if s.Seq == 0 {
			continue
		}
		require.Equal(t, s.Fall-s.Rise, s.Width, "torn snapshot %+v", s)
	}
	wg.Wait()
	assert.Equal(t, uint32(10000), c.Snapshot().Seq)
}

func TestVelocitySamplePeriodTicks(t *testing.T) {
	c := NewCapture(16)
	v := NewVelocity(&pulseSource{}, c)
	c.Record(100, 612)
	assert.Equal(t, uint32(1024), v.SamplePeriodTicks())
	assert.InDelta(t, 57.22, v.ToRPM(v.SamplePeriodTicks()), 0.01)
}

func TestVelocityMeasure(t *testing.T) {
	src := &pulseSource{rise: 1000, fall: 1512, fire: true}
	v := NewVelocity(src, NewCapture(16))
	v.Settle = time.Millisecond

	r, err := v.Measure(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Fresh)
	assert.Equal(t, uint32(1024), r.PeriodTicks)
	assert.InDelta(t, 57.22, r.RPM, 0.01)
	assert.Equal(t, 1, src.enabled)
	assert.Equal(t, 1, src.disabled)

	// Shaft stopped: the previous width is reported but not fresh.
	src.fire = false
	r, err = v.Measure(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Fresh)
	assert.Equal(t, uint32(1024), r.PeriodTicks)
}

func TestVelocityMeasureCancelled(t *testing.T) {
	src := &pulseSource{}
	v := NewVelocity(src, NewCapture(16))
	v.Settle = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.MeasureRPM(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.disabled, "capture torn down on cancel")
}

func TestVelocityEnableError(t *testing.T) {
	src := &pulseSource{enableErr: errors.New("no timer")}
	v := NewVelocity(src, NewCapture(16))
	_, err := v.MeasureRPM(context.Background())
	assert.ErrorIs(t, err, src.enableErr)
	assert.Zero(t, src.disabled)
}
