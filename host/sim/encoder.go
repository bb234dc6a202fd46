package sim

import (
	"errors"
	"sync"
	"time"

	"gopid/core"
)

// ErrCaptureArmed is returned by Enable when capture is already running.
var ErrCaptureArmed = errors.New("sim: capture already armed")

// Encoder emits the pulses a shaft turning at Board.RPM would produce.
// Timestamps count in µs.
type Encoder struct {
	board        *Board
	PulsesPerRev uint32
	Interval     time.Duration // how often a pulse is recorded while armed

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	tick uint32
}

var _ core.CaptureSource = (*Encoder)(nil)

// NewEncoder creates an encoder on b.
func NewEncoder(b *Board, pulsesPerRev uint32) *Encoder {
	if pulsesPerRev == 0 {
		pulsesPerRev = core.DefaultPulsesPerRev
	}
	return &Encoder{board: b, PulsesPerRev: pulsesPerRev, Interval: time.Millisecond}
}

// PulseWidth returns the high time in µs of one pulse at rpm, or 0 when
// the shaft is stopped.
func PulseWidth(rpm float64, pulsesPerRev uint32) uint32 {
	if rpm <= 0 || pulsesPerRev == 0 {
		return 0
	}
	period := core.DefaultTickFrequency * 60 / (rpm * float64(pulsesPerRev))
	return uint32(period / 2)
}

func (e *Encoder) Enable(c *core.Capture) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		return ErrCaptureArmed
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(c, e.stop, e.done)
	return nil
}

func (e *Encoder) Disable() error {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (e *Encoder) run(c *core.Capture, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(e.Interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		w := PulseWidth(e.board.RPM(), e.PulsesPerRev)
		if w == 0 {
			continue
		}
		e.mu.Lock()
		rise := e.tick
		e.tick += 2 * w
		e.mu.Unlock()
		c.Record(rise, rise+w)
	}
}
