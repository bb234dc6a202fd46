package periphio

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"gopid/core"
)

// TickFrequency is the rate of the capture timestamps.
const TickFrequency = physic.MegaHertz

// TickHz returns TickFrequency as a plain number.
func TickHz() float64 {
	return float64(TickFrequency / physic.Hertz)
}

// EdgeCapture timestamps encoder edges in µs using the line's edge
// detection. Accuracy is bounded by scheduling latency.
type EdgeCapture struct {
	line  gpio.PinIO
	clock clockwork.Clock

	// Poll bounds how long Disable waits for the edge watcher.
	Poll time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ core.CaptureSource = (*EdgeCapture)(nil)

// NewEdgeCapture watches line. A nil clock uses the wall clock.
func NewEdgeCapture(line gpio.PinIO, clock clockwork.Clock) *EdgeCapture {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EdgeCapture{line: line, clock: clock, Poll: 10 * time.Millisecond}
}

func (e *EdgeCapture) Enable(c *core.Capture) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		return errors.New("periphio: capture already armed")
	}
	if err := e.line.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return err
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.watch(c, e.stop, e.done)
	return nil
}

func (e *EdgeCapture) Disable() error {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return e.line.In(gpio.PullUp, gpio.NoEdge)
}

func (e *EdgeCapture) watch(c *core.Capture, stop, done chan struct{}) {
	defer close(done)
	start := e.clock.Now()
	var rise uint32
	armed := false
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !e.line.WaitForEdge(e.Poll) {
			continue
		}
		now := uint32(e.clock.Since(start).Microseconds())
		if e.line.Read() == gpio.High {
			rise, armed = now, true
			continue
		}
		if armed {
			c.Record(rise, now)
			armed = false
		}
	}
}
