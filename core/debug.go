package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DebugWriter is a function type for writing diagnostic text.
// It receives text exactly as it should appear on the wire.
type DebugWriter func(string)

// Event type codes for the anomaly ring
const (
	EvtSaturated    = 1 // ADC returned a saturated code
	EvtRecalibrated = 2 // ADC zero-scale calibration re-triggered
	EvtDegraded     = 3 // cycle ran on the last good value
	EvtNVMMismatch  = 4 // erase verify found a bad byte
	EvtSetupInvalid = 5 // persisted setup absent or corrupt
	EvtAbort        = 6 // operator aborted the loop
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

// Event captures an anomaly for post-mortem analysis
type Event struct {
	Type   uint8
	Cycle  uint32
	Value1 uint32
	Value2 uint32
}

// Diagnostics is the textual telemetry sink. Output is best-effort:
// the async path drops messages rather than blocking the control loop.
type Diagnostics struct {
	write DebugWriter

	mu      sync.Mutex
	ch      chan string
	done    chan struct{}
	dropped atomic.Uint32

	ring     [EventRingSize]Event
	ringHead uint8
}

// NewDiagnostics creates a sink writing through w. A nil w discards output.
func NewDiagnostics(w DebugWriter) *Diagnostics {
	if w == nil {
		w = func(string) {}
	}
	return &Diagnostics{write: w}
}

// StartAsync starts the background writer with a buffer of size messages.
func (d *Diagnostics) StartAsync(size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch != nil {
		return
	}
	d.ch = make(chan string, size)
	d.done = make(chan struct{})
	go d.worker(d.ch, d.done)
}

func (d *Diagnostics) worker(ch <-chan string, done chan<- struct{}) {
	defer close(done)
	for msg := range ch {
		d.write(msg)
	}
}

// Stop drains and stops the background writer.
func (d *Diagnostics) Stop() {
	d.mu.Lock()
	ch, done := d.ch, d.done
	d.ch, d.done = nil, nil
	d.mu.Unlock()
	if ch == nil {
		return
	}
	close(ch)
	<-done
}

// Print writes s, through the async queue if one is running.
func (d *Diagnostics) Print(s string) {
	d.mu.Lock()
	ch := d.ch
	if ch != nil {
		select {
		case ch <- s:
		default:
			d.dropped.Add(1)
		}
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.write(s)
}

// Println writes s followed by CR LF.
func (d *Diagnostics) Println(s string) {
	d.Print(s + "\r\n")
}

// Printf formats and writes a line.
func (d *Diagnostics) Printf(format string, args ...interface{}) {
	d.Println(fmt.Sprintf(format, args...))
}

// Dropped returns how many async messages were discarded.
func (d *Diagnostics) Dropped() uint32 {
	return d.dropped.Load()
}

// Record captures an event in the ring buffer. It never blocks on output.
func (d *Diagnostics) Record(eventType uint8, cycle, value1, value2 uint32) {
	d.mu.Lock()
	idx := d.ringHead
	d.ring[idx] = Event{Type: eventType, Cycle: cycle, Value1: value1, Value2: value2}
	d.ringHead = (idx + 1) % EventRingSize
	d.mu.Unlock()
}

// Events returns recorded events, oldest first.
func (d *Diagnostics) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	events := make([]Event, 0, EventRingSize)
	start := d.ringHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := d.ring[(start+i)%EventRingSize]
		if evt.Type == 0 {
			continue // Empty slot
		}
		events = append(events, evt)
	}
	return events
}

// DumpEvents writes the event ring (call on abort or error).
func (d *Diagnostics) DumpEvents() {
	d.Println("[EVENTS] === Event Ring Dump ===")
	for _, evt := range d.Events() {
		d.Printf("[EVENTS] %s cycle=%d v1=%d v2=%d", eventName(evt.Type), evt.Cycle, evt.Value1, evt.Value2)
	}
	d.Println("[EVENTS] === End Dump ===")
}

func eventName(t uint8) string {
	switch t {
	case EvtSaturated:
		return "SATURATED"
	case EvtRecalibrated:
		return "RECAL"
	case EvtDegraded:
		return "DEGRADED"
	case EvtNVMMismatch:
		return "NVM_MISMATCH"
	case EvtSetupInvalid:
		return "SETUP_INVALID"
	case EvtAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}
