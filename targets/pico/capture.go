//go:build tinygo && rp2040

package main

import (
	"errors"
	"machine"
	"time"

	pio "github.com/tinygo-org/pio/rp2-pio"

	"gopid/core"
)

// captureTickHz is the count rate of the pulse-width program: the counting
// loop takes two state machine cycles.
const captureTickHz = core.DefaultTickFrequency

// pulseWidthProgram counts the high time of each pulse on the IN/JMP pin
// and pushes it.
func pulseWidthProgram() []uint16 {
	return []uint16{
		pio.EncodeMovNot(pio.SrcDestX, pio.SrcDestNull), // 0: mov x, ~null
		pio.EncodeWaitPin(false, 0),                     // 1: wait 0 pin 0
		pio.EncodeWaitPin(true, 0),                      // 2: wait 1 pin 0
		pio.EncodeJmp(4, pio.JmpXNZeroDec),              // 3: jmp x--, 4
		pio.EncodeJmp(3, pio.JmpPinInput),               // 4: jmp pin, 3
		pio.EncodeMovNot(pio.SrcDestISR, pio.SrcDestX),  // 5: mov isr, ~x
		pio.EncodePush(false, false),                    // 6: push noblock
	}
}

const pulseWidthOrigin = 0 // jump targets are absolute

// pioCapture measures encoder pulses in a PIO state machine and drains the
// results into a core.Capture.
type pioCapture struct {
	sm   pio.StateMachine
	pin  machine.Pin
	stop chan struct{}
	done chan struct{}
}

var _ core.CaptureSource = (*pioCapture)(nil)

func newPIOCapture(block *pio.PIO, pin machine.Pin) (*pioCapture, error) {
	sm, err := block.ClaimStateMachine()
	if err != nil {
		return nil, err
	}
	prog := pulseWidthProgram()
	offset, err := block.AddProgram(prog, pulseWidthOrigin)
	if err != nil {
		return nil, err
	}
	pin.Configure(machine.PinConfig{Mode: block.PinMode()})

	whole, frac, err := pio.ClkDivFromFrequency(2*captureTickHz, machine.CPUFrequency())
	if err != nil {
		return nil, err
	}
	cfg := pio.DefaultStateMachineConfig()
	cfg.SetInPins(pin)
	cfg.SetJmpPin(pin)
	cfg.SetWrap(offset, offset+uint8(len(prog))-1)
	cfg.SetClkDivIntFrac(whole, frac)
	sm.Init(offset, cfg)
	sm.SetPindirsConsecutive(pin, 1, false)

	return &pioCapture{sm: sm, pin: pin}, nil
}

func (p *pioCapture) Enable(c *core.Capture) error {
	if p.stop != nil {
		return errors.New("capture already armed")
	}
	p.sm.ClearFIFOs()
	p.sm.Restart()
	p.sm.SetEnabled(true)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.drain(c, p.stop, p.done)
	return nil
}

func (p *pioCapture) Disable() error {
	if p.stop == nil {
		return nil
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil
	p.sm.SetEnabled(false)
	return nil
}

func (p *pioCapture) drain(c *core.Capture, stop, done chan struct{}) {
	defer close(done)
	for {
		for !p.sm.IsRxFIFOEmpty() {
			c.RecordWidth(p.sm.RxGet())
		}
		select {
		case <-stop:
			return
		default:
		}
		time.Sleep(200 * time.Microsecond)
	}
}
