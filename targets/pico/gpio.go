//go:build tinygo && rp2040

package main

import (
	"machine"

	"gopid/core"
)

// picoGPIO implements core.GPIODriver on the RP2040 pins. Pin numbers are
// GPIO numbers.
type picoGPIO struct {
	configured map[core.GPIOPin]machine.Pin
}

func newPicoGPIO() *picoGPIO {
	return &picoGPIO{configured: make(map[core.GPIOPin]machine.Pin)}
}

func (d *picoGPIO) ConfigureOutput(pin core.GPIOPin) error {
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.configured[pin] = p
	return nil
}

// ConfigureInput enables the pull-up: DOUT floats while the ADC is
// deselected.
func (d *picoGPIO) ConfigureInput(pin core.GPIOPin) error {
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	d.configured[pin] = p
	return nil
}

func (d *picoGPIO) SetPin(pin core.GPIOPin, value bool) error {
	p, ok := d.configured[pin]
	if !ok {
		if err := d.ConfigureOutput(pin); err != nil {
			return err
		}
		p = d.configured[pin]
	}
	p.Set(value)
	return nil
}

func (d *picoGPIO) ReadPin(pin core.GPIOPin) bool {
	p, ok := d.configured[pin]
	if !ok {
		return false
	}
	return p.Get()
}
