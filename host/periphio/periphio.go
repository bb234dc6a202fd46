// Package periphio drives the controller bus from Linux GPIO lines through
// the periph.io registry.
package periphio

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"gopid/core"
)

var initOnce struct {
	sync.Once
	err error
}

// Init loads the periph host drivers. Safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		_, initOnce.err = host.Init()
	})
	return initOnce.err
}

// ErrUnknownPin is returned for a line name the registry does not know.
var ErrUnknownPin = errors.New("unknown gpio line")

// Driver maps core pin numbers onto registry lines. A pin number is the
// index of its line in the order lines were added.
type Driver struct {
	mu    sync.Mutex
	lines []gpio.PinIO
	index map[string]core.GPIOPin
}

var _ core.GPIODriver = (*Driver)(nil)

// NewDriver creates an empty driver.
func NewDriver() *Driver {
	return &Driver{index: make(map[string]core.GPIOPin)}
}

// Pin resolves name and returns its pin number. An empty name yields
// core.NoPin.
func (d *Driver) Pin(name string) (core.GPIOPin, error) {
	if name == "" {
		return core.NoPin, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if pin, ok := d.index[name]; ok {
		return pin, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return core.NoPin, fmt.Errorf("%w: %q", ErrUnknownPin, name)
	}
	pin := core.GPIOPin(len(d.lines))
	d.lines = append(d.lines, p)
	d.index[name] = pin
	return pin, nil
}

// Line returns the registry line behind pin.
func (d *Driver) Line(pin core.GPIOPin) (gpio.PinIO, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(pin) >= len(d.lines) {
		return nil, fmt.Errorf("%w: pin %d", ErrUnknownPin, pin)
	}
	return d.lines[pin], nil
}

func (d *Driver) ConfigureOutput(pin core.GPIOPin) error {
	p, err := d.Line(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.High)
}

func (d *Driver) ConfigureInput(pin core.GPIOPin) error {
	p, err := d.Line(pin)
	if err != nil {
		return err
	}
	return p.In(gpio.PullUp, gpio.NoEdge)
}

func (d *Driver) SetPin(pin core.GPIOPin, value bool) error {
	p, err := d.Line(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(value))
}

func (d *Driver) ReadPin(pin core.GPIOPin) bool {
	p, err := d.Line(pin)
	if err != nil {
		return false
	}
	return bool(p.Read())
}

// BusLines names the six bus lines.
type BusLines struct {
	ADCSelect, DACSelect, Clock, DataIn, DataOut, Reset string
}

// BusPins resolves every bus line. Reset may be empty.
func (d *Driver) BusPins(l BusLines) (core.BusPins, error) {
	var pins core.BusPins
	var err error
	for _, m := range []struct {
		name string
		pin  *core.GPIOPin
	}{
		{l.ADCSelect, &pins.ADCSelect},
		{l.DACSelect, &pins.DACSelect},
		{l.Clock, &pins.Clock},
		{l.DataIn, &pins.DataIn},
		{l.DataOut, &pins.DataOut},
		{l.Reset, &pins.Reset},
	} {
		if m.name == "" && m.pin != &pins.Reset {
			return pins, fmt.Errorf("%w: bus line not named", ErrUnknownPin)
		}
		if *m.pin, err = d.Pin(m.name); err != nil {
			return pins, err
		}
	}
	return pins, nil
}
