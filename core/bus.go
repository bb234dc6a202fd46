// Device bus shared by the AD7705 ADC and the AD7243 DAC.
// Both parts hang off one clock/data pair with separate chip selects.
package core

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"
)

// DACCodeMask is the addressable range of the 12-bit DAC.
const DACCodeMask = 0x0FFF

// BusPins names the lines owned by the bus driver.
type BusPins struct {
	ADCSelect GPIOPin // AD7705 /CS
	DACSelect GPIOPin // AD7243 /SYNC
	Clock     GPIOPin // SCLK, idles high
	DataIn    GPIOPin // data to the devices (device DIN)
	DataOut   GPIOPin // data from the ADC (device DOUT)
	Reset     GPIOPin // AD7705 /RESET, NoPin if tied high
}

var _ drivers.SPI = (*SoftSPI)(nil)

// SoftSPI bit-bangs bytes MSB first. The clock idles high; each bit is
// driven while the clock is low and sampled after the rising edge.
type SoftSPI struct {
	gpio GPIODriver
	clk  GPIOPin
	mosi GPIOPin
	miso GPIOPin

	// Delay runs after every clock transition. Nil means run flat out.
	Delay func()
}

// NewSoftSPI creates a bit-banged SPI engine on the given pins.
func NewSoftSPI(gpio GPIODriver, clk, mosi, miso GPIOPin) *SoftSPI {
	return &SoftSPI{gpio: gpio, clk: clk, mosi: mosi, miso: miso}
}

// Transfer writes one byte and returns the byte clocked in at the same time.
func (s *SoftSPI) Transfer(b byte) (byte, error) {
	var in byte
	for bit := 7; bit >= 0; bit-- {
		if err := s.gpio.SetPin(s.clk, false); err != nil {
			return 0, err
		}
		if err := s.gpio.SetPin(s.mosi, b&(1<<bit) != 0); err != nil {
			return 0, err
		}
		s.wait()
		if err := s.gpio.SetPin(s.clk, true); err != nil {
			return 0, err
		}
		in <<= 1
		if s.gpio.ReadPin(s.miso) {
			in |= 1
		}
		s.wait()
	}
	return in, nil
}

// Tx transmits w and receives into r. Either may be nil but not both.
func (s *SoftSPI) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
	} else if r != nil && len(r) != len(w) {
		return errors.New("tx and rx buffer lengths must match")
	}
	for i := 0; i < n; i++ {
		out := byte(0xFF)
		if w != nil {
			out = w[i]
		}
		in, err := s.Transfer(out)
		if err != nil {
			return err
		}
		if r != nil {
			r[i] = in
		}
	}
	return nil
}

func (s *SoftSPI) wait() {
	if s.Delay != nil {
		s.Delay()
	}
}

// Bus is the device transport for the ADC and DAC. It moves bits and
// nothing else: no retries and no interpretation of values.
// Transactions are serialized; the bus is not reentrant.
type Bus struct {
	mu   sync.Mutex
	gpio GPIODriver
	pins BusPins
	spi  *SoftSPI
}

// NewBus configures the bus lines and leaves every device deselected with
// the clock idling high.
func NewBus(gpio GPIODriver, pins BusPins) (*Bus, error) {
	outputs := []GPIOPin{pins.ADCSelect, pins.DACSelect, pins.Clock, pins.DataIn}
	if pins.Reset != NoPin {
		outputs = append(outputs, pins.Reset)
	}
	for _, pin := range outputs {
		if err := gpio.ConfigureOutput(pin); err != nil {
			return nil, err
		}
		if err := gpio.SetPin(pin, true); err != nil {
			return nil, err
		}
	}
	if err := gpio.ConfigureInput(pins.DataOut); err != nil {
		return nil, err
	}

	return &Bus{
		gpio: gpio,
		pins: pins,
		spi:  NewSoftSPI(gpio, pins.Clock, pins.DataIn, pins.DataOut),
	}, nil
}

// SPI exposes the underlying bit engine, e.g. to set a clock delay.
func (b *Bus) SPI() *SoftSPI {
	return b.spi
}

// WriteADCByte shifts one byte into the ADC.
func (b *Bus) WriteADCByte(v byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.selected(b.pins.ADCSelect, func() error {
		_, err := b.spi.Transfer(v)
		return err
	})
}

// ReadADCWord clocks a 16-bit word out of the ADC. DIN is held high so the
// device does not see a communications register write.
func (b *Bus) ReadADCWord() (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rx [2]byte
	err := b.selected(b.pins.ADCSelect, func() error {
		return b.spi.Tx(nil, rx[:])
	})
	if err != nil {
		return 0, err
	}
	return uint16(rx[0])<<8 | uint16(rx[1]), nil
}

// ReadADCByte clocks one byte out of the ADC with DIN held high.
func (b *Bus) ReadADCByte() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rx [1]byte
	err := b.selected(b.pins.ADCSelect, func() error {
		return b.spi.Tx(nil, rx[:])
	})
	return rx[0], err
}

// WriteDAC shifts a 16-bit frame whose low 12 bits are the DAC code.
func (b *Bus) WriteDAC(code uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	code &= DACCodeMask
	tx := [2]byte{byte(code >> 8), byte(code)}
	return b.selected(b.pins.DACSelect, func() error {
		return b.spi.Tx(tx[:], nil)
	})
}

// ResetADC pulses the ADC reset line with the bus idle.
func (b *Bus) ResetADC() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pins.Reset == NoPin {
		return nil
	}
	if err := b.gpio.SetPin(b.pins.Reset, false); err != nil {
		return err
	}
	if err := b.gpio.SetPin(b.pins.Clock, true); err != nil {
		return err
	}
	if err := b.gpio.SetPin(b.pins.ADCSelect, true); err != nil {
		return err
	}
	return b.gpio.SetPin(b.pins.Reset, true)
}

// selected runs fn with cs asserted (low) and always deasserts it afterwards.
func (b *Bus) selected(cs GPIOPin, fn func() error) error {
	if err := b.gpio.SetPin(cs, false); err != nil {
		return err
	}
	err := fn()
	if csErr := b.gpio.SetPin(cs, true); err == nil {
		err = csErr
	}
	return err
}
