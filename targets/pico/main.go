//go:build tinygo && rp2040

// Firmware for an RP2040 controller board: the bus is bit-banged on GPIO,
// the operator terminal is UART0 and the Setup lives in flash.
package main

import (
	"context"
	"errors"
	"machine"
	"time"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/delay"

	"gopid/core"
	"gopid/host/console"
)

var pins = core.BusPins{
	ADCSelect: 2,
	DACSelect: 3,
	Clock:     4,
	DataIn:    5,
	DataOut:   6,
	Reset:     7,
}

const (
	encoderPin    = machine.GP15
	nvmSize       = 256
	bootCountdown = 6
	watchdogMs    = 4000
)

// uartPort parks the console reader until bytes arrive; machine.UART reads
// return immediately when empty.
type uartPort struct {
	drivers.UART
}

func (u uartPort) Read(p []byte) (int, error) {
	for u.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}
	return u.UART.Read(p)
}

func main() {
	// clear watchdog state left by the previous reset
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})

	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 9600,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	con := console.New(uartPort{uart}, uart, false)
	con.SetIdle(machine.Watchdog.Update, watchdogMs/4*time.Millisecond)

	gpio := newPicoGPIO()
	core.SetGPIODriver(gpio)

	store, err := newFlashNVM(nvmSize)
	if err != nil {
		halt(con, err)
	}
	capture, err := newPIOCapture(pio.PIO0, encoderPin)
	if err != nil {
		halt(con, err)
	}

	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: watchdogMs})
	machine.Watchdog.Start()

	loop, err := core.NewRig(core.RigConfig{
		GPIO:          core.MustGPIO(),
		Pins:          pins,
		StatusLED:     core.GPIOPin(machine.LED),
		Capture:       capture,
		CaptureBits:   32,
		TickFrequency: captureTickHz,
		NVM:           store,
		ADC:           core.DefaultADCConfig(),
		Calibration:   core.DefaultCalibration(),
		DACRange:      core.BipolarRange,
		Operator:      con,
		Watchdog:      machine.Watchdog,
		Diag:          core.NewDiagnostics(con.Print),
		BusWait:       func() { delay.Sleep(time.Microsecond) },
	})
	if err != nil {
		halt(con, err)
	}

	ctx := context.Background()
	if err := loop.Boot(); err != nil {
		con.Printf("\r\nBoot: %v", err)
	}
	menu := console.NewMenu(con, loop)
	con.Print("\r\nPress <ESC> for the menu. Loop starts in:\r\n")
	if loop.Countdown(ctx, bootCountdown) {
		if err := menu.RunLoop(ctx); err != nil {
			con.Printf("\r\nError: %v", err)
		}
	}
	for {
		err := menu.Run(ctx)
		if errors.Is(err, console.ErrReset) {
			reset()
		}
		con.Printf("\r\nMenu: %v", err)
	}
}

// reset lets the watchdog restart the chip.
func reset() {
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1})
	machine.Watchdog.Start()
	for {
		time.Sleep(time.Millisecond)
	}
}

func halt(con *console.Console, err error) {
	for {
		con.Printf("\r\nHalted: %v", err)
		time.Sleep(time.Second)
	}
}
