// Command pidctl runs the pressure controller on a Linux host, against
// GPIO lines through periph.io or against the built-in simulator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"gopid/config"
	"gopid/core"
	"gopid/host/console"
	"gopid/host/nvm"
	"gopid/host/periphio"
	"gopid/host/serial"
	"gopid/host/sim"
)

var (
	configPath  = flag.String("config", "pidctl.yaml", "Run configuration (YAML)")
	backend     = flag.String("backend", "", "Override backend: sim or periph")
	port        = flag.String("port", "", "Override operator serial port (empty uses stdin)")
	writeConfig = flag.Bool("write-config", false, "Write the effective configuration and exit")
)

func main() {
	flag.Parse()
	log.SetPrefix("pidctl: ")
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", *configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	con, closeCon, err := openConsole(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeCon()) }()

	hw, err := openHardware(cfg)
	if err != nil {
		return err
	}
	core.SetGPIODriver(hw.GPIO)

	store, err := nvm.Open(cfg.NVM.Path, cfg.NVM.Size)
	if err != nil {
		return err
	}
	log.Printf("backend %s, setup image in %s", cfg.Backend, store.Path())

	adcCfg, err := cfg.ADCConfig()
	if err != nil {
		return err
	}

	// Each pass is one power-on. Menu item 1 starts the next.
	for {
		loop, err := core.NewRig(core.RigConfig{
			GPIO:            core.MustGPIO(),
			Pins:            hw.Pins,
			StatusLED:       hw.StatusLED,
			Capture:         hw.Capture,
			CaptureBits:     32,
			TickFrequency:   cfg.Encoder.TickFrequency,
			PulsesPerRev:    cfg.Encoder.PulsesPerRev,
			CaptureSettle:   cfg.Encoder.Settle,
			BusWait:         busWait(cfg.Pins.BusDelay),
			NVM:             store,
			NVMBase:         cfg.NVM.Base,
			ADC:             adcCfg,
			Channel:         cfg.ADC.Channel,
			Calibration:     cfg.CoreCalibration(),
			DACRange:        cfg.DACRange(),
			Operator:        con,
			Diag:            core.NewDiagnostics(con.Print),
			ADCSettle:       cfg.ADC.Settle,
			ADCMaxRetries:   cfg.ADC.MaxRetries,
			ReportEvery:     cfg.Loop.ReportEvery,
			PollTimeout:     cfg.Loop.PollTimeout,
			SetpointTimeout: cfg.Loop.SetpointTimeout,
		})
		if err != nil {
			return err
		}

		err = session(ctx, con, loop, cfg.Loop.BootCountdown)
		if errors.Is(err, console.ErrReset) {
			log.Print("reset")
			continue
		}
		if errors.Is(err, console.ErrClosed) {
			return nil
		}
		return err
	}
}

// session boots, optionally runs the loop after a countdown, then serves
// the menu.
func session(ctx context.Context, con *console.Console, loop *core.Loop, countdown int) error {
	if err := loop.Boot(); err != nil {
		return err
	}
	menu := console.NewMenu(con, loop)

	if countdown > 0 {
		con.Print("\r\nPress <ESC> for the menu. Loop starts in:\r\n")
		if loop.Countdown(ctx, countdown) {
			if err := menu.RunLoop(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				con.Printf("\r\nError: %v", err)
			}
		}
	}
	return menu.Run(ctx)
}

func openConsole(cfg *config.Config) (*console.Console, func() error, error) {
	if cfg.Serial.Port == "" {
		return console.New(os.Stdin, os.Stdout, false), func() error { return nil }, nil
	}
	p, err := serial.Open(&serial.Config{
		Device:      cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := p.Flush(); err != nil {
		log.Printf("flush %s: %v", cfg.Serial.Port, err)
	}
	return console.NewSerial(p), p.Close, nil
}

func busWait(d time.Duration) func() {
	if d <= 0 {
		return nil
	}
	return func() { time.Sleep(d) }
}

type hardware struct {
	GPIO      core.GPIODriver
	Pins      core.BusPins
	StatusLED core.GPIOPin
	Capture   core.CaptureSource
}

func openHardware(cfg *config.Config) (hardware, error) {
	switch cfg.Backend {
	case "sim":
		board := sim.NewBoard(sim.Config{
			Calibration:  cfg.CoreCalibration(),
			DAC:          cfg.DACRange(),
			StartValue:   cfg.Sim.StartValue,
			Gain:         cfg.Sim.Gain,
			TimeConstant: cfg.Sim.TimeConstant,
			Noise:        cfg.Sim.Noise,
			RPMPerVolt:   cfg.Sim.RPMPerVolt,
			Seed:         cfg.Sim.Seed,
		})
		cfg.Encoder.TickFrequency = core.DefaultTickFrequency
		return hardware{
			GPIO:      board,
			Pins:      sim.Pins,
			StatusLED: sim.StatusLED,
			Capture:   sim.NewEncoder(board, cfg.Encoder.PulsesPerRev),
		}, nil

	case "periph":
		if err := periphio.Init(); err != nil {
			return hardware{}, fmt.Errorf("periph: %w", err)
		}
		d := periphio.NewDriver()
		pins, err := d.BusPins(periphio.BusLines{
			ADCSelect: cfg.Pins.ADCSelect,
			DACSelect: cfg.Pins.DACSelect,
			Clock:     cfg.Pins.Clock,
			DataIn:    cfg.Pins.DataIn,
			DataOut:   cfg.Pins.DataOut,
			Reset:     cfg.Pins.Reset,
		})
		if err != nil {
			return hardware{}, err
		}
		led, err := d.Pin(cfg.Pins.StatusLED)
		if err != nil {
			return hardware{}, err
		}
		hw := hardware{GPIO: d, Pins: pins, StatusLED: led}
		if cfg.Pins.Encoder != "" {
			enc, err := d.Pin(cfg.Pins.Encoder)
			if err != nil {
				return hardware{}, err
			}
			line, err := d.Line(enc)
			if err != nil {
				return hardware{}, err
			}
			hw.Capture = periphio.NewEdgeCapture(line, nil)
			cfg.Encoder.TickFrequency = periphio.TickHz()
		}
		return hw, nil
	}
	return hardware{}, fmt.Errorf("unknown backend %q", cfg.Backend)
}
