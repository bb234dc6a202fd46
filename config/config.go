package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gopid/core"
)

// Config is the host run configuration.
type Config struct {
	Backend     string            `yaml:"backend"` // "sim" or "periph"
	Serial      SerialConfig      `yaml:"serial"`
	Pins        PinConfig         `yaml:"pins"`
	NVM         NVMConfig         `yaml:"nvm"`
	ADC         ADCConfig         `yaml:"adc"`
	DAC         DACConfig         `yaml:"dac"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Encoder     EncoderConfig     `yaml:"encoder"`
	Loop        LoopConfig        `yaml:"loop"`
	Sim         SimConfig         `yaml:"sim"`
}

// SerialConfig selects the operator console. An empty port uses stdin.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// PinConfig names GPIO lines as the periph registry knows them.
type PinConfig struct {
	ADCSelect string        `yaml:"adc_select"`
	DACSelect string        `yaml:"dac_select"`
	Clock     string        `yaml:"clock"`
	DataIn    string        `yaml:"data_in"`
	DataOut   string        `yaml:"data_out"`
	Reset     string        `yaml:"reset"` // empty if tied high
	Encoder   string        `yaml:"encoder"`
	StatusLED string        `yaml:"status_led"`
	BusDelay  time.Duration `yaml:"bus_delay"` // wait per clock edge
}

// NVMConfig places the Setup image in a file-backed store.
type NVMConfig struct {
	Path string `yaml:"path"`
	Size int    `yaml:"size"`
	Base int64  `yaml:"base"`
}

// ADCConfig is the converter operating point.
type ADCConfig struct {
	Channel    uint8         `yaml:"channel"`
	Gain       int           `yaml:"gain"`      // 1..128
	RateHz     int           `yaml:"rate_hz"`   // 50, 60, 250 or 500
	Bipolar    bool          `yaml:"bipolar"`
	Settle     time.Duration `yaml:"settle"`
	MaxRetries int           `yaml:"max_retries"`
}

// DACConfig is the output span in volts.
type DACConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// CalibrationConfig maps raw codes to engineering units.
type CalibrationConfig struct {
	LowBits  uint16    `yaml:"low_bits"`
	HighBits uint16    `yaml:"high_bits"`
	MaxValue float64   `yaml:"max_value"`
	Coefs    []float64 `yaml:"coefs"`
}

// EncoderConfig describes the velocity feedback.
type EncoderConfig struct {
	TickFrequency float64       `yaml:"tick_frequency"`
	PulsesPerRev  uint32        `yaml:"pulses_per_rev"`
	Settle        time.Duration `yaml:"settle"`
}

// LoopConfig sets the orchestrator cadence.
type LoopConfig struct {
	ReportEvery     int           `yaml:"report_every"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	SetpointTimeout time.Duration `yaml:"setpoint_timeout"`
	BootCountdown   int           `yaml:"boot_countdown"` // seconds, 0 goes straight to the menu
}

// SimConfig shapes the simulated plant.
type SimConfig struct {
	StartValue   float64       `yaml:"start_value"`   // initial process value
	Gain         float64       `yaml:"gain"`          // units per volt at steady state
	TimeConstant time.Duration `yaml:"time_constant"` // first-order lag
	Noise        float64       `yaml:"noise"`         // uniform noise amplitude
	RPMPerVolt   float64       `yaml:"rpm_per_volt"`
	Seed         int64         `yaml:"seed"`
}

// Default returns a configuration that runs against the simulator.
func Default() *Config {
	return &Config{
		Backend: "sim",
		Serial: SerialConfig{
			Baud:        9600,
			ReadTimeout: 5 * time.Millisecond,
		},
		Pins: PinConfig{
			ADCSelect: "GPIO8",
			DACSelect: "GPIO7",
			Clock:     "GPIO11",
			DataIn:    "GPIO10",
			DataOut:   "GPIO9",
			Reset:     "GPIO25",
			Encoder:   "GPIO17",
		},
		NVM: NVMConfig{
			Path: "pidctl.nvm",
			Size: 256,
		},
		ADC: ADCConfig{
			Gain:       1,
			RateHz:     50,
			Settle:     core.DefaultADCSettle,
			MaxRetries: core.DefaultADCRetries,
		},
		DAC: DACConfig{Min: -5, Max: 5},
		Calibration: CalibrationConfig{
			LowBits:  12000,
			HighBits: 60000,
			MaxValue: 300,
		},
		Encoder: EncoderConfig{
			TickFrequency: core.DefaultTickFrequency,
			PulsesPerRev:  core.DefaultPulsesPerRev,
			Settle:        core.DefaultVelocitySettle,
		},
		Loop: LoopConfig{
			ReportEvery:     core.DefaultReportEvery,
			PollTimeout:     core.DefaultPollTimeout,
			SetpointTimeout: 30 * time.Second,
			BootCountdown:   6,
		},
		Sim: SimConfig{
			StartValue:   0,
			Gain:         60,
			TimeConstant: 2 * time.Second,
			Noise:        0.2,
			RPMPerVolt:   12,
			Seed:         1,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; missing fields are filled from them.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills zero values that have no meaning.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}
	if c.NVM.Path == "" {
		c.NVM.Path = def.NVM.Path
	}
	if c.NVM.Size == 0 {
		c.NVM.Size = def.NVM.Size
	}
	if c.ADC.Gain == 0 {
		c.ADC.Gain = def.ADC.Gain
	}
	if c.ADC.RateHz == 0 {
		c.ADC.RateHz = def.ADC.RateHz
	}
	if c.ADC.Settle == 0 {
		c.ADC.Settle = def.ADC.Settle
	}
	if c.ADC.MaxRetries == 0 {
		c.ADC.MaxRetries = def.ADC.MaxRetries
	}
	if c.DAC.Min == 0 && c.DAC.Max == 0 {
		c.DAC = def.DAC
	}
	if c.Calibration.HighBits == 0 {
		c.Calibration.LowBits = def.Calibration.LowBits
		c.Calibration.HighBits = def.Calibration.HighBits
	}
	if c.Calibration.MaxValue == 0 {
		c.Calibration.MaxValue = def.Calibration.MaxValue
	}
	if c.Encoder.TickFrequency == 0 {
		c.Encoder.TickFrequency = def.Encoder.TickFrequency
	}
	if c.Encoder.PulsesPerRev == 0 {
		c.Encoder.PulsesPerRev = def.Encoder.PulsesPerRev
	}
	if c.Encoder.Settle == 0 {
		c.Encoder.Settle = def.Encoder.Settle
	}
	if c.Loop.ReportEvery == 0 {
		c.Loop.ReportEvery = def.Loop.ReportEvery
	}
	if c.Loop.PollTimeout == 0 {
		c.Loop.PollTimeout = def.Loop.PollTimeout
	}
	if c.Loop.SetpointTimeout == 0 {
		c.Loop.SetpointTimeout = def.Loop.SetpointTimeout
	}
	if c.Sim.Gain == 0 {
		c.Sim.Gain = def.Sim.Gain
	}
	if c.Sim.TimeConstant == 0 {
		c.Sim.TimeConstant = def.Sim.TimeConstant
	}
}

// Validate checks values that would make the controller misbehave.
func (c *Config) Validate() error {
	switch c.Backend {
	case "sim", "periph":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := c.ADCConfig(); err != nil {
		return err
	}
	if err := c.CoreCalibration().Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	if c.DAC.Max <= c.DAC.Min {
		return fmt.Errorf("dac range %v..%v is empty", c.DAC.Min, c.DAC.Max)
	}
	if c.ADC.Channel >= core.ADCChannels {
		return fmt.Errorf("adc channel %d out of range", c.ADC.Channel)
	}
	if int64(core.SetupImageSize)+c.NVM.Base > int64(c.NVM.Size) {
		return fmt.Errorf("nvm size %d too small for setup at %d", c.NVM.Size, c.NVM.Base)
	}
	return nil
}

var (
	adcGains = map[int]byte{
		1: core.ADCGain1, 2: core.ADCGain2, 4: core.ADCGain4, 8: core.ADCGain8,
		16: core.ADCGain16, 32: core.ADCGain32, 64: core.ADCGain64, 128: core.ADCGain128,
	}
	adcRates = map[int]byte{
		50: core.ADCRate50, 60: core.ADCRate60, 250: core.ADCRate250, 500: core.ADCRate500,
	}
)

// ADCConfig converts to the register-level operating point.
func (c *Config) ADCConfig() (core.ADCConfig, error) {
	gain, ok := adcGains[c.ADC.Gain]
	if !ok {
		return core.ADCConfig{}, fmt.Errorf("adc gain %d not supported", c.ADC.Gain)
	}
	rate, ok := adcRates[c.ADC.RateHz]
	if !ok {
		return core.ADCConfig{}, fmt.Errorf("adc rate %d Hz not supported", c.ADC.RateHz)
	}
	out := core.ADCConfig{
		Mode:          core.ADCModeNormal,
		Gain:          gain,
		Rate:          rate,
		Polarity:      core.ADCUnipolar,
		SelfCalibrate: true,
	}
	if c.ADC.Bipolar {
		out.Polarity = 0
	}
	return out, nil
}

// CoreCalibration returns the sensor scaling.
func (c *Config) CoreCalibration() core.Calibration {
	return core.Calibration{
		LowBits:  c.Calibration.LowBits,
		HighBits: c.Calibration.HighBits,
		MaxValue: c.Calibration.MaxValue,
		Coefs:    c.Calibration.Coefs,
	}
}

// DACRange returns the output span.
func (c *Config) DACRange() core.DACRange {
	return core.DACRange{Min: c.DAC.Min, Max: c.DAC.Max}
}
