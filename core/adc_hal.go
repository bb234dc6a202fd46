package core

// ADCPort is the register-level path to the converter. The Bus implements it.
type ADCPort interface {
	// WriteADCByte shifts one byte into the communications or a data register.
	WriteADCByte(b byte) error

	// ReadADCWord clocks a 16-bit word out of the selected register.
	ReadADCWord() (uint16, error)

	// ReadADCByte clocks one byte out, for 8 and 24-bit registers.
	ReadADCByte() (byte, error)

	// ResetADC pulses the hardware reset line.
	ResetADC() error
}

// DACPort is the register-level path to the DAC. The Bus implements it.
type DACPort interface {
	// WriteDAC shifts one 12-bit code into the converter.
	WriteDAC(code uint16) error
}

var (
	_ ADCPort = (*Bus)(nil)
	_ DACPort = (*Bus)(nil)
)
