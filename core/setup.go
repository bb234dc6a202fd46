package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopid/protocol"
)

// SetupValid marks a deliberately written record.
const SetupValid = 0x62

// Direction is the acting sense of the loop.
type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "Fwd"
	case Reverse:
		return "Rev"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Sign is +1 for Forward and -1 for Reverse.
func (d Direction) Sign() float64 {
	if d == Reverse {
		return -1
	}
	return 1
}

// Setup is the persisted control configuration.
type Setup struct {
	Ident            string
	Kp, Ki, Kd       float64
	RampRate         float64 // units per minute, not consumed by the loop
	RampSetpoint     float64
	TargetSetpoint   float64
	MeasuredValue    float64 // last process value, informational
	ProportionalBand float64
	Direction        Direction
	Validity         uint8
}

var (
	ErrProportionalBand = errors.New("proportional band must be positive")
	ErrNotFinite        = errors.New("value must be finite")
	ErrIdentTooLong     = errors.New("ident too long")
	ErrIdentNUL         = errors.New("ident contains NUL")
	ErrDirection        = errors.New("unknown direction")
)

// DefaultSetup returns the factory configuration.
func DefaultSetup() Setup {
	return Setup{
		Ident:            "CH1 Pressure",
		Kp:               5.0,
		Ki:               0.1,
		Kd:               0.1,
		RampRate:         20.0,
		RampSetpoint:     15.5,
		TargetSetpoint:   220.0,
		ProportionalBand: 20.0,
		Direction:        Forward,
		Validity:         SetupValid,
	}
}

// Valid reports whether the validity tag holds the sentinel.
func (s Setup) Valid() bool {
	return s.Validity == SetupValid
}

// Validate checks the field invariants. It does not look at Validity.
func (s Setup) Validate() error {
	for _, v := range []float64{s.Kp, s.Ki, s.Kd, s.RampRate, s.RampSetpoint, s.TargetSetpoint, s.MeasuredValue, s.ProportionalBand} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNotFinite
		}
	}
	if s.ProportionalBand <= 0 {
		return ErrProportionalBand
	}
	if s.Direction > Reverse {
		return ErrDirection
	}
	return validIdent(s.Ident)
}

// validIdent rejects idents that would not survive the NUL padded field.
func validIdent(ident string) error {
	if len(ident) > SetupIdentSize {
		return ErrIdentTooLong
	}
	if strings.IndexByte(ident, 0) >= 0 {
		return ErrIdentNUL
	}
	return nil
}

// Image layout, little endian:
//
//	0      version
//	1..16  ident, NUL padded
//	17..80 Kp Ki Kd RampRate RampSetpoint TargetSetpoint MeasuredValue PB (float64)
//	81     direction
//	82..83 CRC16 over 0..81
//	84     validity sentinel
const (
	SetupImageVersion = 1
	SetupIdentSize    = 16
	SetupImageSize    = 85

	setupFloatsOffset = 1 + SetupIdentSize
	setupDirOffset    = setupFloatsOffset + 8*8
	setupCRCOffset    = setupDirOffset + 1
	setupValidOffset  = SetupImageSize - 1
)

var (
	ErrSetupSize     = errors.New("setup image has wrong size")
	ErrSetupAbsent   = errors.New("setup image not present")
	ErrSetupVersion  = errors.New("setup image version not supported")
	ErrSetupChecksum = errors.New("setup image checksum mismatch")
)

func (s *Setup) floats() []*float64 {
	return []*float64{
		&s.Kp, &s.Ki, &s.Kd,
		&s.RampRate, &s.RampSetpoint, &s.TargetSetpoint,
		&s.MeasuredValue, &s.ProportionalBand,
	}
}

// MarshalBinary encodes the fixed-size image.
func (s Setup) MarshalBinary() ([]byte, error) {
	if err := validIdent(s.Ident); err != nil {
		return nil, err
	}
	buf := make([]byte, SetupImageSize)
	buf[0] = SetupImageVersion
	copy(buf[1:setupFloatsOffset], s.Ident)

	off := setupFloatsOffset
	for _, f := range s.floats() {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(*f))
		off += 8
	}
	buf[setupDirOffset] = byte(s.Direction)
	binary.LittleEndian.PutUint16(buf[setupCRCOffset:], protocol.CRC16(buf[:setupCRCOffset]))
	buf[setupValidOffset] = s.Validity
	return buf, nil
}

// UnmarshalBinary decodes an image written by MarshalBinary. An image
// without the sentinel yields ErrSetupAbsent.
func (s *Setup) UnmarshalBinary(data []byte) error {
	if len(data) != SetupImageSize {
		return fmt.Errorf("%w: %d bytes", ErrSetupSize, len(data))
	}
	if data[setupValidOffset] != SetupValid {
		return ErrSetupAbsent
	}
	if data[0] != SetupImageVersion {
		return fmt.Errorf("%w: %d", ErrSetupVersion, data[0])
	}
	want := binary.LittleEndian.Uint16(data[setupCRCOffset:])
	if got := protocol.CRC16(data[:setupCRCOffset]); got != want {
		return fmt.Errorf("%w: stored 0x%04X computed 0x%04X", ErrSetupChecksum, want, got)
	}

	var out Setup
	ident := data[1:setupFloatsOffset]
	for i, b := range ident {
		if b == 0 {
			ident = ident[:i]
			break
		}
	}
	out.Ident = string(ident)

	off := setupFloatsOffset
	for _, f := range out.floats() {
		*f = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
		off += 8
	}
	out.Direction = Direction(data[setupDirOffset])
	out.Validity = data[setupValidOffset]
	*s = out
	return nil
}
