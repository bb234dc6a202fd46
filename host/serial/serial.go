// Package serial opens the operator console port.
package serial

import (
	"io"
	"time"
)

// Port represents a serial port interface. Implementations:
// - Native serial (using github.com/tarm/serial)
// - Pipe pairs in tests
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate of the operator terminal
	Baud int

	// ReadTimeout bounds a single Read (0 = blocking)
	ReadTimeout time.Duration
}

// DefaultConfig returns 9600 baud console settings for device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        9600,
		ReadTimeout: 100 * time.Millisecond,
	}
}
