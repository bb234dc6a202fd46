package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB0")
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, 9600, cfg.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.ReadTimeout)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)

	_, err = Open(DefaultConfig("/nonexistent/tty"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/tty")
}
