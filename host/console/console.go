// Package console is the operator terminal: single-key polling, line
// entry with echo, and numeric parsing for the control loop and the menu.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopid/core"
	"gopid/host/serial"
	"gopid/protocol"
)

// MaxLine bounds operator entries.
const MaxLine = 20

var (
	ErrCancelled = errors.New("entry cancelled")
	ErrClosed    = errors.New("console closed")
	ErrBadNumber = errors.New("not a number")
)

var _ core.Operator = (*Console)(nil)

// Console reads keys in the background so polls never block the loop.
type Console struct {
	w  io.Writer
	wm sync.Mutex

	keys chan byte
	done chan struct{}

	mu  sync.Mutex
	err error

	idle      func()
	idleEvery time.Duration
}

// New starts reading r. A read returning io.EOF ends input unless
// retryEOF is set, as for serial ports whose reads time out with EOF.
func New(r io.Reader, w io.Writer, retryEOF bool) *Console {
	c := &Console{
		w:    w,
		keys: make(chan byte, 64),
		done: make(chan struct{}),
	}
	go c.reader(r, retryEOF)
	return c
}

// NewSerial wraps an open serial port.
func NewSerial(p serial.Port) *Console {
	return New(p, p, true)
}

func (c *Console) reader(r io.Reader, retryEOF bool) {
	defer close(c.done)
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			c.keys <- b
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && retryEOF && n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		return
	}
}

// Err returns the error that stopped input, if any.
func (c *Console) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Print writes s to the terminal. It doubles as a core.DebugWriter.
func (c *Console) Print(s string) {
	c.wm.Lock()
	defer c.wm.Unlock()
	io.WriteString(c.w, s)
}

// Printf formats to the terminal.
func (c *Console) Printf(format string, args ...interface{}) {
	c.Print(fmt.Sprintf(format, args...))
}

// PollKey waits up to timeout for one key.
func (c *Console) PollKey(ctx context.Context, timeout time.Duration) (byte, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-c.keys:
		return b, true
	default:
	}
	select {
	case b := <-c.keys:
		return b, true
	case <-t.C:
	case <-ctx.Done():
	}
	return 0, false
}

// SetIdle makes blocking reads call fn every interval while they wait,
// e.g. to keep a watchdog fed at the menu. Call before reading.
func (c *Console) SetIdle(fn func(), every time.Duration) {
	c.idle, c.idleEvery = fn, every
}

// ReadKey blocks for one key.
func (c *Console) ReadKey(ctx context.Context) (byte, error) {
	var tick <-chan time.Time
	if c.idle != nil && c.idleEvery > 0 {
		t := time.NewTicker(c.idleEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case b := <-c.keys:
			return b, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-tick:
			c.idle()
		case <-c.done:
			// drain what arrived before input ended
			select {
			case b := <-c.keys:
				return b, nil
			default:
			}
			return 0, ErrClosed
		}
	}
}

// Drain discards pending keys.
func (c *Console) Drain() {
	for {
		select {
		case <-c.keys:
		default:
			return
		}
	}
}

// ReadLine prints prompt and collects a line with echo. Backspace edits,
// ESC cancels, CR or LF ends the entry.
func (c *Console) ReadLine(ctx context.Context, prompt string) (string, error) {
	c.Print(prompt)
	var line []byte
	for {
		b, err := c.ReadKey(ctx)
		if err != nil {
			return "", err
		}
		switch b {
		case '\r', '\n':
			return string(line), nil
		case protocol.KeyAbort:
			return "", ErrCancelled
		case 0x08, 0x7F:
			if len(line) > 0 {
				line = line[:len(line)-1]
				c.Print("\b \b")
			}
		default:
			if b < 0x20 || len(line) >= MaxLine {
				continue
			}
			line = append(line, b)
			c.Print(string(b))
		}
	}
}

// ParseNumber parses an operator entry.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadNumber, s)
	}
	return v, nil
}

// ReadFloat reads one number. An empty entry returns def.
func (c *Console) ReadFloat(ctx context.Context, prompt string, def float64) (float64, error) {
	s, err := c.ReadLine(ctx, prompt)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return ParseNumber(s)
}

// ReadSetpoint implements core.Operator.
func (c *Console) ReadSetpoint(ctx context.Context) (float64, error) {
	s, err := c.ReadLine(ctx, "\r\nEnter a setpoint: ")
	if err != nil {
		return 0, err
	}
	return ParseNumber(s)
}
