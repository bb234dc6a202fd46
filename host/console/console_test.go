package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the console writer and the test.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func scripted(input string) (*Console, *syncBuffer) {
	out := &syncBuffer{}
	return New(strings.NewReader(input), out, false), out
}

func TestReadLineEditing(t *testing.T) {
	c, out := scripted("12\x083\r")
	line, err := c.ReadLine(context.Background(), "> ")
	require.NoError(t, err)
	assert.Equal(t, "13", line)
	assert.Equal(t, "> 12\b \b3", out.String())
}

func TestReadLineIgnoresControlAndOverflow(t *testing.T) {
	long := strings.Repeat("9", MaxLine+5)
	c, _ := scripted("\x01" + long + "\n")
	line, err := c.ReadLine(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("9", MaxLine), line)
}

func TestReadLineBackspaceOnEmpty(t *testing.T) {
	c, out := scripted("\x7f\x7fA\r")
	line, err := c.ReadLine(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "A", line)
	assert.Equal(t, "A", out.String())
}

func TestReadLineCancel(t *testing.T) {
	c, _ := scripted("12\x1b")
	_, err := c.ReadLine(context.Background(), "")
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestReadLineClosed(t *testing.T) {
	c, _ := scripted("12")
	_, err := c.ReadLine(context.Background(), "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Err(), io.EOF)
}

func TestReadLineContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := New(r, io.Discard, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.ReadLine(ctx, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"220", 220, true},
		{" 15.5 ", 15.5, true},
		{"-3e2", -300, true},
		{"", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range tests {
		v, err := ParseNumber(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrBadNumber, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, v)
	}
}

func TestReadFloatDefault(t *testing.T) {
	c, _ := scripted("\r7.25\rx\r")
	ctx := context.Background()

	v, err := c.ReadFloat(ctx, "", 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = c.ReadFloat(ctx, "", 3)
	require.NoError(t, err)
	assert.Equal(t, 7.25, v)

	_, err = c.ReadFloat(ctx, "", 3)
	assert.ErrorIs(t, err, ErrBadNumber)
}

func TestReadSetpoint(t *testing.T) {
	c, out := scripted("180\r")
	v, err := c.ReadSetpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 180.0, v)
	assert.Contains(t, out.String(), "Enter a setpoint: 180")
}

func TestPollKey(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := New(r, io.Discard, false)
	ctx := context.Background()

	start := time.Now()
	_, ok := c.PollKey(ctx, 10*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	go w.Write([]byte{0x1b})
	key, ok := c.PollKey(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, byte(0x1b), key)
}

func TestDrain(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := New(r, io.Discard, false)

	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.keys) == 3 }, time.Second, time.Millisecond)

	c.Drain()
	_, ok := c.PollKey(context.Background(), time.Millisecond)
	assert.False(t, ok)
}

// eofReader returns EOF with no data a few times before delivering, as a
// serial port does when its read times out.
type eofReader struct {
	misses int
	data   []byte
}

func (e *eofReader) Read(p []byte) (int, error) {
	if e.misses > 0 {
		e.misses--
		return 0, io.EOF
	}
	if len(e.data) == 0 {
		return 0, io.ErrClosedPipe
	}
	n := copy(p, e.data)
	e.data = e.data[n:]
	return n, nil
}

func TestRetryEOF(t *testing.T) {
	c := New(&eofReader{misses: 3, data: []byte("5\r")}, io.Discard, true)
	line, err := c.ReadLine(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "5", line)

	require.Eventually(t, func() bool { return c.Err() != nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Err(), io.ErrClosedPipe)
}

func TestReadKeyIdle(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := New(r, io.Discard, false)

	var mu sync.Mutex
	kicks := 0
	c.SetIdle(func() {
		mu.Lock()
		kicks++
		mu.Unlock()
	}, time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte("k"))
	}()
	key, err := c.ReadKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte('k'), key)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, kicks, 0)
}
