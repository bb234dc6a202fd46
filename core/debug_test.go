package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagnosticsSync(t *testing.T) {
	var sb strings.Builder
	d := NewDiagnostics(func(s string) { sb.WriteString(s) })

	d.Print(".")
	d.Println("x")
	d.Printf("v=%d", 3)
	assert.Equal(t, ".x\r\nv=3\r\n", sb.String())
}

func TestDiagnosticsAsyncDrains(t *testing.T) {
	out := &textSink{}
	d := NewDiagnostics(out.write)
	d.StartAsync(64)
	for i := 0; i < 10; i++ {
		d.Print(".")
	}
	d.Stop()
	assert.Equal(t, strings.Repeat(".", 10), out.String())
	assert.Zero(t, d.Dropped())

	// Stopped sink writes directly again.
	d.Print("!")
	assert.Equal(t, strings.Repeat(".", 10)+"!", out.String())
}

func TestDiagnosticsAsyncDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	out := &textSink{}
	d := NewDiagnostics(func(s string) {
		<-block
		out.write(s)
	})
	d.StartAsync(1)
	for i := 0; i < 20; i++ {
		d.Print(".")
	}
	close(block)
	d.Stop()
	assert.NotZero(t, d.Dropped())
	t.Logf("dropped %d of 20", d.Dropped())
}

func TestEventRing(t *testing.T) {
	d := NewDiagnostics(nil)
	assert.Empty(t, d.Events())

	for i := 0; i < EventRingSize+5; i++ {
		d.Record(EvtSaturated, uint32(i), 0, 0)
	}
	events := d.Events()
	assert.Len(t, events, EventRingSize)
	assert.Equal(t, uint32(5), events[0].Cycle, "oldest first")
	assert.Equal(t, uint32(EventRingSize+4), events[len(events)-1].Cycle)
}

func TestDumpEvents(t *testing.T) {
	var sb strings.Builder
	d := NewDiagnostics(func(s string) { sb.WriteString(s) })
	d.Record(EvtAbort, 7, 0, 0)
	d.Record(EvtNVMMismatch, 0, 10, 0)
	d.DumpEvents()

	out := sb.String()
	assert.Contains(t, out, "ABORT cycle=7")
	assert.Contains(t, out, "NVM_MISMATCH cycle=0 v1=10")
}
