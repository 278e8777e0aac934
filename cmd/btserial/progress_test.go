package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer guards a bytes.Buffer shared with the printer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinter_PhasesAndFinalLine(t *testing.T) {
	out := &syncBuffer{}
	p := NewProgressPrinter(out, "Bridge", "Connecting", "Failed")
	p.Start()

	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "Bridge (Connecting...)") }, time.Second, 5*time.Millisecond)

	update := p.Callback()
	update("Connected to BMX-001")
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "Connected to BMX-001") }, time.Second, 5*time.Millisecond)

	update("Failed")
	assert.True(t, strings.HasSuffix(out.String(), "Bridge: Failed\n"), "final phase MUST end the status line")

	p.Stop()
	assert.True(t, strings.HasSuffix(out.String(), "Bridge: Failed\n"), "Stop after a final phase MUST NOT print again")
}
