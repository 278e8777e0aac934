package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line updated with the current phase and
// the seconds spent in it. Phases listed as final print once and end the line.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value // string
	since      atomic.Int64 // unix nanos of the last phase change
	finalPhase map[string]struct{}

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer writing to out.
func NewProgressPrinter(out io.Writer, prefix, phase string, finalPhases ...string) *ProgressPrinter {
	final := make(map[string]struct{}, len(finalPhases))
	for _, p := range finalPhases {
		final[p] = struct{}{}
	}
	p := &ProgressPrinter{out: out, prefix: prefix, finalPhase: final}
	p.phase.Store(phase)
	p.since.Store(time.Now().UnixNano())
	return p
}

// Start begins refreshing the line. Calling Start twice is a no-op.
func (p *ProgressPrinter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopChan != nil {
		return
	}
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	p.render()

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.render()
			}
		}
	}(p.stopChan, p.done)
}

func (p *ProgressPrinter) render() {
	phase := p.phase.Load().(string)
	seconds := int(time.Since(time.Unix(0, p.since.Load())).Seconds())
	if seconds > 0 {
		fmt.Fprintf(p.out, "%s%s (%s %ds)", clearLineSequence, p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "%s%s (%s...)", clearLineSequence, p.prefix, phase)
	}
}

// Callback returns a function that switches the phase; safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		p.since.Store(time.Now().UnixNano())
		if _, final := p.finalPhase[phase]; final {
			p.Stop()
			fmt.Fprintf(p.out, "%s: %s\n", p.prefix, phase)
		}
	}
}

// Stop ends the refresh loop and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.mu.Lock()
	stop, done := p.stopChan, p.done
	p.stopChan = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	fmt.Fprint(p.out, clearLineSequence)
}
