package main

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the current connection phase with elapsed time.
//
//	p := NewProgressPrinter(out, "Connecting to AA:BB:...", "Connecting")
//	p.Start()
//	defer p.Stop()
//
// It prints nothing unless out is a terminal. A ProgressPrinter is single-use.
type ProgressPrinter struct {
	out       io.Writer
	prefix    string
	phase     atomic.Value // string
	startTime time.Time
	enabled   bool
	started   atomic.Bool
	stopped   atomic.Bool
	stopChan  chan struct{}
	done      chan struct{}
}

func NewProgressPrinter(out io.Writer, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		enabled:  isTerminal(out),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		close(p.done)
		return
	}
	p.startTime = time.Now()
	p.print()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print()
			}
		}
	}()
}

func (p *ProgressPrinter) print() {
	phase := p.phase.Load().(string)
	if seconds := int(time.Since(p.startTime).Seconds()); seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// SetPhase updates the phase shown on the next tick. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop terminates the display and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	if !p.started.Load() || !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopChan)
	<-p.done
	if p.enabled {
		fmt.Fprint(p.out, clearLineSequence)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
