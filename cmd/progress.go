package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/lineaudit/internal/application/progress"
)

// progressPrinter redraws a single status line from tracker snapshots.
type progressPrinter struct {
	out      io.Writer
	name     string
	interval time.Duration
	mu       sync.Mutex
	last     progress.Snapshot
	updates  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newProgressPrinter(out io.Writer, name string) *progressPrinter {
	return &progressPrinter{
		out:      out,
		name:     name,
		interval: 300 * time.Millisecond,
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (p *progressPrinter) Start() {
	go p.loop()
}

// Follow feeds snapshots from a tracker subscription until it closes or the
// printer stops.
func (p *progressPrinter) Follow(snapshots <-chan progress.Snapshot) {
	go func() {
		for {
			select {
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				p.Update(snap)
			case <-p.done:
				return
			}
		}
	}()
}

func (p *progressPrinter) Update(snap progress.Snapshot) {
	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", 100))
		fmt.Fprintln(p.out, formatProgressLine(p.name, p.last))
	})
}

func (p *progressPrinter) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) print() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return
	default:
	}
	fmt.Fprintf(p.out, "\r%s", formatProgressLine(p.name, p.last))
}

func formatProgressLine(name string, snap progress.Snapshot) string {
	phase := string(snap.Phase)
	if phase == "" {
		phase = string(progress.StateIdle)
	}
	line := fmt.Sprintf("[%s] %s %d/%d (%.1f%%) Clean:%d Exposed:%d Fail:%d",
		name, phase, snap.CompletedDevices, snap.TotalDevices, snap.Percent(),
		snap.Success, snap.Warning, snap.Failure)
	switch {
	case snap.StopRequested:
		line += " stopping"
	case snap.Paused:
		line += " paused"
	}
	return line
}
