// Package progress provides a unified interface for progress reporting
// across the terminal (progress bars) and the event bus.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/shore-hpc/shore/internal/events"
)

// Reporter is the interface for reporting progress.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress implements progress reporting with a terminal progress bar.
type CLIProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewCLIProgress creates a CLI progress reporter writing to stderr.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{out: os.Stderr}
}

// NewCLIProgressTo creates a CLI progress reporter writing to w.
func NewCLIProgressTo(w io.Writer) *CLIProgress {
	return &CLIProgress{out: w}
}

// Start initializes the progress bar with total and description.
func (p *CLIProgress) Start(total int64, description string) {
	out := p.out
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Close()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// BusProgress publishes progress on the event bus for any front-end.
type BusProgress struct {
	eventBus  *events.EventBus
	instance  string
	milestone string
	total     int64
	current   int64
}

// NewBusProgress creates an event bus reporter for one instance.
func NewBusProgress(eventBus *events.EventBus, instance string) *BusProgress {
	return &BusProgress{
		eventBus: eventBus,
		instance: instance,
	}
}

func (p *BusProgress) percent() int {
	if p.total <= 0 {
		return int(p.current)
	}
	return int(p.current * 100 / p.total)
}

// Start initializes progress tracking.
func (p *BusProgress) Start(total int64, description string) {
	p.total = total
	p.current = 0
	p.milestone = description
	p.eventBus.PublishProgress(p.instance, description, 0)
}

// Update publishes a progress update.
func (p *BusProgress) Update(current int64) {
	p.current = current
	p.eventBus.PublishProgress(p.instance, p.milestone, p.percent())
}

// Finish publishes the final position.
func (p *BusProgress) Finish() {
	p.eventBus.PublishProgress(p.instance, p.milestone, p.percent())
}

// Error publishes an error event.
func (p *BusProgress) Error(err error) {
	if err != nil {
		p.eventBus.PublishError(p.instance, "monitor", err)
	}
}

// SetDescription records the current milestone.
func (p *BusProgress) SetDescription(desc string) {
	p.milestone = desc
}

// NoOpProgress is a progress reporter that does nothing (for background/silent operations).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                               {}
func (p *NoOpProgress) Error(err error)                       {}
func (p *NoOpProgress) SetDescription(desc string)            {}

// Multi fans every call out to several reporters.
type Multi []Reporter

func (m Multi) Start(total int64, description string) {
	for _, r := range m {
		r.Start(total, description)
	}
}

func (m Multi) Update(current int64) {
	for _, r := range m {
		r.Update(current)
	}
}

func (m Multi) Finish() {
	for _, r := range m {
		r.Finish()
	}
}

func (m Multi) Error(err error) {
	for _, r := range m {
		r.Error(err)
	}
}

func (m Multi) SetDescription(desc string) {
	for _, r := range m {
		r.SetDescription(desc)
	}
}
