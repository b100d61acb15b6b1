package cli

import (
	"fmt"
	"io"

	"github.com/shore-hpc/shore/internal/events"
)

// eventPrinter writes launch transitions, stage completions and errors
// published on the event bus. Progress and log events are already rendered
// by the progress bar and the logger, so they are not subscribed to.
//
// Commands call flush between operations, which keeps the printed lines on
// the command's goroutine and in order with its own output.
type eventPrinter struct {
	w      io.Writer
	states <-chan events.Event
	stages <-chan events.Event
	errors <-chan events.Event
}

func newEventPrinter(bus *events.EventBus, w io.Writer) *eventPrinter {
	return &eventPrinter{
		w:      w,
		states: bus.Subscribe(events.EventStateChange),
		stages: bus.Subscribe(events.EventStage),
		errors: bus.Subscribe(events.EventError),
	}
}

// flush prints every pending event without blocking.
func (p *eventPrinter) flush() {
	if p == nil {
		return
	}
	for {
		var (
			event events.Event
			ok    bool
		)
		select {
		case event, ok = <-p.states:
			if !ok {
				p.states = nil
				continue
			}
		case event, ok = <-p.stages:
			if !ok {
				p.stages = nil
				continue
			}
		case event, ok = <-p.errors:
			if !ok {
				p.errors = nil
				continue
			}
		default:
			return
		}
		p.print(event)
	}
}

func (p *eventPrinter) print(event events.Event) {
	switch e := event.(type) {
	case *events.StateChangeEvent:
		if e.JobID != "" {
			fmt.Fprintf(p.w, "%-24s %s -> %s (job %s)\n", e.Instance, e.OldState, e.NewState, e.JobID)
			return
		}
		fmt.Fprintf(p.w, "%-24s %s -> %s\n", e.Instance, e.OldState, e.NewState)
	case *events.StageEvent:
		if e.Complete {
			fmt.Fprintf(p.w, "%-24s stage %s complete\n", e.Instance, e.Stage)
		}
	case *events.ErrorEvent:
		fmt.Fprintf(p.w, "%-24s error in %s: %v\n", e.Instance, e.Stage, e.Error)
	}
}
