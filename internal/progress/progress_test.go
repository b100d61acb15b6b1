package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shore-hpc/shore/internal/events"
)

func TestBusProgressPublishesPercent(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventProgress)

	p := NewBusProgress(bus, "fe-k")
	p.Start(100, "Entering OPF stage")
	p.Update(30)
	p.SetDescription("Entering DFT stage")
	p.Update(40)

	want := []int{0, 30, 40}
	for i, w := range want {
		select {
		case ev := <-ch:
			pe := ev.(*events.ProgressEvent)
			if pe.Percent != w {
				t.Errorf("event %d: percent = %d, want %d", i, pe.Percent, w)
			}
			if pe.Instance != "fe-k" {
				t.Errorf("event %d: instance = %q", i, pe.Instance)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not received", i)
		}
	}
}

func TestBusProgressNilBus(t *testing.T) {
	p := NewBusProgress(nil, "x")
	p.Start(100, "start")
	p.Update(50)
	p.Error(errors.New("boom"))
	p.Finish()
}

type recorder struct {
	updates []int64
	done    bool
}

func (r *recorder) Start(total int64, description string) {}
func (r *recorder) Update(current int64)                  { r.updates = append(r.updates, current) }
func (r *recorder) Finish()                               { r.done = true }
func (r *recorder) Error(err error)                       {}
func (r *recorder) SetDescription(desc string)            {}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, b, NewNoOpProgress()}
	m.Start(100, "x")
	m.Update(10)
	m.Update(60)
	m.Finish()

	for _, r := range []*recorder{a, b} {
		if len(r.updates) != 2 || r.updates[1] != 60 {
			t.Errorf("updates = %v", r.updates)
		}
		if !r.done {
			t.Error("Finish not forwarded")
		}
	}
}

func TestCLIProgressError(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgressTo(&buf)
	p.Start(100, "monitor")
	p.Update(50)
	p.Error(errors.New("lost connection"))
	p.Finish()

	if !strings.Contains(buf.String(), "Error: lost connection") {
		t.Errorf("output missing error: %q", buf.String())
	}
}

func TestStageUIPlain(t *testing.T) {
	var buf bytes.Buffer
	ui := NewStageUITo(&buf)
	if ui.IsTerminal() {
		t.Fatal("plain UI reports a terminal")
	}
	ui.AddStage("parsing", 3, 3)
	ui.AddStage("opf", 1, 2)
	ui.Wait()

	out := buf.String()
	if !strings.Contains(out, "[x] parsing  3/3") {
		t.Errorf("missing complete stage line: %q", out)
	}
	if !strings.Contains(out, "[ ] opf      1/2") {
		t.Errorf("missing partial stage line: %q", out)
	}
}
