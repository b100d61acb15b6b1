package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shore-hpc/shore/internal/events"
)

func TestEventPrinterFlush(t *testing.T) {
	bus := events.NewEventBus(0)
	var out bytes.Buffer
	p := newEventPrinter(bus, &out)

	bus.PublishStateChange("fe-k", "not_submitted", "submitted", "12")
	bus.PublishStage("fe-k", "opf", true)
	bus.PublishProgress("fe-k", "Entering OPF stage", 15)
	bus.PublishError("fe-k", "monitor", errors.New("log vanished"))
	p.flush()

	got := out.String()
	for _, want := range []string{
		"not_submitted -> submitted (job 12)",
		"stage opf complete",
		"error in monitor: log vanished",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "15") {
		t.Errorf("progress events should not be printed:\n%s", got)
	}

	// nothing pending, and a closed bus ends the flush
	out.Reset()
	p.flush()
	bus.Close()
	p.flush()
	if out.Len() != 0 {
		t.Errorf("unexpected output after close: %s", out.String())
	}

	var none *eventPrinter
	none.flush()
}

func TestStatePrintsTransitions(t *testing.T) {
	dir := setupWorkspace(t)
	instDir := filepath.Join(dir, "ws", "FeO", "fe-k")
	if err := os.MkdirAll(instDir, 0755); err != nil {
		t.Fatal(err)
	}
	log := "Storing parsed data\nFinished running extractPsp\nDone with parsing\nCNBSE stage\nOcean is done\n"
	if err := os.WriteFile(filepath.Join(instDir, "log"), []byte(log), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", filepath.Join(dir, "config.ini"), "--jobs", filepath.Join(dir, "shore.yaml"), "state")
	if err != nil {
		t.Fatalf("state failed: %v\n%s", err, out)
	}
	for _, want := range []string{"stage parsing complete", "stage cnbse complete", "not_submitted -> done"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
