package jobscript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSubmission(t *testing.T) {
	tests := []struct {
		name   string
		output string
		wantID string
		wantOK bool
	}{
		{"plain", "Submitted batch job 12345\n", "12345", true},
		{"with pwd line", "/scratch/me/Fe2O3/fe-k\nSubmitted batch job 987\n", "987", true},
		{"error", "sbatch: error: Batch job submission failed: Invalid partition name specified\n", "", false},
		{"empty", "", "", false},
		{"no number", "Submitted batch job\n", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ParseSubmission(tt.output)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ParseSubmission(%q) = %q, %v; want %q, %v", tt.output, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestScriptRoundTrip(t *testing.T) {
	s := &Script{
		JobName:   "fe-k",
		Cores:     32,
		Partition: "normal",
		Walltime:  "12:00:00",
		Activate:  "/opt/ocean/activate",
		Engine:    "/opt/ocean/bin/ocean.pl",
	}

	text := s.String()
	if !strings.HasPrefix(text, "#!/bin/bash\n") {
		t.Errorf("missing shebang:\n%s", text)
	}
	if !strings.Contains(text, "#SBATCH --ntasks=32\n") {
		t.Errorf("core count missing:\n%s", text)
	}
	if !strings.Contains(text, "/opt/ocean/bin/ocean.pl ocean.in > log\n") {
		t.Errorf("engine command missing:\n%s", text)
	}

	dir := t.TempDir()
	path, err := s.WriteFile(dir)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if filepath.Base(path) != "job.sh" {
		t.Errorf("unexpected script name %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	parsed, err := Parse(f)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *parsed != *s {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", parsed, s)
	}
}

func TestScriptDefaults(t *testing.T) {
	s := &Script{JobName: "x"}
	text := s.String()
	if !strings.Contains(text, "#SBATCH --ntasks=1\n") {
		t.Errorf("expected default core count:\n%s", text)
	}
	if strings.Contains(text, "--partition") || strings.Contains(text, "source ") {
		t.Errorf("unexpected optional lines:\n%s", text)
	}
	if !strings.Contains(text, "ocean.pl ocean.in > log") {
		t.Errorf("expected default engine:\n%s", text)
	}
}

func TestCommands(t *testing.T) {
	if got := SubmitCommand("/scratch/a b"); got != "cd '/scratch/a b' && rm -f log err out && sbatch job.sh" {
		t.Errorf("SubmitCommand = %q", got)
	}

	got := LaunchCommand("/scratch/x", &Script{Activate: "/env/activate", Engine: "ocean.pl"})
	want := "source '/env/activate'; cd '/scratch/x' && rm -f log err out && nohup ocean.pl ocean.in > log 2> err < /dev/null &"
	if got != want {
		t.Errorf("LaunchCommand =\n%q\nwant\n%q", got, want)
	}

	if got := SqueueCommand("me", ""); got != "squeue --user='me'" {
		t.Errorf("SqueueCommand = %q", got)
	}
	if got := SqueueCommand("me", "42"); got != "squeue -j '42'" {
		t.Errorf("SqueueCommand = %q", got)
	}
}

func TestShellQuote(t *testing.T) {
	if got := ShellQuote("it's"); got != `'it'"'"'s'` {
		t.Errorf("ShellQuote = %s", got)
	}
	if got := ShellQuote(""); got != "''" {
		t.Errorf("ShellQuote empty = %s", got)
	}
}
