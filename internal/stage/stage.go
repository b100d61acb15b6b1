// Package stage models the OCEAN calculation pipeline and infers stage
// completion from the engine log.
//
// A stage is complete when every one of its marker substrings occurs
// somewhere in the log. Marker order inside the file is not enforced and
// a stage never depends on earlier stages having been confirmed.
package stage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stage is one phase of the pipeline. Markers[0] announces the start and
// the last marker announces the end; anything in between must also appear.
type Stage struct {
	Name    string
	Markers []string
}

// Start returns the start marker.
func (s Stage) Start() string { return s.Markers[0] }

// End returns the end marker.
func (s Stage) End() string { return s.Markers[len(s.Markers)-1] }

// Pipeline is an ordered list of stages.
type Pipeline []Stage

// DefaultPipeline returns the OCEAN pipeline: parsing, opf, dft, prep, screen, cnbse.
func DefaultPipeline() Pipeline {
	return Pipeline{
		{Name: "parsing", Markers: []string{"Storing parsed data", "Finished running extractPsp", "Done with parsing"}},
		{Name: "opf", Markers: []string{"Entering OPF stage", "Entering DFT stage"}},
		{Name: "dft", Markers: []string{"Entering DFT stage", "DFT for BSE final states complete", "DFT section is complete"}},
		{Name: "prep", Markers: []string{"Entering PREP stage", "Entering SCREENing stage"}},
		{Name: "screen", Markers: []string{"Entering SCREENing stage", "Time offset:"}},
		{Name: "cnbse", Markers: []string{"CNBSE stage", "Ocean is done"}},
	}
}

var (
	ErrEmptyPipeline  = errors.New("pipeline has no stages")
	ErrDuplicateStage = errors.New("duplicate stage name")
	ErrNoMarkers      = errors.New("stage has no markers")
)

// Validate checks that stage names are unique and every stage has markers.
func (p Pipeline) Validate() error {
	if len(p) == 0 {
		return ErrEmptyPipeline
	}
	seen := make(map[string]bool, len(p))
	for _, s := range p {
		if s.Name == "" {
			return fmt.Errorf("stage without a name: %w", ErrNoMarkers)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name)
		}
		seen[s.Name] = true
		if len(s.Markers) == 0 {
			return fmt.Errorf("%s: %w", s.Name, ErrNoMarkers)
		}
		for _, m := range s.Markers {
			if m == "" {
				return fmt.Errorf("%s: empty marker: %w", s.Name, ErrNoMarkers)
			}
		}
	}
	return nil
}

// Names returns stage names in pipeline order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, s := range p {
		names[i] = s.Name
	}
	return names
}

// Result is the inference outcome for one stage.
type Result struct {
	Stage    string
	Found    []bool // parallel to Stage.Markers
	Complete bool
}

// FoundCount returns how many markers were seen.
func (r Result) FoundCount() int {
	n := 0
	for _, f := range r.Found {
		if f {
			n++
		}
	}
	return n
}

// Report holds one inference pass, in pipeline order.
type Report struct {
	Results []Result
}

// Completion returns the stage -> complete map of the report.
func (r Report) Completion() map[string]bool {
	out := make(map[string]bool, len(r.Results))
	for _, res := range r.Results {
		out[res.Stage] = res.Complete
	}
	return out
}

const maxLineSize = 4 * 1024 * 1024

// Infer scans the log once and records, for every stage, which markers
// appeared anywhere in it. The result is computed from scratch each call.
func (p Pipeline) Infer(r io.Reader) (Report, error) {
	found := make([][]bool, len(p))
	for i, s := range p {
		found[i] = make([]bool, len(s.Markers))
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		for i, s := range p {
			for j, m := range s.Markers {
				if !found[i][j] && strings.Contains(line, m) {
					found[i][j] = true
				}
			}
		}
	}

	report := Report{Results: make([]Result, len(p))}
	for i, s := range p {
		complete := true
		for _, f := range found[i] {
			complete = complete && f
		}
		report.Results[i] = Result{Stage: s.Name, Found: found[i], Complete: complete}
	}

	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("error reading log: %w", err)
	}
	return report, nil
}

// InferFile runs Infer on the file at path. A missing file yields an
// all-incomplete report and an error wrapping os.ErrNotExist.
func (p Pipeline) InferFile(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		empty, _ := p.Infer(strings.NewReader(""))
		return empty, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()
	return p.Infer(f)
}

// Merge folds a fresh report into the persisted completion flags.
// Flags latch: a stage that was complete stays complete unless reset is
// true, in which case the report replaces the previous flags outright.
// It returns the merged flags and the stages that became complete, in
// pipeline order.
func (p Pipeline) Merge(prev map[string]bool, report Report, reset bool) (map[string]bool, []string) {
	fresh := report.Completion()
	merged := make(map[string]bool, len(p))
	var flipped []string
	for _, s := range p {
		was := prev[s.Name]
		now := fresh[s.Name]
		if !reset {
			now = now || was
		}
		merged[s.Name] = now
		if now && !was {
			flipped = append(flipped, s.Name)
		}
	}
	return merged, flipped
}
