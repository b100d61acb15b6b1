// Package monitor follows a running OCEAN calculation by mirroring its log
// and mapping milestone lines to a rough completion percentage.
//
// The percentage is feedback for the operator only. Persisted stage
// completion comes from the stage package.
package monitor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shore-hpc/shore/internal/constants"
)

// Milestone maps a log substring to the percentage it represents.
type Milestone struct {
	Marker  string
	Percent int
}

// DefaultMilestones returns the OCEAN milestones in increasing order.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Marker: "Welcome to OCEAN", Percent: 1},
		{Marker: "Entering OPF stage", Percent: 10},
		{Marker: "Entering DFT stage", Percent: 30},
		{Marker: "SCF stage complete", Percent: 40},
		{Marker: "Entering PREP stage", Percent: 50},
		{Marker: "Entering SCREENing stage", Percent: 60},
		{Marker: "Entering CNBSE stage", Percent: 80},
		{Marker: "Ocean is done", Percent: constants.TerminalPercent},
	}
}

// Tracker keeps the highest percentage seen across scans. It never goes
// down, even when a later scan sees a shorter log.
type Tracker struct {
	milestones []Milestone
	max        int
	label      string
}

// NewTracker creates a tracker. A nil list means DefaultMilestones.
func NewTracker(milestones []Milestone) *Tracker {
	if milestones == nil {
		milestones = DefaultMilestones()
	}
	return &Tracker{milestones: milestones}
}

// Scan reads r, raises the tracked maximum with whatever it finds and
// returns the tracked maximum.
func (t *Tracker) Scan(r io.Reader) (int, error) {
	seen := make([]bool, len(t.milestones))
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for i, m := range t.milestones {
			if !seen[i] && strings.Contains(line, m.Marker) {
				seen[i] = true
			}
		}
	}
	for i, m := range t.milestones {
		if seen[i] && m.Percent > t.max {
			t.max = m.Percent
			t.label = m.Marker
		}
	}
	if err := scanner.Err(); err != nil {
		return t.max, fmt.Errorf("error reading log: %w", err)
	}
	return t.max, nil
}

// ScanFile scans the file at path. A missing file leaves the maximum as is.
func (t *Tracker) ScanFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return t.max, err
	}
	defer f.Close()
	return t.Scan(f)
}

// Percent returns the highest percentage seen.
func (t *Tracker) Percent() int { return t.max }

// Milestone returns the marker of the highest milestone seen.
func (t *Tracker) Milestone() string { return t.label }

// Done reports whether the terminal milestone was seen.
func (t *Tracker) Done() bool { return t.max >= constants.TerminalPercent }
