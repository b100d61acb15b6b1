package stage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPipelineIsValid(t *testing.T) {
	p := DefaultPipeline()
	require.NoError(t, p.Validate())
	assert.Equal(t, []string{"parsing", "opf", "dft", "prep", "screen", "cnbse"}, p.Names())
	assert.Equal(t, "Storing parsed data", p[0].Start())
	assert.Equal(t, "Done with parsing", p[0].End())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Pipeline
		wantErr error
	}{
		{"empty", Pipeline{}, ErrEmptyPipeline},
		{"duplicate", Pipeline{{Name: "a", Markers: []string{"x"}}, {Name: "a", Markers: []string{"y"}}}, ErrDuplicateStage},
		{"no markers", Pipeline{{Name: "a"}}, ErrNoMarkers},
		{"empty marker", Pipeline{{Name: "a", Markers: []string{""}}}, ErrNoMarkers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.p.Validate(), tt.wantErr)
		})
	}
}

func TestInferEveryStage(t *testing.T) {
	p := DefaultPipeline()

	for _, s := range p {
		t.Run(s.Name+"/all markers", func(t *testing.T) {
			// markers reversed and surrounded by noise
			var b strings.Builder
			for i := len(s.Markers) - 1; i >= 0; i-- {
				b.WriteString("noise " + s.Markers[i] + " trailing\n")
			}
			report, err := p.Infer(strings.NewReader(b.String()))
			require.NoError(t, err)
			assert.True(t, report.Completion()[s.Name])
		})

		for drop := range s.Markers {
			t.Run(s.Name+"/missing "+s.Markers[drop], func(t *testing.T) {
				var b strings.Builder
				for i, m := range s.Markers {
					if i != drop {
						b.WriteString(m + "\n")
					}
				}
				only := Pipeline{s}
				report, err := only.Infer(strings.NewReader(b.String()))
				require.NoError(t, err)
				assert.False(t, report.Completion()[s.Name])
				assert.Equal(t, len(s.Markers)-1, report.Results[0].FoundCount())
			})
		}
	}
}

func TestInferIsIdempotent(t *testing.T) {
	p := DefaultPipeline()
	log := "Welcome to OCEAN\nStoring parsed data\nFinished running extractPsp\nDone with parsing\n" +
		"Entering OPF stage\nEntering DFT stage\n"

	first, err := p.Infer(strings.NewReader(log))
	require.NoError(t, err)
	second, err := p.Infer(strings.NewReader(log))
	require.NoError(t, err)

	assert.Equal(t, first.Completion(), second.Completion())
	assert.Equal(t, map[string]bool{
		"parsing": true, "opf": true, "dft": false, "prep": false, "screen": false, "cnbse": false,
	}, first.Completion())
}

func TestInferFileMissing(t *testing.T) {
	p := DefaultPipeline()
	report, err := p.InferFile(filepath.Join(t.TempDir(), "log"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	for _, c := range report.Completion() {
		assert.False(t, c)
	}
	assert.Len(t, report.Results, len(p))
}

func TestInferFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	require.NoError(t, os.WriteFile(path, []byte("CNBSE stage\nOcean is done\n"), 0644))

	report, err := DefaultPipeline().InferFile(path)
	require.NoError(t, err)
	assert.True(t, report.Completion()["cnbse"])
	assert.False(t, report.Completion()["dft"])
}

func TestMergeLatches(t *testing.T) {
	p := DefaultPipeline()
	prev := map[string]bool{"parsing": true, "opf": true}

	// truncated log: nothing found any more, dft newly found
	truncated := "Entering DFT stage\nDFT for BSE final states complete\nDFT section is complete\n"
	report, err := p.Infer(strings.NewReader(truncated))
	require.NoError(t, err)

	merged, flipped := p.Merge(prev, report, false)
	assert.True(t, merged["parsing"])
	assert.True(t, merged["opf"])
	assert.True(t, merged["dft"])
	assert.Equal(t, []string{"dft"}, flipped)

	reset, flipped := p.Merge(prev, report, true)
	assert.False(t, reset["parsing"])
	assert.True(t, reset["dft"])
	assert.Equal(t, []string{"dft"}, flipped)
}

func TestInferLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024) + " Ocean is done\nCNBSE stage\n"
	report, err := DefaultPipeline().Infer(strings.NewReader(long))
	require.NoError(t, err)
	assert.True(t, report.Completion()["cnbse"])
}
