package models

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
)

// InputConfig is one OCEAN calculation request: the target element and edge
// on a structure plus the free-form engine parameters.
type InputConfig struct {
	Name          string         `yaml:"name" json:"name" validate:"required,excludesall=/\\ "`
	StructureName string         `yaml:"structure" json:"structure"`
	Element       string         `yaml:"element" json:"element" validate:"required"`
	Edge          string         `yaml:"edge" json:"edge" validate:"required"`
	Params        map[string]any `yaml:"params" json:"params"`

	Structure *Structure `yaml:"-" json:"-"`
}

// EdgeShort maps an absorption edge to the core-level tag used in spectrum
// file names: "1s" for K, "2p" otherwise.
func EdgeShort(edge string) string {
	if edge == "K" {
		return "1s"
	}
	return "2p"
}

// Clone returns a deep copy. The structure is shared since it is immutable.
func (in *InputConfig) Clone() *InputConfig {
	out := *in
	out.Params = cloneMap(in.Params)
	return &out
}

// Get returns a parameter value.
func (in *InputConfig) Get(key string) (any, bool) {
	v, ok := in.Params[key]
	return v, ok
}

// SetResult reports what Set did.
type SetResult int

const (
	SetUnchanged SetResult = iota
	SetChanged
	SetAdded
)

// Set updates or adds a parameter and reports which of the two happened.
func (in *InputConfig) Set(key string, value any) (old any, res SetResult) {
	if in.Params == nil {
		in.Params = make(map[string]any)
	}
	prev, ok := in.Params[key]
	if !ok {
		in.Params[key] = value
		return nil, SetAdded
	}
	if reflect.DeepEqual(prev, value) {
		return prev, SetUnchanged
	}
	in.Params[key] = value
	return prev, SetChanged
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	default:
		return v
	}
}

// WriteTo serializes the parameters in the OCEAN input syntax,
// one "key { value }" block per parameter, keys sorted.
func (in *InputConfig) WriteTo(w io.Writer) (int64, error) {
	keys := make([]string, 0, len(in.Params))
	for k := range in.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	var n int64
	for _, k := range keys {
		c, err := fmt.Fprintf(bw, "%s { %s }\n", k, formatValue(in.Params[k]))
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// WriteFile writes the OCEAN input file to path.
func (in *InputConfig) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := in.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// formatValue renders a parameter value. Flat lists are space separated,
// nested lists become one row per line.
func formatValue(v any) string {
	switch t := v.(type) {
	case []any:
		nested := false
		parts := make([]string, len(t))
		for i, e := range t {
			if _, ok := e.([]any); ok {
				nested = true
			}
			parts[i] = formatValue(e)
		}
		if nested {
			return "\n" + strings.Join(parts, "\n") + "\n"
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(t, " ")
	case bool:
		if t {
			return ".true."
		}
		return ".false."
	default:
		return fmt.Sprint(v)
	}
}
