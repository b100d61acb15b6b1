// Package models defines the data structures shore works with: atomic
// structures, OCEAN input configurations and job description files.
package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Structure is a canonicalized atomic structure. Symmetry reduction happens
// upstream; shore only needs the name and the ordered chemical symbols.
type Structure struct {
	Name    string   `yaml:"name" json:"name" validate:"required"`
	Symbols []string `yaml:"symbols" json:"symbols" validate:"required,min=1,dive,required"`
	Source  string   `yaml:"source,omitempty" json:"source,omitempty"`
}

// LoadStructure reads a YAML structure file:
//
//	name: Fe2O3
//	symbols: [Fe, Fe, O, O, O]
//
// A missing name defaults to the file name without its extension.
func LoadStructure(path string) (*Structure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read structure: %w", err)
	}
	var s Structure
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse structure %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	s.Source = path
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid structure %s: %w", path, err)
	}
	return &s, nil
}

// SiteIDs enumerates the 1-based occurrence index of element in declaration
// order. A structure with three Fe atoms yields [1 2 3] for "Fe".
func (s *Structure) SiteIDs(element string) []int {
	var ids []int
	n := 1
	for _, sym := range s.Symbols {
		if sym == element {
			ids = append(ids, n)
			n++
		}
	}
	return ids
}

// Contains reports whether element occurs in the structure.
func (s *Structure) Contains(element string) bool {
	for _, sym := range s.Symbols {
		if sym == element {
			return true
		}
	}
	return false
}

// Formula returns a compact composition string such as "Fe2O3".
func (s *Structure) Formula() string {
	counts := make(map[string]int)
	var order []string
	for _, sym := range s.Symbols {
		if counts[sym] == 0 {
			order = append(order, sym)
		}
		counts[sym]++
	}
	out := ""
	for _, sym := range order {
		if counts[sym] == 1 {
			out += sym
		} else {
			out += fmt.Sprintf("%s%d", sym, counts[sym])
		}
	}
	return out
}
