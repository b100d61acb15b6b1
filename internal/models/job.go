package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// JobFile is the YAML description of a batch of calculations.
//
//	structures:
//	  - name: Fe2O3
//	    symbols: [Fe, Fe, O, O, O]
//	  - source: structures/NiO.yaml
//	inputs:
//	  - name: fe2o3-k
//	    structure: Fe2O3
//	    element: Fe
//	    edge: K
//	    params:
//	      ecut: 50
//	sweeps:
//	  - base: fe2o3-k
//	    key: ecut
//	    values: [40, 60, 80]
type JobFile struct {
	Structures []Structure   `yaml:"structures" validate:"required,min=1,dive"`
	Inputs     []InputConfig `yaml:"inputs" validate:"dive"`
	Sweeps     []Sweep       `yaml:"sweeps" validate:"dive"`
}

// Sweep is a convergence study over one parameter of a base input.
type Sweep struct {
	Base   string `yaml:"base" validate:"required"`
	Key    string `yaml:"key" validate:"required"`
	Values []any  `yaml:"values" validate:"required,min=1"`
}

var (
	ErrUnknownStructure = errors.New("input references an unknown structure")
	ErrElementAbsent    = errors.New("element does not occur in structure")
	ErrUnknownBase      = errors.New("sweep references an unknown input")
)

var validate = validator.New()

// LoadJobFile reads, validates and resolves a job file.
func LoadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return parseJobFile(data, filepath.Dir(path))
}

// ParseJobFile parses YAML job file content and links every input to its
// structure. Relative structure sources resolve against the working directory.
func ParseJobFile(data []byte) (*JobFile, error) {
	return parseJobFile(data, "")
}

func parseJobFile(data []byte, baseDir string) (*JobFile, error) {
	var jf JobFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}

	// structures given only as a source file
	for i := range jf.Structures {
		st := &jf.Structures[i]
		if st.Source == "" || len(st.Symbols) > 0 {
			continue
		}
		src := st.Source
		if !filepath.IsAbs(src) && baseDir != "" {
			src = filepath.Join(baseDir, src)
		}
		loaded, err := LoadStructure(src)
		if err != nil {
			return nil, err
		}
		if st.Name == "" {
			st.Name = loaded.Name
		}
		st.Symbols = loaded.Symbols
	}

	if err := validate.Struct(&jf); err != nil {
		return nil, fmt.Errorf("invalid job file: %w", err)
	}

	byName := make(map[string]*Structure, len(jf.Structures))
	for i := range jf.Structures {
		byName[jf.Structures[i].Name] = &jf.Structures[i]
	}

	inputs := make(map[string]bool, len(jf.Inputs))
	for i := range jf.Inputs {
		in := &jf.Inputs[i]
		name := in.StructureName
		if name == "" && len(jf.Structures) == 1 {
			name = jf.Structures[0].Name
			in.StructureName = name
		}
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w %q", in.Name, ErrUnknownStructure, name)
		}
		if !s.Contains(in.Element) {
			return nil, fmt.Errorf("%s: %w: %s not in %s", in.Name, ErrElementAbsent, in.Element, s.Name)
		}
		in.Structure = s
		inputs[in.Name] = true
	}

	for _, sw := range jf.Sweeps {
		if !inputs[sw.Base] {
			return nil, fmt.Errorf("%w %q", ErrUnknownBase, sw.Base)
		}
	}

	return &jf, nil
}

// Input returns the named input.
func (jf *JobFile) Input(name string) (*InputConfig, bool) {
	for i := range jf.Inputs {
		if jf.Inputs[i].Name == name {
			return &jf.Inputs[i], true
		}
	}
	return nil, false
}
