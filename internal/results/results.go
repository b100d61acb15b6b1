// Package results reads the spectra an OCEAN run leaves in an instance's
// results directory and reflects their presence in the workflow graph.
package results

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/graph"
	"github.com/shore-hpc/shore/internal/logging"
	"github.com/shore-hpc/shore/internal/models"
	"github.com/shore-hpc/shore/internal/remote"
)

// DefaultPolarizations are the photon polarizations OCEAN writes by default.
var DefaultPolarizations = []int{1, 2, 3}

var (
	ErrNoSpectra      = errors.New("no spectrum files found")
	ErrLengthMismatch = errors.New("spectrum files have different lengths")
)

// Handler is bound to the local results directory of one instance.
type Handler struct {
	Dir      string
	Instance string
	Element  string
	Edge     string
	Sites    []int

	graph  *graph.Graph
	logger *logging.Logger
}

// NewHandler creates a handler. g and logger may be nil.
func NewHandler(dir, instance, element, edge string, sites []int, g *graph.Graph, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		Dir:      dir,
		Instance: instance,
		Element:  element,
		Edge:     edge,
		Sites:    sites,
		graph:    g,
		logger:   logger,
	}
}

// FileName returns the spectrum file name of a site and polarization,
// for example absspct_Fe.0003_1s_02.
func (h *Handler) FileName(site, pol int) string {
	return fmt.Sprintf("%s_%s.00%02d_%s_0%d", constants.SpectraPrefix, h.Element, site, models.EdgeShort(h.Edge), pol)
}

// Files lists the spectrum files present in the results directory.
func (h *Handler) Files() ([]string, error) {
	entries, err := os.ReadDir(h.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && remote.IsSpectrumFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Spectrum is an accumulated XAS series.
type Spectrum struct {
	Energy    []float64
	Intensity []float64

	Found   map[int][]int // site -> polarizations read
	Missing []string      // files that could not be read
}

// Shift moves the energy axis by delta eV.
func (s *Spectrum) Shift(delta float64) {
	for i := range s.Energy {
		s.Energy[i] += delta
	}
}

// WriteTo writes two whitespace-separated columns, energy and intensity.
func (s *Spectrum) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for i := range s.Energy {
		c, err := fmt.Fprintf(bw, "%.6f %.8e\n", s.Energy[i], s.Intensity[i])
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// Spectrum sums the intensity of every requested site and polarization.
// Empty sites means all sites of the instance, empty pols means 1..3.
// A site node becomes active when at least one of its files was read and
// inactive otherwise. Missing files are logged and skipped.
func (h *Handler) Spectrum(sites, pols []int) (*Spectrum, error) {
	if len(sites) == 0 {
		sites = h.Sites
	}
	if len(pols) == 0 {
		pols = DefaultPolarizations
	}

	spec := &Spectrum{Found: make(map[int][]int)}
	for _, site := range sites {
		for _, pol := range pols {
			name := h.FileName(site, pol)
			x, y, err := ReadColumns(filepath.Join(h.Dir, name))
			if err == nil && spec.Intensity != nil && len(y) != len(spec.Intensity) {
				err = fmt.Errorf("%w: %s has %d points, expected %d", ErrLengthMismatch, name, len(y), len(spec.Intensity))
			}
			if err != nil {
				h.logger.Warn().Err(err).Str("instance", h.Instance).Int("site", site).Int("pol", pol).Msg("probably no file")
				spec.Missing = append(spec.Missing, name)
				continue
			}
			if spec.Intensity == nil {
				spec.Intensity = make([]float64, len(y))
			}
			for i := range y {
				spec.Intensity[i] += y[i]
			}
			spec.Energy = x
			spec.Found[site] = append(spec.Found[site], pol)
		}
		h.markSite(site, len(spec.Found[site]) > 0)
	}

	if len(spec.Found) == 0 {
		return spec, fmt.Errorf("%w in %s", ErrNoSpectra, h.Dir)
	}
	return spec, nil
}

func (h *Handler) markSite(site int, found bool) {
	if h.graph == nil {
		return
	}
	state := graph.Inactive
	if found {
		state = graph.Active
	}
	node := graph.SiteNode(h.Instance, h.Edge, h.Element, site)
	if _, err := h.graph.SetState(node, state); err != nil {
		h.logger.Debug().Err(err).Str("node", node).Msg("site node not in graph")
	}
}

// ReadColumns reads the first two numeric columns of a whitespace separated
// text file. Blank lines and lines starting with # are skipped.
func ReadColumns(path string) (x, y []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, nil, fmt.Errorf("%s:%d: expected at least 2 columns", path, lineNo)
		}
		a, err := parseFloat(fields[0])
		if err != nil {
			return nil, nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		b, err := parseFloat(fields[1])
		if err != nil {
			return nil, nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		x = append(x, a)
		y = append(y, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// parseFloat also accepts Fortran exponents such as 1.0D-03.
func parseFloat(s string) (float64, error) {
	s = strings.Map(func(r rune) rune {
		if r == 'D' || r == 'd' {
			return 'E'
		}
		return r
	}, s)
	return strconv.ParseFloat(s, 64)
}
