// Package orchestrator keeps the registry of job instances of a workspace
// and runs convergence sweeps and bulk synchronization over them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shore-hpc/shore/internal/graph"
	"github.com/shore-hpc/shore/internal/instance"
	"github.com/shore-hpc/shore/internal/logging"
	"github.com/shore-hpc/shore/internal/models"
)

var (
	ErrDuplicateInstance = errors.New("instance already registered")
	ErrUnknownInstance   = errors.New("unknown instance")
	ErrEmptySweep        = errors.New("sweep has no values")
)

// Orchestrator owns the instances of one workspace. All instances share
// the template's graph, store, transport and ledger.
type Orchestrator struct {
	opts   instance.Options
	logger *logging.Logger

	mu        sync.Mutex
	instances map[string]*instance.Instance
	order     []string
	sweeps    map[string][]string // base input name -> derived instance names
}

// New creates an orchestrator. opts is the template every instance is
// created with; a graph is created when it has none.
func New(opts instance.Options) *Orchestrator {
	if opts.Graph == nil {
		opts.Graph = graph.New(opts.Bus)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Orchestrator{
		opts:      opts,
		logger:    opts.Logger,
		instances: make(map[string]*instance.Instance),
		sweeps:    make(map[string][]string),
	}
}

// Graph returns the shared workflow graph.
func (o *Orchestrator) Graph() *graph.Graph { return o.opts.Graph }

// Add creates and registers an instance for input. fresh skips loading
// saved state.
func (o *Orchestrator) Add(ctx context.Context, input *models.InputConfig, fresh bool) (*instance.Instance, error) {
	o.mu.Lock()
	if _, ok := o.instances[input.Name]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, input.Name)
	}
	o.mu.Unlock()

	opts := o.opts
	opts.Fresh = fresh
	inst, err := instance.New(ctx, input, opts)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.instances[input.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, input.Name)
	}
	o.instances[input.Name] = inst
	o.order = append(o.order, input.Name)
	return inst, nil
}

// Get returns a registered instance.
func (o *Orchestrator) Get(name string) (*instance.Instance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, name)
	}
	return inst, nil
}

// Names returns instance names in registration order.
func (o *Orchestrator) Names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

// Instances returns the instances in registration order.
func (o *Orchestrator) Instances() []*instance.Instance {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*instance.Instance, 0, len(o.order))
	for _, n := range o.order {
		out = append(out, o.instances[n])
	}
	return out
}

// AddJobFile registers every input of jf and materializes its sweeps.
func (o *Orchestrator) AddJobFile(ctx context.Context, jf *models.JobFile, fresh bool) error {
	for i := range jf.Inputs {
		if _, err := o.Add(ctx, &jf.Inputs[i], fresh); err != nil {
			return err
		}
	}
	for _, sw := range jf.Sweeps {
		base, ok := jf.Input(sw.Base)
		if !ok {
			return fmt.Errorf("%w: sweep base %s", ErrUnknownInstance, sw.Base)
		}
		if _, err := o.Materialize(ctx, base, sw.Key, sw.Values, fresh); err != nil {
			return err
		}
	}
	return nil
}

// SweepName derives the name of a convergence clone: base_value.
func SweepName(base string, value any) string {
	v := fmt.Sprint(value)
	v = strings.Trim(v, "[]")
	v = strings.Join(strings.Fields(v), "x")
	v = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '-'
		}
		return r
	}, v)
	return base + "_" + v
}

// Materialize clones base once per value, overrides key in each clone and
// registers the clones as independent instances. Nothing is launched.
func (o *Orchestrator) Materialize(ctx context.Context, base *models.InputConfig, key string, values []any, fresh bool) ([]*instance.Instance, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", base.Name, ErrEmptySweep)
	}

	clones := make([]*models.InputConfig, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		c := base.Clone()
		c.Name = SweepName(base.Name, v)
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, c.Name)
		}
		seen[c.Name] = true
		c.Set(key, v)
		clones = append(clones, c)
	}

	created := make([]*instance.Instance, 0, len(clones))
	for _, c := range clones {
		inst, err := o.Add(ctx, c, fresh)
		if err != nil {
			return created, err
		}
		created = append(created, inst)
		o.mu.Lock()
		o.sweeps[base.Name] = append(o.sweeps[base.Name], c.Name)
		o.mu.Unlock()
	}
	o.logger.Info().Str("base", base.Name).Str("key", key).Int("clones", len(created)).Msg("convergence set materialized")
	return created, nil
}

// ConvergenceSet returns the names derived from base, in creation order.
func (o *Orchestrator) ConvergenceSet(base string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sweeps[base]...)
}

// Bases returns the base names that have a convergence set, sorted.
func (o *Orchestrator) Bases() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.sweeps))
	for b := range o.sweeps {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// RunSet runs the named instances one after the other. Soft failures stay
// in the reports; a hard failure stops the set and is returned.
func (o *Orchestrator) RunSet(ctx context.Context, names []string, opts instance.RunOptions) ([]instance.RunReport, error) {
	insts := make([]*instance.Instance, 0, len(names))
	for _, n := range names {
		inst, err := o.Get(n)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}

	reports := make([]instance.RunReport, 0, len(insts))
	for _, inst := range insts {
		rep, err := inst.Run(ctx, opts)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// Converge materializes a sweep and runs it.
func (o *Orchestrator) Converge(ctx context.Context, base *models.InputConfig, key string, values []any, opts instance.RunOptions) ([]instance.RunReport, error) {
	created, err := o.Materialize(ctx, base, key, values, true)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(created))
	for i, inst := range created {
		names[i] = inst.Name
	}
	return o.RunSet(ctx, names, opts)
}

// SyncAll synchronizes every instance with at most workers running at once.
// Reports are returned in registration order.
func (o *Orchestrator) SyncAll(ctx context.Context, workers int) []*instance.SyncReport {
	insts := o.Instances()
	if workers < 1 {
		workers = 1
	}

	reports := make([]*instance.SyncReport, len(insts))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for idx, inst := range insts {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, inst *instance.Instance) {
			defer wg.Done()
			defer func() { <-sem }()
			rep, _ := inst.Sync(ctx)
			reports[idx] = rep
		}(idx, inst)
	}
	wg.Wait()

	failed := 0
	for _, r := range reports {
		failed += r.Failed()
	}
	o.logger.Info().Int("instances", len(reports)).Int("failed_groups", failed).Msg("sync finished")
	return reports
}
