// Package instance implements one OCEAN calculation run: its working
// directories, launch state machine, stage tracking and synchronization.
//
// An Instance owns its local and remote directories exclusively. The
// workflow graph, the state store and the transport are injected and may
// be shared between instances.
package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/events"
	"github.com/shore-hpc/shore/internal/graph"
	"github.com/shore-hpc/shore/internal/jobscript"
	"github.com/shore-hpc/shore/internal/ledger"
	"github.com/shore-hpc/shore/internal/logging"
	"github.com/shore-hpc/shore/internal/models"
	"github.com/shore-hpc/shore/internal/progress"
	"github.com/shore-hpc/shore/internal/remote"
	"github.com/shore-hpc/shore/internal/stage"
	"github.com/shore-hpc/shore/internal/state"
)

var (
	// ErrWorkDirNotSet is returned when a local run has no working directory.
	ErrWorkDirNotSet = errors.New("working directory is not set")
	ErrNoStructure   = errors.New("input has no structure")
	ErrElementAbsent = errors.New("element does not occur in structure")
)

// Recorder receives one ledger entry per launch, monitor run and sync.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// MonitorOptions tunes background monitoring.
type MonitorOptions struct {
	PollInterval time.Duration
	StartupDelay time.Duration
	Reporter     progress.Reporter
}

// Options are the collaborators and settings of an instance.
type Options struct {
	Root string // workspace root; the instance lives in Root/structure/name

	// Transport reaches the compute host. Nil means the engine runs locally
	// in the local working directory.
	Transport remote.Transport
	Sbatch    bool
	Script    jobscript.Script // template; JobName is set per instance

	Graph    *graph.Graph
	Store    *state.Store
	Pipeline stage.Pipeline
	Recorder Recorder
	Bus      *events.EventBus
	Logger   *logging.Logger
	Monitor  MonitorOptions

	// Fresh skips loading a previously saved state.
	Fresh bool
	// DeferStaging leaves the compute host untouched at construction; the
	// input and launch script are staged by the first Run or Set.
	DeferStaging bool
}

// Instance is one calculation run.
type Instance struct {
	Name      string
	Input     *models.InputConfig
	Structure *models.Structure
	LocalDir  string
	RemoteDir string

	opts      Options
	transport remote.Transport
	local     bool
	script    jobscript.Script
	logger    *logging.Logger

	mu sync.Mutex
	st *state.InstanceState
}

// New materializes an instance: it writes the input file locally, stages
// input and launch script on the compute host (unless DeferStaging is set)
// and registers the instance in the graph. Transport failures are logged and leave partial state
// behind; only local filesystem failures are returned.
func New(ctx context.Context, input *models.InputConfig, opts Options) (*Instance, error) {
	if input.Structure == nil {
		return nil, fmt.Errorf("%s: %w", input.Name, ErrNoStructure)
	}
	if !input.Structure.Contains(input.Element) {
		return nil, fmt.Errorf("%s: %w: %s", input.Name, ErrElementAbsent, input.Element)
	}
	if opts.Root == "" {
		return nil, fmt.Errorf("%s: %w", input.Name, ErrWorkDirNotSet)
	}
	if opts.Pipeline == nil {
		opts.Pipeline = stage.DefaultPipeline()
	}
	if opts.Graph == nil {
		opts.Graph = graph.New(opts.Bus)
	}
	if opts.Store == nil {
		opts.Store = state.NewStore(filepath.Join(opts.Root, constants.JarDir))
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	inst := &Instance{
		Name:      input.Name,
		Input:     input,
		Structure: input.Structure,
		LocalDir:  filepath.Join(opts.Root, input.Structure.Name, input.Name),
		opts:      opts,
		transport: opts.Transport,
		script:    opts.Script,
		logger:    opts.Logger.ForInstance(input.Name),
	}
	inst.script.JobName = input.Name
	inst.st = &state.InstanceState{
		Name:      input.Name,
		Structure: input.Structure.Name,
		Element:   input.Element,
		Edge:      input.Edge,
		LocalDir:  inst.LocalDir,
		Launch:    state.NotSubmitted,
		Stages:    make(map[string]bool),
		SiteIDs:   input.Structure.SiteIDs(input.Element),
	}

	if inst.transport == nil {
		inst.local = true
		inst.transport = remote.NewLocal(opts.Root, opts.Logger)
		inst.RemoteDir = inst.LocalDir
	} else {
		inst.RemoteDir = path.Join(inst.transport.Root(), input.Structure.Name, input.Name)
		inst.st.RemoteDir = inst.RemoteDir
	}

	if !opts.Fresh {
		inst.resume()
	}

	if err := os.MkdirAll(inst.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	if err := inst.writeInput(); err != nil {
		return nil, err
	}
	if _, err := inst.script.WriteFile(inst.LocalDir); err != nil {
		return nil, err
	}
	if !inst.local && !opts.DeferStaging {
		inst.stage(ctx)
	}

	if err := inst.register(); err != nil {
		return nil, err
	}
	if err := inst.save(); err != nil {
		return nil, err
	}
	return inst, nil
}

// resume loads the saved state. Persisted parameters win over the ones the
// input was declared with, since they carry earlier Set calls.
func (i *Instance) resume() {
	saved, err := i.opts.Store.Load(i.Name)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			i.logger.Warn().Err(err).Msg("ignoring unreadable state file")
		}
		return
	}
	i.st.JobID = saved.JobID
	i.st.Launch = saved.Launch
	i.st.Progress = saved.Progress
	i.st.LastError = saved.LastError
	for k, v := range saved.Stages {
		i.st.Stages[k] = v
	}
	for k, v := range saved.Params {
		i.Input.Set(k, v)
	}
	i.logger.Debug().Str("launch_state", string(saved.Launch)).Msg("resumed saved state")
}

// stage uploads the input and launch script to the remote directory.
func (i *Instance) stage(ctx context.Context) {
	log := i.logger.With().Str("remote_dir", i.RemoteDir).Logger()
	if err := i.transport.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("cannot reach compute host; input not staged")
		return
	}
	if err := i.transport.EnsureDir(ctx, i.RemoteDir); err != nil {
		log.Warn().Err(err).Msg("failed to create remote directory")
		return
	}
	for _, name := range []string{constants.InputFileName, constants.JobScriptName} {
		if err := i.transport.UploadFile(ctx, filepath.Join(i.LocalDir, name), i.RemoteDir); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("upload failed")
		}
	}
}

// register wires structure -> instance -> stages -> results -> sites.
func (i *Instance) register() error {
	g := i.opts.Graph
	g.AddNode(i.Structure.Name, graph.LayerStructure, graph.Active)
	if err := g.AddInstance(i.Structure.Name, i.Name, graph.LayerInput); err != nil {
		return err
	}
	if _, err := g.SetState(i.Name, graph.Active); err != nil {
		return err
	}

	prev := i.Name
	for _, s := range i.opts.Pipeline {
		node := graph.StageNode(i.Name, s.Name)
		if err := g.AddInstance(prev, node, s.Name); err != nil {
			return err
		}
		prev = node
	}
	results := graph.ResultsNode(i.Name)
	if err := g.AddInstance(prev, results, graph.LayerResults); err != nil {
		return err
	}
	for _, site := range i.st.SiteIDs {
		if err := g.AddInstance(results, graph.SiteNode(i.Name, i.Input.Edge, i.Input.Element, site), graph.LayerSite); err != nil {
			return err
		}
	}

	// reflect stages completed in an earlier session
	for _, s := range i.opts.Pipeline {
		if i.st.Stages[s.Name] {
			g.SetState(graph.StageNode(i.Name, s.Name), graph.Active)
		}
	}
	return nil
}

func (i *Instance) writeInput() error {
	return i.Input.WriteFile(filepath.Join(i.LocalDir, constants.InputFileName))
}

// handleInput rewrites the input file and stages it, with the launch
// script, in the remote directory.
func (i *Instance) handleInput(ctx context.Context) error {
	if err := i.writeInput(); err != nil {
		return err
	}
	if !i.local {
		i.stage(ctx)
	}
	return nil
}

// save persists the state. Callers hold no lock.
func (i *Instance) save() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.st.Params = i.Input.Clone().Params
	if err := i.opts.Store.Save(i.st); err != nil {
		return fmt.Errorf("failed to save state of %s: %w", i.Name, err)
	}
	return nil
}

// Set changes or adds an input parameter. The input file and state are
// rewritten only when something changed.
func (i *Instance) Set(ctx context.Context, key string, value any) (models.SetResult, error) {
	old, res := i.Input.Set(key, value)
	switch res {
	case models.SetUnchanged:
		return res, nil
	case models.SetChanged:
		i.logger.Info().Str("key", key).Msgf("Changing %s from %v to %v", key, old, value)
	case models.SetAdded:
		i.logger.Info().Str("key", key).Msgf("Adding new attribute %s with value %v", key, value)
	}
	if err := i.handleInput(ctx); err != nil {
		return res, err
	}
	return res, i.save()
}

// State returns a copy of the persisted state.
func (i *Instance) State() state.InstanceState {
	i.mu.Lock()
	defer i.mu.Unlock()
	st := *i.st
	st.Stages = make(map[string]bool, len(i.st.Stages))
	for k, v := range i.st.Stages {
		st.Stages[k] = v
	}
	st.SiteIDs = append([]int(nil), i.st.SiteIDs...)
	return st
}

// SiteIDs returns the 1-based occurrence indices of the target element.
func (i *Instance) SiteIDs() []int {
	return append([]int(nil), i.st.SiteIDs...)
}

// JobID returns the scheduler job id, or "" when none was obtained.
func (i *Instance) JobID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.st.JobID
}

// Launch returns the launch state.
func (i *Instance) Launch() state.LaunchState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.st.Launch
}

// IsLocal reports whether the engine runs on this machine.
func (i *Instance) IsLocal() bool { return i.local }

// Transport returns the transport the instance uses.
func (i *Instance) Transport() remote.Transport { return i.transport }

func (i *Instance) setLaunch(next state.LaunchState) {
	i.mu.Lock()
	prev := i.st.Launch
	i.st.Launch = next
	jobID := i.st.JobID
	i.mu.Unlock()
	if prev != next {
		i.logger.Info().Str("from", string(prev)).Str("to", string(next)).Msg("launch state changed")
		i.opts.Bus.PublishStateChange(i.Name, string(prev), string(next), jobID)
	}
}

func (i *Instance) record(ctx context.Context, e ledger.Entry) {
	if i.opts.Recorder == nil {
		return
	}
	e.Instance = i.Name
	if e.JobID == "" {
		e.JobID = i.JobID()
	}
	e.Launch = string(i.Launch())
	if _, err := i.opts.Recorder.Record(ctx, e); err != nil {
		i.logger.Debug().Err(err).Msg("ledger write failed")
	}
}

func (i *Instance) localPath(parts ...string) string {
	return filepath.Join(append([]string{i.LocalDir}, parts...)...)
}

func (i *Instance) remotePath(parts ...string) string {
	if i.local {
		return filepath.Join(append([]string{i.RemoteDir}, parts...)...)
	}
	return path.Join(append([]string{i.RemoteDir}, parts...)...)
}
