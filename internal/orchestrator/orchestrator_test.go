package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shore-hpc/shore/internal/instance"
	"github.com/shore-hpc/shore/internal/jobscript"
	"github.com/shore-hpc/shore/internal/models"
	"github.com/shore-hpc/shore/internal/remote"
	"github.com/shore-hpc/shore/internal/state"
)

func baseInput() *models.InputConfig {
	return &models.InputConfig{
		Name:      "fe-k",
		Element:   "Fe",
		Edge:      "K",
		Params:    map[string]any{"K": 0, "nkpt": []any{2, 2, 2}},
		Structure: &models.Structure{Name: "FeO", Symbols: []string{"Fe", "O"}},
	}
}

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return New(instance.Options{
		Root:   t.TempDir(),
		Script: jobscript.Script{Engine: "true"},
	})
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)

	inst, err := o.Add(ctx, baseInput(), true)
	require.NoError(t, err)
	assert.Equal(t, "fe-k", inst.Name)

	_, err = o.Add(ctx, baseInput(), true)
	assert.ErrorIs(t, err, ErrDuplicateInstance)

	got, err := o.Get("fe-k")
	require.NoError(t, err)
	assert.Same(t, inst, got)

	_, err = o.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownInstance)
	assert.Equal(t, []string{"fe-k"}, o.Names())
}

func TestMaterializeClonesIndependently(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	base := baseInput()

	created, err := o.Materialize(ctx, base, "K", []any{1, 2, 3}, true)
	require.NoError(t, err)
	require.Len(t, created, 3)

	names := map[string]bool{}
	for i, inst := range created {
		names[inst.Name] = true
		v, ok := inst.Input.Get("K")
		require.True(t, ok)
		assert.Equal(t, i+1, v)
	}
	assert.Len(t, names, 3)
	assert.Equal(t, []string{"fe-k_1", "fe-k_2", "fe-k_3"}, o.ConvergenceSet("fe-k"))

	v, _ := base.Get("K")
	assert.Equal(t, 0, v)

	// mutate one clone's nested list
	nk, _ := created[0].Input.Get("nkpt")
	nk.([]any)[0] = 8
	other, _ := created[1].Input.Get("nkpt")
	assert.Equal(t, 2, other.([]any)[0])
	orig, _ := base.Get("nkpt")
	assert.Equal(t, 2, orig.([]any)[0])
}

func TestMaterializeRejectsEmptyAndDuplicates(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)

	_, err := o.Materialize(ctx, baseInput(), "K", nil, true)
	assert.ErrorIs(t, err, ErrEmptySweep)

	_, err = o.Materialize(ctx, baseInput(), "K", []any{1, 1}, true)
	assert.ErrorIs(t, err, ErrDuplicateInstance)
	assert.Empty(t, o.Names())
}

func TestSweepName(t *testing.T) {
	assert.Equal(t, "fe-k_40", SweepName("fe-k", 40))
	assert.Equal(t, "fe-k_0.5", SweepName("fe-k", 0.5))
	assert.Equal(t, "fe-k_4x4x4", SweepName("fe-k", []any{4, 4, 4}))
	assert.Equal(t, "fe-k_a-b", SweepName("fe-k", "a/b"))
}

func TestConvergeRunsEveryClone(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)

	reports, err := o.Converge(ctx, baseInput(), "K", []any{1, 2}, instance.RunOptions{})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.NoError(t, r.Err)
		assert.Equal(t, state.Running, r.Launch)
	}
	for _, inst := range o.Instances() {
		inst.Transport().(*remote.Local).Wait()
		logPath := filepath.Join(inst.LocalDir, "log")
		require.Eventually(t, func() bool {
			_, err := os.Stat(logPath)
			return err == nil
		}, 5*time.Second, 10*time.Millisecond)
	}
}

func TestRunSetUnknown(t *testing.T) {
	o := newOrchestrator(t)
	_, err := o.RunSet(context.Background(), []string{"missing"}, instance.RunOptions{})
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestSyncAllIsPartial(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	_, err := o.Materialize(ctx, baseInput(), "K", []any{1, 2, 3}, true)
	require.NoError(t, err)

	reports := o.SyncAll(ctx, 2)
	require.Len(t, reports, 3)
	for i, r := range reports {
		assert.Equal(t, o.Names()[i], r.Instance)
		assert.Equal(t, 4, r.Failed())
	}
}

func TestAddJobFile(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)

	jf, err := models.ParseJobFile([]byte(`
structures:
  - name: FeO
    symbols: [Fe, O, Fe, O]
inputs:
  - name: fe-k
    element: Fe
    edge: K
    params:
      ecut: 50
sweeps:
  - base: fe-k
    key: ecut
    values: [60, 70]
`))
	require.NoError(t, err)
	require.NoError(t, o.AddJobFile(ctx, jf, true))
	assert.Equal(t, []string{"fe-k", "fe-k_60", "fe-k_70"}, o.Names())

	inst, err := o.Get("fe-k_70")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, inst.SiteIDs())
	assert.FileExists(t, filepath.Join(inst.LocalDir, "ocean.in"))
}
