package graph

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shore-hpc/shore/internal/events"
)

func buildChain(t *testing.T, g *Graph, inst string) {
	t.Helper()
	g.AddNode("Fe2O3", LayerStructure, Active)
	require.NoError(t, g.AddInstance("Fe2O3", inst, LayerInput))
	prev := inst
	for _, s := range []string{"parsing", "opf", "dft", "prep", "screen", "cnbse"} {
		require.NoError(t, g.AddInstance(prev, StageNode(inst, s), s))
		prev = StageNode(inst, s)
	}
	require.NoError(t, g.AddInstance(prev, ResultsNode(inst), LayerResults))
	for _, site := range []int{1, 2} {
		require.NoError(t, g.AddInstance(ResultsNode(inst), SiteNode(inst, "K", "Fe", site), LayerSite))
	}
}

func TestNodeNames(t *testing.T) {
	assert.Equal(t, "fe-dft", StageNode("fe", "dft"))
	assert.Equal(t, "fe-results", ResultsNode("fe"))
	assert.Equal(t, "fe-K-Fe-3", SiteNode("fe", "K", "Fe", 3))
}

func TestAddInstanceBuildsChain(t *testing.T) {
	g := New(nil)
	buildChain(t, g, "fe")

	assert.Equal(t, 11, g.Len())
	assert.Len(t, g.Edges(), 10)
	assert.Equal(t, []string{"fe-opf"}, g.Successors("fe-parsing"))
	assert.ElementsMatch(t, []string{"fe-K-Fe-1", "fe-K-Fe-2"}, g.Successors("fe-results"))

	n, ok := g.Node("fe-dft")
	require.True(t, ok)
	assert.Equal(t, "dft", n.Layer)
	assert.Equal(t, Inactive, n.State)

	s, _ := g.Node("Fe2O3")
	assert.Equal(t, Active, s.State)
}

func TestAddInstanceIdempotent(t *testing.T) {
	g := New(nil)
	buildChain(t, g, "fe")
	buildChain(t, g, "fe")
	assert.Equal(t, 11, g.Len())
	assert.Len(t, g.Edges(), 10)
}

func TestAddInstanceRejectsCycles(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.AddInstance("a", "b", "x"))
	require.NoError(t, g.AddInstance("b", "c", "x"))

	assert.ErrorIs(t, g.AddInstance("c", "a", "x"), ErrCycle)
	assert.ErrorIs(t, g.AddInstance("a", "a", "x"), ErrSelfLoop)
	assert.Len(t, g.Edges(), 2)
}

func TestSetStateMonotonic(t *testing.T) {
	g := New(nil)
	buildChain(t, g, "fe")

	changed, err := g.SetState("fe-dft", Active)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = g.SetState("fe-dft", Active)
	require.NoError(t, err)
	assert.False(t, changed, "same state twice is a no-op")

	changed, err = g.SetState("fe-dft", Inactive)
	require.NoError(t, err)
	assert.False(t, changed, "stage nodes never go back to inactive")
	n, _ := g.Node("fe-dft")
	assert.Equal(t, Active, n.State)

	site := SiteNode("fe", "K", "Fe", 1)
	_, err = g.SetState(site, Active)
	require.NoError(t, err)
	changed, err = g.SetState(site, Inactive)
	require.NoError(t, err)
	assert.True(t, changed, "site nodes may flip back")

	_, err = g.SetState("nope", Active)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestAddNodeUpsertKeepsActive(t *testing.T) {
	g := New(nil)
	g.AddNode("fe", LayerInput, Active)
	g.AddNode("fe", LayerInput, Inactive)
	n, _ := g.Node("fe")
	assert.Equal(t, Active, n.State)
}

func TestConcurrentUpdates(t *testing.T) {
	g := New(nil)
	buildChain(t, g, "a")
	buildChain(t, g, "b")

	var wg sync.WaitGroup
	for _, inst := range []string{"a", "b"} {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(inst string) {
				defer wg.Done()
				for _, s := range []string{"parsing", "opf", "dft"} {
					_, _ = g.SetState(StageNode(inst, s), Active)
				}
				_ = g.Nodes()
			}(inst)
		}
	}
	wg.Wait()

	for _, inst := range []string{"a", "b"} {
		n, _ := g.Node(StageNode(inst, "opf"))
		assert.Equal(t, Active, n.State)
	}
}

func TestNodeStateEvents(t *testing.T) {
	bus := events.NewEventBus(64)
	defer bus.Close()
	ch := bus.Subscribe(events.EventNodeState)

	g := New(bus)
	g.AddNode("s", LayerStructure, Active)
	require.NoError(t, g.AddInstance("s", "fe", LayerInput))
	_, err := g.SetState("fe", Active)
	require.NoError(t, err)

	var got []string
	timeout := time.After(200 * time.Millisecond)
	for len(got) < 3 {
		select {
		case ev := <-ch:
			ns := ev.(*events.NodeStateEvent)
			got = append(got, ns.Node+"="+ns.State)
		case <-timeout:
			t.Fatalf("only received %v", got)
		}
	}
	assert.Equal(t, []string{"s=active", "fe=inactive", "fe=active"}, got)
}

func TestExport(t *testing.T) {
	g := New(nil)
	buildChain(t, g, "fe")
	_, _ = g.SetState("fe", Active)

	var buf bytes.Buffer
	require.NoError(t, g.WriteJSON(&buf))
	var snap Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	assert.Len(t, snap.Nodes, 11)
	assert.Equal(t, Edge{From: "Fe2O3", To: "fe"}, snap.Edges[0])

	buf.Reset()
	require.NoError(t, g.WriteDOT(&buf))
	dot := buf.String()
	assert.True(t, strings.HasPrefix(dot, "digraph workflow {"))
	assert.Contains(t, dot, `"fe" [layer="input", fillcolor=palegreen];`)
	assert.Contains(t, dot, `"fe-cnbse" -> "fe-results";`)
}
