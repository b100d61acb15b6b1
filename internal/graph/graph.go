// Package graph holds the workflow graph: structures, instances, pipeline
// stages and per-site results, linked in pipeline order.
//
// The graph is a shared store injected into every instance. Updates are
// idempotent upserts keyed by node name, guarded by a RWMutex.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shore-hpc/shore/internal/events"
)

// State is a node state.
type State string

const (
	Active   State = "active"
	Inactive State = "inactive"
)

// Layers used by instances. Stage nodes use the stage name as their layer.
const (
	LayerStructure = "structure"
	LayerInput     = "input"
	LayerResults   = "results"
	LayerSite      = "xas results"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrSelfLoop    = errors.New("edge would create a self-loop")
	ErrCycle       = errors.New("edge would create a cycle")
)

// Node is a graph vertex.
type Node struct {
	Name  string `json:"name"`
	Layer string `json:"layer"`
	State State  `json:"state"`
}

// Edge points from producer to consumer.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
	out   map[string][]string
	edges []Edge
	bus   *events.EventBus
}

// New returns an empty graph. bus may be nil.
func New(bus *events.EventBus) *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		out:   make(map[string][]string),
		bus:   bus,
	}
}

// StageNode names the node of one stage of an instance.
func StageNode(instance, stage string) string { return instance + "-" + stage }

// ResultsNode names the results node of an instance.
func ResultsNode(instance string) string { return instance + "-results" }

// SiteNode names the per-site result node of an instance.
func SiteNode(instance, edge, element string, site int) string {
	return fmt.Sprintf("%s-%s-%s-%d", instance, edge, element, site)
}

// AddNode upserts a node. An existing node keeps its layer when layer is
// empty; its state follows the SetState rules.
func (g *Graph) AddNode(name, layer string, state State) {
	g.mu.Lock()
	changed := g.upsertLocked(name, layer, state)
	n := *g.nodes[name]
	g.mu.Unlock()

	if changed {
		g.bus.PublishNodeState(n.Name, n.Layer, string(n.State))
	}
}

func (g *Graph) upsertLocked(name, layer string, state State) bool {
	n, ok := g.nodes[name]
	if !ok {
		if state == "" {
			state = Inactive
		}
		g.nodes[name] = &Node{Name: name, Layer: layer, State: state}
		g.order = append(g.order, name)
		return true
	}
	if layer != "" && n.Layer == "" {
		n.Layer = layer
	}
	if state == "" {
		return false
	}
	return applyState(n, state)
}

// applyState enforces the monotonic rule: only site result nodes may go
// from active back to inactive.
func applyState(n *Node, state State) bool {
	if n.State == state {
		return false
	}
	if n.State == Active && state == Inactive && n.Layer != LayerSite {
		return false
	}
	n.State = state
	return true
}

// AddInstance links from -> to, creating to (inactive, on layer) if needed
// and from (inactive, no layer) if it does not exist yet. Re-adding an
// existing edge is a no-op.
func (g *Graph) AddInstance(from, to, layer string) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfLoop, from)
	}

	g.mu.Lock()
	for _, succ := range g.out[from] {
		if succ == to {
			g.upsertLocked(to, layer, "")
			g.mu.Unlock()
			return nil
		}
	}
	if g.reachableLocked(to, from) {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrCycle, from, to)
	}

	var created []Node
	if _, ok := g.nodes[from]; !ok {
		g.upsertLocked(from, "", Inactive)
		created = append(created, *g.nodes[from])
	}
	if _, ok := g.nodes[to]; !ok {
		g.upsertLocked(to, layer, Inactive)
		created = append(created, *g.nodes[to])
	} else {
		g.upsertLocked(to, layer, "")
	}
	g.out[from] = append(g.out[from], to)
	g.edges = append(g.edges, Edge{From: from, To: to})
	g.mu.Unlock()

	for _, n := range created {
		g.bus.PublishNodeState(n.Name, n.Layer, string(n.State))
	}
	return nil
}

func (g *Graph) reachableLocked(start, target string) bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		for _, m := range g.out[n] {
			if !seen[m] {
				seen[m] = true
				stack = append(stack, m)
			}
		}
	}
	return false
}

// SetState updates a node state. Setting the current state is a no-op and
// active -> inactive is ignored except on the site layer. It reports
// whether the state changed.
func (g *Graph) SetState(name string, state State) (bool, error) {
	g.mu.Lock()
	n, ok := g.nodes[name]
	if !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	changed := applyState(n, state)
	snapshot := *n
	g.mu.Unlock()

	if changed {
		g.bus.PublishNodeState(snapshot.Name, snapshot.Layer, string(snapshot.State))
	}
	return changed, nil
}

// Node returns a copy of the named node.
func (g *Graph) Node(name string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, *g.nodes[name])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.edges...)
}

// Successors returns the direct successors of name.
func (g *Graph) Successors(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.out[name]...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}
