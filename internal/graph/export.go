package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Snapshot is the serializable form of the graph.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Snapshot copies the graph under a read lock.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Snapshot{
		Nodes: make([]Node, 0, len(g.order)),
		Edges: append([]Edge(nil), g.edges...),
	}
	for _, name := range g.order {
		s.Nodes = append(s.Nodes, *g.nodes[name])
	}
	return s
}

// WriteJSON writes the snapshot as indented JSON.
func (g *Graph) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Snapshot())
}

// WriteDOT writes a Graphviz digraph, nodes grouped by layer and colored by state.
func (g *Graph) WriteDOT(w io.Writer) error {
	s := g.Snapshot()
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "digraph workflow {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, "  node [shape=box, style=filled];")
	for _, n := range s.Nodes {
		color := "lightgrey"
		if n.State == Active {
			color = "palegreen"
		}
		fmt.Fprintf(bw, "  %s [layer=%s, fillcolor=%s];\n",
			strconv.Quote(n.Name), strconv.Quote(n.Layer), color)
	}
	for _, e := range s.Edges {
		fmt.Fprintf(bw, "  %s -> %s;\n", strconv.Quote(e.From), strconv.Quote(e.To))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
