// Package archgraph analyzes the static dependency structure of system
// components: articulation points (single points of failure), bottleneck
// components, and coupling/modularity ratios. Analysis is a pure function
// of a graph snapshot and never mutates the live system.
package archgraph

import (
	"errors"
	"fmt"
)

// ErrMalformedGraph indicates the snapshot references unknown nodes or
// contains duplicate node ids. The analyzer returns it instead of guessing.
var ErrMalformedGraph = errors.New("malformed architecture graph")

// Node is one component in the architecture snapshot.
type Node struct {
	ID   string  `json:"id" yaml:"id"`
	Type string  `json:"type,omitempty" yaml:"type,omitempty"` // e.g. "service", "store", "gateway".
	Size float64 `json:"size,omitempty" yaml:"size,omitempty"` // Size metric (lines, endpoints), informational.
}

// Edge is one dependency between components. Direction is source to target;
// articulation-point analysis treats edges as undirected connectivity.
type Edge struct {
	Source string  `json:"source" yaml:"source"`
	Target string  `json:"target" yaml:"target"`
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Graph is a read-only snapshot of component metadata.
type Graph struct {
	Directed bool   `json:"directed" yaml:"directed"`
	Nodes    []Node `json:"nodes" yaml:"nodes"`
	Edges    []Edge `json:"edges" yaml:"edges"`
}

// validate checks structural integrity and returns the node index.
func (g *Graph) validate() (map[string]int, error) {
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node %d has empty id: %w", i, ErrMalformedGraph)
		}
		if _, dup := index[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %q: %w", n.ID, ErrMalformedGraph)
		}
		index[n.ID] = i
	}
	for i, e := range g.Edges {
		if _, ok := index[e.Source]; !ok {
			return nil, fmt.Errorf("edge %d references unknown source %q: %w", i, e.Source, ErrMalformedGraph)
		}
		if _, ok := index[e.Target]; !ok {
			return nil, fmt.Errorf("edge %d references unknown target %q: %w", i, e.Target, ErrMalformedGraph)
		}
		if e.Source == e.Target {
			return nil, fmt.Errorf("edge %d is a self-loop on %q: %w", i, e.Source, ErrMalformedGraph)
		}
	}
	return index, nil
}

// adjacency builds an undirected adjacency list over node indices.
// Parallel edges collapse into a single neighbor entry.
func (g *Graph) adjacency(index map[string]int) [][]int {
	n := len(g.Nodes)
	seen := make([]map[int]bool, n)
	adj := make([][]int, n)
	for _, e := range g.Edges {
		s, t := index[e.Source], index[e.Target]
		if seen[s] == nil {
			seen[s] = make(map[int]bool)
		}
		if seen[t] == nil {
			seen[t] = make(map[int]bool)
		}
		if !seen[s][t] {
			seen[s][t] = true
			adj[s] = append(adj[s], t)
		}
		if !seen[t][s] {
			seen[t][s] = true
			adj[t] = append(adj[t], s)
		}
	}
	return adj
}
