package archgraph

import (
	"fmt"
	"sort"
)

// Level buckets a ratio into a coarse health band.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Report is the analyzer output for one graph snapshot.
type Report struct {
	Nodes              int      `json:"nodes"`
	Edges              int      `json:"edges"`
	ModularityScore    float64  `json:"modularity_score"` // 1 = fully decoupled, 0 = fully meshed.
	CouplingLevel      Level    `json:"coupling_level"`
	CohesionLevel      Level    `json:"cohesion_level"`
	ArticulationPoints []string `json:"articulation_points"`
	Bottlenecks        []string `json:"bottleneck_components"`
	SPOFRatio          float64  `json:"spof_ratio"`
	Recommendations    []string `json:"recommendations"`
}

// Config tunes the analyzer heuristics.
type Config struct {
	// BottleneckMultiplier flags a component whose degree exceeds this
	// multiple of the average node degree. Default: 1.5.
	BottleneckMultiplier float64
}

func (c Config) bottleneckMultiplier() float64 {
	if c.BottleneckMultiplier > 0 {
		return c.BottleneckMultiplier
	}
	return 1.5
}

// Analyzer computes structural health metrics from graph snapshots.
type Analyzer struct {
	config Config
}

// NewAnalyzer creates an analyzer with the given heuristics config.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{config: cfg}
}

// Analyze computes the structural report for a snapshot.
// Graphs with 0 or 1 nodes report zero metrics and no error; malformed
// input returns ErrMalformedGraph.
func (a *Analyzer) Analyze(g *Graph) (*Report, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph: %w", ErrMalformedGraph)
	}
	index, err := g.validate()
	if err != nil {
		return nil, err
	}

	n := len(g.Nodes)
	report := &Report{
		Nodes:              n,
		Edges:              len(g.Edges),
		ArticulationPoints: []string{},
		Bottlenecks:        []string{},
		Recommendations:    []string{},
	}
	if n <= 1 {
		return report, nil
	}

	adj := g.adjacency(index)

	density := a.density(g)
	report.ModularityScore = clamp01(1 - density)
	report.CouplingLevel = bucket(density)
	report.CohesionLevel = inverse(report.CouplingLevel)

	// Articulation points are trivially absent for n <= 2.
	if n > 2 {
		for _, idx := range articulationPoints(adj) {
			report.ArticulationPoints = append(report.ArticulationPoints, g.Nodes[idx].ID)
		}
		sort.Strings(report.ArticulationPoints)
	}
	report.SPOFRatio = float64(len(report.ArticulationPoints)) / float64(n)

	report.Bottlenecks = a.bottlenecks(g, adj)
	report.Recommendations = a.recommend(report)
	return report, nil
}

// density is the edge-to-possible-edge ratio: edges/(n*(n-1)) for directed
// graphs, with the denominator halved for undirected ones.
func (a *Analyzer) density(g *Graph) float64 {
	n := len(g.Nodes)
	if n < 2 {
		return 0
	}
	possible := float64(n * (n - 1))
	if !g.Directed {
		possible /= 2
	}
	return clamp01(float64(len(g.Edges)) / possible)
}

// bottlenecks flags components whose degree exceeds the configured multiple
// of the average node degree. The result is sorted and duplicate-free, so
// repeated analysis of the same snapshot yields identical output.
func (a *Analyzer) bottlenecks(g *Graph, adj [][]int) []string {
	n := len(adj)
	var totalDegree int
	for _, neighbors := range adj {
		totalDegree += len(neighbors)
	}
	if totalDegree == 0 {
		return []string{}
	}
	avg := float64(totalDegree) / float64(n)
	threshold := avg * a.config.bottleneckMultiplier()

	var out []string
	for i, neighbors := range adj {
		if float64(len(neighbors)) > threshold {
			out = append(out, g.Nodes[i].ID)
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

func (a *Analyzer) recommend(r *Report) []string {
	recs := []string{}
	for _, id := range r.ArticulationPoints {
		recs = append(recs, fmt.Sprintf("component %q is a single point of failure; add a redundant path around it", id))
	}
	for _, id := range r.Bottlenecks {
		recs = append(recs, fmt.Sprintf("component %q concentrates dependencies; consider splitting its responsibilities", id))
	}
	if r.CouplingLevel == LevelHigh {
		recs = append(recs, "overall coupling is high; introduce interfaces between densely connected components")
	}
	if r.SPOFRatio > 0.3 {
		recs = append(recs, fmt.Sprintf("%.0f%% of components are articulation points; the topology is fragile", r.SPOFRatio*100))
	}
	return recs
}

// articulationPoints finds cut vertices with a DFS low-link pass over the
// undirected adjacency list. Returns node indices in no particular order.
func articulationPoints(adj [][]int) []int {
	n := len(adj)
	disc := make([]int, n)  // Discovery time, 0 = unvisited.
	low := make([]int, n)   // Lowest discovery time reachable.
	parent := make([]int, n)
	isAP := make([]bool, n)
	for i := range parent {
		parent[i] = -1
	}
	timer := 0

	var dfs func(u int)
	dfs = func(u int) {
		timer++
		disc[u] = timer
		low[u] = timer
		children := 0

		for _, v := range adj[u] {
			if disc[v] == 0 {
				children++
				parent[v] = u
				dfs(v)
				if low[v] < low[u] {
					low[u] = low[v]
				}
				// A non-root node is a cut vertex when a child subtree
				// has no back edge above it.
				if parent[u] != -1 && low[v] >= disc[u] {
					isAP[u] = true
				}
			} else if v != parent[u] && disc[v] < low[u] {
				low[u] = disc[v]
			}
		}

		// The root is a cut vertex when it has two or more DFS children.
		if parent[u] == -1 && children > 1 {
			isAP[u] = true
		}
	}

	for i := 0; i < n; i++ {
		if disc[i] == 0 {
			dfs(i)
		}
	}

	var out []int
	for i, ap := range isAP {
		if ap {
			out = append(out, i)
		}
	}
	return out
}

func bucket(ratio float64) Level {
	switch {
	case ratio < 0.2:
		return LevelLow
	case ratio < 0.5:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func inverse(l Level) Level {
	switch l {
	case LevelLow:
		return LevelHigh
	case LevelHigh:
		return LevelLow
	default:
		return LevelMedium
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
