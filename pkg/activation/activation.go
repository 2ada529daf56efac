// Package activation implements the graph activation core: a pure function
// over an anchor set and an edge list that propagates activation outward
// via iterative spreading and produces a final ranked score per node. It
// performs no I/O.
package activation

import (
	"sort"

	"github.com/google/uuid"
)

// Anchor is an initial node obtained from vector similarity search.
type Anchor struct {
	ID         uuid.UUID
	NodeType   string
	CosineScore float32
}

// Edge is a directed, weighted link loaded from the subgraph touching the
// anchor set.
type Edge struct {
	FromID uuid.UUID
	ToID   uuid.UUID
	ToType string
	Weight float32
}

// Config holds the tunable parameters of the spreading algorithm.
type Config struct {
	SpreadingStrength  float32
	Iterations         int
	WeightSimilarity   float32
	WeightActivation   float32
	WeightStructural   float32
}

// Node is a fully scored result: the combination of cosine similarity,
// spread activation, and structural centrality.
type Node struct {
	ID              uuid.UUID
	NodeType        string
	CosineScore     float32
	SpreadScore     float32
	StructuralScore float32
	FinalScore      float32
}

// Result is the outcome of a spreading activation run.
type Result struct {
	Nodes      []Node
	Iterations int
}

// Spread runs the activation propagation described by spec §4.C:
//
//  1. Initialize activation with each anchor's cosine score.
//  2. Build adjacency from edges.
//  3. Repeat Iterations times: compute a delta map by reading a snapshot of
//     the activation map as it stood at the start of the iteration — not a
//     live view — then merge the deltas into the running map by
//     accumulation. This is the deterministic snapshot-then-merge variant
//     (see the design notes on iteration semantics).
//  4. Structural score per node = in-degree / len(edges).
//  5. Final score = w_s*cosine + w_a*spread + w_r*structural.
//  6. Return all nodes mentioned by anchors or edges, sorted by final score
//     descending, ties broken by stable iteration order (sort.SliceStable).
//
// Empty anchors return an empty result with Iterations = 0. Empty edges
// return the anchors unchanged with spread = structural = 0.
func Spread(anchors []Anchor, edges []Edge, cfg Config) Result {
	if len(anchors) == 0 {
		return Result{Iterations: 0}
	}

	cosine := make(map[uuid.UUID]float32, len(anchors))
	nodeType := make(map[uuid.UUID]string, len(anchors))
	order := make([]uuid.UUID, 0, len(anchors))
	for _, a := range anchors {
		if _, seen := cosine[a.ID]; !seen {
			order = append(order, a.ID)
		}
		cosine[a.ID] = a.CosineScore
		nodeType[a.ID] = a.NodeType
	}

	if len(edges) == 0 {
		nodes := make([]Node, 0, len(order))
		for _, id := range order {
			c := cosine[id]
			nodes = append(nodes, Node{
				ID:          id,
				NodeType:    nodeType[id],
				CosineScore: c,
				FinalScore:  cfg.WeightSimilarity * c,
			})
		}
		sortNodes(nodes)
		return Result{Nodes: nodes, Iterations: 0}
	}

	activation := make(map[uuid.UUID]float32, len(anchors))
	for id, c := range cosine {
		activation[id] = c
	}

	adjacency := make(map[uuid.UUID][]Edge, len(edges))
	inDegree := make(map[uuid.UUID]int, len(edges))
	for _, e := range edges {
		adjacency[e.FromID] = append(adjacency[e.FromID], e)
		inDegree[e.ToID]++
		if _, ok := nodeType[e.ToID]; !ok {
			nodeType[e.ToID] = e.ToType
		}
		if !contains(order, e.FromID) {
			order = append(order, e.FromID)
		}
		if !contains(order, e.ToID) {
			order = append(order, e.ToID)
		}
	}

	for iter := 0; iter < cfg.Iterations; iter++ {
		snapshot := make(map[uuid.UUID]float32, len(activation))
		for id, v := range activation {
			snapshot[id] = v
		}

		delta := make(map[uuid.UUID]float32)
		for id, a := range snapshot {
			for _, e := range adjacency[id] {
				delta[e.ToID] += a * e.Weight * cfg.SpreadingStrength
			}
		}
		for id, d := range delta {
			activation[id] += d
		}
	}

	totalEdges := float32(len(edges))
	nodes := make([]Node, 0, len(order))
	for _, id := range order {
		structural := float32(inDegree[id]) / totalEdges
		spread := activation[id] - cosine[id]
		final := cfg.WeightSimilarity*cosine[id] + cfg.WeightActivation*spread + cfg.WeightStructural*structural
		nodes = append(nodes, Node{
			ID:              id,
			NodeType:        nodeType[id],
			CosineScore:     cosine[id],
			SpreadScore:     spread,
			StructuralScore: structural,
			FinalScore:      final,
		})
	}
	sortNodes(nodes)
	return Result{Nodes: nodes, Iterations: cfg.Iterations}
}

func contains(ids []uuid.UUID, target uuid.UUID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func sortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].FinalScore > nodes[j].FinalScore
	})
}
