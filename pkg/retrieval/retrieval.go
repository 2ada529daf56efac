// Package retrieval implements the six-step semantic search pipeline: embed
// the query, fetch anchor vectors by cosine similarity, optionally spread
// activation across the associative graph, rank, truncate, and record the
// retrieval for the decay engine's long-term-potentiation effect.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/activation"
	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store"
)

// RetrievalRecorder is the subset of pkg/decay's Engine that the retrieval
// pipeline needs to fire the LTP side effect after a search.
type RetrievalRecorder interface {
	RecordRetrieval(ctx context.Context, sourceType ethos.SourceType, sourceID uuid.UUID) error
}

const (
	// MaxLimit is the largest number of results a caller may request.
	MaxLimit = 20
	// DefaultLimit is used when the caller does not specify one.
	DefaultLimit = 5
	// maxSubgraphEdges bounds how many graph edges are loaded for spreading.
	maxSubgraphEdges = 500
)

// Config mirrors the original service's RetrievalConfig: the tunables for
// anchor fan-out and the spreading activation score blend.
type Config struct {
	SpreadingStrength float32
	Iterations        int
	AnchorTopKEpisodes int
	AnchorTopKFacts    int
	WeightSimilarity   float32
	WeightActivation   float32
	WeightStructural   float32
	ConfidenceGate     float32
}

// Options narrows a single Search call.
type Options struct {
	Limit        int
	UseSpreading bool
}

// ResultItem is a single ranked memory item.
type ResultItem struct {
	ID              uuid.UUID
	SourceType      ethos.SourceType
	Content         string
	Score           float64
	CosineScore     float32
	SpreadScore     float32
	StructuralScore float32
	CreatedAt       time.Time
}

// Result is the full response of a Search call.
type Result struct {
	Query   string
	Results []ResultItem
}

// Engine ties the embedding backend, vector store, and graph store together
// to answer search queries.
type Engine struct {
	backend  embedding.Backend
	vectors  store.VectorStore
	graph    store.GraphStore
	recorder RetrievalRecorder
	cfg      Config
	log      *slog.Logger
}

// New constructs a retrieval Engine. recorder is typically a *decay.Engine.
func New(backend embedding.Backend, vectors store.VectorStore, graph store.GraphStore, recorder RetrievalRecorder, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{backend: backend, vectors: vectors, graph: graph, recorder: recorder, cfg: cfg, log: log}
}

// ErrEmbeddingUnavailable is returned when the embedding backend could not
// produce a vector for the query (Outcome.Available == false), matching
// spec.md's "degraded, not failed" contract.
var ErrEmbeddingUnavailable = ethos.ErrEmbeddingUnavailable

// Search runs the retrieval pipeline. An empty (after trimming) query
// returns [ethos.ErrEmptyQuery].
func (e *Engine) Search(ctx context.Context, query string, opts Options) (Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Result{}, ethos.ErrEmptyQuery
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	outcome, err := e.backend.EmbedQuery(ctx, trimmed)
	if err != nil {
		return Result{}, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if !outcome.Available {
		return Result{}, ErrEmbeddingUnavailable
	}

	anchorLimit := limit
	if opts.UseSpreading {
		anchorLimit = e.cfg.AnchorTopKEpisodes + e.cfg.AnchorTopKFacts
		if anchorLimit <= 0 {
			anchorLimit = limit
		}
	}

	matches, err := e.vectors.TopK(ctx, outcome.Vector, anchorLimit, store.VectorFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("retrieval: top k: %w", err)
	}

	anchors := make([]activation.Anchor, 0, len(matches))
	byID := make(map[uuid.UUID]store.VectorMatch, len(matches))
	for _, m := range matches {
		score := float32(1 - m.Distance)
		anchors = append(anchors, activation.Anchor{
			ID:          m.Vector.SourceID,
			NodeType:    string(m.Vector.SourceType),
			CosineScore: score,
		})
		byID[m.Vector.SourceID] = m
	}

	var nodes []activation.Node
	if opts.UseSpreading && len(anchors) > 0 {
		anchorIDs := make([]uuid.UUID, len(anchors))
		for i, a := range anchors {
			anchorIDs[i] = a.ID
		}
		graphEdges, err := e.graph.SubgraphFor(ctx, anchorIDs, maxSubgraphEdges)
		if err != nil {
			return Result{}, fmt.Errorf("retrieval: subgraph for: %w", err)
		}
		edges := make([]activation.Edge, len(graphEdges))
		for i, g := range graphEdges {
			edges[i] = activation.Edge{
				FromID: g.FromID, ToID: g.ToID, ToType: string(g.ToType), Weight: float32(g.Weight),
			}
		}
		result := activation.Spread(anchors, edges, activation.Config{
			SpreadingStrength: e.cfg.SpreadingStrength,
			Iterations:        e.cfg.Iterations,
			WeightSimilarity:  e.cfg.WeightSimilarity,
			WeightActivation:  e.cfg.WeightActivation,
			WeightStructural:  e.cfg.WeightStructural,
		})
		nodes = result.Nodes
	} else {
		for _, a := range anchors {
			nodes = append(nodes, activation.Node{
				ID: a.ID, NodeType: a.NodeType, CosineScore: a.CosineScore,
				FinalScore: e.cfg.WeightSimilarity * a.CosineScore,
			})
		}
	}

	if len(nodes) > limit {
		nodes = nodes[:limit]
	}

	items := make([]ResultItem, 0, len(nodes))
	for _, n := range nodes {
		m, ok := byID[n.ID]
		if !ok {
			continue
		}
		items = append(items, ResultItem{
			ID:              n.ID,
			SourceType:      m.Vector.SourceType,
			Content:         m.Vector.Content,
			Score:           float64(n.FinalScore),
			CosineScore:     n.CosineScore,
			SpreadScore:     n.SpreadScore,
			StructuralScore: n.StructuralScore,
			CreatedAt:       m.Vector.CreatedAt,
		})
	}

	go e.recordRetrievals(items)

	return Result{Query: trimmed, Results: items}, nil
}

// recordRetrievals fires LTP bumps for every returned result in the
// background; a failure here never affects the search response already
// returned to the caller.
func (e *Engine) recordRetrievals(items []ResultItem) {
	if e.recorder == nil {
		return
	}
	ctx := context.Background()
	for _, item := range items {
		if err := e.recorder.RecordRetrieval(ctx, item.SourceType, item.ID); err != nil {
			e.log.Warn("retrieval: record retrieval failed", "id", item.ID, "error", err)
		}
	}
}
