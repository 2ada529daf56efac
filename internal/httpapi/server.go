// Package httpapi implements the HTTP REST transport: health/version
// probes plus the search, ingest, and consolidate operations, returning
// QMD-compatible search results.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/modernmethod/ethos/internal/observe"
	"github.com/modernmethod/ethos/pkg/consolidation"
	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/ingest"
	"github.com/modernmethod/ethos/pkg/qmd"
	"github.com/modernmethod/ethos/pkg/retrieval"
)

// Protocol is the fixed protocol identifier returned by /version.
const Protocol = "ethos/1"

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Deps collects the server's dependencies.
type Deps struct {
	Version       string
	Retrieval     *retrieval.Engine
	Ingest        *ingest.Pipeline
	Consolidation *consolidation.Engine
	Postgres      HealthChecker
	Pgvector      HealthChecker
	SocketPath    string
	Log           *slog.Logger
	Metrics       *observe.Metrics
}

// Server implements http.Handler over the ethos REST surface.
type Server struct {
	deps Deps
	mux  *http.ServeMux
	log  *slog.Logger
}

// New builds a Server and registers its routes.
func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), log: deps.Log}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /version", s.handleVersion)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("POST /ingest", s.handleIngest)
	s.mux.HandleFunc("POST /consolidate", s.handleConsolidate)
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("httpapi: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "status": "error"})
}

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Postgresql string `json:"postgresql"`
	Pgvector   string `json:"pgvector"`
	Socket     bool   `json:"socket"`
}

func checkerStatus(ctx context.Context, check HealthChecker) string {
	if check == nil {
		return "unconfigured"
	}
	if err := check(ctx); err != nil {
		return "fail: " + err.Error()
	}
	return "ok"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pg := checkerStatus(ctx, s.deps.Postgres)
	pgv := checkerStatus(ctx, s.deps.Pgvector)

	resp := healthResponse{
		Status:     "ok",
		Version:    s.deps.Version,
		Postgresql: pg,
		Pgvector:   pgv,
		Socket:     s.deps.SocketPath != "",
	}
	code := http.StatusOK
	if pg != "ok" || pgv != "ok" {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":  s.deps.Version,
		"protocol": Protocol,
	})
}

type searchRequest struct {
	Query        string  `json:"query"`
	Limit        int     `json:"limit"`
	UseSpreading bool     `json:"use_spreading"`
	MinScore     float64 `json:"min_score"`
}

type searchResponse struct {
	Results []qmd.Result `json:"results"`
	Count   int          `json:"count"`
	Query   string       `json:"query"`
	TookMs  int64        `json:"took_ms"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	start := time.Now()
	result, err := s.deps.Retrieval.Search(r.Context(), req.Query, retrieval.Options{
		Limit:        req.Limit,
		UseSpreading: req.UseSpreading,
	})
	if err != nil {
		s.recordSearch(r.Context(), start, false)
		if errors.Is(err, ethos.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, retrieval.ErrEmbeddingUnavailable) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.Error("httpapi: search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.recordSearch(r.Context(), start, true)

	results := make([]qmd.Result, 0, len(result.Results))
	for _, item := range result.Results {
		if item.Score < req.MinScore {
			continue
		}
		results = append(results, qmd.Format(item.ID, item.Content, item.Score))
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results: results,
		Count:   len(results),
		Query:   result.Query,
		TookMs:  time.Since(start).Milliseconds(),
	})
}

type ingestRequest struct {
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ingestResponse struct {
	Queued bool   `json:"queued"`
	ID     string `json:"id"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ingestReq := toIngestRequest(req.Content, req.Source, req.Metadata)
	res, err := s.deps.Ingest.Ingest(r.Context(), ingestReq)
	if err != nil {
		s.recordIngest(r.Context(), req.Source, false)
		if errors.Is(err, ingest.ErrEmptyContent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("httpapi: ingest failed", "err", err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	s.recordIngest(r.Context(), req.Source, true)

	writeJSON(w, http.StatusOK, ingestResponse{Queued: true, ID: res.EpisodeID.String()})
}

func (s *Server) recordSearch(ctx context.Context, start time.Time, ok bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSearch(ctx, time.Since(start), ok)
	}
}

func (s *Server) recordIngest(ctx context.Context, source string, ok bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordIngest(ctx, source, ok)
	}
}

func (s *Server) recordConsolidation(ctx context.Context, ok bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordConsolidation(ctx, ok)
	}
}

// toIngestRequest pulls session_id/agent_id out of the ingest payload's
// metadata block, per the ingest payload contract, and hands the rest of
// the metadata through unchanged.
func toIngestRequest(content, source string, metadata map[string]any) ingest.Request {
	req := ingest.Request{Content: content, Source: source, Metadata: metadata}
	if metadata == nil {
		return req
	}
	if v, ok := metadata["session_id"].(string); ok {
		req.SessionID = v
	}
	if v, ok := metadata["agent_id"].(string); ok {
		req.AgentID = v
	}
	return req
}

type consolidateRequest struct {
	Session string `json:"session"`
	Reason  string `json:"reason"`
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	report, err := s.deps.Consolidation.RunCycle(r.Context(), time.Now())
	if err != nil {
		s.recordConsolidation(r.Context(), false)
		s.log.Error("httpapi: consolidate failed", "err", err)
		writeError(w, http.StatusInternalServerError, "consolidation failed")
		return
	}
	s.recordConsolidation(r.Context(), true)

	writeJSON(w, http.StatusOK, map[string]int{
		"episodes_scanned":  report.EpisodesScanned,
		"episodes_promoted": report.EpisodesPromoted,
		"facts_created":     report.FactsCreated,
		"facts_updated":     report.FactsUpdated,
		"facts_superseded":  report.FactsSuperseded,
		"facts_flagged":     report.FactsFlagged,
	})
}
