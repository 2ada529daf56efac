// Package ipcapi implements the binary IPC transport: length-delimited
// frames over a Unix domain socket, a little-endian 4-byte length prefix
// followed by a MessagePack-encoded tagged-union request, mirroring the
// HTTP surface for callers that prefer a local socket (e.g. cmd/ethosctl).
package ipcapi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/internal/observe"
	"github.com/modernmethod/ethos/pkg/consolidation"
	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/ingest"
	"github.com/modernmethod/ethos/pkg/qmd"
	"github.com/modernmethod/ethos/pkg/retrieval"
	"github.com/modernmethod/ethos/pkg/store"
)

// maxFrameBytes bounds a single request frame, guarding against a
// corrupted or malicious length prefix forcing an unbounded allocation.
const maxFrameBytes = 16 << 20

// Request is the tagged-union IPC request object.
type Request struct {
	Action       string         `msgpack:"action"`
	Query        string         `msgpack:"query,omitempty"`
	Limit        int            `msgpack:"limit,omitempty"`
	UseSpreading bool           `msgpack:"use_spreading,omitempty"`
	Content      string         `msgpack:"content,omitempty"`
	Source       string         `msgpack:"source,omitempty"`
	Metadata     map[string]any `msgpack:"metadata,omitempty"`
	ID           string         `msgpack:"id,omitempty"`
	Text         string         `msgpack:"text,omitempty"`
	Session      string         `msgpack:"session,omitempty"`
	Reason       string         `msgpack:"reason,omitempty"`
}

// Response is the IPC response envelope.
type Response struct {
	Status  string `msgpack:"status"`
	Data    any    `msgpack:"data,omitempty"`
	Error   string `msgpack:"error,omitempty"`
	Version string `msgpack:"version"`
}

// Deps collects the server's dependencies.
type Deps struct {
	Version       string
	Retrieval     *retrieval.Engine
	Ingest        *ingest.Pipeline
	Consolidation *consolidation.Engine
	Embedding     embedding.Backend
	Vectors       store.VectorStore
	Log           *slog.Logger
	Metrics       *observe.Metrics
}

// Server listens on a Unix domain socket and dispatches one request per
// frame per connection.
type Server struct {
	socketPath string
	deps       Deps
	log        *slog.Logger

	listener net.Listener
}

// New builds a Server bound to socketPath. Call Run to start accepting
// connections.
func New(socketPath string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Server{socketPath: socketPath, deps: deps, log: deps.Log}
}

// Run removes any stale socket file, listens, and accepts connections until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	if s.socketPath == "" {
		s.log.Info("ipcapi: no socket path configured, not starting")
		return
	}

	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.log.Error("ipcapi: listen failed", "path", s.socketPath, "err", err)
		return
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info("ipcapi: listening", "path", s.socketPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("ipcapi: accept failed", "err", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		req, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("ipcapi: read frame failed", "err", err)
			}
			return
		}

		resp := s.dispatch(ctx, req)
		out, err := msgpack.Marshal(resp)
		if err != nil {
			s.log.Error("ipcapi: marshal response", "err", err)
			return
		}
		if err := writeFrame(conn, out); err != nil {
			s.log.Debug("ipcapi: write frame failed", "err", err)
			return
		}
	}
}

func readFrame(r io.Reader) (Request, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Request{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return Request{}, fmt.Errorf("ipcapi: frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Request{}, err
	}
	var req Request
	if err := msgpack.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("ipcapi: decode request: %w", err)
	}
	return req, nil
}

func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{Version: s.deps.Version}

	switch req.Action {
	case "ping":
		resp.Status = "ok"
		resp.Data = "pong"

	case "health":
		resp.Status = "ok"
		resp.Data = map[string]string{"status": "ok", "version": s.deps.Version}

	case "search":
		start := time.Now()
		result, err := s.deps.Retrieval.Search(ctx, req.Query, retrieval.Options{
			Limit:        req.Limit,
			UseSpreading: req.UseSpreading,
		})
		s.recordSearch(ctx, start, err == nil)
		if err != nil {
			return errorResponse(s.deps.Version, err)
		}
		results := make([]qmd.Result, 0, len(result.Results))
		for _, item := range result.Results {
			results = append(results, qmd.Format(item.ID, item.Content, item.Score))
		}
		resp.Status = "ok"
		resp.Data = results

	case "ingest":
		ingestReq := ingest.Request{Content: req.Content, Source: req.Source, Metadata: req.Metadata}
		if v, ok := req.Metadata["session_id"].(string); ok {
			ingestReq.SessionID = v
		}
		if v, ok := req.Metadata["agent_id"].(string); ok {
			ingestReq.AgentID = v
		}
		res, err := s.deps.Ingest.Ingest(ctx, ingestReq)
		s.recordIngest(ctx, req.Source, err == nil)
		if err != nil {
			return errorResponse(s.deps.Version, err)
		}
		resp.Status = "ok"
		resp.Data = map[string]any{"queued": true, "id": res.EpisodeID.String()}

	case "get":
		if s.deps.Vectors == nil {
			resp.Status = "error"
			resp.Error = "ipcapi: no vector store configured"
			return resp
		}
		id, err := uuid.Parse(req.ID)
		if err != nil {
			resp.Status = "error"
			resp.Error = fmt.Sprintf("ipcapi: invalid id %q: %v", req.ID, err)
			return resp
		}
		mv, err := s.deps.Vectors.Get(ctx, id)
		if err != nil {
			return errorResponse(s.deps.Version, err)
		}
		resp.Status = "ok"
		resp.Data = qmd.Format(mv.ID, mv.Content, mv.Importance)

	case "consolidate":
		report, err := s.deps.Consolidation.RunCycle(ctx, time.Now())
		s.recordConsolidation(ctx, err == nil)
		if err != nil {
			return errorResponse(s.deps.Version, err)
		}
		resp.Status = "ok"
		resp.Data = map[string]int{
			"episodes_scanned":  report.EpisodesScanned,
			"episodes_promoted": report.EpisodesPromoted,
			"facts_created":     report.FactsCreated,
			"facts_updated":     report.FactsUpdated,
			"facts_superseded":  report.FactsSuperseded,
			"facts_flagged":     report.FactsFlagged,
		}

	case "embed":
		if s.deps.Embedding == nil {
			resp.Status = "error"
			resp.Error = "ipcapi: no embedding backend configured"
			return resp
		}
		outcome, err := s.deps.Embedding.EmbedQuery(ctx, req.Text)
		if err != nil {
			return errorResponse(s.deps.Version, err)
		}
		if !outcome.Available {
			resp.Status = "error"
			resp.Error = ethos.ErrEmbeddingUnavailable.Error()
			return resp
		}
		resp.Status = "ok"
		resp.Data = outcome.Vector

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("ipcapi: unknown action %q", req.Action)
	}

	return resp
}

func errorResponse(version string, err error) Response {
	return Response{Status: "error", Error: err.Error(), Version: version}
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
