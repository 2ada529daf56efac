// Package ingest implements the write path: validate an incoming memory
// item, persist its session event, episodic trace, and (initially
// unembedded) memory-vector row in one transaction, then embed and link
// the new item in the background.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/linker"
	"github.com/modernmethod/ethos/pkg/store"
)

// ErrEmptyContent is returned when a request's content is empty after
// trimming whitespace.
var ErrEmptyContent = fmt.Errorf("ingest: content must not be empty")

// Request is the validated ingest payload.
type Request struct {
	SessionID string
	AgentID   string
	Source    string // raw source string; unknown values map to "user"
	Content   string
	Metadata  map[string]any
}

// Result identifies the rows a successful ingest created.
type Result struct {
	EventID   uuid.UUID
	EpisodeID uuid.UUID
	VectorID  uuid.UUID
}

// TxIngester is implemented by stores that can write a session event, an
// episodic trace, and its memory-vector projection atomically — the "ingest
// writes a session event and a memory-vector row in one transaction"
// invariant. [pkg/store/postgres.Store] implements this; storemock-backed
// tests fall back to sequential writes against [Stores] instead.
type TxIngester interface {
	IngestEpisode(ctx context.Context, event ethos.SessionEvent, trace ethos.EpisodicTrace, vector ethos.MemoryVector) (eventID, episodeID, vectorID uuid.UUID, err error)
}

// Pipeline writes new episodic traces and spawns background embedding and
// graph linking: "ingest → store item (embedding spawned async, then
// linked)".
type Pipeline struct {
	sessions store.SessionStore
	episodes store.EpisodeStore
	vectors  store.VectorStore
	tx       TxIngester // optional; nil falls back to sequential writes

	backend embedding.Backend
	linker  *linker.Linker
	log     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTxIngester enables the transactional write path for stores that
// support it (pkg/store/postgres.Store).
func WithTxIngester(tx TxIngester) Option {
	return func(p *Pipeline) { p.tx = tx }
}

// New builds a Pipeline. sessions/episodes/vectors are used directly when no
// [TxIngester] is supplied via [WithTxIngester].
func New(sessions store.SessionStore, episodes store.EpisodeStore, vectors store.VectorStore, backend embedding.Backend, l *linker.Linker, log *slog.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		sessions: sessions,
		episodes: episodes,
		vectors:  vectors,
		backend:  backend,
		linker:   l,
		log:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest validates req, writes its rows, and returns once the durable write
// completes. Embedding and linking continue in the background after Ingest
// returns; they do not block the caller and their errors are only logged.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return Result{}, ErrEmptyContent
	}

	role := ethos.ParseRole(req.Source)
	event := ethos.SessionEvent{
		SessionID: req.SessionID,
		AgentID:   req.AgentID,
		Role:      role,
		Content:   content,
		Metadata:  req.Metadata,
	}
	trace := ethos.EpisodicTrace{
		SessionID:  req.SessionID,
		AgentID:    req.AgentID,
		Role:       role,
		Content:    content,
		Importance: 0.5,
		Salience:   1,
	}
	vector := ethos.MemoryVector{Content: content, Importance: trace.Importance}

	res, err := p.write(ctx, event, trace, vector)
	if err != nil {
		return Result{}, err
	}

	go p.embedAndLink(res.EpisodeID)

	return res, nil
}

func (p *Pipeline) write(ctx context.Context, event ethos.SessionEvent, trace ethos.EpisodicTrace, vector ethos.MemoryVector) (Result, error) {
	if p.tx != nil {
		eventID, episodeID, vectorID, err := p.tx.IngestEpisode(ctx, event, trace, vector)
		if err != nil {
			return Result{}, fmt.Errorf("ingest: transactional write: %w", err)
		}
		return Result{EventID: eventID, EpisodeID: episodeID, VectorID: vectorID}, nil
	}

	eventID, err := p.sessions.WriteEvent(ctx, event)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: write event: %w", err)
	}
	episodeID, err := p.episodes.Insert(ctx, trace)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: insert episode: %w", err)
	}
	vector.SourceType = ethos.SourceEpisode
	vector.SourceID = episodeID
	vectorID, err := p.vectors.Insert(ctx, vector)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: insert vector: %w", err)
	}
	return Result{EventID: eventID, EpisodeID: episodeID, VectorID: vectorID}, nil
}

// embedAndLink runs detached from the request context, since embedding may
// outlive the HTTP/IPC request that triggered it.
func (p *Pipeline) embedAndLink(episodeID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mv, found, err := p.vectors.GetBySource(ctx, ethos.SourceEpisode, episodeID)
	if err != nil || !found {
		p.log.Error("ingest: embed: lookup vector failed", "episode_id", episodeID, "err", err)
		return
	}

	outcome, err := p.backend.Embed(ctx, mv.Content)
	if err != nil {
		p.log.Error("ingest: embed failed", "episode_id", episodeID, "err", err)
		return
	}
	if !outcome.Available {
		p.log.Warn("ingest: embedding backend unavailable, leaving vector NULL for re-embed backfill", "episode_id", episodeID)
		return
	}

	if err := p.vectors.SetVector(ctx, mv.ID, outcome.Vector, p.backend.Name()); err != nil {
		p.log.Error("ingest: set vector failed", "episode_id", episodeID, "err", err)
		return
	}

	if p.linker == nil {
		return
	}
	if _, err := p.linker.LinkMemory(ctx, ethos.SourceEpisode, episodeID); err != nil {
		p.log.Error("ingest: link failed", "episode_id", episodeID, "err", err)
	}
}
