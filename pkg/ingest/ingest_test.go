package ingest_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/embedding/embeddingmock"
	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/ingest"
	"github.com/modernmethod/ethos/pkg/linker"
	"github.com/modernmethod/ethos/pkg/store/storemock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestIngest_RejectsEmptyContent(t *testing.T) {
	t.Parallel()
	sessions := &storemock.SessionStore{}
	episodes := &storemock.EpisodeStore{}
	vectors := &storemock.VectorStore{}
	backend := &embeddingmock.Backend{Result: embedding.Unavailable}

	p := ingest.New(sessions, episodes, vectors, backend, nil, discardLogger())
	_, err := p.Ingest(context.Background(), ingest.Request{Content: "   "})
	if err != ingest.ErrEmptyContent {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
}

func TestIngest_WritesEventEpisodeAndUnembeddedVector(t *testing.T) {
	t.Parallel()
	sessions := &storemock.SessionStore{}
	episodes := &storemock.EpisodeStore{}
	vectors := &storemock.VectorStore{}
	backend := &embeddingmock.Backend{Result: embedding.Unavailable}

	p := ingest.New(sessions, episodes, vectors, backend, nil, discardLogger())
	res, err := p.Ingest(context.Background(), ingest.Request{
		SessionID: "sess-1",
		AgentID:   "agent-1",
		Source:    "assistant",
		Content:   "remember this",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	ep, err := episodes.Get(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("Get episode: %v", err)
	}
	if ep.Role != ethos.RoleAssistant {
		t.Errorf("role = %q, want assistant", ep.Role)
	}
	if ep.Content != "remember this" {
		t.Errorf("content = %q", ep.Content)
	}

	events, err := sessions.GetRecent(context.Background(), "sess-1", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("GetRecent: %v, %d events", err, len(events))
	}
}

func TestIngest_UnknownSourceMapsToUser(t *testing.T) {
	t.Parallel()
	sessions := &storemock.SessionStore{}
	episodes := &storemock.EpisodeStore{}
	vectors := &storemock.VectorStore{}
	backend := &embeddingmock.Backend{Result: embedding.Unavailable}

	p := ingest.New(sessions, episodes, vectors, backend, nil, discardLogger())
	res, err := p.Ingest(context.Background(), ingest.Request{Source: "narrator", Content: "x"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	ep, _ := episodes.Get(context.Background(), res.EpisodeID)
	if ep.Role != ethos.RoleUser {
		t.Errorf("role = %q, want user for unknown source", ep.Role)
	}
}

func TestIngest_EmbedsAndLinksInBackground(t *testing.T) {
	t.Parallel()
	sessions := &storemock.SessionStore{}
	episodes := &storemock.EpisodeStore{}
	vectors := &storemock.VectorStore{}
	graph := &storemock.GraphStore{}
	backend := &embeddingmock.Backend{
		Result:          embedding.Ready([]float32{1, 0, 0}),
		DimensionsValue: 3,
		NameValue:       "mock",
	}
	l := linker.New(vectors, graph, discardLogger())

	p := ingest.New(sessions, episodes, vectors, backend, l, discardLogger())
	res, err := p.Ingest(context.Background(), ingest.Request{Content: "hello"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mv, found, _ := vectors.GetBySource(context.Background(), ethos.SourceEpisode, res.EpisodeID)
		if found && mv.Vector != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("vector was never embedded within the deadline")
}
