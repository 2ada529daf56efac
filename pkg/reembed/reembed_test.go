package reembed

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/embedding/embeddingmock"
	"github.com/modernmethod/ethos/pkg/ethos"
	"github.com/modernmethod/ethos/pkg/store/storemock"
)

func TestTick_StopsBatchOnUnavailable(t *testing.T) {
	vectors := &storemock.VectorStore{}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := vectors.Insert(ctx, ethos.MemoryVector{
			SourceType: ethos.SourceEpisode,
			SourceID:   uuid.New(),
			Content:    "row content",
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	backend := &embeddingmock.Backend{
		Sequence: []embedding.Outcome{
			embedding.Ready(make([]float32, 3)),
			embedding.Ready(make([]float32, 3)),
			embedding.Unavailable,
		},
	}

	w := New(vectors, backend, Config{Enabled: true, BatchSize: 10}, nil)
	report, err := w.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Embedded != 2 {
		t.Fatalf("Embedded = %d, want 2", report.Embedded)
	}
	if report.Skipped < 1 {
		t.Fatalf("Skipped = %d, want >= 1", report.Skipped)
	}

	remaining, err := vectors.NullVectorCount(ctx)
	if err != nil {
		t.Fatalf("NullVectorCount: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining NULL rows = %d, want 1", remaining)
	}
}

func TestTick_NoOpWhenNoNullRows(t *testing.T) {
	vectors := &storemock.VectorStore{}
	backend := &embeddingmock.Backend{Result: embedding.Ready(make([]float32, 3))}
	w := New(vectors, backend, Config{Enabled: true}, nil)

	report, err := w.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Embedded != 0 || report.Skipped != 0 {
		t.Fatalf("expected no-op report, got %+v", report)
	}
	if backend.CallCount("Embed") != 0 {
		t.Fatalf("backend should not have been called")
	}
}
