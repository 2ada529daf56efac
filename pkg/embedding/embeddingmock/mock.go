// Package embeddingmock provides a test double for embedding.Backend.
//
// Use Backend to script a fixed sequence of outcomes (for tests exercising
// the re-embed worker's stop-on-None behavior) or a single fixed response,
// and to verify which texts were submitted.
package embeddingmock

import (
	"context"
	"sync"

	"github.com/modernmethod/ethos/pkg/embedding"
)

// Call records a single invocation of Embed or EmbedQuery.
type Call struct {
	Method string
	Text   string
}

// Backend is a mock implementation of embedding.Backend.
type Backend struct {
	mu sync.Mutex

	// Result is returned by Embed/EmbedQuery when Sequence is empty.
	Result embedding.Outcome
	// Err, if non-nil, is returned as the error.
	Err error
	// Sequence, if non-empty, supplies one outcome per call in order;
	// once exhausted, the last entry repeats.
	Sequence []embedding.Outcome

	DimensionsValue int
	NameValue       string

	Calls []Call
}

// Embed records the call and returns the next scripted outcome.
func (b *Backend) Embed(ctx context.Context, text string) (embedding.Outcome, error) {
	return b.record("Embed", text)
}

// EmbedQuery records the call and returns the next scripted outcome.
func (b *Backend) EmbedQuery(ctx context.Context, text string) (embedding.Outcome, error) {
	return b.record("EmbedQuery", text)
}

func (b *Backend) record(method, text string) (embedding.Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, Call{Method: method, Text: text})

	if b.Err != nil {
		return embedding.Outcome{}, b.Err
	}
	if len(b.Sequence) == 0 {
		return b.Result, nil
	}
	idx := len(b.Calls) - 1
	if idx >= len(b.Sequence) {
		idx = len(b.Sequence) - 1
	}
	return b.Sequence[idx], nil
}

// Dimensions implements embedding.Backend.
func (b *Backend) Dimensions() int { return b.DimensionsValue }

// Name implements embedding.Backend.
func (b *Backend) Name() string { return b.NameValue }

// CallCount returns the number of times method was invoked.
func (b *Backend) CallCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
