// Package local provides the local embedding backend: in-process inference
// over an opaque tokenizer/runtime (the ONNX text-to-vector function named
// in the spec as an external collaborator), serialized behind a mutex and
// executed on a bounded worker pool so that synchronous inference never
// blocks other concurrent tasks.
package local

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/ethos"
)

// Runtime is the opaque text-to-vector function supplied by the ONNX
// tokenizer/runtime. Implementations are expected to return raw,
// un-normalized hidden states per token plus an attention mask; Backend
// mean-pools and L2-normalizes them. Runtime itself is not part of this
// module's scope (spec §1 names the ONNX runtime as an external
// collaborator) — callers inject a concrete implementation.
type Runtime interface {
	// Infer runs the model for text and returns per-token hidden states
	// (len(states) == len(mask)) and the attention mask.
	Infer(text string) (states [][]float32, mask []bool, err error)
}

var _ embedding.Backend = (*Backend)(nil)

// Backend implements embedding.Backend by running Runtime in-process. A
// single model session is not safe for concurrent inference, so calls are
// serialized with a mutex; a bounded semaphore-backed worker pool bounds
// how many goroutines may queue for that mutex at once, so a burst of
// concurrent callers degrades to backpressure rather than unbounded
// goroutine growth.
type Backend struct {
	runtime    Runtime
	dimensions int
	modelName  string

	mu  sync.Mutex
	sem *semaphore.Weighted
}

// config holds optional construction parameters.
type config struct {
	workers int
}

// Option is a functional option for Backend.
type Option func(*config)

// WithWorkers bounds how many goroutines may be queued waiting for the
// inference mutex at once. Default 4.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// New constructs a local embedding backend around runtime, with the given
// declared output dimension and a name used for logging.
func New(runtime Runtime, dimensions int, modelName string, opts ...Option) *Backend {
	cfg := &config{workers: 4}
	for _, o := range opts {
		o(cfg)
	}
	return &Backend{
		runtime:    runtime,
		dimensions: dimensions,
		modelName:  modelName,
		sem:        semaphore.NewWeighted(int64(cfg.workers)),
	}
}

// Embed implements embedding.Backend.
func (b *Backend) Embed(ctx context.Context, text string) (embedding.Outcome, error) {
	return b.infer(ctx, text)
}

// EmbedQuery implements embedding.Backend. The local backend has no
// task-type distinction, so it delegates to Embed.
func (b *Backend) EmbedQuery(ctx context.Context, text string) (embedding.Outcome, error) {
	return b.infer(ctx, text)
}

func (b *Backend) infer(ctx context.Context, text string) (embedding.Outcome, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return embedding.Outcome{}, err
	}
	defer b.sem.Release(1)

	b.mu.Lock()
	states, mask, err := b.runtime.Infer(text)
	b.mu.Unlock() // released immediately after the blocking call, never held across further I/O
	if err != nil {
		return embedding.Outcome{}, fmt.Errorf("local embedding: infer: %w", err)
	}

	vec := meanPoolNormalize(states, mask)
	if len(vec) != b.dimensions {
		return embedding.Outcome{}, &ethos.InvalidDimensions{Expected: b.dimensions, Actual: len(vec)}
	}
	return embedding.Ready(vec), nil
}

// Dimensions implements embedding.Backend.
func (b *Backend) Dimensions() int { return b.dimensions }

// Name implements embedding.Backend.
func (b *Backend) Name() string { return "local:" + b.modelName }

// meanPoolNormalize mean-pools token hidden states over the attention mask
// and L2-normalizes the result, producing a unit vector.
func meanPoolNormalize(states [][]float32, mask []bool) []float32 {
	if len(states) == 0 {
		return nil
	}
	dims := len(states[0])
	sum := make([]float64, dims)
	var count float64
	for i, tok := range states {
		if i < len(mask) && !mask[i] {
			continue
		}
		for d, v := range tok {
			sum[d] += float64(v)
		}
		count++
	}
	if count == 0 {
		count = float64(len(states))
	}

	var norm float64
	pooled := make([]float64, dims)
	for d := range sum {
		pooled[d] = sum[d] / count
		norm += pooled[d] * pooled[d]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}

	out := make([]float32, dims)
	for d, v := range pooled {
		out[d] = float32(v / norm)
	}
	return out
}
