package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modernmethod/ethos/internal/resilience"
	"github.com/modernmethod/ethos/pkg/embedding"
)

// ErrProviderNotRegistered is returned by CreateEmbedding when no factory
// has been registered under the requested backend name.
var ErrProviderNotRegistered = errors.New("config: embedding backend not registered")

// Registry maps embedding backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	cons map[string]func(ProviderEntry) (embedding.Backend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{cons: make(map[string]func(ProviderEntry) (embedding.Backend, error))}
}

// RegisterEmbedding registers an embedding backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEmbedding(name string, factory func(ProviderEntry) (embedding.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cons[name] = factory
}

// CreateEmbedding instantiates the embedding backend registered under
// entry.Name.
func (r *Registry) CreateEmbedding(entry ProviderEntry) (embedding.Backend, error) {
	r.mu.RLock()
	factory, ok := r.cons[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// BuildEmbeddingBackend resolves cfg's primary backend. When a fallback
// backend is configured, it returns a [chainedBackend] that tries the primary
// and then the fallback through a [resilience.FallbackGroup].
func (r *Registry) BuildEmbeddingBackend(cfg EmbeddingConfig) (embedding.Backend, error) {
	primary, err := r.CreateEmbedding(cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("config: primary embedding backend: %w", err)
	}
	if cfg.Fallback == nil {
		return primary, nil
	}
	secondary, err := r.CreateEmbedding(*cfg.Fallback)
	if err != nil {
		return nil, fmt.Errorf("config: fallback embedding backend: %w", err)
	}

	group := resilience.NewFallbackGroup(primary, cfg.Primary.Name, resilience.FallbackConfig{})
	group.AddFallback(cfg.Fallback.Name, secondary)
	return &chainedBackend{group: group, dimensions: primary.Dimensions()}, nil
}

// chainedBackend adapts a [resilience.FallbackGroup] of embedding backends
// to the embedding.Backend interface: a failing primary (tripped circuit or
// hard error) transparently falls through to the next configured backend.
type chainedBackend struct {
	group      *resilience.FallbackGroup[embedding.Backend]
	dimensions int
}

var _ embedding.Backend = (*chainedBackend)(nil)

func (c *chainedBackend) Embed(ctx context.Context, text string) (embedding.Outcome, error) {
	return resilience.ExecuteWithResult(c.group, func(b embedding.Backend) (embedding.Outcome, error) {
		return b.Embed(ctx, text)
	})
}

func (c *chainedBackend) EmbedQuery(ctx context.Context, text string) (embedding.Outcome, error) {
	return resilience.ExecuteWithResult(c.group, func(b embedding.Backend) (embedding.Outcome, error) {
		return b.EmbedQuery(ctx, text)
	})
}

func (c *chainedBackend) Dimensions() int { return c.dimensions }

func (c *chainedBackend) Name() string { return "chained" }
