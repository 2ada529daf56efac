// Package fallback wraps an [embedding.Backend] with graceful
// degradation: any error from the inner backend (other than a
// construction-time failure, which the caller must handle before wrapping)
// is converted into an "unavailable" [embedding.Outcome] instead of being
// propagated, so ingestion can proceed with a NULL embedding.
package fallback

import (
	"context"
	"log/slog"

	"github.com/modernmethod/ethos/pkg/embedding"
)

var _ embedding.Backend = (*Backend)(nil)

// Backend wraps an inner [embedding.Backend], converting errors to
// degraded outcomes.
type Backend struct {
	inner embedding.Backend
}

// New wraps inner with graceful-degradation semantics.
func New(inner embedding.Backend) *Backend {
	return &Backend{inner: inner}
}

// Embed implements embedding.Backend.
func (b *Backend) Embed(ctx context.Context, text string) (embedding.Outcome, error) {
	out, err := b.inner.Embed(ctx, text)
	if err != nil {
		slog.Warn("embedding backend unavailable — falling back to degraded mode",
			"backend", b.inner.Name(), "error", err)
		return embedding.Unavailable, nil
	}
	return out, nil
}

// EmbedQuery implements embedding.Backend.
func (b *Backend) EmbedQuery(ctx context.Context, text string) (embedding.Outcome, error) {
	out, err := b.inner.EmbedQuery(ctx, text)
	if err != nil {
		slog.Warn("embedding backend unavailable — falling back to degraded mode",
			"backend", b.inner.Name(), "error", err)
		return embedding.Unavailable, nil
	}
	return out, nil
}

// Dimensions implements embedding.Backend.
func (b *Backend) Dimensions() int { return b.inner.Dimensions() }

// Name implements embedding.Backend.
func (b *Backend) Name() string { return b.inner.Name() + "+fallback" }
