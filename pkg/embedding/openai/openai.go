// Package openai provides the cloud embedding backend, backed by the
// OpenAI embeddings API with retrying, backoff, and a circuit breaker.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/modernmethod/ethos/internal/resilience"
	"github.com/modernmethod/ethos/pkg/embedding"
	"github.com/modernmethod/ethos/pkg/ethos"
)

// DefaultModel is the default OpenAI embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// maxBackoff caps the exponential backoff delay between retries.
const maxBackoff = 10 * time.Second

var _ embedding.Backend = (*Backend)(nil)

// Backend implements embedding.Backend using the OpenAI embeddings API.
// Calls are retried with exponential backoff and jitter, and guarded by a
// circuit breaker so a persistently failing endpoint is bypassed quickly
// instead of retried request after request.
type Backend struct {
	client     oai.Client
	model      string
	dimensions int
	maxRetries int
	breaker    *resilience.CircuitBreaker
}

// config holds optional configuration for the backend.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
	dimensions   int
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries overrides the default of 3 attempts in total.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithDimensions overrides the dimension inferred from the model name, for
// models not in the known table.
func WithDimensions(n int) Option {
	return func(c *config) { c.dimensions = n }
}

// New constructs a cloud embedding backend. Returns [ethos.MissingAPIKey]
// if apiKey is empty — fatal at construction, per the embedding backend
// contract.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, &ethos.MissingAPIKey{Backend: "openai"}
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: 3}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}
	reqOpts = append(reqOpts, option.WithHTTPClient(httpClient))

	dims := cfg.dimensions
	if dims == 0 {
		dims = modelDimensions(model)
	}

	return &Backend{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		dimensions: dims,
		maxRetries: cfg.maxRetries,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "embedding.openai." + model,
		}),
	}, nil
}

// Embed implements embedding.Backend.
func (b *Backend) Embed(ctx context.Context, text string) (embedding.Outcome, error) {
	return b.embed(ctx, text)
}

// EmbedQuery implements embedding.Backend. OpenAI's embeddings API does not
// distinguish document vs. query task types, so it delegates to Embed.
func (b *Backend) EmbedQuery(ctx context.Context, text string) (embedding.Outcome, error) {
	return b.embed(ctx, text)
}

func (b *Backend) embed(ctx context.Context, text string) (embedding.Outcome, error) {
	var vec []float32
	err := b.breaker.Execute(func() error {
		v, embedErr := b.embedWithRetry(ctx, text)
		if embedErr != nil {
			return embedErr
		}
		vec = v
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return embedding.Outcome{}, err
		}
		return embedding.Outcome{}, err
	}
	if len(vec) != b.dimensions {
		return embedding.Outcome{}, &ethos.InvalidDimensions{Expected: b.dimensions, Actual: len(vec)}
	}
	return embedding.Ready(vec), nil
}

// embedWithRetry calls the OpenAI API with exponential backoff and jitter.
// A request is tried up to maxRetries times in total; 429, 5xx and non-API
// errors are retried, other 4xx responses fail immediately. Exhaustion reports [ethos.RetryExhausted].
func (b *Backend) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			slog.Warn("embedding retry backing off",
				"backend", "openai", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vec, err := b.call(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		var apiErr *ethos.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
	}
	return nil, &ethos.RetryExhausted{Attempts: b.maxRetries, Last: lastErr}
}

// backoffDelay computes the delay before the given retry attempt (1-indexed)
// using exponential backoff with full jitter, capped at maxBackoff.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
	if base > maxBackoff {
		base = maxBackoff
	}
	return time.Duration(rand.Int64N(int64(base) + 1))
}

func (b *Backend) call(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: b.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, &ethos.APIError{Code: apiErr.StatusCode, Message: apiErr.Message}
		}
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

// Dimensions implements embedding.Backend.
func (b *Backend) Dimensions() int { return b.dimensions }

// Name implements embedding.Backend.
func (b *Backend) Name() string { return "openai:" + b.model }

// modelDimensions returns the embedding dimensions for known OpenAI models.
func modelDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"):
		return 1536
	case strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
