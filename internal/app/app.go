// Package app runs the process lifecycle of the runners and closers that
// cmd/ethosd builds: Run starts every runner in its own goroutine and blocks
// until the context is cancelled, and Shutdown runs the closers in reverse
// registration order, best-effort.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Runner is a long-lived subsystem started by Run and stopped by the app's
// context cancellation. Each runner is started as its own goroutine.
type Runner interface {
	Run(ctx context.Context)
}

// Closer releases a resource acquired during New. Closers run in reverse
// acquisition order during Shutdown.
type Closer func() error

// App owns the process lifecycle: every background runner plus the
// resources they depend on.
type App struct {
	log     *slog.Logger
	runners []Runner
	closers []Closer

	stopOnce sync.Once
	stopErr  error
}

// Option configures an App during construction.
type Option func(*App)

// WithRunner registers a background subsystem to start in Run.
func WithRunner(r Runner) Option {
	return func(a *App) { a.runners = append(a.runners, r) }
}

// WithCloser registers a cleanup function to run (in reverse order) during
// Shutdown.
func WithCloser(c Closer) Option {
	return func(a *App) { a.closers = append(a.closers, c) }
}

// New assembles an App. Construction itself is the composition root's job
// (cmd/ethosd); New only collects the already-built runners and closers.
func New(log *slog.Logger, opts ...Option) *App {
	if log == nil {
		log = slog.Default()
	}
	a := &App{log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every registered runner and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, r := range a.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}

	<-ctx.Done()
	a.log.Info("app: shutdown signal received, stopping runners")
	wg.Wait()
	return nil
}

// Shutdown runs every registered closer in reverse order. ctx is checked
// before each closer: once it is done, the remaining closers are skipped and
// ctx.Err() is reported; a closer already running is not interrupted. Safe to
// call multiple times; only the first call runs the closers.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("app: shutdown: %w", ctx.Err()))
				a.stopErr = errors.Join(errs...)
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
