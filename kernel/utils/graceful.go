package utils

import (
	"context"
	"sync"
	"time"
)

// GracefulShutdown runs registered stop functions in reverse registration
// order, bounded by a timeout.
type GracefulShutdown struct {
	mu         sync.Mutex
	shutdownFn []namedShutdown
	timeout    time.Duration
	logger     *Logger
}

type namedShutdown struct {
	name string
	fn   func(ctx context.Context) error
}

// NewGracefulShutdown creates a new graceful shutdown manager
func NewGracefulShutdown(timeout time.Duration, logger *Logger) *GracefulShutdown {
	if logger == nil {
		logger = DefaultLogger("shutdown")
	}

	return &GracefulShutdown{
		timeout: timeout,
		logger:  logger,
	}
}

// Register registers a shutdown function
func (g *GracefulShutdown) Register(name string, fn func(ctx context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.shutdownFn = append(g.shutdownFn, namedShutdown{name: name, fn: fn})
}

// Shutdown executes all registered shutdown functions (LIFO). Each function
// sees the shared deadline; the joined failures are returned.
func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	fns := make([]namedShutdown, len(g.shutdownFn))
	copy(fns, g.shutdownFn)
	g.shutdownFn = nil
	g.mu.Unlock()

	g.logger.Info("Starting graceful shutdown", Int("components", len(fns)))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	errCh := make(chan error, len(fns))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i].fn(shutdownCtx); err != nil {
				g.logger.Error("Shutdown function failed", String("component", fns[i].name), Err(err))
				errCh <- WrapError(err, fns[i].name)
			}
		}
		close(errCh)
	}()

	select {
	case <-done:
		g.logger.Info("Graceful shutdown complete")
		return CollectErrors(errCh)
	case <-shutdownCtx.Done():
		g.logger.Warn("Graceful shutdown timed out")
		return TimeoutError("shutdown")
	}
}
