package ranking

import (
	"context"
	"io"
	"sync"

	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

type backendEntry struct {
	ff  forcefield.ForceField
	err error
}

// BackendCache constructs each backend at most once. A failed construction
// or availability check is remembered, so later poses of the same method
// fail fast without touching the engine again.
type BackendCache struct {
	registry *forcefield.Registry
	metrics  Metrics
	logger   logging.Logger

	mu      sync.Mutex
	entries map[pose.Method]*backendEntry
}

// NewBackendCache creates an empty cache over registry.
func NewBackendCache(registry *forcefield.Registry, metrics Metrics, logger logging.Logger) *BackendCache {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BackendCache{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		entries:  make(map[pose.Method]*backendEntry),
	}
}

// Get returns the backend for m, constructing it on first use. Errors carry
// ErrCodeBackendUnavailable.
func (c *BackendCache) Get(ctx context.Context, m pose.Method) (forcefield.ForceField, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[m]; ok {
		return e.ff, e.err
	}
	e := c.construct(ctx, m)
	c.entries[m] = e
	c.metrics.ObserveBackendConstruction(m, e.err == nil)
	return e.ff, e.err
}

func (c *BackendCache) construct(ctx context.Context, m pose.Method) *backendEntry {
	factory, ok := c.registry.Factory(m)
	if !ok {
		return &backendEntry{err: forcefield.Unavailable(m, "no backend registered")}
	}
	ff, err := factory(ctx)
	if err != nil {
		c.logger.Error("backend construction failed", logging.String(logging.KeyMethod, string(m)), logging.Err(err))
		return &backendEntry{err: errors.Wrap(err, errors.ErrCodeBackendUnavailable, string(m)+" backend construction failed")}
	}
	ok, msg := ff.CheckAvailability(ctx)
	if !ok {
		c.logger.Error("backend unavailable", logging.String(logging.KeyMethod, string(m)), logging.String("reason", msg))
		closeBackend(ff, c.logger)
		return &backendEntry{err: forcefield.Unavailable(m, msg)}
	}
	c.logger.Info("backend ready", logging.String(logging.KeyMethod, string(m)), logging.String("status", msg))
	return &backendEntry{ff: ff}
}

// Constructed lists the methods whose construction was attempted.
func (c *BackendCache) Constructed() []pose.Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pose.Method, 0, len(c.entries))
	for _, m := range pose.Methods() {
		if _, ok := c.entries[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Close releases every constructed backend that holds resources.
func (c *BackendCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for m, e := range c.entries {
		if e.ff != nil {
			closeBackend(e.ff, c.logger)
		}
		delete(c.entries, m)
	}
}

func closeBackend(ff forcefield.ForceField, logger logging.Logger) {
	closer, ok := ff.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("backend close failed", logging.String(logging.KeyMethod, string(ff.Method())), logging.Err(err))
	}
}
