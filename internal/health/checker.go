// Package health runs periodic liveness probes against the account store
// backend and caches the result for the /healthz endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
}

// Pinger is the probe target. *pgxpool.Pool satisfies it directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Checker probes the store backend on an interval and caches the verdict.
type Checker struct {
	pinger    Pinger
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu        sync.RWMutex
	healthy   bool
	lastErr   error
	lastProbe time.Time
}

// New creates a Checker. The store is assumed healthy until the first probe.
func New(pinger Pinger, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Checker{pinger: pinger, cfg: cfg, logger: logger, healthy: true}
}

// SetMetricsRecord configures the metrics callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the probe loop until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ticker.C:
			c.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs a single probe and records the result.
func (c *Checker) Check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	err := c.pinger.Ping(probeCtx)

	c.mu.Lock()
	wasHealthy := c.healthy
	c.healthy = err == nil
	c.lastErr = err
	c.lastProbe = time.Now().UTC()
	c.mu.Unlock()

	if c.onMetrics != nil {
		c.onMetrics(err == nil)
	}

	if err != nil && wasHealthy {
		c.logger.Warn("account store probe failed", zap.Error(err))
	} else if err == nil && !wasHealthy {
		c.logger.Info("account store recovered")
	}
}

// Status returns the cached verdict from the most recent probe.
func (c *Checker) Status() (healthy bool, lastErr error, lastProbe time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy, c.lastErr, c.lastProbe
}

// NoopPinger always succeeds. Used when the service runs on the in-memory store.
type NoopPinger struct{}

// Ping implements Pinger.
func (NoopPinger) Ping(context.Context) error { return nil }
