// Package health implements HealthChecker: periodically probes
// each registered client, marks unhealthy, triggers reconnect, and feeds
// the rotation pool refresh.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/registry"
)

// Refresher is the RotationEngine capability the checker invokes after each
// sweep. Defined here, implemented by rotation, to break the import cycle
// between health and rotation.
type Refresher interface {
	RefreshAvailable(ctx context.Context)
}

// deepProbeTimeout bounds the getSelf() remote probe, fixed independent of
// the (configurable) connection-acquisition timeout.
const deepProbeTimeout = 10 * time.Second

type Checker struct {
	reg           *registry.Registry
	log           *slog.Logger
	interval      time.Duration
	probeTimeout  time.Duration
	deepInterval  time.Duration
	refresher     Refresher
}

func New(reg *registry.Registry, log *slog.Logger, interval, probeTimeout, deepInterval time.Duration, refresher Refresher) *Checker {
	return &Checker{
		reg:          reg,
		log:          log,
		interval:     interval,
		probeTimeout: probeTimeout,
		deepInterval: deepInterval,
		refresher:    refresher,
	}
}

// Run drives the periodic cadence until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx, false)
		}
	}
}

// Force runs one operator-triggered sweep with a deep probe on every
// connection, regardless of the deep-probe cadence.
func (c *Checker) Force(ctx context.Context) {
	c.sweep(ctx, true)
}

func (c *Checker) sweep(ctx context.Context, forceDeep bool) {
	now := time.Now()
	for _, m := range c.reg.Mobiles() {
		c.checkOne(ctx, m, now, forceDeep)
	}
	if c.refresher != nil {
		c.refresher.RefreshAvailable(ctx)
	}
}

func (c *Checker) checkOne(ctx context.Context, m domain.Mobile, now time.Time, forceDeep bool) {
	conn, ok := c.reg.Snapshot(m)
	if !ok {
		c.reg.MarkUnhealthy(m)
		return
	}

	c.reg.TouchHealthCheck(m, false, now)

	if !conn.Client.IsConnected() {
		cctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		err := conn.Client.Connect(cctx)
		cancel()
		if err != nil {
			c.log.Warn("health check: reconnect failed", "mobile", m, "error", err)
			c.reg.MarkUnhealthy(m)
		}
		return
	}

	deep := forceDeep || now.Sub(conn.LastDeepProbe) >= c.deepInterval
	if !deep {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, deepProbeTimeout)
	_, err := conn.Client.GetSelf(cctx)
	cancel()
	if err != nil {
		c.log.Warn("health check: deep probe failed", "mobile", m, "error", err)
		c.reg.MarkUnhealthy(m)
		return
	}
	c.reg.TouchHealthCheck(m, true, now)
}
