// Package liveness reaps connections whose heartbeats stop arriving.
package liveness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rdrelay/internal/metrics"
	"rdrelay/internal/registry"
)

type Monitor struct {
	reg      *registry.Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
	interval time.Duration
	missed   int
	now      func() time.Time
}

// New builds a monitor that unregisters a connection once it has been
// silent for missed full heartbeat intervals.
func New(reg *registry.Registry, m *metrics.Metrics, log *zap.Logger, interval time.Duration, missed int) *Monitor {
	return NewWithNow(reg, m, log, interval, missed, time.Now)
}

func NewWithNow(reg *registry.Registry, m *metrics.Metrics, log *zap.Logger, interval time.Duration, missed int, now func() time.Time) *Monitor {
	return &Monitor{reg: reg, metrics: m, log: log, interval: interval, missed: missed, now: now}
}

// Run scans once per heartbeat interval until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep unregisters every connection silent for the configured window
// and returns the reaped connection ids. Unregister cascades through
// session invalidation and pair teardown.
func (m *Monitor) Sweep() []string {
	deadline := time.Duration(m.missed) * m.interval
	now := m.now()

	var reaped []string
	for _, conn := range m.reg.Snapshot() {
		if now.Sub(conn.LastHeartbeat) < deadline {
			continue
		}
		m.log.Warn("heartbeat timeout, unregistering",
			zap.String("connection", conn.ID),
			zap.String("device", conn.DeviceID),
			zap.Time("last_heartbeat", conn.LastHeartbeat))
		if err := m.reg.Unregister(conn.ID); err == nil {
			m.metrics.HeartbeatReapsTotal.Inc()
			reaped = append(reaped, conn.ID)
		}
	}
	return reaped
}
