// Package monitor watches execution health: periodic aggregates over the
// store, threshold checks, stall detection, and a bounded in-memory alert
// ring. It only observes; it never mutates workflow state.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/internal/metrics"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// AlertLevel grades alert severity.
type AlertLevel string

const (
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Alert is one raised condition.
type Alert struct {
	ID        string     `json:"id"`
	Level     AlertLevel `json:"level"`
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	RaisedAt  time.Time  `json:"raised_at"`
	Reference string     `json:"reference,omitempty"`
}

// Config tunes the monitor.
type Config struct {
	// Interval between sweeps. Default 60s.
	Interval time.Duration
	// FailureRateThreshold raises an alert when
	// failed/(failed+completed) agent tasks exceed it. Default 0.3.
	FailureRateThreshold float64
	// PendingDepthThreshold raises an alert when more agent tasks than
	// this wait in pending. Default 100.
	PendingDepthThreshold int64
	// StallTimeout flags work running since before this long ago.
	// Default 30m.
	StallTimeout time.Duration
	// AlertBufferSize bounds the ring. Default 256.
	AlertBufferSize int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.3
	}
	if c.PendingDepthThreshold <= 0 {
		c.PendingDepthThreshold = 100
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Minute
	}
	if c.AlertBufferSize <= 0 {
		c.AlertBufferSize = 256
	}
}

// Monitor runs the periodic sweep.
type Monitor struct {
	store   *store.Store
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
	ring    *alertRing
}

// New creates a monitor. The metrics collector may be nil.
func New(st *store.Store, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Monitor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:   st,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "monitor")),
		metrics: collector,
		ring:    newAlertRing(cfg.AlertBufferSize),
	}
}

// Run sweeps until the context is cancelled. One sweep runs immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.sweep(ctx)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Alerts returns the buffered alerts, newest first.
func (m *Monitor) Alerts() []Alert {
	return m.ring.snapshot()
}

func (m *Monitor) sweep(ctx context.Context) {
	m.checkAgentTasks(ctx)
	m.checkStalls(ctx)
	if m.metrics != nil {
		m.metrics.SetActiveAlerts(m.ring.len())
	}
}

func (m *Monitor) checkAgentTasks(ctx context.Context) {
	counts, err := m.store.CountTasksByStatus(ctx, types.TaskTypeAgent)
	if err != nil {
		m.logger.Error("count agent tasks", zap.Error(err))
		return
	}
	failed := counts[types.TaskFailed]
	completed := counts[types.TaskCompleted]
	pending := counts[types.TaskPending]

	if done := failed + completed; done > 0 {
		rate := float64(failed) / float64(done)
		if rate > m.cfg.FailureRateThreshold {
			m.raise(Alert{
				Level:   LevelCritical,
				Kind:    "agent_failure_rate",
				Message: fmt.Sprintf("agent task failure rate %.0f%% exceeds %.0f%%", rate*100, m.cfg.FailureRateThreshold*100),
			})
		}
	}
	if pending > m.cfg.PendingDepthThreshold {
		m.raise(Alert{
			Level:   LevelWarning,
			Kind:    "agent_backlog",
			Message: fmt.Sprintf("%d agent tasks pending, threshold %d", pending, m.cfg.PendingDepthThreshold),
		})
	}
}

func (m *Monitor) checkStalls(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.StallTimeout)

	nodes, err := m.store.ListStalledNodeInstances(ctx, cutoff, 50)
	if err != nil {
		m.logger.Error("list stalled nodes", zap.Error(err))
	}
	for _, ni := range nodes {
		m.raise(Alert{
			Level:     LevelWarning,
			Kind:      "stalled_node",
			Message:   fmt.Sprintf("node %q running since %s", ni.NodeName, ni.StartedAt.Format(time.RFC3339)),
			Reference: ni.ID,
		})
	}

	tasks, err := m.store.ListStalledTasks(ctx, cutoff, 50)
	if err != nil {
		m.logger.Error("list stalled tasks", zap.Error(err))
	}
	for _, t := range tasks {
		m.raise(Alert{
			Level:     LevelWarning,
			Kind:      "stalled_task",
			Message:   fmt.Sprintf("task %q (%s) idle since %s", t.Title, t.Status, t.UpdatedAt.Format(time.RFC3339)),
			Reference: t.ID,
		})
	}
}

func (m *Monitor) raise(a Alert) {
	a.ID = uuid.NewString()
	a.RaisedAt = time.Now()
	// De-duplicate repeats of the same condition within the buffer window.
	if m.ring.hasRecent(a.Kind, a.Reference, m.cfg.Interval*2) {
		return
	}
	m.ring.push(a)
	m.logger.Warn("alert raised",
		zap.String("kind", a.Kind),
		zap.String("level", string(a.Level)),
		zap.String("message", a.Message))
}

// =============================================================================
// Alert ring buffer
// =============================================================================

type alertRing struct {
	mu    sync.RWMutex
	buf   []Alert
	next  int
	count int
}

func newAlertRing(size int) *alertRing {
	return &alertRing{buf: make([]Alert, size)}
}

func (r *alertRing) push(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = a
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *alertRing) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// snapshot returns alerts newest first.
func (r *alertRing) snapshot() []Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Alert, 0, r.count)
	for i := 1; i <= r.count; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *alertRing) hasRecent(kind, reference string, within time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := time.Now().Add(-within)
	for i := 1; i <= r.count; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		a := r.buf[idx]
		if a.RaisedAt.Before(cutoff) {
			return false
		}
		if a.Kind == kind && a.Reference == reference {
			return true
		}
	}
	return false
}
