package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btouchard/switchboard/internal/model"
)

// Metrics tracks realtime and lifecycle counters.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime websocket connections accepted
	ActiveConnections atomic.Int64 // currently open websocket connections
	Joins             atomic.Int64 // channel joins (including moves)
	Leaves            atomic.Int64 // channel leaves (including moves)

	// Fanout counters
	Publishes  atomic.Int64 // payloads handed to the fanout
	Deliveries atomic.Int64 // frames queued on a live connection
	Drops      atomic.Int64 // frames dropped because a queue was full or closed

	// Lifecycle counters
	Submitted atomic.Int64
	Approved  atomic.Int64
	Rejected  atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// Hooks returns registry hooks that keep the join/leave counters current.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnJoin:  func(string, model.Channel) { m.Joins.Add(1) },
		OnLeave: func(string, model.Channel) { m.Leaves.Add(1) },
	}
}

// RecordTransition counts a lifecycle event by resulting status.
func (m *Metrics) RecordTransition(status model.Status) {
	switch status {
	case model.StatusPending:
		m.Submitted.Add(1)
	case model.StatusApproved:
		m.Approved.Add(1)
	case model.StatusRejected:
		m.Rejected.Add(1)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	Joins             int64 `json:"joins"`
	Leaves            int64 `json:"leaves"`

	Publishes  int64 `json:"publishes"`
	Deliveries int64 `json:"deliveries"`
	Drops      int64 `json:"drops"`

	Submitted int64 `json:"submitted"`
	Approved  int64 `json:"approved"`
	Rejected  int64 `json:"rejected"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		Joins:             m.Joins.Load(),
		Leaves:            m.Leaves.Load(),
		Publishes:         m.Publishes.Load(),
		Deliveries:        m.Deliveries.Load(),
		Drops:             m.Drops.Load(),
		Submitted:         m.Submitted.Load(),
		Approved:          m.Approved.Load(),
		Rejected:          m.Rejected.Load(),
	}
}

// ServeHTTP writes the snapshot as JSON.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}

// LogSummary writes a metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"publishes", s.Publishes,
		"deliveries", s.Deliveries,
		"drops", s.Drops)
}

// StartPeriodicLog logs a summary every interval until done is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
