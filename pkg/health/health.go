// Package health answers two questions: is a game port accepting
// connections, and how long has the daemon been up. The TCP probe backs
// the port_open field of server status; the uptime tracker backs the
// daemon's own /health endpoint.
package health

import (
	"context"
	"time"
)

// Result is the outcome of one probe.
type Result struct {
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration"`
}

// Checker probes one endpoint.
type Checker interface {
	Check(ctx context.Context) Result
}

// Report is the payload of the daemon's /health endpoint.
type Report struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Tracker records when the daemon started.
type Tracker struct {
	started time.Time
}

// NewTracker starts the clock.
func NewTracker() *Tracker {
	return &Tracker{started: time.Now()}
}

// Uptime returns how long the daemon has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.started)
}

// Report snapshots the daemon's health.
func (t *Tracker) Report() Report {
	return Report{
		Status:        "ok",
		UptimeSeconds: int64(t.Uptime().Seconds()),
	}
}
