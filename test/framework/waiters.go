package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/craftd/msm/pkg/types"
)

// Waiter polls a condition until it holds or the timeout passes.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a waiter tuned for in-process flows: script
// children settle in well under ten seconds.
func DefaultWaiter() *Waiter {
	return NewWaiter(10*time.Second, 50*time.Millisecond)
}

// WaitFor waits for a condition to become true.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForRunning waits until the live status for a server reports a
// running process.
func (w *Waiter) WaitForRunning(ctx context.Context, d *Daemon, id int64) error {
	return w.WaitFor(ctx, func() bool {
		st, err := d.Client.ServerStatus(ctx, id)
		return err == nil && st.Running
	}, fmt.Sprintf("server %d to be running", id))
}

// WaitForStopped waits until the live status reports no process.
func (w *Waiter) WaitForStopped(ctx context.Context, d *Daemon, id int64) error {
	return w.WaitFor(ctx, func() bool {
		st, err := d.Client.ServerStatus(ctx, id)
		return err == nil && !st.Running
	}, fmt.Sprintf("server %d to be stopped", id))
}

// WaitForRow waits until the stored server record satisfies cond. Heal
// flows use this to watch the reconciler correct the catalog.
func (w *Waiter) WaitForRow(ctx context.Context, d *Daemon, id int64, desc string, cond func(*types.Server) bool) error {
	return w.WaitFor(ctx, func() bool {
		srv, err := d.Store.GetServer(id)
		return err == nil && cond(srv)
	}, desc)
}

// WaitForNewPID waits until the stored record carries a live PID other
// than old, which is how a watchdog restart shows up from outside.
func (w *Waiter) WaitForNewPID(ctx context.Context, d *Daemon, id int64, old int32) error {
	return w.WaitForRow(ctx, d, id, fmt.Sprintf("server %d to be restarted with a new pid", id),
		func(srv *types.Server) bool {
			return srv.Running && srv.PID != nil && *srv.PID != old
		})
}
