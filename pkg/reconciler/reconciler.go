package reconciler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/craftd/msm/pkg/lifecycle"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/metrics"
	"github.com/craftd/msm/pkg/platform"
	"github.com/craftd/msm/pkg/storage"
)

// Hub is the slice of the console registry the reconciler inspects.
type Hub interface {
	Live(serverID int64) bool
	LiveIDs() []int64
	Sweep(now time.Time) int
}

// Healer applies the exit-callback chain for a server that died unobserved.
// *lifecycle.Manager satisfies it.
type Healer interface {
	ApplyExitChain(serverID int64, serverName string, exitCode int, intentional bool)
}

// Config tunes the reconcile loop.
type Config struct {
	// Period is the interval between passes.
	Period time.Duration
}

// DefaultConfig returns the standard reconciler tuning.
func DefaultConfig() Config {
	return Config{Period: 10 * time.Second}
}

// Reconciler keeps the database's view of running servers consistent with
// the operating system's. Rows whose process is gone are healed through the
// exit-callback chain; live processes the database disowns are logged but
// never touched.
type Reconciler struct {
	store   storage.Store
	backend *platform.Backend
	hub     Hub
	healer  Healer
	cfg     Config
	logger  zerolog.Logger
	stopCh  chan struct{}
}

// NewReconciler creates a reconciler. Zero values in cfg fall back to
// defaults.
func NewReconciler(store storage.Store, backend *platform.Backend, hub Hub, healer Healer, cfg Config) *Reconciler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultConfig().Period
	}
	return &Reconciler{
		store:   store,
		backend: backend,
		hub:     hub,
		healer:  healer,
		cfg:     cfg,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start runs one synchronous pass, then begins the reconciliation loop.
// The immediate pass heals rows left behind by a previous daemon run before
// the API starts answering status queries.
func (r *Reconciler) Start() {
	if platform.Elevated() {
		r.logger.Warn().Msg("running as root/administrator; service install and server deletion are refused while elevated")
	}
	r.reconcile()
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// run is the main reconciliation loop.
func (r *Reconciler) run() {
	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			return
		}
	}
}

// reconcile performs one reconciliation pass.
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)

	r.healStaleRows()
	r.reportDisownedProcesses()
	r.hub.Sweep(time.Now().UTC())
}

// healStaleRows finds rows marked running whose process is gone and applies
// the exit-callback chain with an unknown exit code. Rows whose process the
// hub still tracks are left to the hub's exit watcher; it observes the real
// exit code.
func (r *Reconciler) healStaleRows() {
	servers, err := r.store.ListRunningServers()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list running servers")
		return
	}

	for _, srv := range servers {
		if srv.PID == nil {
			// running=true with no pid never persists; heal it anyway.
			r.logger.Warn().Int64("server_id", srv.ID).Msg("running row without pid, healing")
			r.healer.ApplyExitChain(srv.ID, srv.Name, lifecycle.ExitCodeUnknown, false)
			metrics.ReconcileHeals.Inc()
			continue
		}
		if r.backend.IsAlive(*srv.PID) {
			continue
		}
		if r.hub.Live(srv.ID) {
			// The process just died under the hub's watch; its exit
			// watcher owns the bookkeeping.
			continue
		}
		r.logger.Info().
			Int64("server_id", srv.ID).
			Str("server", srv.Name).
			Int32("pid", *srv.PID).
			Msg("process gone, healing stale running row")
		r.healer.ApplyExitChain(srv.ID, srv.Name, lifecycle.ExitCodeUnknown, false)
		metrics.ReconcileHeals.Inc()
	}
}

// reportDisownedProcesses logs hub children whose database row says the
// server is stopped. The supervisor never kills a process to match the
// database; the inconsistency is surfaced and left to the operator.
func (r *Reconciler) reportDisownedProcesses() {
	for _, id := range r.hub.LiveIDs() {
		srv, err := r.store.GetServer(id)
		if err != nil {
			if !storage.IsNotFound(err) {
				r.logger.Error().Err(err).Int64("server_id", id).Msg("failed to read server row")
			}
			continue
		}
		if !srv.Running {
			r.logger.Warn().
				Int64("server_id", id).
				Str("server", srv.Name).
				Msg("live process for a server the database says is stopped; leaving it running")
		}
	}
}
