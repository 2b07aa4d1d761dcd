package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/metrics"
	"github.com/craftd/msm/pkg/storage"
)

// Restarter is the slice of the lifecycle engine the watchdog drives.
type Restarter interface {
	Start(ctx context.Context, id int64) (int32, error)
}

// Config tunes the crash-restart backoff.
type Config struct {
	// BaseBackoff is the delay before the first restart attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
	// ResetAfter is how long a server must run cleanly before its backoff
	// resets to base.
	ResetAfter time.Duration
	// StartTimeout bounds one restart attempt.
	StartTimeout time.Duration
}

// DefaultConfig returns the standard watchdog tuning.
func DefaultConfig() Config {
	return Config{
		BaseBackoff:  30 * time.Second,
		MaxBackoff:   10 * time.Minute,
		ResetAfter:   10 * time.Minute,
		StartTimeout: 2 * time.Minute,
	}
}

// crashState is the per-server restart bookkeeping. backoff holds the delay
// the NEXT crash will wait; timer is the pending restart, if any.
type crashState struct {
	backoff   time.Duration
	lastStart time.Time
	timer     *time.Timer
}

// Watchdog restarts crashed servers that opted in via restart_on_crash.
// Exits the supervisor itself requested never trigger it, and operator
// stop or delete cancels a pending restart.
type Watchdog struct {
	store  storage.Store
	life   Restarter
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	state map[int64]*crashState

	sub    events.Subscriber
	stopCh chan struct{}
}

// New creates a watchdog. Zero values in cfg fall back to defaults.
func New(store storage.Store, life Restarter, broker *events.Broker, cfg Config) *Watchdog {
	def := DefaultConfig()
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = def.ResetAfter
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	return &Watchdog{
		store:  store,
		life:   life,
		broker: broker,
		cfg:    cfg,
		logger: log.WithComponent("watchdog"),
		state:  make(map[int64]*crashState),
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to the event bus and begins watching for crashes.
func (w *Watchdog) Start() {
	w.sub = w.broker.Subscribe()
	go w.run()
}

// Stop unsubscribes and cancels every pending restart.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	w.broker.Unsubscribe(w.sub)

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, st := range w.state {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(w.state, id)
	}
}

// Cancel drops any pending restart and crash history for a server. The API
// layer calls it on operator stop and delete.
func (w *Watchdog) Cancel(serverID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.state[serverID]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(w.state, serverID)
		w.logger.Debug().Int64("server_id", serverID).Msg("pending restart cancelled")
	}
}

func (w *Watchdog) run() {
	for {
		select {
		case ev := <-w.sub:
			w.handle(ev)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watchdog) handle(ev *events.Event) {
	switch ev.Type {
	case events.EventServerExited:
		if ev.Intentional {
			w.Cancel(ev.ServerID)
			return
		}
		w.onCrash(ev.ServerID, ev.ServerName)
	case events.EventServerStopped, events.EventServerDeleted:
		w.Cancel(ev.ServerID)
	}
}

// onCrash schedules a restart for an opted-in server. Repeated crashes
// double the delay up to the cap; a clean run of ResetAfter brings it back
// to base.
func (w *Watchdog) onCrash(serverID int64, serverName string) {
	srv, err := w.store.GetServer(serverID)
	if err != nil {
		if !storage.IsNotFound(err) {
			w.logger.Error().Err(err).Int64("server_id", serverID).Msg("failed to read server after crash")
		}
		return
	}
	if !srv.RestartOnCrash {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.state[serverID]
	if !ok {
		st = &crashState{backoff: w.cfg.BaseBackoff}
		w.state[serverID] = st
	} else if !st.lastStart.IsZero() && time.Since(st.lastStart) >= w.cfg.ResetAfter {
		st.backoff = w.cfg.BaseBackoff
	}

	delay := st.backoff
	st.backoff *= 2
	if st.backoff > w.cfg.MaxBackoff {
		st.backoff = w.cfg.MaxBackoff
	}

	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(delay, func() { w.fire(serverID, serverName) })

	logger := log.WithServer(serverID, serverName)
	logger.Info().
		Dur("delay", delay).
		Msg("crash detected, restart scheduled")
}

// fire attempts the restart. The world may have moved since scheduling: the
// row is re-read and the attempt skipped if the server was deleted, opted
// out, or is already back up.
func (w *Watchdog) fire(serverID int64, serverName string) {
	w.mu.Lock()
	if st, ok := w.state[serverID]; ok {
		st.timer = nil
	} else {
		// Cancelled between the timer firing and this goroutine running.
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	logger := log.WithServer(serverID, serverName)

	srv, err := w.store.GetServer(serverID)
	if err != nil {
		if !storage.IsNotFound(err) {
			logger.Error().Err(err).Msg("failed to read server before restart")
		}
		w.Cancel(serverID)
		return
	}
	if !srv.RestartOnCrash {
		w.Cancel(serverID)
		return
	}
	if srv.Running {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.StartTimeout)
	defer cancel()

	pid, err := w.life.Start(ctx, serverID)
	if err != nil {
		if apierr.HasCode(err, "already_running") {
			return
		}
		logger.Warn().Err(err).Msg("crash restart failed, will back off further on next crash")
		w.rearm(serverID, serverName)
		return
	}

	metrics.CrashRestarts.Inc()
	w.mu.Lock()
	if st, ok := w.state[serverID]; ok {
		st.lastStart = time.Now()
	}
	w.mu.Unlock()
	logger.Info().Int32("pid", pid).Msg("server restarted after crash")
}

// rearm schedules another attempt after a failed restart, using the already
// doubled backoff.
func (w *Watchdog) rearm(serverID int64, serverName string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.state[serverID]
	if !ok {
		return
	}
	delay := st.backoff
	st.backoff *= 2
	if st.backoff > w.cfg.MaxBackoff {
		st.backoff = w.cfg.MaxBackoff
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(delay, func() { w.fire(serverID, serverName) })
}
