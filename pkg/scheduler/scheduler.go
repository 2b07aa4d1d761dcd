package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/metrics"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

// cronParser accepts the standard 5-field expression: minute, hour,
// day-of-month, month, day-of-week. Ranges, lists, steps and the DOM/DOW
// OR rule behave as classic cron.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// errSkip aborts a claim scope without surfacing an error: the schedule was
// disabled or rescheduled between the due check and the claim.
var errSkip = errors.New("schedule no longer due")

// ValidateCron checks a 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return apierr.Validation("cron", fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return nil
}

// NextAfter returns the first fire time of expr strictly after the given
// instant.
func NextAfter(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, apierr.Validation("cron", fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return sched.Next(after), nil
}

// CommandPayload extracts the console command from a schedule payload.
// JSON object payloads carry it under "command"; anything else is taken as
// the raw command string.
func CommandPayload(payload string) (string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", apierr.Validation("payload", "command schedule requires a payload")
	}
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err != nil {
			return "", apierr.Validation("payload", fmt.Sprintf("invalid command payload: %v", err))
		}
		if strings.TrimSpace(body.Command) == "" {
			return "", apierr.Validation("payload", "command payload is empty")
		}
		return body.Command, nil
	}
	return trimmed, nil
}

// Lifecycle is the slice of the lifecycle engine that scheduled actions
// drive.
type Lifecycle interface {
	Start(ctx context.Context, id int64) (int32, error)
	Stop(ctx context.Context, id int64, grace time.Duration) error
	Restart(ctx context.Context, id int64) (int32, error)
}

// BackupRunner archives a server for scheduled backups.
type BackupRunner interface {
	Create(ctx context.Context, srv *types.Server, kind types.BackupKind) (*types.Backup, error)
}

// CommandSink injects console commands for command schedules.
type CommandSink interface {
	WriteCommand(serverID int64, command string) error
}

// Config tunes the dispatch loop.
type Config struct {
	// TickInterval is how often due schedules are checked.
	TickInterval time.Duration
	// StopGrace bounds scheduled stop and restart actions.
	StopGrace time.Duration
	// DispatchTimeout bounds one scheduled action end to end.
	DispatchTimeout time.Duration
}

// DefaultConfig returns the standard scheduler tuning.
func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		StopGrace:       30 * time.Second,
		DispatchTimeout: 15 * time.Minute,
	}
}

type inflightKey struct {
	serverID int64
	action   types.ScheduleAction
}

// Scheduler fires stored cron schedules against the lifecycle engine, the
// backup manager and the console hub. Fire times are precomputed and
// persisted; a missed fire (daemon down) is skipped, never replayed.
type Scheduler struct {
	store   storage.Store
	life    Lifecycle
	backups BackupRunner
	hub     CommandSink
	broker  *events.Broker
	cfg     Config

	mu       sync.Mutex
	inflight map[inflightKey]bool

	stopCh chan struct{}
}

// NewScheduler creates a scheduler. Zero values in cfg fall back to
// defaults.
func NewScheduler(store storage.Store, life Lifecycle, backups BackupRunner, hub CommandSink, broker *events.Broker, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = def.DispatchTimeout
	}
	return &Scheduler{
		store:    store,
		life:     life,
		backups:  backups,
		hub:      hub,
		broker:   broker,
		cfg:      cfg,
		inflight: make(map[inflightKey]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start primes fire times and begins the dispatch loop.
func (s *Scheduler) Start() {
	s.prime(time.Now().UTC())
	go s.run()
}

// Stop halts the dispatch loop. In-flight actions finish on their own.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// run is the main dispatch loop.
func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(time.Now().UTC())
		case <-s.stopCh:
			return
		}
	}
}

// prime recomputes next_run for every enabled schedule. Fires that came due
// while the daemon was down land in the past and are skipped here: the next
// persisted fire time is always in the future.
func (s *Scheduler) prime(now time.Time) {
	logger := log.WithComponent("scheduler")

	err := s.store.WithTx(func(tx *storage.Tx) error {
		schedules, err := tx.ListEnabledSchedules()
		if err != nil {
			return err
		}
		for _, sc := range schedules {
			next, err := NextAfter(sc.Cron, now)
			if err != nil {
				logger.Error().Err(err).Int64("schedule_id", sc.ID).Msg("schedule has an invalid cron expression")
				continue
			}
			sc.NextRun = &next
			if err := tx.UpdateSchedule(sc); err != nil {
				return err
			}
		}
		logger.Info().Int("schedules", len(schedules)).Msg("primed schedule fire times")
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to prime schedules")
	}
}

// tick fires every enabled schedule whose persisted next_run has passed.
func (s *Scheduler) tick(now time.Time) {
	schedules, err := s.store.ListEnabledSchedules()
	if err != nil {
		logger := log.WithComponent("scheduler")
		logger.Error().Err(err).Msg("failed to list schedules")
		return
	}
	for _, sc := range schedules {
		if sc.NextRun == nil || sc.NextRun.After(now) {
			continue
		}
		s.fire(sc, now)
	}
}

// fire claims a due schedule and dispatches its action. The claim re-reads
// the row in one scope, confirms it is still enabled and due, and advances
// last_run/next_run; the action itself runs outside the scope so a slow
// backup never holds the store.
func (s *Scheduler) fire(sc *types.Schedule, now time.Time) {
	logger := log.WithSchedule(sc.ID)
	key := inflightKey{serverID: sc.ServerID, action: sc.Action}
	if !s.claim(key) {
		logger.Warn().
			Int64("server_id", sc.ServerID).
			Str("action", string(sc.Action)).
			Msg("dropping schedule fire, previous run still in flight")
		metrics.ScheduledRuns.WithLabelValues(string(sc.Action), "skipped").Inc()
		return
	}

	var claimed *types.Schedule
	err := s.store.WithTx(func(tx *storage.Tx) error {
		cur, err := tx.GetSchedule(sc.ID)
		if err != nil {
			return err
		}
		if !cur.Enabled || cur.NextRun == nil || cur.NextRun.After(now) {
			return errSkip
		}
		next, err := NextAfter(cur.Cron, now)
		if err != nil {
			return err
		}
		if err := tx.MarkScheduleRun(cur.ID, now, next); err != nil {
			return err
		}
		claimed = cur
		return nil
	})
	if err != nil {
		s.release(key)
		if !errors.Is(err, errSkip) {
			logger.Error().Err(err).Msg("failed to claim schedule")
		}
		return
	}

	go func() {
		defer s.release(key)
		s.dispatch(claimed)
	}()
}

// dispatch executes one claimed schedule action. Errors are logged and
// counted, never propagated: one failing action must not stall the loop.
func (s *Scheduler) dispatch(sc *types.Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DispatchTimeout)
	defer cancel()

	// Each fire gets a run id so the lines it causes in the lifecycle and
	// backup logs can be tied back to this dispatch.
	runID := uuid.NewString()
	logger := log.WithSchedule(sc.ID).With().Str("run_id", runID).Logger()
	var err error

	switch sc.Action {
	case types.ActionStart:
		_, err = s.life.Start(ctx, sc.ServerID)
	case types.ActionStop:
		err = s.life.Stop(ctx, sc.ServerID, s.cfg.StopGrace)
	case types.ActionRestart:
		_, err = s.life.Restart(ctx, sc.ServerID)
	case types.ActionBackup:
		var srv *types.Server
		if srv, err = s.store.GetServer(sc.ServerID); err == nil {
			_, err = s.backups.Create(ctx, srv, types.BackupScheduled)
		}
	case types.ActionCommand:
		var cmd string
		if cmd, err = CommandPayload(sc.Payload); err == nil {
			err = s.hub.WriteCommand(sc.ServerID, cmd)
		}
	default:
		err = fmt.Errorf("unknown schedule action %q", sc.Action)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.Warn().Err(err).
			Int64("server_id", sc.ServerID).
			Str("action", string(sc.Action)).
			Msg("scheduled action failed")
	} else {
		logger.Info().
			Int64("server_id", sc.ServerID).
			Str("action", string(sc.Action)).
			Msg("scheduled action completed")
	}
	metrics.ScheduledRuns.WithLabelValues(string(sc.Action), outcome).Inc()

	s.broker.Publish(&events.Event{
		Type:     events.EventScheduleFired,
		ServerID: sc.ServerID,
		Message:  string(sc.Action),
	})
}

func (s *Scheduler) claim(key inflightKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *Scheduler) release(key inflightKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}
