// Package lifecycle is the engine behind every server operation: create,
// import, start, stop, restart, status, update, and delete. HTTP handlers,
// CLI commands, the scheduler, and the watchdog all go through the same
// Manager, so the locking and persistence rules live in exactly one place.
package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/console"
	"github.com/craftd/msm/pkg/distro"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/health"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/platform"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

// ExitCodeUnknown is recorded when a child died while nobody was watching:
// the reconciler found a stale pid and cannot recover the real exit code.
const ExitCodeUnknown = -1

// DefaultJarName is the file servers are launched from when the directory
// does not already carry a recognizable jar.
const DefaultJarName = "server.jar"

// Config tunes the engine.
type Config struct {
	// DataRoot is the supervisor's state directory. Server working
	// directories are allocated under <DataRoot>/servers/<name>.
	DataRoot string

	// StopGrace bounds each phase of the stop escalation: stdin command,
	// then graceful signal, then force kill.
	StopGrace time.Duration

	// PortProbeTimeout bounds the loopback dial used by Status to report
	// whether the game port accepts connections.
	PortProbeTimeout time.Duration
}

// DefaultConfig returns the standard engine tuning rooted at dataRoot.
func DefaultConfig(dataRoot string) Config {
	return Config{
		DataRoot:         dataRoot,
		StopGrace:        30 * time.Second,
		PortProbeTimeout: time.Second,
	}
}

// Resolver turns a (distribution, version) pair into a downloadable
// artifact. *distro.Resolver is the production implementation.
type Resolver interface {
	Resolve(ctx context.Context, d types.Distro, version string) (*distro.Artifact, error)
}

// Manager coordinates server processes against their database records.
type Manager struct {
	store    storage.Store
	backend  *platform.Backend
	hub      *console.Registry
	resolver Resolver
	client   *fetch.Client
	events   *events.Broker
	cfg      Config
}

var _ Resolver = (*distro.Resolver)(nil)

// NewManager wires the engine and installs its exit handler on the hub.
// It must be constructed before the first child is adopted.
func NewManager(store storage.Store, backend *platform.Backend, hub *console.Registry, resolver Resolver, client *fetch.Client, broker *events.Broker, cfg Config) *Manager {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 30 * time.Second
	}
	if cfg.PortProbeTimeout <= 0 {
		cfg.PortProbeTimeout = time.Second
	}
	m := &Manager{
		store:    store,
		backend:  backend,
		hub:      hub,
		resolver: resolver,
		client:   client,
		events:   broker,
		cfg:      cfg,
	}
	hub.SetExitHandler(m.handleExit)
	return m
}

// ServersDir returns the directory new server working directories are
// allocated under.
func (m *Manager) ServersDir() string {
	return filepath.Join(m.cfg.DataRoot, "servers")
}

// Start launches a server and returns the child pid. A record that claims
// running is trusted only if the OS confirms the pid; a stale claim is
// healed and the start proceeds. The jar is fetched when missing, but
// eula.txt is never written on the operator's behalf: starting without an
// accepted EULA fails.
func (m *Manager) Start(ctx context.Context, id int64) (int32, error) {
	var srv *types.Server
	err := m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetServer(id)
		if err != nil {
			return err
		}
		if s.Running && s.PID != nil && m.backend.IsAlive(*s.PID) {
			return apierr.AlreadyRunning(s.Name)
		}
		if s.Running {
			logger := log.WithServer(s.ID, s.Name)
			logger.Warn().Msg("healing stale running state before start")
			if err := tx.ClearServerRunState(s.ID); err != nil {
				return err
			}
			s.Running = false
			s.PID = nil
		}
		srv = s
		return nil
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return 0, apierr.NotFound("server")
		}
		return 0, err
	}

	if err := os.MkdirAll(srv.Dir, 0o755); err != nil {
		return 0, apierr.Resourcef(err, "failed to create server directory %s", srv.Dir)
	}

	jarName, err := m.ensureJar(ctx, srv)
	if err != nil {
		return 0, err
	}

	eulaPath := filepath.Join(srv.Dir, "eula.txt")
	if !eulaAccepted(eulaPath) {
		return 0, apierr.EulaMissing(eulaPath)
	}

	if status := m.backend.CheckPort(srv.Port); !status.Free {
		return 0, apierr.PortInUse(srv.Port, status.HolderPID)
	}

	argv := buildArgs(srv, jarName)
	child, err := m.backend.Spawn(srv.Dir, argv, nil)
	if err != nil {
		return 0, apierr.Resourcef(err, "failed to spawn server process")
	}
	pid := child.PID()
	m.hub.Adopt(srv.ID, srv.Name, child)

	now := time.Now().UTC()
	err = m.store.WithTx(func(tx *storage.Tx) error {
		return tx.MarkServerStarted(srv.ID, pid, now)
	})
	if err != nil {
		// The child is already up and adopted; the row will catch up on
		// the next status call or reconciler pass.
		logger := log.WithServer(srv.ID, srv.Name)
		logger.Error().Err(err).Int32("pid", pid).
			Msg("server spawned but run state could not be persisted")
		return pid, apierr.Internalf(err, "server started with pid %d but its state could not be persisted", pid)
	}

	logger := log.WithServer(srv.ID, srv.Name)
	logger.Info().Int32("pid", pid).Str("jar", jarName).Msg("server started")
	m.events.Publish(&events.Event{Type: events.EventServerStarted, ServerID: srv.ID, ServerName: srv.Name})
	return pid, nil
}

// Stop shuts a server down with a three-stage escalation: the in-game stop
// command over stdin, then a graceful signal, then a forced kill, each
// bounded by grace (zero selects the configured default). Stopping a server
// that is not running returns AlreadyStopped and mutates nothing.
func (m *Manager) Stop(ctx context.Context, id int64, grace time.Duration) error {
	if grace <= 0 {
		grace = m.cfg.StopGrace
	}

	var srv *types.Server
	err := m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetServer(id)
		if err != nil {
			return err
		}
		if !s.Running || s.PID == nil {
			return apierr.AlreadyStopped(s.Name)
		}
		if !m.backend.IsAlive(*s.PID) {
			logger := log.WithServer(s.ID, s.Name)
			logger.Warn().Msg("healing stale running state during stop")
			if err := tx.ClearServerRunState(s.ID); err != nil {
				return err
			}
			return apierr.AlreadyStopped(s.Name)
		}
		srv = s
		return nil
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return apierr.NotFound("server")
		}
		return err
	}

	pid := *srv.PID
	slog := log.WithServer(srv.ID, srv.Name)

	// The exit watcher fires the moment the child dies; marking first
	// ensures it reports an operator stop, not a crash.
	m.hub.MarkIntentional(srv.ID)

	if err := m.hub.WriteCommand(srv.ID, "stop"); err != nil {
		slog.Debug().Err(err).Msg("stdin path unavailable, escalating to signals")
	} else if m.awaitExit(ctx, pid, grace) {
		return m.finishStop(srv)
	}

	slog.Warn().Dur("grace", grace).Msg("server ignored stop command, sending graceful signal")
	if err := m.backend.SignalGraceful(pid); err != nil {
		slog.Debug().Err(err).Msg("graceful signal failed")
	} else if m.awaitExit(ctx, pid, grace) {
		return m.finishStop(srv)
	}

	slog.Warn().Msg("server ignored graceful signal, force killing")
	if err := m.backend.SignalForce(pid); err != nil && m.backend.IsAlive(pid) {
		return apierr.Internalf(err, "failed to kill server process %d", pid)
	}
	m.awaitExit(ctx, pid, grace)
	return m.finishStop(srv)
}

// finishStop persists the stopped fields. The exit-callback chain usually
// lands first via the hub watcher; writing again is harmless and covers
// children that were never adopted.
func (m *Manager) finishStop(srv *types.Server) error {
	err := m.store.WithTx(func(tx *storage.Tx) error {
		return tx.MarkServerStopped(srv.ID, time.Now().UTC())
	})
	if err != nil {
		return apierr.Internalf(err, "server stopped but its state could not be persisted")
	}
	logger := log.WithServer(srv.ID, srv.Name)
	logger.Info().Msg("server stopped")
	m.events.Publish(&events.Event{Type: events.EventServerStopped, ServerID: srv.ID, ServerName: srv.Name})
	return nil
}

// awaitExit polls the process table until the pid is gone, the deadline
// passes, or ctx is canceled. Reports whether the process exited.
func (m *Manager) awaitExit(ctx context.Context, pid int32, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !m.backend.IsAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !m.backend.IsAlive(pid)
		case <-ticker.C:
		}
	}
}

// Restart is a stop followed by a start. A server that was not running is
// simply started; the stopped state between the two phases is persisted
// and visible to concurrent readers.
func (m *Manager) Restart(ctx context.Context, id int64) (int32, error) {
	if err := m.Stop(ctx, id, 0); err != nil && !apierr.HasCode(err, "already_stopped") {
		return 0, err
	}
	return m.Start(ctx, id)
}

// Status reports the live view of one server. The database snapshot is
// reconciled against the process table inline: a running claim the OS
// denies is healed within the same scope before the view is returned.
func (m *Manager) Status(ctx context.Context, id int64) (*types.ServerStatus, error) {
	var srv *types.Server
	status := &types.ServerStatus{}
	err := m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetServer(id)
		if err != nil {
			return err
		}
		srv = s
		if !s.Running || s.PID == nil {
			return nil
		}
		if !m.backend.IsAlive(*s.PID) {
			logger := log.WithServer(s.ID, s.Name)
			logger.Warn().Int32("pid", *s.PID).
				Msg("process table disagrees with running state, healing record")
			if err := tx.MarkServerStopped(s.ID, time.Now().UTC()); err != nil {
				return err
			}
			srv.Running = false
			srv.PID = nil
			return nil
		}
		status.Running = true
		status.PID = s.PID
		return nil
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apierr.NotFound("server")
		}
		return nil, err
	}

	if !status.Running {
		return status, nil
	}

	if stats, err := m.backend.ProcessStats(*status.PID); err == nil {
		status.CPUPercent = stats.CPUPercent
		status.MemoryBytes = stats.RSSBytes
		if !stats.CreateTime.IsZero() {
			status.UptimeSeconds = int64(time.Since(stats.CreateTime).Seconds())
		}
	} else if srv.LastStarted != nil {
		status.UptimeSeconds = int64(time.Since(*srv.LastStarted).Seconds())
	}
	status.PortOpen = health.PortOpen(ctx, srv.Port, m.cfg.PortProbeTimeout)
	return status, nil
}

// ApplyExitChain runs the post-exit sequence for a server: persist the
// stopped fields, then publish the exit so console subscribers and hooks
// (watchdog, metrics) hear about it. A failing step is logged and never
// blocks the steps after it. The hub exit watcher calls this for adopted
// children; the reconciler calls it with ExitCodeUnknown for children that
// died unobserved.
func (m *Manager) ApplyExitChain(serverID int64, serverName string, exitCode int, intentional bool) {
	err := m.store.WithTx(func(tx *storage.Tx) error {
		return tx.MarkServerStopped(serverID, time.Now().UTC())
	})
	if err != nil && !storage.IsNotFound(err) {
		logger := log.WithServer(serverID, serverName)
		logger.Error().Err(err).Msg("failed to persist exit")
	}

	logger := log.WithServer(serverID, serverName)
	logger.Info().
		Int("exit_code", exitCode).Bool("intentional", intentional).Msg("server exited")
	m.events.Publish(&events.Event{
		Type:        events.EventServerExited,
		ServerID:    serverID,
		ServerName:  serverName,
		ExitCode:    exitCode,
		Intentional: intentional,
	})
}

func (m *Manager) handleExit(serverID int64, serverName string, exitCode int, intentional bool) {
	m.ApplyExitChain(serverID, serverName, exitCode, intentional)
}

// ensureJar locates the jar the server will boot from, fetching one from
// the distribution registry when the directory has none.
func (m *Manager) ensureJar(ctx context.Context, srv *types.Server) (string, error) {
	if name, ok := findServerJar(srv.Dir); ok {
		return name, nil
	}
	if !srv.Distro.Valid() {
		return "", apierr.Resourcef(nil, "no server jar in %s and no known distribution to fetch one from", srv.Dir)
	}

	logger := log.WithServer(srv.ID, srv.Name)
	logger.Info().
		Str("distro", string(srv.Distro)).Str("version", srv.Version).Msg("server jar missing, fetching")
	artifact, err := m.resolver.Resolve(ctx, srv.Distro, srv.Version)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(srv.Dir, DefaultJarName)
	if err := m.client.Download(ctx, artifact.URL, dest, artifact.Digest); err != nil {
		return "", err
	}
	return DefaultJarName, nil
}

// buildArgs composes the launch vector. Heap min and max are pinned to the
// same size so the JVM never grows mid-session, and nogui suppresses the
// Swing console window on desktop hosts.
func buildArgs(srv *types.Server, jarName string) []string {
	java := srv.JavaPath
	if java == "" {
		java = platform.JavaExecutableName()
	}
	argv := []string{java, "-Xmx" + srv.Memory, "-Xms" + srv.Memory}
	argv = append(argv, strings.Fields(srv.JavaArgs)...)
	return append(argv, "-jar", jarName, "nogui")
}

// eulaAccepted reports whether path exists and carries eula=true. Mojang's
// launcher writes lowercase, but hand-edited files show up in every case.
func eulaAccepted(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "eula" {
			return strings.EqualFold(strings.TrimSpace(value), "true")
		}
	}
	return false
}
