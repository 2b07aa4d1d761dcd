// Package framework wires a complete supervisor in-process for
// integration tests: real SQLite catalog, real child processes (shell
// scripts standing in for java), and the real HTTP API behind an
// httptest listener. Tests talk to it the way the CLI does, through
// pkg/client.
package framework

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/api"
	"github.com/craftd/msm/pkg/auth"
	"github.com/craftd/msm/pkg/backup"
	"github.com/craftd/msm/pkg/client"
	"github.com/craftd/msm/pkg/console"
	"github.com/craftd/msm/pkg/datadir"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/health"
	"github.com/craftd/msm/pkg/javamgr"
	"github.com/craftd/msm/pkg/lifecycle"
	"github.com/craftd/msm/pkg/platform"
	"github.com/craftd/msm/pkg/plugins"
	"github.com/craftd/msm/pkg/reconciler"
	"github.com/craftd/msm/pkg/scheduler"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/watchdog"
)

// Daemon is one supervisor instance under test. Every component a
// production daemon wires is reachable directly, so tests can reach
// around the API when a flow needs it (killing a child, forcing a
// reconcile pass).
type Daemon struct {
	Layout  *datadir.Layout
	Store   storage.Store
	Backend *platform.Backend
	Hub     *console.Registry
	Broker  *events.Broker
	Engine  *lifecycle.Manager
	Backups *backup.Manager
	Sched   *scheduler.Scheduler
	Dog     *watchdog.Watchdog
	Recon   *reconciler.Reconciler

	// Client talks to the API exactly as the CLI would.
	Client *client.Client
	// BaseURL is the httptest listener address.
	BaseURL string

	api       *api.Server
	http      *httptest.Server
	artifacts *httptest.Server
}

// Config tunes the daemon under test. The zero value is usable; timings
// default to values tight enough for tests.
type Config struct {
	// ReconcilePeriod shortens the reconciler loop so heal tests do not
	// sleep for a production interval.
	ReconcilePeriod time.Duration
	// StopGrace bounds graceful stops; children here are scripts that
	// obey or ignore "stop" on purpose.
	StopGrace time.Duration
	// KeepBackups is the retention count handed to the backup manager.
	KeepBackups int
	// WatchdogBackoff is the first crash-restart delay.
	WatchdogBackoff time.Duration
}

func (c *Config) defaults() {
	if c.ReconcilePeriod <= 0 {
		c.ReconcilePeriod = 250 * time.Millisecond
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 2 * time.Second
	}
	if c.KeepBackups <= 0 {
		c.KeepBackups = 3
	}
	if c.WatchdogBackoff <= 0 {
		c.WatchdogBackoff = 200 * time.Millisecond
	}
}

// NewDaemon builds and starts a supervisor rooted in a fresh temp
// directory. Everything stops in reverse order when the test finishes.
func NewDaemon(t *testing.T, cfg Config) *Daemon {
	t.Helper()
	cfg.defaults()

	layout, err := datadir.New(t.TempDir())
	require.NoError(t, err)

	store, err := storage.NewSQLiteStore(layout.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	hub := console.NewRegistry(console.DefaultConfig())
	hub.Start()
	t.Cleanup(hub.Stop)

	// Children are shell scripts, so the java process-name check stays
	// off, same as the lifecycle package's own tests.
	backend := platform.NewWithNameHint("")

	// Server jars come from a local stub, not a registry: the resolver
	// below hands out this listener's URL for every distro and version.
	jar := []byte("not actually a jar")
	sum := sha256.Sum256(jar)
	artifacts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jar)
	}))
	t.Cleanup(artifacts.Close)
	resolver := &StubResolver{
		URL:    artifacts.URL,
		Digest: &fetch.Digest{Algo: "sha256", Hex: hex.EncodeToString(sum[:])},
	}

	fetcher := fetch.New(fetch.Options{
		MaxAttempts:    1,
		AttemptTimeout: 5 * time.Second,
		OverallTimeout: 30 * time.Second,
	})
	java := javamgr.New(fetcher, backend, layout.RuntimesDir())

	engine := lifecycle.NewManager(store, backend, hub, resolver, fetcher, broker, lifecycle.Config{
		DataRoot:         layout.Root(),
		StopGrace:        cfg.StopGrace,
		PortProbeTimeout: 200 * time.Millisecond,
	})

	backups := backup.NewManager(store, hub, broker, backup.Config{
		Dir:       layout.BackupsDir(),
		Keep:      cfg.KeepBackups,
		FlushWait: 100 * time.Millisecond,
	})

	plugMgr := plugins.NewManager(store, fetcher, broker)

	dog := watchdog.New(store, engine, broker, watchdog.Config{
		BaseBackoff: cfg.WatchdogBackoff,
		MaxBackoff:  2 * time.Second,
		ResetAfter:  5 * time.Second,
	})
	dog.Start()
	t.Cleanup(dog.Stop)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.StopGrace = cfg.StopGrace
	sched := scheduler.NewScheduler(store, engine, backups, hub, broker, schedCfg)
	sched.Start()
	t.Cleanup(sched.Stop)

	recon := reconciler.NewReconciler(store, backend, hub, engine, reconciler.Config{
		Period: cfg.ReconcilePeriod,
	})
	recon.Start()
	t.Cleanup(recon.Stop)

	apiCfg := api.DefaultConfig("127.0.0.1:0")
	apiCfg.StopGrace = cfg.StopGrace
	srv := api.NewServer(apiCfg, api.Deps{
		Store:    store,
		Engine:   engine,
		Backups:  backups,
		Plugins:  plugMgr,
		Java:     java,
		Versions: resolver,
		Hub:      hub,
		Auth:     auth.NewManager(store),
		Health:   health.NewTracker(),
		Watchdog: dog,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	d := &Daemon{
		Layout:    layout,
		Store:     store,
		Backend:   backend,
		Hub:       hub,
		Broker:    broker,
		Engine:    engine,
		Backups:   backups,
		Sched:     sched,
		Dog:       dog,
		Recon:     recon,
		Client:    client.New(client.Options{Base: ts.URL, Timeout: 30 * time.Second}),
		BaseURL:   ts.URL,
		api:       srv,
		http:      ts,
		artifacts: artifacts,
	}

	// Guarantee no child outlives the test even when a flow fails
	// before its own cleanup runs.
	t.Cleanup(func() { d.KillAll(t) })

	return d
}

// KillAll force-kills every child the catalog still claims is running.
func (d *Daemon) KillAll(t *testing.T) {
	t.Helper()
	servers, err := d.Store.ListServers()
	if err != nil {
		return
	}
	for _, srv := range servers {
		if srv.PID != nil {
			_ = d.Backend.SignalForce(*srv.PID)
		}
	}
}

// ServerDir returns the working directory create gave the named server.
func (d *Daemon) ServerDir(name string) string {
	return filepath.Join(d.Layout.ServersDir(), name)
}
