package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/console"
	"github.com/craftd/msm/pkg/distro"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/platform"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

// obedientScript plays the part of a well-behaved server: it announces
// itself, then exits cleanly when the stop command arrives on stdin.
const obedientScript = `#!/bin/sh
echo "server ready"
while read line; do
	if [ "$line" = "stop" ]; then
		echo "stopping"
		exit 0
	fi
done
exit 0
`

// stubbornScript ignores stdin and traps the graceful signal, forcing the
// stop path all the way to the kill stage.
const stubbornScript = `#!/bin/sh
trap '' TERM
while true; do sleep 1; done
`

// deadPID is outside the default Linux pid range and resolves to no
// process on macOS either.
const deadPID int32 = 2147483647

type fakeResolver struct {
	artifact *distro.Artifact
	err      error
	calls    int
}

func (r *fakeResolver) Resolve(ctx context.Context, d types.Distro, version string) (*distro.Artifact, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.artifact, nil
}

type testEnv struct {
	mgr      *Manager
	store    storage.Store
	backend  *platform.Backend
	hub      *console.Registry
	broker   *events.Broker
	resolver *fakeResolver
	dataRoot string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dataRoot := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dataRoot, "msm.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	hub := console.NewRegistry(console.DefaultConfig())
	hub.Start()
	t.Cleanup(hub.Stop)

	// Children here are shell scripts, so the java process-name check
	// must be off.
	backend := platform.NewWithNameHint("")
	resolver := &fakeResolver{}
	client := fetch.New(fetch.Options{MaxAttempts: 1, AttemptTimeout: 5 * time.Second, OverallTimeout: 30 * time.Second})

	cfg := DefaultConfig(dataRoot)
	cfg.StopGrace = 2 * time.Second
	cfg.PortProbeTimeout = 200 * time.Millisecond

	return &testEnv{
		mgr:      NewManager(store, backend, hub, resolver, client, broker, cfg),
		store:    store,
		backend:  backend,
		hub:      hub,
		broker:   broker,
		resolver: resolver,
		dataRoot: dataRoot,
	}
}

// newServer seeds a startable server: working directory under the data
// root, a placeholder jar, an accepted EULA, and a script standing in for
// the java binary.
func (env *testEnv) newServer(t *testing.T, name, script string) *types.Server {
	t.Helper()

	dir := filepath.Join(env.dataRoot, "servers", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.jar"), []byte("jar bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eula.txt"), []byte("eula=true\n"), 0o644))

	javaPath := filepath.Join(dir, "fake-java")
	require.NoError(t, os.WriteFile(javaPath, []byte(script), 0o755))

	srv := &types.Server{
		Name:      name,
		Distro:    types.DistroPaper,
		Version:   "1.21.1",
		Dir:       dir,
		Port:      freePort(t),
		Memory:    "1G",
		JavaPath:  javaPath,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertServer(srv)
		srv.ID = id
		return err
	}))
	return srv
}

func (env *testEnv) getServer(t *testing.T, id int64) *types.Server {
	t.Helper()
	srv, err := env.store.GetServer(id)
	require.NoError(t, err)
	return srv
}

// reapOnExit makes sure a spawned child never outlives its test.
func (env *testEnv) reapOnExit(t *testing.T, pid int32) {
	t.Cleanup(func() { _ = env.backend.SignalForce(pid) })
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives a shell script child")
	}
}

// waitEvents collects events until every wanted type has been seen once.
func waitEvents(t *testing.T, sub events.Subscriber, want ...events.EventType) map[events.EventType]*events.Event {
	t.Helper()
	missing := make(map[events.EventType]bool, len(want))
	for _, w := range want {
		missing[w] = true
	}
	got := make(map[events.EventType]*events.Event, len(want))
	deadline := time.After(3 * time.Second)
	for len(missing) > 0 {
		select {
		case ev := <-sub:
			if missing[ev.Type] {
				delete(missing, ev.Type)
				got[ev.Type] = ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events: %v", missing)
		}
	}
	return got
}

func TestStartRunsServerAndPersists(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)
	sub := env.broker.Subscribe()
	defer env.broker.Unsubscribe(sub)

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)
	require.Greater(t, pid, int32(0))

	assert.True(t, env.hub.Live(srv.ID))
	stored := env.getServer(t, srv.ID)
	assert.True(t, stored.Running)
	require.NotNil(t, stored.PID)
	assert.Equal(t, pid, *stored.PID)
	assert.NotNil(t, stored.LastStarted)
	waitEvents(t, sub, events.EventServerStarted)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))
}

func TestStartAlreadyRunning(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)

	_, err = env.mgr.Start(context.Background(), srv.ID)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "already_running"))

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))
}

func TestStartHealsStaleRowAndProceeds(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		return tx.MarkServerStarted(srv.ID, deadPID, time.Now().UTC())
	}))

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)
	assert.NotEqual(t, deadPID, pid)

	stored := env.getServer(t, srv.ID)
	require.NotNil(t, stored.PID)
	assert.Equal(t, pid, *stored.PID)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))
}

func TestStartRequiresAcceptedEula(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing file", func(t *testing.T) {
		srv := env.newServer(t, "missing-eula", obedientScript)
		require.NoError(t, os.Remove(filepath.Join(srv.Dir, "eula.txt")))

		_, err := env.mgr.Start(context.Background(), srv.ID)
		require.Error(t, err)
		assert.True(t, apierr.HasCode(err, "eula_missing"))
		assert.NoFileExists(t, filepath.Join(srv.Dir, "eula.txt"))
	})

	t.Run("not accepted", func(t *testing.T) {
		srv := env.newServer(t, "declined-eula", obedientScript)
		require.NoError(t, os.WriteFile(filepath.Join(srv.Dir, "eula.txt"), []byte("eula=false\n"), 0o644))

		_, err := env.mgr.Start(context.Background(), srv.ID)
		require.Error(t, err)
		assert.True(t, apierr.HasCode(err, "eula_missing"))
	})
}

func TestStartPortInUse(t *testing.T) {
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port)))
	require.NoError(t, err)
	defer l.Close()

	_, err = env.mgr.Start(context.Background(), srv.ID)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "port_in_use"))
	assert.False(t, env.getServer(t, srv.ID).Running)
}

func TestStartFetchesJarWhenMissing(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)
	require.NoError(t, os.Remove(filepath.Join(srv.Dir, "server.jar")))

	jar := []byte("downloaded jar payload")
	sum := sha256.Sum256(jar)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jar)
	}))
	defer ts.Close()
	env.resolver.artifact = &distro.Artifact{
		URL:    ts.URL + "/paper-1.21.1.jar",
		Digest: &fetch.Digest{Algo: "sha256", Hex: hex.EncodeToString(sum[:])},
	}

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)

	assert.Equal(t, 1, env.resolver.calls)
	data, err := os.ReadFile(filepath.Join(srv.Dir, DefaultJarName))
	require.NoError(t, err)
	assert.Equal(t, jar, data)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))
}

func TestStartWithoutJarOrDistro(t *testing.T) {
	env := newTestEnv(t)
	dir := filepath.Join(env.dataRoot, "servers", "orphan")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	srv := &types.Server{
		Name: "orphan", Dir: dir, Port: freePort(t), Memory: "1G", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertServer(srv)
		srv.ID = id
		return err
	}))

	_, err := env.mgr.Start(context.Background(), srv.ID)
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindResource))
	assert.Equal(t, 0, env.resolver.calls)
}

func TestStartUnknownServer(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.Start(context.Background(), 9999)
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
}

func TestStopViaCommand(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)
	sub := env.broker.Subscribe()
	defer env.broker.Unsubscribe(sub)

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))

	assert.False(t, env.backend.IsAlive(pid))
	stored := env.getServer(t, srv.ID)
	assert.False(t, stored.Running)
	assert.Nil(t, stored.PID)
	assert.NotNil(t, stored.LastStopped)

	got := waitEvents(t, sub, events.EventServerExited, events.EventServerStopped)
	exited := got[events.EventServerExited]
	assert.True(t, exited.Intentional)
	assert.Equal(t, 0, exited.ExitCode)
	assert.False(t, env.hub.Live(srv.ID))
}

func TestStopEscalatesToKill(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", stubbornScript)

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 300*time.Millisecond))

	assert.False(t, env.backend.IsAlive(pid))
	assert.False(t, env.getServer(t, srv.ID).Running)
}

func TestStopAlreadyStopped(t *testing.T) {
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)

	err := env.mgr.Stop(context.Background(), srv.ID, 0)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "already_stopped"))
	assert.Nil(t, env.getServer(t, srv.ID).LastStopped)
}

func TestStopHealsStaleRow(t *testing.T) {
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		return tx.MarkServerStarted(srv.ID, deadPID, time.Now().UTC())
	}))

	err := env.mgr.Stop(context.Background(), srv.ID, 0)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "already_stopped"))

	stored := env.getServer(t, srv.ID)
	assert.False(t, stored.Running)
	assert.Nil(t, stored.PID)
	// A stale row was healed, not stopped; the stop timestamp is untouched.
	assert.Nil(t, stored.LastStopped)
}

func TestRestartSwapsProcess(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)

	first, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, first)

	second, err := env.mgr.Restart(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, second)

	assert.NotEqual(t, first, second)
	assert.False(t, env.backend.IsAlive(first))
	stored := env.getServer(t, srv.ID)
	assert.True(t, stored.Running)
	require.NotNil(t, stored.PID)
	assert.Equal(t, second, *stored.PID)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))
}

func TestRestartStartsStoppedServer(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)

	pid, err := env.mgr.Restart(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)
	assert.True(t, env.getServer(t, srv.ID).Running)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))
}

func TestStatusStopped(t *testing.T) {
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)

	status, err := env.mgr.Status(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Nil(t, status.PID)
	assert.Zero(t, status.UptimeSeconds)
}

func TestStatusRunning(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)

	status, err := env.mgr.Status(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.True(t, status.Running)
	require.NotNil(t, status.PID)
	assert.Equal(t, pid, *status.PID)
	assert.GreaterOrEqual(t, status.UptimeSeconds, int64(0))
	assert.False(t, status.PortOpen)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))
}

func TestStatusReportsOpenPort(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)

	// The script never binds the game port; a listener stands in for it.
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port)))
	require.NoError(t, err)
	defer l.Close()

	status, err := env.mgr.Status(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.True(t, status.PortOpen)

	require.NoError(t, env.mgr.Stop(context.Background(), srv.ID, 0))
}

func TestStatusHealsStaleRow(t *testing.T) {
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		return tx.MarkServerStarted(srv.ID, deadPID, time.Now().UTC())
	}))

	status, err := env.mgr.Status(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.False(t, status.Running)

	stored := env.getServer(t, srv.ID)
	assert.False(t, stored.Running)
	assert.Nil(t, stored.PID)
	assert.NotNil(t, stored.LastStopped)
}

func TestExitChainOnCrash(t *testing.T) {
	skipOnWindows(t)
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", stubbornScript)
	sub := env.broker.Subscribe()
	defer env.broker.Unsubscribe(sub)

	pid, err := env.mgr.Start(context.Background(), srv.ID)
	require.NoError(t, err)
	env.reapOnExit(t, pid)

	// Kill out-of-band: the hub watcher must report a crash, not a stop.
	require.NoError(t, env.backend.SignalForce(pid))

	got := waitEvents(t, sub, events.EventServerExited)
	exited := got[events.EventServerExited]
	assert.False(t, exited.Intentional)
	assert.Equal(t, srv.ID, exited.ServerID)

	require.Eventually(t, func() bool {
		s, err := env.store.GetServer(srv.ID)
		return err == nil && !s.Running && s.LastStopped != nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestApplyExitChainDirect(t *testing.T) {
	env := newTestEnv(t)
	srv := env.newServer(t, "alpha", obedientScript)
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		return tx.MarkServerStarted(srv.ID, deadPID, time.Now().UTC())
	}))
	sub := env.broker.Subscribe()
	defer env.broker.Unsubscribe(sub)

	env.mgr.ApplyExitChain(srv.ID, srv.Name, ExitCodeUnknown, false)

	got := waitEvents(t, sub, events.EventServerExited)
	assert.Equal(t, ExitCodeUnknown, got[events.EventServerExited].ExitCode)

	stored := env.getServer(t, srv.ID)
	assert.False(t, stored.Running)
	assert.NotNil(t, stored.LastStopped)
}

func TestEulaAccepted(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"accepted", "eula=true\n", true},
		{"accepted uppercase", "EULA_IGNORED=x\neula=TRUE\n", true},
		{"accepted with spaces", "eula = true\n", true},
		{"accepted with comments", "#By changing the setting below to TRUE...\n#Tue Jan 07 12:00:00 UTC 2025\neula=true\n", true},
		{"crlf line endings", "#comment\r\neula=true\r\n", true},
		{"declined", "eula=false\n", false},
		{"comment only", "#eula=true\n", false},
		{"empty file", "", false},
		{"unrelated keys", "motd=hello\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "eula.txt")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			assert.Equal(t, tt.want, eulaAccepted(path))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		assert.False(t, eulaAccepted(filepath.Join(t.TempDir(), "eula.txt")))
	})
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		srv  types.Server
		jar  string
		want []string
	}{
		{
			name: "defaults",
			srv:  types.Server{Memory: "2G"},
			jar:  "server.jar",
			want: []string{platform.JavaExecutableName(), "-Xmx2G", "-Xms2G", "-jar", "server.jar", "nogui"},
		},
		{
			name: "custom runtime and flags",
			srv:  types.Server{Memory: "512M", JavaPath: "/opt/java/bin/java", JavaArgs: "-XX:+UseG1GC -XX:MaxGCPauseMillis=200"},
			jar:  "paper.jar",
			want: []string{"/opt/java/bin/java", "-Xmx512M", "-Xms512M", "-XX:+UseG1GC", "-XX:MaxGCPauseMillis=200", "-jar", "paper.jar", "nogui"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildArgs(&tt.srv, tt.jar))
		})
	}
}
