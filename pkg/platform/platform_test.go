package platform

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test spawns shell scripts")
	}
}

// writeScript drops an executable shell script into a temp dir and
// returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

// collectLines reads everything the child writes to stdout.
func collectLines(t *testing.T, c *Child) []string {
	t.Helper()
	var lines []string
	sc := bufio.NewScanner(c.Stdout())
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestSpawnEnvironmentIsSupersetOfParent(t *testing.T) {
	skipOnWindows(t)

	t.Setenv("MSM_TEST_INHERITED", "from-parent")
	t.Setenv("MSM_TEST_SHADOWED", "parent-value")

	script := writeScript(t, `#!/bin/sh
echo "inherited=$MSM_TEST_INHERITED"
echo "shadowed=$MSM_TEST_SHADOWED"
echo "overlay=$MSM_TEST_OVERLAY"
`)

	b := NewWithNameHint("")
	child, err := b.Spawn(t.TempDir(), []string{script}, map[string]string{
		"MSM_TEST_OVERLAY":  "from-overlay",
		"MSM_TEST_SHADOWED": "overlay-wins",
	})
	require.NoError(t, err)

	lines := collectLines(t, child)
	require.Equal(t, 0, child.Wait())

	// The child sees everything the supervisor had, plus the overlay,
	// with overlay keys winning on collision.
	assert.Contains(t, lines, "inherited=from-parent")
	assert.Contains(t, lines, "shadowed=overlay-wins")
	assert.Contains(t, lines, "overlay=from-overlay")
}

func TestSpawnWithoutOverlayInheritsEverything(t *testing.T) {
	skipOnWindows(t)

	t.Setenv("MSM_TEST_PLAIN", "still-here")
	script := writeScript(t, `#!/bin/sh
echo "plain=$MSM_TEST_PLAIN"
`)

	b := NewWithNameHint("")
	child, err := b.Spawn(t.TempDir(), []string{script}, nil)
	require.NoError(t, err)

	lines := collectLines(t, child)
	require.Equal(t, 0, child.Wait())
	assert.Contains(t, lines, "plain=still-here")
}

func TestSpawnRunsInWorkdir(t *testing.T) {
	skipOnWindows(t)

	workdir := t.TempDir()
	script := writeScript(t, `#!/bin/sh
pwd
`)

	b := NewWithNameHint("")
	child, err := b.Spawn(workdir, []string{script}, nil)
	require.NoError(t, err)

	lines := collectLines(t, child)
	require.Equal(t, 0, child.Wait())
	require.Len(t, lines, 1)

	// Resolve both sides: on macOS TempDir lives under /var -> /private/var.
	want, err := filepath.EvalSymlinks(workdir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSpawnEmptyArgv(t *testing.T) {
	b := New()
	_, err := b.Spawn(t.TempDir(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty argv")
}

func TestSpawnMissingExecutable(t *testing.T) {
	b := New()
	_, err := b.Spawn(t.TempDir(), []string{filepath.Join(t.TempDir(), "no-such-binary")}, nil)
	require.Error(t, err)
}

func TestWaitReportsExitCode(t *testing.T) {
	skipOnWindows(t)

	script := writeScript(t, `#!/bin/sh
exit 7
`)

	b := NewWithNameHint("")
	child, err := b.Spawn(t.TempDir(), []string{script}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, child.Wait())
}

func TestStdinReachesChild(t *testing.T) {
	skipOnWindows(t)

	script := writeScript(t, `#!/bin/sh
read line
echo "got $line"
`)

	b := NewWithNameHint("")
	child, err := b.Spawn(t.TempDir(), []string{script}, nil)
	require.NoError(t, err)

	_, err = fmt.Fprintln(child.Stdin(), "hello")
	require.NoError(t, err)

	lines := collectLines(t, child)
	require.Equal(t, 0, child.Wait())
	assert.Contains(t, lines, "got hello")
}

func TestIsAliveTracksProcess(t *testing.T) {
	skipOnWindows(t)

	script := writeScript(t, `#!/bin/sh
read line
`)

	b := NewWithNameHint("")
	child, err := b.Spawn(t.TempDir(), []string{script}, nil)
	require.NoError(t, err)

	assert.True(t, b.IsAlive(child.PID()))

	require.NoError(t, child.Stdin().Close())
	child.Wait()

	// The table lookup can lag the exit by a scheduler tick.
	deadline := time.Now().Add(2 * time.Second)
	for b.IsAlive(child.PID()) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, b.IsAlive(child.PID()))
}

func TestIsAliveNameHintRejectsReusedPID(t *testing.T) {
	skipOnWindows(t)

	script := writeScript(t, `#!/bin/sh
read line
`)

	hinted := New() // expects "java"
	plain := NewWithNameHint("")
	child, err := plain.Spawn(t.TempDir(), []string{script}, nil)
	require.NoError(t, err)
	defer func() {
		child.Stdin().Close()
		child.Wait()
	}()

	// The live pid belongs to a shell, not java, so the hinted backend
	// must treat it as not ours.
	assert.True(t, plain.IsAlive(child.PID()))
	assert.False(t, hinted.IsAlive(child.PID()))
}

func TestIsAliveRejectsNonPositiveAndDeadPIDs(t *testing.T) {
	b := NewWithNameHint("")
	assert.False(t, b.IsAlive(0))
	assert.False(t, b.IsAlive(-1))
	assert.False(t, b.IsAlive(2147483647))
}

func TestSignalForceEndsStubbornChild(t *testing.T) {
	skipOnWindows(t)

	script := writeScript(t, `#!/bin/sh
trap '' TERM
while true; do sleep 1; done
`)

	b := NewWithNameHint("")
	child, err := b.Spawn(t.TempDir(), []string{script}, nil)
	require.NoError(t, err)

	require.NoError(t, b.SignalGraceful(child.PID()))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, b.IsAlive(child.PID()), "child should survive the trapped graceful signal")

	require.NoError(t, b.SignalForce(child.PID()))
	assert.Equal(t, -1, child.Wait(), "a signal death has no exit code")
}

func TestSignalGracefulOnGonePID(t *testing.T) {
	skipOnWindows(t)
	b := NewWithNameHint("")
	// Both the group lookup and the pid fallback miss; that is not an error.
	assert.NoError(t, b.SignalGraceful(2147483647))
}

func TestCheckPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port

	status := (&Backend{}).CheckPort(port)
	assert.False(t, status.Free)

	require.NoError(t, l.Close())
	status = (&Backend{}).CheckPort(port)
	assert.True(t, status.Free)
	assert.Zero(t, status.HolderPID)
}

func TestProcessStats(t *testing.T) {
	skipOnWindows(t)

	script := writeScript(t, `#!/bin/sh
read line
`)

	b := NewWithNameHint("")
	child, err := b.Spawn(t.TempDir(), []string{script}, nil)
	require.NoError(t, err)
	defer func() {
		child.Stdin().Close()
		child.Wait()
	}()

	stats, err := b.ProcessStats(child.PID())
	require.NoError(t, err)
	assert.NotZero(t, stats.RSSBytes)
	assert.False(t, stats.CreateTime.IsZero())
}

func TestProcessStatsUnknownPID(t *testing.T) {
	_, err := (&Backend{}).ProcessStats(2147483647)
	require.Error(t, err)
}

func TestMergeEnvOverlayWins(t *testing.T) {
	t.Setenv("MSM_MERGE_KEEP", "base")
	t.Setenv("MSM_MERGE_CLOBBER", "base")

	env := mergeEnv(map[string]string{
		"MSM_MERGE_CLOBBER": "overlay",
		"MSM_MERGE_NEW":     "added",
	})

	set := map[string]string{}
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		require.True(t, ok)
		set[k] = v
	}
	assert.Equal(t, "base", set["MSM_MERGE_KEEP"])
	assert.Equal(t, "overlay", set["MSM_MERGE_CLOBBER"])
	assert.Equal(t, "added", set["MSM_MERGE_NEW"])
}

func TestMergeEnvEmptyOverlayIsIdentity(t *testing.T) {
	assert.Equal(t, os.Environ(), mergeEnv(nil))
}

func TestMajorFromVersion(t *testing.T) {
	cases := map[string]int{
		"17.0.9":      17,
		"21":          21,
		"1.8.0_392":   8,
		"11.0.2+9":    11,
		"1.7.0":       7,
		"weird":       0,
		"":            0,
		"1.bad":       0,
		"22-internal": 22,
	}
	for in, want := range cases {
		assert.Equal(t, want, MajorFromVersion(in), "version %q", in)
	}
}

func TestVendorFromBanner(t *testing.T) {
	cases := map[string]string{
		`openjdk version "17.0.9" Temurin`:     "temurin",
		`openjdk version "21" Corretto-21.0.1`: "corretto",
		`openjdk version "17" Zulu17.46+19-CA`: "zulu",
		`openjdk 17 GraalVM CE`:                "graalvm",
		`openjdk version "11.0.2" 2019-01-15`:  "openjdk",
		`java(tm) se runtime environment`:      "oracle",
		`something about a jvm with no tells`:  "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, vendorFromBanner(in), "banner %q", in)
	}
}
