package framework

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/distro"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/types"
)

// ObedientScript stands in for a well-behaved server: it announces
// itself, echoes console commands, and exits cleanly on "stop".
const ObedientScript = `#!/bin/sh
echo "Done (1.2s)! For help, type \"help\""
while read line; do
	if [ "$line" = "stop" ]; then
		echo "Stopping the server"
		exit 0
	fi
	echo "ran $line"
done
exit 0
`

// CrashingScript exits nonzero shortly after starting, which is what a
// JVM out-of-memory death looks like to the supervisor.
const CrashingScript = `#!/bin/sh
echo "Done (1.2s)! For help, type \"help\""
sleep 0.3
echo "A fatal error has been detected" >&2
exit 1
`

// StubbornScript ignores stdin and traps the graceful signal, forcing
// stops through the kill escalation.
const StubbornScript = `#!/bin/sh
trap '' TERM
while true; do sleep 1; done
`

// StubResolver satisfies both the lifecycle engine's artifact lookup and
// the API's version listing without touching any registry.
type StubResolver struct {
	URL    string
	Digest *fetch.Digest
}

func (r *StubResolver) Resolve(ctx context.Context, d types.Distro, version string) (*distro.Artifact, error) {
	return &distro.Artifact{URL: r.URL, Digest: r.Digest, Build: "stub"}, nil
}

func (r *StubResolver) Versions(ctx context.Context, d types.Distro, includeSnapshots bool) ([]string, error) {
	versions := []string{"1.21.1", "1.21", "1.20.4"}
	if includeSnapshots {
		versions = append([]string{"24w33a"}, versions...)
	}
	return versions, nil
}

// CreateServer provisions a server through the API with a script standing
// in for java, ready to start. The script lands outside the server dir so
// delete cannot take it along.
func (d *Daemon) CreateServer(t *testing.T, name, script string) *types.Server {
	t.Helper()

	javaPath := filepath.Join(d.Layout.Root(), "fake-java-"+name)
	require.NoError(t, os.WriteFile(javaPath, []byte(script), 0o755))

	srv, err := d.Client.CreateServer(context.Background(), &types.CreateServerSpec{
		Name:     name,
		Distro:   types.DistroPaper,
		Version:  "1.21.1",
		Port:     FreePort(t),
		Memory:   "1G",
		JavaPath: javaPath,
	})
	require.NoError(t, err)
	return srv
}

// FreePort grabs an ephemeral port the kernel considers free right now.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// SkipUnlessUnix skips flows that drive shell-script children.
func SkipUnlessUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("flow drives a shell script child")
	}
}
