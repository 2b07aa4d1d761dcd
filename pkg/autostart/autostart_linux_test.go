package autostart

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls [][]string
	out   map[string]string
	fail  map[string]error
}

func (f *fakeRunner) run(name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	key := args[len(args)-1]
	if err, ok := f.fail[key]; ok {
		return "", err
	}
	return f.out[key], nil
}

func newLinuxService(t *testing.T) (*Service, *fakeRunner) {
	t.Helper()
	restore := elevated
	elevated = func() bool { return false }
	t.Cleanup(func() { elevated = restore })

	fr := &fakeRunner{out: map[string]string{}, fail: map[string]error{}}
	return &Service{execPath: "/opt/msm/msm", cfgDir: t.TempDir(), run: fr.run}, fr
}

func TestInstallWritesUnitAndEnables(t *testing.T) {
	s, fr := newLinuxService(t)

	msg, err := s.Install()
	require.NoError(t, err)
	assert.Contains(t, msg, "starts at login")

	data, err := os.ReadFile(filepath.Join(s.cfgDir, "msm.service"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ExecStart=/opt/msm/msm serve")

	require.Len(t, fr.calls, 2)
	assert.Equal(t, []string{"systemctl", "--user", "daemon-reload"}, fr.calls[0])
	assert.Equal(t, []string{"systemctl", "--user", "enable", "--now", "msm.service"}, fr.calls[1])
}

func TestInstallSurfacesSystemctlFailure(t *testing.T) {
	s, fr := newLinuxService(t)
	fr.fail["msm.service"] = errors.New("exit status 1")

	_, err := s.Install()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "systemctl enable")
}

func TestUninstallRemovesUnit(t *testing.T) {
	s, fr := newLinuxService(t)
	_, err := s.Install()
	require.NoError(t, err)

	msg, err := s.Uninstall()
	require.NoError(t, err)
	assert.Contains(t, msg, "removed")
	assert.NoFileExists(t, filepath.Join(s.cfgDir, "msm.service"))

	// install(2) + disable + reload
	require.Len(t, fr.calls, 4)
	assert.Equal(t, []string{"systemctl", "--user", "disable", "--now", "msm.service"}, fr.calls[2])
}

func TestUninstallWhenNotInstalled(t *testing.T) {
	s, fr := newLinuxService(t)

	msg, err := s.Uninstall()
	require.NoError(t, err)
	assert.Contains(t, msg, "not installed")
	assert.Empty(t, fr.calls, "no systemctl calls without a unit file")
}

func TestStatusStates(t *testing.T) {
	s, fr := newLinuxService(t)

	st, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, StatusNotInstalled, st)

	_, err = s.Install()
	require.NoError(t, err)

	fr.out["msm.service"] = "active"
	st, err = s.Status()
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)

	fr.out["msm.service"] = "inactive"
	st, err = s.Status()
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, st)
}
