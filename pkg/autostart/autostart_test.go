package autostart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemdUnitText(t *testing.T) {
	unit := SystemdUnit("/usr/local/bin/msm")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/msm serve")
	assert.Contains(t, unit, "Restart=on-failure")
	assert.Contains(t, unit, "WantedBy=default.target")
	assert.Contains(t, unit, "[Unit]")
	assert.Contains(t, unit, "[Service]")
	assert.Contains(t, unit, "[Install]")
}

func TestLaunchdPlistText(t *testing.T) {
	plist := LaunchdPlist("/Users/steve/bin/msm")
	assert.Contains(t, plist, "<key>Label</key>")
	assert.Contains(t, plist, "<string>com.craftd.msm</string>")
	assert.Contains(t, plist, "<string>/Users/steve/bin/msm</string>")
	assert.Contains(t, plist, "<string>serve</string>")
	assert.Contains(t, plist, "<key>RunAtLoad</key>")
}

func TestLaunchdPlistEscapesPath(t *testing.T) {
	plist := LaunchdPlist("/opt/a&b/msm")
	assert.Contains(t, plist, "/opt/a&amp;b/msm")
	assert.NotContains(t, plist, "a&b")
}

func TestElevatedGuard(t *testing.T) {
	restore := elevated
	elevated = func() bool { return true }
	t.Cleanup(func() { elevated = restore })

	s := &Service{execPath: "/usr/local/bin/msm", cfgDir: t.TempDir()}
	_, err := s.Install()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elevated")

	_, err = s.Uninstall()
	require.Error(t, err)
}
