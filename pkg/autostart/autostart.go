// Package autostart installs the supervisor as a login service: a systemd
// user unit on Linux, a launchd agent on macOS. Windows gets instructions
// for a native service wrapper instead of an install.
package autostart

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/craftd/msm/pkg/platform"
)

// Status of the login service.
type Status string

const (
	StatusNotInstalled Status = "not installed"
	StatusStopped      Status = "stopped"
	StatusRunning      Status = "running"
	StatusUnsupported  Status = "unsupported"
)

const (
	unitName   = "msm.service"
	agentLabel = "com.craftd.msm"
)

// elevated is a seam for tests. A user service installed as root lands in
// root's session, not the operator's.
var elevated = platform.Elevated

type runner func(name string, args ...string) (string, error)

// Service manages the per-user autostart registration for this binary.
type Service struct {
	execPath string
	cfgDir   string
	run      runner
}

// New resolves the current executable and the platform's user service
// directory.
func New() (*Service, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable: %w", err)
	}
	dir, err := serviceDir()
	if err != nil {
		return nil, err
	}
	return &Service{execPath: exe, cfgDir: dir, run: runCommand}, nil
}

// Install registers the supervisor to start at login and starts it now.
// The returned message is for the operator.
func (s *Service) Install() (string, error) {
	if elevated() {
		return "", errors.New("refusing to manage a login service while elevated; run as a regular user")
	}
	return s.install()
}

// Uninstall stops the login service and removes its registration.
func (s *Service) Uninstall() (string, error) {
	if elevated() {
		return "", errors.New("refusing to manage a login service while elevated; run as a regular user")
	}
	return s.uninstall()
}

// Status reports whether the login service is installed and running.
func (s *Service) Status() (Status, error) {
	return s.status()
}

// SystemdUnit renders the user unit that runs "msm serve".
func SystemdUnit(execPath string) string {
	return fmt.Sprintf(`[Unit]
Description=msm Minecraft server supervisor
After=network.target

[Service]
ExecStart=%s serve
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, execPath)
}

// LaunchdPlist renders the launch agent that runs "msm serve".
func LaunchdPlist(execPath string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>serve</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
	</dict>
</dict>
</plist>
`, agentLabel, xmlEscape(execPath))
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func runCommand(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
