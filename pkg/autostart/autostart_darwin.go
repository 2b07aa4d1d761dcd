package autostart

import (
	"fmt"
	"os"
	"path/filepath"
)

func serviceDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home dir: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents"), nil
}

func (s *Service) plistPath() string {
	return filepath.Join(s.cfgDir, agentLabel+".plist")
}

func (s *Service) install() (string, error) {
	if err := os.MkdirAll(s.cfgDir, 0o755); err != nil {
		return "", err
	}
	path := s.plistPath()
	if err := os.WriteFile(path, []byte(LaunchdPlist(s.execPath)), 0o644); err != nil {
		return "", err
	}
	if out, err := s.run("launchctl", "load", "-w", path); err != nil {
		return "", fmt.Errorf("launchctl load: %v: %s", err, out)
	}
	return fmt.Sprintf("installed %s; the supervisor now starts at login", path), nil
}

func (s *Service) uninstall() (string, error) {
	path := s.plistPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "autostart is not installed", nil
	}
	// unload exits nonzero when the agent is not loaded; the file still
	// goes either way.
	_, _ = s.run("launchctl", "unload", "-w", path)
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed %s", path), nil
}

func (s *Service) status() (Status, error) {
	if _, err := os.Stat(s.plistPath()); os.IsNotExist(err) {
		return StatusNotInstalled, nil
	}
	if _, err := s.run("launchctl", "list", agentLabel); err != nil {
		return StatusStopped, nil
	}
	return StatusRunning, nil
}
