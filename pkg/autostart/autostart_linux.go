package autostart

import (
	"fmt"
	"os"
	"path/filepath"
)

func serviceDir() (string, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(cfg, "systemd", "user"), nil
}

func (s *Service) unitPath() string {
	return filepath.Join(s.cfgDir, unitName)
}

func (s *Service) install() (string, error) {
	if err := os.MkdirAll(s.cfgDir, 0o755); err != nil {
		return "", err
	}
	path := s.unitPath()
	if err := os.WriteFile(path, []byte(SystemdUnit(s.execPath)), 0o644); err != nil {
		return "", err
	}
	if out, err := s.run("systemctl", "--user", "daemon-reload"); err != nil {
		return "", fmt.Errorf("systemctl daemon-reload: %v: %s", err, out)
	}
	if out, err := s.run("systemctl", "--user", "enable", "--now", unitName); err != nil {
		return "", fmt.Errorf("systemctl enable: %v: %s", err, out)
	}
	return fmt.Sprintf("installed %s; the supervisor now starts at login", path), nil
}

func (s *Service) uninstall() (string, error) {
	path := s.unitPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "autostart is not installed", nil
	}
	// Stops the running instance too; a failure here still lets the unit
	// file removal proceed.
	if out, err := s.run("systemctl", "--user", "disable", "--now", unitName); err != nil {
		return "", fmt.Errorf("systemctl disable: %v: %s", err, out)
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	if out, err := s.run("systemctl", "--user", "daemon-reload"); err != nil {
		return "", fmt.Errorf("systemctl daemon-reload: %v: %s", err, out)
	}
	return fmt.Sprintf("removed %s", path), nil
}

func (s *Service) status() (Status, error) {
	if _, err := os.Stat(s.unitPath()); os.IsNotExist(err) {
		return StatusNotInstalled, nil
	}
	// is-active exits nonzero for anything but "active"; that is a state,
	// not a failure.
	out, _ := s.run("systemctl", "--user", "is-active", unitName)
	if out == "active" {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}
