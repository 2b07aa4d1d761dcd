package autostart

import "fmt"

func serviceDir() (string, error) {
	return "", nil
}

func (s *Service) install() (string, error) {
	return fmt.Sprintf(`automatic install is not supported on Windows.
Register the daemon with the native service manager instead:

  sc.exe create msm binPath= "%s serve" start= auto
  sc.exe start msm

or wrap "%s serve" with WinSW or NSSM for restart-on-failure.`,
		s.execPath, s.execPath), nil
}

func (s *Service) uninstall() (string, error) {
	return `autostart is managed by the Windows service manager here; remove it with:

  sc.exe stop msm
  sc.exe delete msm`, nil
}

func (s *Service) status() (Status, error) {
	return StatusUnsupported, nil
}
