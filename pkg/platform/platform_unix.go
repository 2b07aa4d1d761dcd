//go:build linux || darwin

package platform

import (
	"fmt"
	"os"
	"syscall"
)

// sysProcAttr detaches the child into its own session: no controlling
// terminal, and a process group equal to its pid so group signals reach
// the whole server tree.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// SignalGraceful sends SIGTERM to the child's process group.
func (b *Backend) SignalGraceful(pid int32) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// SignalForce sends SIGKILL to the child's process group.
func (b *Backend) SignalForce(pid int32) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int32, sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(int(pid))
	if err != nil {
		// The group is gone; signal the single pid as a fallback.
		if err := syscall.Kill(int(pid), sig); err != nil && err != syscall.ESRCH {
			return fmt.Errorf("failed to signal pid %d: %w", pid, err)
		}
		return nil
	}
	if err := syscall.Kill(-pgid, sig); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to signal process group %d: %w", pgid, err)
	}
	return nil
}

// Elevated reports whether the supervisor runs as root.
func Elevated() bool {
	return os.Geteuid() == 0
}

// javaExecutable is the runtime binary name on this platform.
const javaExecutable = "java"
