package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"
)

// sysProcAttr puts the child in a new process group so console control
// events can target the server tree without hitting the supervisor.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// SignalGraceful delivers CTRL_BREAK to the child's process group. Callers
// are expected to have tried the in-game "stop" command over stdin first;
// this is the second rung of the escalation ladder.
func (b *Backend) SignalGraceful(pid int32) error {
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid)); err != nil {
		return fmt.Errorf("failed to send ctrl-break to pid %d: %w", pid, err)
	}
	return nil
}

// SignalForce terminates the child process outright.
func (b *Backend) SignalForce(pid int32) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("failed to open pid %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)
	if err := windows.TerminateProcess(h, 1); err != nil {
		return fmt.Errorf("failed to terminate pid %d: %w", pid, err)
	}
	return nil
}

// Elevated reports whether the supervisor runs with an elevated token.
func Elevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

// DataRoot returns the supervisor's data directory: %APPDATA%\msm.
func DataRoot() (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		appData = filepath.Join(home, "AppData", "Roaming")
	}
	return filepath.Join(appData, "msm"), nil
}

// javaExecutable is the runtime binary name on this platform.
const javaExecutable = "java.exe"

// javaSearchGlobs lists the system locations scanned for Java runtimes,
// beyond PATH and the supervisor's own runtimes directory.
var javaSearchGlobs = []string{
	`C:\Program Files\Java\*\bin`,
	`C:\Program Files\Eclipse Adoptium\*\bin`,
	`C:\Program Files\Microsoft\*\bin`,
	`C:\Program Files\Amazon Corretto\*\bin`,
	`C:\Program Files\Zulu\*\bin`,
}
