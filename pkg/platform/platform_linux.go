package platform

import (
	"os"
	"path/filepath"
)

// DataRoot returns the supervisor's data directory:
// $XDG_DATA_HOME/msm, falling back to ~/.local/share/msm.
func DataRoot() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "msm"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "msm"), nil
}

// javaSearchGlobs lists the system locations scanned for Java runtimes,
// beyond PATH and the supervisor's own runtimes directory.
var javaSearchGlobs = []string{
	"/usr/lib/jvm/*/bin",
	"/usr/java/*/bin",
	"/opt/java/*/bin",
}
