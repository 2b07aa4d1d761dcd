package platform

import (
	"os"
	"path/filepath"
)

// DataRoot returns the supervisor's data directory:
// ~/Library/Application Support/msm.
func DataRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "Application Support", "msm"), nil
}

// javaSearchGlobs lists the system locations scanned for Java runtimes,
// beyond PATH and the supervisor's own runtimes directory.
var javaSearchGlobs = []string{
	"/Library/Java/JavaVirtualMachines/*/Contents/Home/bin",
	"/opt/homebrew/opt/openjdk*/bin",
	"/usr/local/opt/openjdk*/bin",
}
