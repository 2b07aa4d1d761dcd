package lifecycle

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// commonJarNames are checked first, in order. Distribution installers and
// operators converge on a small set of conventional file names.
var commonJarNames = []string{
	"server.jar",
	"paper.jar",
	"purpur.jar",
	"spigot.jar",
	"fabric-server-launch.jar",
	"forge.jar",
	"minecraft_server.jar",
}

// findServerJar picks the launchable jar in dir: a conventional name if one
// exists, otherwise the first jar declaring a Main-Class, otherwise the
// largest jar. Only the directory root is scanned; plugins, mods, and
// libraries live in subdirectories.
func findServerJar(dir string) (string, bool) {
	for _, name := range commonJarNames {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.Mode().IsRegular() {
			return name, true
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var jars []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), ".jar") {
			jars = append(jars, e.Name())
		}
	}
	if len(jars) == 0 {
		return "", false
	}

	for _, name := range jars {
		if jarHasMainClass(filepath.Join(dir, name)) {
			return name, true
		}
	}

	largest, largestSize := "", int64(-1)
	for _, name := range jars {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if info.Size() > largestSize {
			largest, largestSize = name, info.Size()
		}
	}
	return largest, largest != ""
}

// jarHasMainClass reports whether the jar's manifest declares a Main-Class.
// Any read problem counts as no.
func jarHasMainClass(path string) bool {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != "META-INF/MANIFEST.MF" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return false
		}
		// Manifests are tiny; a megabyte bound guards against zip bombs.
		data, err := io.ReadAll(io.LimitReader(rc, 1<<20))
		rc.Close()
		if err != nil {
			return false
		}
		return strings.Contains(string(data), "Main-Class:")
	}
	return false
}
