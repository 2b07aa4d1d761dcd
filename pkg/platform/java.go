package platform

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/craftd/msm/pkg/types"
)

// versionRE pulls the quoted version token out of the `java -version`
// banner, e.g. `openjdk version "21.0.2" 2024-01-16`.
var versionRE = regexp.MustCompile(`version "([^"]+)"`)

const probeTimeout = 5 * time.Second

// DiscoverJava scans PATH, the platform's system locations, and any extra
// directories (the supervisor's runtimes/ dir) for Java binaries, probing
// each candidate with -version. Unreadable or unparsable candidates are
// skipped silently; discovery is best-effort.
func (b *Backend) DiscoverJava(extraDirs ...string) []types.JavaInstall {
	seen := make(map[string]bool)
	var installs []types.JavaInstall

	add := func(path string) {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			resolved = path
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		if install, err := ProbeJava(resolved); err == nil {
			installs = append(installs, *install)
		}
	}

	if fromPath, err := exec.LookPath(javaExecutable); err == nil {
		add(fromPath)
	}

	globs := make([]string, 0, len(javaSearchGlobs)+len(extraDirs))
	globs = append(globs, javaSearchGlobs...)
	for _, dir := range extraDirs {
		globs = append(globs, filepath.Join(dir, "*", "bin"))
	}
	for _, pattern := range globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, binDir := range matches {
			add(filepath.Join(binDir, javaExecutable))
		}
	}

	return installs
}

// ProbeJava runs one candidate binary with -version and parses the banner.
func ProbeJava(path string) (*types.JavaInstall, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	// The banner goes to stderr.
	out, err := exec.CommandContext(ctx, path, "-version").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", path, err)
	}
	banner := string(out)

	m := versionRE.FindStringSubmatch(banner)
	if m == nil {
		return nil, fmt.Errorf("no version token in banner from %s", path)
	}
	major := MajorFromVersion(m[1])
	if major == 0 {
		return nil, fmt.Errorf("unparsable version %q from %s", m[1], path)
	}

	javac := filepath.Join(filepath.Dir(path), javacName())
	_, javacErr := exec.LookPath(javac)

	return &types.JavaInstall{
		Path:         path,
		MajorVersion: major,
		Vendor:       vendorFromBanner(banner),
		IsJDK:        javacErr == nil,
	}, nil
}

// MajorFromVersion maps a version string onto its major release:
// "1.8.0_392" is 8, "17.0.9" is 17.
func MajorFromVersion(v string) int {
	parts := strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '_' || r == '+' || r == '-'
	})
	if len(parts) == 0 {
		return 0
	}
	first, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if first == 1 && len(parts) > 1 {
		second, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0
		}
		return second
	}
	return first
}

func vendorFromBanner(banner string) string {
	lower := strings.ToLower(banner)
	switch {
	case strings.Contains(lower, "temurin") || strings.Contains(lower, "adoptium"):
		return "temurin"
	case strings.Contains(lower, "corretto"):
		return "corretto"
	case strings.Contains(lower, "zulu"):
		return "zulu"
	case strings.Contains(lower, "graalvm"):
		return "graalvm"
	case strings.Contains(lower, "openjdk"):
		return "openjdk"
	case strings.Contains(lower, "java(tm)"):
		return "oracle"
	}
	return "unknown"
}

func javacName() string {
	if strings.HasSuffix(javaExecutable, ".exe") {
		return "javac.exe"
	}
	return "javac"
}
