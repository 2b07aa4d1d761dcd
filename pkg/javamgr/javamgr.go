package javamgr

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/platform"
	"github.com/craftd/msm/pkg/types"
)

// adoptiumAPI is the Eclipse Temurin release API.
const adoptiumAPI = "https://api.adoptium.net/v3"

// Manager discovers Java runtimes on the host and installs managed ones
// from Adoptium into the supervisor's runtimes directory.
type Manager struct {
	client      *fetch.Client
	backend     *platform.Backend
	runtimesDir string
	apiBase     string
}

// New creates a Java manager rooted at runtimesDir.
func New(client *fetch.Client, backend *platform.Backend, runtimesDir string) *Manager {
	return &Manager{
		client:      client,
		backend:     backend,
		runtimesDir: runtimesDir,
		apiBase:     adoptiumAPI,
	}
}

// RequiredMajor returns the minimum Java major version for a Minecraft
// version: 1.20.5 and later need 21, 1.18 needs 17, 1.17 needs 16, and
// everything older runs on 8. Unparsable versions (snapshots like 24w33a)
// assume the newest requirement.
func RequiredMajor(mcVersion string) int {
	v, err := goversion.NewVersion(mcVersion)
	if err != nil {
		return 21
	}
	boundaries := []struct {
		since string
		major int
	}{
		{"1.20.5", 21},
		{"1.18", 17},
		{"1.17", 16},
	}
	for _, b := range boundaries {
		if v.GreaterThanOrEqual(goversion.Must(goversion.NewVersion(b.since))) {
			return b.major
		}
	}
	return 8
}

// Detect lists every usable Java on the host, managed runtimes included,
// newest major first.
func (m *Manager) Detect() []types.JavaInstall {
	installs := m.backend.DiscoverJava(m.runtimesDir)
	sort.SliceStable(installs, func(i, j int) bool {
		return installs[i].MajorVersion > installs[j].MajorVersion
	})
	return installs
}

// Best picks the newest detected runtime that satisfies the Minecraft
// version's requirement.
func (m *Manager) Best(mcVersion string) (*types.JavaInstall, error) {
	need := RequiredMajor(mcVersion)
	for _, install := range m.Detect() {
		if install.MajorVersion >= need {
			return &install, nil
		}
	}
	return nil, apierr.NotFound(fmt.Sprintf("java %d or newer (required by minecraft %s)", need, mcVersion))
}

// Release is one Java major version offered by Adoptium.
type Release struct {
	Major int  `json:"version"`
	LTS   bool `json:"lts"`
}

type adoptiumReleases struct {
	AvailableReleases    []int `json:"available_releases"`
	AvailableLTSReleases []int `json:"available_lts_releases"`
}

// AvailableReleases lists the Java majors installable from Adoptium.
func (m *Manager) AvailableReleases(ctx context.Context) ([]Release, error) {
	var data adoptiumReleases
	if err := m.client.GetJSON(ctx, m.apiBase+"/info/available_releases", &data); err != nil {
		return nil, err
	}

	lts := make(map[int]bool, len(data.AvailableLTSReleases))
	for _, v := range data.AvailableLTSReleases {
		lts[v] = true
	}
	out := make([]Release, 0, len(data.AvailableReleases))
	for _, v := range data.AvailableReleases {
		out = append(out, Release{Major: v, LTS: lts[v]})
	}
	return out, nil
}

type adoptiumAsset struct {
	Binary struct {
		Package struct {
			Link     string `json:"link"`
			Name     string `json:"name"`
			Checksum string `json:"checksum"`
		} `json:"package"`
	} `json:"binary"`
	Version struct {
		Semver string `json:"semver"`
	} `json:"version"`
}

// Install downloads a Temurin JDK for the host platform into the runtimes
// directory and returns the probed installation. Adoptium publishes a
// sha256 per package; it is always verified.
func (m *Manager) Install(ctx context.Context, major int) (*types.JavaInstall, error) {
	assetURL := fmt.Sprintf("%s/assets/latest/%d/hotspot?architecture=%s&os=%s&image_type=jdk",
		m.apiBase, major, url.QueryEscape(adoptiumArch()), url.QueryEscape(adoptiumOS()))

	var assets []adoptiumAsset
	if err := m.client.GetJSON(ctx, assetURL, &assets); err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, apierr.NotFound(fmt.Sprintf("java %d for %s/%s", major, adoptiumOS(), adoptiumArch()))
	}

	pkg := assets[0].Binary.Package
	if pkg.Link == "" {
		return nil, apierr.Resourcef(nil, "adoptium returned no download link for java %d", major)
	}

	if err := os.MkdirAll(m.runtimesDir, 0o755); err != nil {
		return nil, apierr.Resourcef(err, "failed to create runtimes directory")
	}

	archivePath := filepath.Join(m.runtimesDir, pkg.Name)
	var digest *fetch.Digest
	if pkg.Checksum != "" {
		digest = &fetch.Digest{Algo: "sha256", Hex: pkg.Checksum}
	}

	logger := log.WithComponent("javamgr")
	logger.Info().Int("major", major).Str("package", pkg.Name).Msg("downloading java runtime")

	if err := m.client.Download(ctx, pkg.Link, archivePath, digest); err != nil {
		return nil, err
	}
	defer os.Remove(archivePath)

	home, err := extractRuntime(archivePath, m.runtimesDir)
	if err != nil {
		return nil, err
	}

	javaPath := filepath.Join(home, "bin", platform.JavaExecutableName())
	if runtime.GOOS == "darwin" {
		// Temurin mac archives nest the real home one level down.
		nested := filepath.Join(home, "Contents", "Home", "bin", platform.JavaExecutableName())
		if _, statErr := os.Stat(nested); statErr == nil {
			javaPath = nested
		}
	}

	install, err := platform.ProbeJava(javaPath)
	if err != nil {
		return nil, apierr.Resourcef(err, "extracted java runtime failed its probe")
	}

	logger.Info().Str("path", install.Path).Int("major", install.MajorVersion).Msg("java runtime installed")
	return install, nil
}

// ListManaged lists the runtimes the supervisor installed itself.
func (m *Manager) ListManaged() []types.JavaInstall {
	entries, err := os.ReadDir(m.runtimesDir)
	if err != nil {
		return nil
	}

	var installs []types.JavaInstall
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		javaPath := filepath.Join(m.runtimesDir, entry.Name(), "bin", platform.JavaExecutableName())
		if install, err := platform.ProbeJava(javaPath); err == nil {
			installs = append(installs, *install)
		}
	}
	sort.SliceStable(installs, func(i, j int) bool {
		return installs[i].MajorVersion > installs[j].MajorVersion
	})
	return installs
}

// RemoveManaged deletes one managed runtime. Anything outside the runtimes
// directory is refused.
func (m *Manager) RemoveManaged(javaHome string) error {
	resolved, err := filepath.EvalSymlinks(javaHome)
	if err != nil {
		return apierr.NotFound("java runtime")
	}
	root, err := filepath.EvalSymlinks(m.runtimesDir)
	if err != nil {
		return apierr.Resourcef(err, "runtimes directory is unavailable")
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return apierr.Refused("only runtimes managed by the supervisor can be removed")
	}

	if err := os.RemoveAll(resolved); err != nil {
		return apierr.Resourcef(err, "failed to remove java runtime")
	}
	return nil
}

func adoptiumOS() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "mac"
	default:
		return "linux"
	}
}

func adoptiumArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "arm64":
		return "aarch64"
	case "386":
		return "x86"
	default:
		return runtime.GOARCH
	}
}
