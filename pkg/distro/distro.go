package distro

import (
	"context"
	"fmt"
	"sort"

	goversion "github.com/hashicorp/go-version"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/types"
)

// Registry endpoints. Overridable per resolver for tests.
const (
	paperAPI       = "https://api.papermc.io/v2"
	mojangManifest = "https://launchermeta.mojang.com/mc/game/version_manifest.json"
	fabricMeta     = "https://meta.fabricmc.net/v2"
	purpurAPI      = "https://api.purpurmc.org/v2"
	forgePromos    = "https://files.minecraftforge.net/net/minecraftforge/forge/promotions_slim.json"
	forgeMaven     = "https://maven.minecraftforge.net/net/minecraftforge/forge"
)

// Artifact is a resolved server jar: where to get it and how to verify it.
// A nil Digest means the registry publishes none; the download still fails
// on an empty body.
type Artifact struct {
	URL    string
	Digest *fetch.Digest
	Build  string
}

// Resolver turns (distro, version) into a downloadable Artifact and lists
// available versions per distribution.
type Resolver struct {
	client *fetch.Client

	paperBase      string
	mojangManifest string
	fabricBase     string
	purpurBase     string
	forgePromos    string
	forgeMaven     string
}

// NewResolver creates a resolver against the public registries.
func NewResolver(client *fetch.Client) *Resolver {
	return &Resolver{
		client:         client,
		paperBase:      paperAPI,
		mojangManifest: mojangManifest,
		fabricBase:     fabricMeta,
		purpurBase:     purpurAPI,
		forgePromos:    forgePromos,
		forgeMaven:     forgeMaven,
	}
}

// Resolve locates the server jar for one distribution and version.
func (r *Resolver) Resolve(ctx context.Context, distro types.Distro, version string) (*Artifact, error) {
	switch distro {
	case types.DistroPaper:
		return r.resolvePaper(ctx, version)
	case types.DistroVanilla:
		return r.resolveVanilla(ctx, version)
	case types.DistroFabric:
		return r.resolveFabric(ctx, version)
	case types.DistroPurpur:
		return r.resolvePurpur(ctx, version)
	case types.DistroForge:
		return r.resolveForge(ctx, version)
	default:
		return nil, apierr.Validation("distro", fmt.Sprintf("unsupported distribution %q", distro))
	}
}

// Versions lists available versions for a distribution, newest first.
// Snapshots are only meaningful for vanilla and fabric; elsewhere the flag
// is ignored because those registries publish releases only.
func (r *Resolver) Versions(ctx context.Context, distro types.Distro, includeSnapshots bool) ([]string, error) {
	switch distro {
	case types.DistroPaper:
		return r.paperVersions(ctx)
	case types.DistroVanilla:
		return r.vanillaVersions(ctx, includeSnapshots)
	case types.DistroFabric:
		return r.fabricVersions(ctx, includeSnapshots)
	case types.DistroPurpur:
		return r.purpurVersions(ctx)
	case types.DistroForge:
		return r.forgeVersions(ctx)
	default:
		return nil, apierr.Validation("distro", fmt.Sprintf("unsupported distribution %q", distro))
	}
}

// Paper

type paperProject struct {
	Versions []string `json:"versions"`
}

type paperBuilds struct {
	Builds []struct {
		Build     int    `json:"build"`
		Channel   string `json:"channel"`
		Downloads struct {
			Application struct {
				Name   string `json:"name"`
				SHA256 string `json:"sha256"`
			} `json:"application"`
		} `json:"downloads"`
	} `json:"builds"`
}

func (r *Resolver) resolvePaper(ctx context.Context, version string) (*Artifact, error) {
	var builds paperBuilds
	url := fmt.Sprintf("%s/projects/paper/versions/%s/builds", r.paperBase, version)
	if err := r.client.GetJSON(ctx, url, &builds); err != nil {
		if apierr.IsKind(err, apierr.KindNotFound) {
			return nil, apierr.NotFound(fmt.Sprintf("paper version %s", version))
		}
		return nil, err
	}
	if len(builds.Builds) == 0 {
		return nil, apierr.NotFound(fmt.Sprintf("paper builds for %s", version))
	}

	latest := builds.Builds[len(builds.Builds)-1]
	app := latest.Downloads.Application
	return &Artifact{
		URL: fmt.Sprintf("%s/projects/paper/versions/%s/builds/%d/downloads/%s",
			r.paperBase, version, latest.Build, app.Name),
		Digest: &fetch.Digest{Algo: "sha256", Hex: app.SHA256},
		Build:  fmt.Sprintf("%d", latest.Build),
	}, nil
}

func (r *Resolver) paperVersions(ctx context.Context) ([]string, error) {
	var project paperProject
	if err := r.client.GetJSON(ctx, r.paperBase+"/projects/paper", &project); err != nil {
		return nil, err
	}
	return reversed(project.Versions), nil
}

// Vanilla

type mojangVersionManifest struct {
	Latest struct {
		Release  string `json:"release"`
		Snapshot string `json:"snapshot"`
	} `json:"latest"`
	Versions []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"versions"`
}

type mojangVersionDetail struct {
	Downloads struct {
		Server struct {
			SHA1 string `json:"sha1"`
			Size int64  `json:"size"`
			URL  string `json:"url"`
		} `json:"server"`
	} `json:"downloads"`
}

func (r *Resolver) resolveVanilla(ctx context.Context, version string) (*Artifact, error) {
	var manifest mojangVersionManifest
	if err := r.client.GetJSON(ctx, r.mojangManifest, &manifest); err != nil {
		return nil, err
	}

	detailURL := ""
	for _, v := range manifest.Versions {
		if v.ID == version {
			detailURL = v.URL
			break
		}
	}
	if detailURL == "" {
		return nil, apierr.NotFound(fmt.Sprintf("minecraft version %s", version))
	}

	var detail mojangVersionDetail
	if err := r.client.GetJSON(ctx, detailURL, &detail); err != nil {
		return nil, err
	}
	server := detail.Downloads.Server
	if server.URL == "" {
		return nil, apierr.NotFound(fmt.Sprintf("server download for %s", version))
	}

	artifact := &Artifact{URL: server.URL}
	if server.SHA1 != "" {
		artifact.Digest = &fetch.Digest{Algo: "sha1", Hex: server.SHA1}
	}
	return artifact, nil
}

func (r *Resolver) vanillaVersions(ctx context.Context, includeSnapshots bool) ([]string, error) {
	var manifest mojangVersionManifest
	if err := r.client.GetJSON(ctx, r.mojangManifest, &manifest); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(manifest.Versions))
	for _, v := range manifest.Versions {
		if !includeSnapshots && v.Type != "release" {
			continue
		}
		out = append(out, v.ID)
	}
	return out, nil
}

// Fabric

type fabricLoader struct {
	Version string `json:"version"`
	Stable  bool   `json:"stable"`
}

type fabricGameVersion struct {
	Version string `json:"version"`
	Stable  bool   `json:"stable"`
}

func (r *Resolver) resolveFabric(ctx context.Context, version string) (*Artifact, error) {
	var loaders []fabricLoader
	if err := r.client.GetJSON(ctx, r.fabricBase+"/versions/loader", &loaders); err != nil {
		return nil, err
	}
	if len(loaders) == 0 {
		return nil, apierr.NotFound("fabric loader")
	}
	loader := loaders[0].Version
	for _, l := range loaders {
		if l.Stable {
			loader = l.Version
			break
		}
	}

	var installers []fabricLoader
	if err := r.client.GetJSON(ctx, r.fabricBase+"/versions/installer", &installers); err != nil {
		return nil, err
	}
	if len(installers) == 0 {
		return nil, apierr.NotFound("fabric installer")
	}

	// The combined launcher jar has no published digest.
	return &Artifact{
		URL: fmt.Sprintf("%s/versions/loader/%s/%s/%s/server/jar",
			r.fabricBase, version, loader, installers[0].Version),
		Build: loader,
	}, nil
}

func (r *Resolver) fabricVersions(ctx context.Context, includeSnapshots bool) ([]string, error) {
	var games []fabricGameVersion
	if err := r.client.GetJSON(ctx, r.fabricBase+"/versions/game", &games); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(games))
	for _, g := range games {
		if !includeSnapshots && !g.Stable {
			continue
		}
		out = append(out, g.Version)
	}
	return out, nil
}

// Purpur

type purpurProject struct {
	Versions []string `json:"versions"`
}

type purpurVersion struct {
	Builds struct {
		Latest string `json:"latest"`
	} `json:"builds"`
}

type purpurBuild struct {
	MD5 string `json:"md5"`
}

func (r *Resolver) resolvePurpur(ctx context.Context, version string) (*Artifact, error) {
	var ver purpurVersion
	url := fmt.Sprintf("%s/purpur/%s", r.purpurBase, version)
	if err := r.client.GetJSON(ctx, url, &ver); err != nil {
		if apierr.IsKind(err, apierr.KindNotFound) {
			return nil, apierr.NotFound(fmt.Sprintf("purpur version %s", version))
		}
		return nil, err
	}
	build := ver.Builds.Latest
	if build == "" {
		return nil, apierr.NotFound(fmt.Sprintf("purpur builds for %s", version))
	}

	var detail purpurBuild
	if err := r.client.GetJSON(ctx, fmt.Sprintf("%s/purpur/%s/%s", r.purpurBase, version, build), &detail); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		URL:   fmt.Sprintf("%s/purpur/%s/%s/download", r.purpurBase, version, build),
		Build: build,
	}
	if detail.MD5 != "" {
		artifact.Digest = &fetch.Digest{Algo: "md5", Hex: detail.MD5}
	}
	return artifact, nil
}

func (r *Resolver) purpurVersions(ctx context.Context) ([]string, error) {
	var project purpurProject
	if err := r.client.GetJSON(ctx, r.purpurBase+"/purpur", &project); err != nil {
		return nil, err
	}
	return reversed(project.Versions), nil
}

// Forge

type forgePromotions struct {
	Promos map[string]string `json:"promos"`
}

func (r *Resolver) resolveForge(ctx context.Context, version string) (*Artifact, error) {
	var promos forgePromotions
	if err := r.client.GetJSON(ctx, r.forgePromos, &promos); err != nil {
		return nil, err
	}

	forgeVer := promos.Promos[version+"-recommended"]
	if forgeVer == "" {
		forgeVer = promos.Promos[version+"-latest"]
	}
	if forgeVer == "" {
		return nil, apierr.NotFound(fmt.Sprintf("forge build for %s", version))
	}

	pair := version + "-" + forgeVer
	// The maven publishes no sha256/sha512 for installers; the download
	// relies on the non-empty body check.
	return &Artifact{
		URL:   fmt.Sprintf("%s/%s/forge-%s-installer.jar", r.forgeMaven, pair, pair),
		Build: forgeVer,
	}, nil
}

func (r *Resolver) forgeVersions(ctx context.Context) ([]string, error) {
	var promos forgePromotions
	if err := r.client.GetJSON(ctx, r.forgePromos, &promos); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	versions := make([]*goversion.Version, 0, len(promos.Promos))
	for key := range promos.Promos {
		mc, ok := cutPromoKey(key)
		if !ok || seen[mc] {
			continue
		}
		v, err := goversion.NewVersion(mc)
		if err != nil {
			continue
		}
		seen[mc] = true
		versions = append(versions, v)
	}

	sort.Sort(sort.Reverse(goversion.Collection(versions)))
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.Original()
	}
	return out, nil
}

// cutPromoKey splits "1.20.1-latest" into its minecraft version part.
func cutPromoKey(key string) (string, bool) {
	for _, suffix := range []string{"-recommended", "-latest"} {
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			return key[:len(key)-len(suffix)], true
		}
	}
	return "", false
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
