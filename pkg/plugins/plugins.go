// Package plugins installs server plugins from Modrinth, Hangar, or a
// direct URL into a server's plugins/ directory and tracks them in the
// catalog. Disabling a plugin renames its jar to .jar.disabled so the game
// skips it on the next start; the file itself stays put.
package plugins

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

const (
	modrinthAPI = "https://api.modrinth.com/v2"
	hangarAPI   = "https://hangar.papermc.io/api/v1"

	// DisabledSuffix marks a plugin jar the game must ignore.
	DisabledSuffix = ".disabled"
)

// Manager installs and manages plugins for servers.
type Manager struct {
	store  storage.Store
	client *fetch.Client
	events *events.Broker

	modrinthBase string
	hangarBase   string
}

// NewManager returns a plugin manager backed by the store and fetch client.
func NewManager(store storage.Store, client *fetch.Client, broker *events.Broker) *Manager {
	return &Manager{
		store:        store,
		client:       client,
		events:       broker,
		modrinthBase: modrinthAPI,
		hangarBase:   hangarAPI,
	}
}

// SearchResult is one hit from a plugin registry search.
type SearchResult struct {
	Source      types.PluginSource `json:"source"`
	ProjectID   string             `json:"project_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Author      string             `json:"author"`
	Downloads   int64              `json:"downloads"`
}

// InstallRequest describes one plugin installation. ProjectID addresses
// Modrinth and Hangar projects; URL is for direct jar downloads.
type InstallRequest struct {
	Source    types.PluginSource `json:"source" validate:"required,oneof=modrinth hangar url"`
	ProjectID string             `json:"project_id" validate:"required_unless=Source url"`
	VersionID string             `json:"version_id"`
	URL       string             `json:"url" validate:"required_if=Source url,omitempty,url"`
	Name      string             `json:"name"`
}

// Search queries one registry. mcVersion narrows Modrinth results to
// versions compatible with the server; Hangar's search is not
// version-aware and ignores it.
func (m *Manager) Search(ctx context.Context, source types.PluginSource, query, mcVersion string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	switch source {
	case types.SourceModrinth:
		return m.searchModrinth(ctx, query, mcVersion, limit)
	case types.SourceHangar:
		return m.searchHangar(ctx, query, limit)
	default:
		return nil, apierr.Validation("source", "must be modrinth or hangar")
	}
}

func (m *Manager) searchModrinth(ctx context.Context, query, mcVersion string, limit int) ([]SearchResult, error) {
	facets := `[["project_type:plugin"]]`
	if mcVersion != "" {
		facets = fmt.Sprintf(`[["project_type:plugin"],["versions:%s"]]`, mcVersion)
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", fmt.Sprint(limit))
	q.Set("facets", facets)

	var data struct {
		Hits []struct {
			ProjectID   string `json:"project_id"`
			Slug        string `json:"slug"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Author      string `json:"author"`
			Downloads   int64  `json:"downloads"`
		} `json:"hits"`
	}
	if err := m.client.GetJSON(ctx, m.modrinthBase+"/search?"+q.Encode(), &data); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(data.Hits))
	for _, hit := range data.Hits {
		out = append(out, SearchResult{
			Source:      types.SourceModrinth,
			ProjectID:   hit.Slug,
			Name:        hit.Title,
			Description: hit.Description,
			Author:      hit.Author,
			Downloads:   hit.Downloads,
		})
	}
	return out, nil
}

func (m *Manager) searchHangar(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", fmt.Sprint(limit))
	q.Set("platform", "PAPER")

	var data struct {
		Result []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Namespace   struct {
				Owner string `json:"owner"`
				Slug  string `json:"slug"`
			} `json:"namespace"`
			Stats struct {
				Downloads int64 `json:"downloads"`
			} `json:"stats"`
		} `json:"result"`
	}
	if err := m.client.GetJSON(ctx, m.hangarBase+"/projects?"+q.Encode(), &data); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(data.Result))
	for _, p := range data.Result {
		out = append(out, SearchResult{
			Source:      types.SourceHangar,
			ProjectID:   p.Namespace.Slug,
			Name:        p.Name,
			Description: p.Description,
			Author:      p.Namespace.Owner,
			Downloads:   p.Stats.Downloads,
		})
	}
	return out, nil
}

// modrinthVersion mirrors the fields we read from /project/{id}/version.
type modrinthVersion struct {
	ID            string   `json:"id"`
	VersionNumber string   `json:"version_number"`
	GameVersions  []string `json:"game_versions"`
	Files         []struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
		Primary  bool   `json:"primary"`
		Hashes   struct {
			SHA512 string `json:"sha512"`
		} `json:"hashes"`
	} `json:"files"`
}

func (m *Manager) modrinthVersions(ctx context.Context, projectID, mcVersion string) ([]modrinthVersion, error) {
	q := url.Values{}
	q.Set("loaders", `["paper","spigot","bukkit"]`)
	if mcVersion != "" {
		q.Set("game_versions", fmt.Sprintf(`["%s"]`, mcVersion))
	}

	var versions []modrinthVersion
	err := m.client.GetJSON(ctx, m.modrinthBase+"/project/"+url.PathEscape(projectID)+"/version?"+q.Encode(), &versions)
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// Install downloads a plugin into srv's plugins directory and records it.
func (m *Manager) Install(ctx context.Context, srv *types.Server, req InstallRequest) (*types.Plugin, error) {
	pluginsDir := filepath.Join(srv.Dir, "plugins")
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return nil, apierr.Resourcef(err, "failed to create plugins directory")
	}

	var (
		rec *types.Plugin
		err error
	)
	switch req.Source {
	case types.SourceModrinth:
		rec, err = m.installModrinth(ctx, srv, pluginsDir, req)
	case types.SourceHangar:
		rec, err = m.installHangar(ctx, srv, pluginsDir, req)
	case types.SourceURL:
		rec, err = m.installURL(ctx, srv, pluginsDir, req)
	default:
		return nil, apierr.Validation("source", "must be modrinth, hangar, or url")
	}
	if err != nil {
		return nil, err
	}

	err = m.store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertPlugin(rec)
		rec.ID = id
		return err
	})
	if err != nil {
		os.Remove(rec.FilePath)
		return nil, err
	}

	logger := log.WithComponent("plugins")
	logger.Info().
		Str("server", srv.Name).Str("plugin", rec.Name).Str("source", string(rec.Source)).
		Msg("plugin installed")
	m.publishChange(srv, rec.Name+" installed")
	return rec, nil
}

func (m *Manager) installModrinth(ctx context.Context, srv *types.Server, pluginsDir string, req InstallRequest) (*types.Plugin, error) {
	if req.ProjectID == "" {
		return nil, apierr.Validation("project_id", "is required for modrinth installs")
	}

	versions, err := m.modrinthVersions(ctx, req.ProjectID, srv.Version)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, apierr.NotFound(fmt.Sprintf("compatible %s version of %s", srv.Version, req.ProjectID))
	}

	version := &versions[0]
	if req.VersionID != "" {
		version = nil
		for i := range versions {
			if versions[i].ID == req.VersionID {
				version = &versions[i]
				break
			}
		}
		if version == nil {
			return nil, apierr.NotFound(fmt.Sprintf("version %s of %s", req.VersionID, req.ProjectID))
		}
	}
	if len(version.Files) == 0 {
		return nil, apierr.Resourcef(nil, "modrinth version %s has no files", version.VersionNumber)
	}

	file := version.Files[0]
	for _, f := range version.Files {
		if f.Primary {
			file = f
			break
		}
	}

	var digest *fetch.Digest
	if file.Hashes.SHA512 != "" {
		digest = &fetch.Digest{Algo: "sha512", Hex: file.Hashes.SHA512}
	}
	dest := filepath.Join(pluginsDir, file.Filename)
	if err := m.client.Download(ctx, file.URL, dest, digest); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = m.modrinthTitle(ctx, req.ProjectID)
	}
	return &types.Plugin{
		ServerID:  srv.ID,
		Name:      name,
		Source:    types.SourceModrinth,
		ProjectID: req.ProjectID,
		Version:   version.VersionNumber,
		FilePath:  dest,
		Enabled:   true,
	}, nil
}

// modrinthTitle resolves the project's display name, falling back to the
// id when the lookup fails. Install must not fail over a cosmetic field.
func (m *Manager) modrinthTitle(ctx context.Context, projectID string) string {
	var project struct {
		Title string `json:"title"`
	}
	if err := m.client.GetJSON(ctx, m.modrinthBase+"/project/"+url.PathEscape(projectID), &project); err != nil || project.Title == "" {
		return projectID
	}
	return project.Title
}

func (m *Manager) installHangar(ctx context.Context, srv *types.Server, pluginsDir string, req InstallRequest) (*types.Plugin, error) {
	if req.ProjectID == "" {
		return nil, apierr.Validation("project_id", "is required for hangar installs")
	}

	q := url.Values{}
	q.Set("limit", "1")
	q.Set("channel", "Release")
	q.Set("platform", "PAPER")

	var data struct {
		Result []struct {
			Name      string `json:"name"`
			Downloads map[string]struct {
				FileInfo *struct {
					Name       string `json:"name"`
					SHA256Hash string `json:"sha256Hash"`
				} `json:"fileInfo"`
				DownloadURL string `json:"downloadUrl"`
				ExternalURL string `json:"externalUrl"`
			} `json:"downloads"`
		} `json:"result"`
	}
	endpoint := m.hangarBase + "/projects/" + url.PathEscape(req.ProjectID) + "/versions?" + q.Encode()
	if err := m.client.GetJSON(ctx, endpoint, &data); err != nil {
		return nil, err
	}
	if len(data.Result) == 0 {
		return nil, apierr.NotFound(fmt.Sprintf("release of %s on hangar", req.ProjectID))
	}

	release := data.Result[0]
	dl, ok := release.Downloads["PAPER"]
	if !ok {
		return nil, apierr.Resourcef(nil, "hangar release %s has no paper download", release.Name)
	}

	downloadURL := dl.DownloadURL
	if downloadURL == "" {
		downloadURL = dl.ExternalURL
	}
	if downloadURL == "" {
		downloadURL = fmt.Sprintf("%s/projects/%s/versions/%s/PAPER/download",
			m.hangarBase, url.PathEscape(req.ProjectID), url.PathEscape(release.Name))
	}

	filename := req.ProjectID + ".jar"
	var digest *fetch.Digest
	if dl.FileInfo != nil {
		if dl.FileInfo.Name != "" {
			filename = dl.FileInfo.Name
		}
		if dl.FileInfo.SHA256Hash != "" {
			digest = &fetch.Digest{Algo: "sha256", Hex: dl.FileInfo.SHA256Hash}
		}
	}

	dest := filepath.Join(pluginsDir, filename)
	if err := m.client.Download(ctx, downloadURL, dest, digest); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = req.ProjectID
	}
	return &types.Plugin{
		ServerID:  srv.ID,
		Name:      name,
		Source:    types.SourceHangar,
		ProjectID: req.ProjectID,
		Version:   release.Name,
		FilePath:  dest,
		Enabled:   true,
	}, nil
}

func (m *Manager) installURL(ctx context.Context, srv *types.Server, pluginsDir string, req InstallRequest) (*types.Plugin, error) {
	if req.URL == "" {
		return nil, apierr.Validation("url", "is required for url installs")
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" {
		return nil, apierr.Validation("url", "must be a valid absolute URL")
	}

	filename := path.Base(parsed.Path)
	if filename == "/" || filename == "." || filename == "" {
		filename = "plugin.jar"
	}
	if !strings.HasSuffix(filename, ".jar") {
		filename += ".jar"
	}

	dest := filepath.Join(pluginsDir, filename)
	if err := m.client.Download(ctx, req.URL, dest, nil); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = strings.TrimSuffix(filename, ".jar")
	}
	return &types.Plugin{
		ServerID: srv.ID,
		Name:     name,
		Source:   types.SourceURL,
		FilePath: dest,
		Enabled:  true,
	}, nil
}

// Uninstall deletes the plugin's file and its record. A missing file is
// tolerated so orphaned records can always be cleaned up.
func (m *Manager) Uninstall(srv *types.Server, rec *types.Plugin) error {
	if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
		return apierr.Resourcef(err, "failed to delete plugin file")
	}
	err := m.store.WithTx(func(tx *storage.Tx) error {
		return tx.DeletePlugin(rec.ID)
	})
	if err != nil {
		return err
	}
	m.publishChange(srv, rec.Name+" removed")
	return nil
}

// SetEnabled toggles a plugin by renaming its jar: foo.jar.disabled is
// invisible to the game. Toggling to the current state is a no-op.
func (m *Manager) SetEnabled(srv *types.Server, rec *types.Plugin, enabled bool) (*types.Plugin, error) {
	if rec.Enabled == enabled {
		return rec, nil
	}
	if _, err := os.Stat(rec.FilePath); err != nil {
		return nil, apierr.Resourcef(err, "plugin file is missing")
	}

	newPath := rec.FilePath + DisabledSuffix
	if enabled {
		newPath = strings.TrimSuffix(rec.FilePath, DisabledSuffix)
	}
	if err := os.Rename(rec.FilePath, newPath); err != nil {
		return nil, apierr.Resourcef(err, "failed to rename plugin file")
	}

	rec.FilePath = newPath
	rec.Enabled = enabled
	err := m.store.WithTx(func(tx *storage.Tx) error {
		return tx.UpdatePlugin(rec)
	})
	if err != nil {
		return nil, err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	logger := log.WithComponent("plugins")
	logger.Info().Str("server", srv.Name).Str("plugin", rec.Name).Msg("plugin " + state)
	m.publishChange(srv, rec.Name+" "+state)
	return rec, nil
}

// Update is one plugin with a newer compatible version upstream.
type Update struct {
	PluginID       int64  `json:"plugin_id"`
	Name           string `json:"name"`
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
}

// CheckUpdates reports Modrinth plugins with a newer version compatible
// with the server's game version. Lookup failures skip the plugin rather
// than fail the whole sweep.
func (m *Manager) CheckUpdates(ctx context.Context, srv *types.Server) ([]Update, error) {
	installed, err := m.store.ListPluginsByServer(srv.ID)
	if err != nil {
		return nil, err
	}

	var updates []Update
	for _, p := range installed {
		if p.Source != types.SourceModrinth || p.ProjectID == "" {
			continue
		}
		versions, err := m.modrinthVersions(ctx, p.ProjectID, srv.Version)
		if err != nil || len(versions) == 0 {
			if err != nil {
				logger := log.WithComponent("plugins")
				logger.Warn().Err(err).Str("plugin", p.Name).Msg("update check failed")
			}
			continue
		}
		if versions[0].VersionNumber != p.Version {
			updates = append(updates, Update{
				PluginID:       p.ID,
				Name:           p.Name,
				CurrentVersion: p.Version,
				LatestVersion:  versions[0].VersionNumber,
			})
		}
	}
	return updates, nil
}

func (m *Manager) publishChange(srv *types.Server, message string) {
	if m.events == nil {
		return
	}
	m.events.Publish(&events.Event{
		Type:       events.EventPluginChanged,
		ServerID:   srv.ID,
		ServerName: srv.Name,
		Message:    message,
	})
}
