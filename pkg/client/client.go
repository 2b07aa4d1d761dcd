package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/health"
	"github.com/craftd/msm/pkg/plugins"
	"github.com/craftd/msm/pkg/types"
)

// Client talks to a running supervisor over its HTTP API. It is what the
// CLI subcommands use; the zero timeout falls back to a generous default
// because server creation downloads a jar on the daemon side.
//
// Control calls are deliberately not retried: a start or stop that times
// out must surface, not silently fire twice.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// Options configures a Client.
type Options struct {
	// Base is the daemon address, e.g. "http://127.0.0.1:8765".
	Base string
	// APIKey rides every request as X-API-Key. Empty is fine while the
	// daemon has no keys issued.
	APIKey string
	// Timeout bounds a single call end to end. Defaults to 15 minutes.
	Timeout time.Duration
}

// New creates a client for the given daemon address.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	return &Client{
		base:   strings.TrimRight(opts.Base, "/"),
		apiKey: opts.APIKey,
		http:   &http.Client{Timeout: opts.Timeout},
	}
}

// do runs one JSON round trip. A non-2xx response decodes the error
// envelope back into an *apierr.Error so callers and the CLI see the same
// taxonomy the server raised.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("supervisor unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error *apierr.Error `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && json.Unmarshal(data, &body) == nil && body.Error != nil {
		return body.Error
	}
	return fmt.Errorf("supervisor returned %s", resp.Status)
}

func idPath(format string, ids ...int64) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf(format, args...)
}

// Health reports daemon liveness and uptime.
func (c *Client) Health(ctx context.Context) (*health.Report, error) {
	var report health.Report
	if err := c.do(ctx, http.MethodGet, "/health", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListServers returns every managed server.
func (c *Client) ListServers(ctx context.Context) ([]*types.Server, error) {
	var servers []*types.Server
	err := c.do(ctx, http.MethodGet, "/servers", nil, &servers)
	return servers, err
}

// GetServer returns one server by id.
func (c *Client) GetServer(ctx context.Context, id int64) (*types.Server, error) {
	var srv types.Server
	if err := c.do(ctx, http.MethodGet, idPath("/servers/%d", id), nil, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// FindServer resolves a name to a server. The API is id-addressed; the
// CLI is name-addressed, so this is the bridge.
func (c *Client) FindServer(ctx context.Context, name string) (*types.Server, error) {
	servers, err := c.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	for _, srv := range servers {
		if srv.Name == name {
			return srv, nil
		}
	}
	return nil, apierr.NotFound("server " + strconv.Quote(name))
}

// CreateServer provisions a new server; the daemon downloads the jar.
func (c *Client) CreateServer(ctx context.Context, spec *types.CreateServerSpec) (*types.Server, error) {
	var srv types.Server
	if err := c.do(ctx, http.MethodPost, "/servers", spec, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// ImportServer registers an existing directory as a managed server.
func (c *Client) ImportServer(ctx context.Context, spec *types.ImportServerSpec) (*types.Server, error) {
	var srv types.Server
	if err := c.do(ctx, http.MethodPost, "/servers/import", spec, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// UpdateServer patches mutable fields; nil fields keep their values.
func (c *Client) UpdateServer(ctx context.Context, id int64, spec *types.UpdateServerSpec) (*types.Server, error) {
	var srv types.Server
	if err := c.do(ctx, http.MethodPatch, idPath("/servers/%d", id), spec, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// DeleteServer removes a server. keepFiles leaves the directory on disk.
func (c *Client) DeleteServer(ctx context.Context, id int64, keepFiles bool) error {
	path := idPath("/servers/%d", id)
	if keepFiles {
		path += "?keep_files=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// StartServer launches the server process and returns its pid.
func (c *Client) StartServer(ctx context.Context, id int64) (int32, error) {
	var body struct {
		PID int32 `json:"pid"`
	}
	if err := c.do(ctx, http.MethodPost, idPath("/servers/%d/start", id), nil, &body); err != nil {
		return 0, err
	}
	return body.PID, nil
}

// StopServer gracefully stops the server.
func (c *Client) StopServer(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, idPath("/servers/%d/stop", id), nil, nil)
}

// RestartServer stops then starts the server, returning the new pid.
func (c *Client) RestartServer(ctx context.Context, id int64) (int32, error) {
	var body struct {
		PID int32 `json:"pid"`
	}
	if err := c.do(ctx, http.MethodPost, idPath("/servers/%d/restart", id), nil, &body); err != nil {
		return 0, err
	}
	return body.PID, nil
}

// ServerStatus returns the live process view.
func (c *Client) ServerStatus(ctx context.Context, id int64) (*types.ServerStatus, error) {
	var status types.ServerStatus
	if err := c.do(ctx, http.MethodGet, idPath("/servers/%d/status", id), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Versions lists installable versions for a distribution.
func (c *Client) Versions(ctx context.Context, distro types.Distro, snapshots bool) ([]string, error) {
	path := "/versions/" + url.PathEscape(string(distro))
	if snapshots {
		path += "?snapshots=true"
	}
	var body struct {
		Versions []string `json:"versions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Versions, nil
}

// Properties returns the server.properties key/value view.
func (c *Client) Properties(ctx context.Context, id int64) (map[string]string, error) {
	var props map[string]string
	err := c.do(ctx, http.MethodGet, idPath("/servers/%d/properties", id), nil, &props)
	return props, err
}

// SetProperties merges the given pairs into server.properties and returns
// the full updated view.
func (c *Client) SetProperties(ctx context.Context, id int64, patch map[string]string) (map[string]string, error) {
	var props map[string]string
	err := c.do(ctx, http.MethodPatch, idPath("/servers/%d/properties", id), patch, &props)
	return props, err
}

// CreateBackup archives the server's directory now.
func (c *Client) CreateBackup(ctx context.Context, serverID int64) (*types.Backup, error) {
	var rec types.Backup
	if err := c.do(ctx, http.MethodPost, idPath("/servers/%d/backups", serverID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListBackups returns every catalogued backup.
func (c *Client) ListBackups(ctx context.Context) ([]*types.Backup, error) {
	var recs []*types.Backup
	err := c.do(ctx, http.MethodGet, "/backups", nil, &recs)
	return recs, err
}

// ListServerBackups returns one server's backups, newest first.
func (c *Client) ListServerBackups(ctx context.Context, serverID int64) ([]*types.Backup, error) {
	var recs []*types.Backup
	err := c.do(ctx, http.MethodGet, idPath("/servers/%d/backups", serverID), nil, &recs)
	return recs, err
}

// RestoreBackup replaces the server directory with the archive contents.
// The server must be stopped first.
func (c *Client) RestoreBackup(ctx context.Context, backupID int64) error {
	return c.do(ctx, http.MethodPost, idPath("/backups/%d/restore", backupID), nil, nil)
}

// DeleteBackup removes the archive and its record.
func (c *Client) DeleteBackup(ctx context.Context, backupID int64) error {
	return c.do(ctx, http.MethodDelete, idPath("/backups/%d", backupID), nil, nil)
}

// PruneBackups removes the server's oldest backups beyond the retention
// count and reports how many went away.
func (c *Client) PruneBackups(ctx context.Context, serverID int64) (int, error) {
	var body struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, idPath("/servers/%d/backups/prune", serverID), nil, &body); err != nil {
		return 0, err
	}
	return body.Removed, nil
}

// CreateSchedule registers a cron-triggered action for a server.
func (c *Client) CreateSchedule(ctx context.Context, serverID int64, spec *types.CreateScheduleSpec) (*types.Schedule, error) {
	var sc types.Schedule
	if err := c.do(ctx, http.MethodPost, idPath("/servers/%d/schedules", serverID), spec, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ListSchedules returns every schedule across all servers.
func (c *Client) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	var scs []*types.Schedule
	err := c.do(ctx, http.MethodGet, "/schedules", nil, &scs)
	return scs, err
}

// ListServerSchedules returns one server's schedules.
func (c *Client) ListServerSchedules(ctx context.Context, serverID int64) ([]*types.Schedule, error) {
	var scs []*types.Schedule
	err := c.do(ctx, http.MethodGet, idPath("/servers/%d/schedules", serverID), nil, &scs)
	return scs, err
}

// UpdateSchedule patches a schedule; nil fields keep their values.
func (c *Client) UpdateSchedule(ctx context.Context, id int64, spec *types.UpdateScheduleSpec) (*types.Schedule, error) {
	var sc types.Schedule
	if err := c.do(ctx, http.MethodPatch, idPath("/schedules/%d", id), spec, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// DeleteSchedule removes a schedule.
func (c *Client) DeleteSchedule(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, idPath("/schedules/%d", id), nil, nil)
}

// SearchPlugins queries a plugin registry through the daemon.
func (c *Client) SearchPlugins(ctx context.Context, source types.PluginSource, query, mcVersion string, limit int) ([]plugins.SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	if source != "" {
		q.Set("source", string(source))
	}
	if mcVersion != "" {
		q.Set("version", mcVersion)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var results []plugins.SearchResult
	err := c.do(ctx, http.MethodGet, "/plugins/search?"+q.Encode(), nil, &results)
	return results, err
}

// ListPlugins returns a server's installed plugins.
func (c *Client) ListPlugins(ctx context.Context, serverID int64) ([]*types.Plugin, error) {
	var recs []*types.Plugin
	err := c.do(ctx, http.MethodGet, idPath("/servers/%d/plugins", serverID), nil, &recs)
	return recs, err
}

// InstallPlugin downloads and registers a plugin jar.
func (c *Client) InstallPlugin(ctx context.Context, serverID int64, req plugins.InstallRequest) (*types.Plugin, error) {
	var rec types.Plugin
	if err := c.do(ctx, http.MethodPost, idPath("/servers/%d/plugins", serverID), req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EnablePlugin renames the jar back into play.
func (c *Client) EnablePlugin(ctx context.Context, serverID, pluginID int64) (*types.Plugin, error) {
	var rec types.Plugin
	if err := c.do(ctx, http.MethodPost, idPath("/servers/%d/plugins/%d/enable", serverID, pluginID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DisablePlugin renames the jar out of play without uninstalling.
func (c *Client) DisablePlugin(ctx context.Context, serverID, pluginID int64) (*types.Plugin, error) {
	var rec types.Plugin
	if err := c.do(ctx, http.MethodPost, idPath("/servers/%d/plugins/%d/disable", serverID, pluginID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UninstallPlugin deletes the jar and its record.
func (c *Client) UninstallPlugin(ctx context.Context, serverID, pluginID int64) error {
	return c.do(ctx, http.MethodDelete, idPath("/servers/%d/plugins/%d", serverID, pluginID), nil, nil)
}

// ListJava returns the Java runtimes visible to the daemon.
func (c *Client) ListJava(ctx context.Context) ([]types.JavaInstall, error) {
	var installs []types.JavaInstall
	err := c.do(ctx, http.MethodGet, "/java", nil, &installs)
	return installs, err
}

// InstallJava downloads a managed Temurin runtime of the given major.
func (c *Client) InstallJava(ctx context.Context, major int) (*types.JavaInstall, error) {
	var install types.JavaInstall
	body := map[string]int{"major": major}
	if err := c.do(ctx, http.MethodPost, "/java/install", body, &install); err != nil {
		return nil, err
	}
	return &install, nil
}

// IssuedKey carries the one-time raw key alongside its record.
type IssuedKey struct {
	types.APIKey
	Key string `json:"key"`
}

// CreateAPIKey mints a key. The Key field of the result is shown exactly
// once; the daemon stores only its hash.
func (c *Client) CreateAPIKey(ctx context.Context, label string, perm types.Permission) (*IssuedKey, error) {
	body := map[string]string{"label": label, "permissions": string(perm)}
	var issued IssuedKey
	if err := c.do(ctx, http.MethodPost, "/apikeys", body, &issued); err != nil {
		return nil, err
	}
	return &issued, nil
}

// ListAPIKeys returns key metadata, never hashes.
func (c *Client) ListAPIKeys(ctx context.Context) ([]*types.APIKey, error) {
	var keys []*types.APIKey
	err := c.do(ctx, http.MethodGet, "/apikeys", nil, &keys)
	return keys, err
}

// RevokeAPIKey deletes a key; in-flight requests finish, the next fails.
func (c *Client) RevokeAPIKey(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, idPath("/apikeys/%d", id), nil, nil)
}
