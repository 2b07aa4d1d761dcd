package plugins

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

type testEnv struct {
	manager *Manager
	store   storage.Store
	server  *types.Server
	baseURL string
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "msm.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := fetch.New(fetch.Options{MaxAttempts: 1, AttemptTimeout: 5 * time.Second, OverallTimeout: 30 * time.Second})
	m := NewManager(store, client, nil)
	m.modrinthBase = srv.URL
	m.hangarBase = srv.URL

	return &testEnv{
		manager: m,
		store:   store,
		server: &types.Server{
			ID:      1,
			Name:    "alpha",
			Distro:  types.DistroPaper,
			Version: "1.21.1",
			Dir:     t.TempDir(),
		},
		baseURL: srv.URL,
	}
}

func TestSearchModrinth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "worldedit", r.URL.Query().Get("query"))
		assert.Contains(t, r.URL.Query().Get("facets"), "project_type:plugin")
		assert.Contains(t, r.URL.Query().Get("facets"), "versions:1.21.1")
		json.NewEncoder(w).Encode(map[string]any{
			"hits": []map[string]any{{
				"project_id":  "1u6JkXh5",
				"slug":        "worldedit",
				"title":       "WorldEdit",
				"description": "In-game map editor",
				"author":      "EngineHub",
				"downloads":   5000000,
			}},
		})
	})

	env := newTestEnv(t, mux)
	results, err := env.manager.Search(context.Background(), types.SourceModrinth, "worldedit", "1.21.1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, types.SourceModrinth, results[0].Source)
	assert.Equal(t, "worldedit", results[0].ProjectID)
	assert.Equal(t, "WorldEdit", results[0].Name)
	assert.Equal(t, int64(5000000), results[0].Downloads)
}

func TestSearchHangar(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "essentials", r.URL.Query().Get("q"))
		assert.Equal(t, "PAPER", r.URL.Query().Get("platform"))
		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{
				"name":        "EssentialsX",
				"description": "The essential plugin suite",
				"namespace":   map[string]string{"owner": "EssentialsX", "slug": "Essentials"},
				"stats":       map[string]int64{"downloads": 900000},
			}},
		})
	})

	env := newTestEnv(t, mux)
	results, err := env.manager.Search(context.Background(), types.SourceHangar, "essentials", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, types.SourceHangar, results[0].Source)
	assert.Equal(t, "Essentials", results[0].ProjectID)
	assert.Equal(t, "EssentialsX", results[0].Author)
}

func TestSearchRejectsDirectURLSource(t *testing.T) {
	env := newTestEnv(t, http.NewServeMux())
	_, err := env.manager.Search(context.Background(), types.SourceURL, "anything", "", 10)
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))
}

func modrinthProjectHandler(t *testing.T, jar []byte) http.Handler {
	t.Helper()
	sum := sha512.Sum512(jar)

	mux := http.NewServeMux()
	mux.HandleFunc("/project/worldedit/version", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("game_versions"), "1.21.1")
		link := "http://" + r.Host + "/dl/worldedit-7.3.jar"
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":             "ver-new",
				"version_number": "7.3.0",
				"game_versions":  []string{"1.21.1"},
				"files": []map[string]any{{
					"url":      link,
					"filename": "worldedit-7.3.jar",
					"primary":  true,
					"hashes":   map[string]string{"sha512": hex.EncodeToString(sum[:])},
				}},
			},
			{
				"id":             "ver-old",
				"version_number": "7.2.0",
				"game_versions":  []string{"1.21.1"},
				"files": []map[string]any{{
					"url":      link,
					"filename": "worldedit-7.2.jar",
					"primary":  true,
					"hashes":   map[string]string{"sha512": hex.EncodeToString(sum[:])},
				}},
			},
		})
	})
	mux.HandleFunc("/project/worldedit", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"title": "WorldEdit"})
	})
	mux.HandleFunc("/dl/worldedit-7.3.jar", func(w http.ResponseWriter, r *http.Request) {
		w.Write(jar)
	})
	return mux
}

func TestInstallFromModrinth(t *testing.T) {
	jar := []byte("PK\x03\x04 fake jar bytes")
	env := newTestEnv(t, modrinthProjectHandler(t, jar))

	rec, err := env.manager.Install(context.Background(), env.server, InstallRequest{
		Source:    types.SourceModrinth,
		ProjectID: "worldedit",
	})
	require.NoError(t, err)

	assert.Equal(t, "WorldEdit", rec.Name)
	assert.Equal(t, "7.3.0", rec.Version)
	assert.Equal(t, types.SourceModrinth, rec.Source)
	assert.True(t, rec.Enabled)
	assert.Equal(t, filepath.Join(env.server.Dir, "plugins", "worldedit-7.3.jar"), rec.FilePath)

	data, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, jar, data)

	stored, err := env.store.GetPlugin(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "worldedit", stored.ProjectID)
}

func TestInstallModrinthPinnedVersion(t *testing.T) {
	jar := []byte("PK\x03\x04 fake jar bytes")
	env := newTestEnv(t, modrinthProjectHandler(t, jar))

	rec, err := env.manager.Install(context.Background(), env.server, InstallRequest{
		Source:    types.SourceModrinth,
		ProjectID: "worldedit",
		VersionID: "ver-old",
	})
	require.NoError(t, err)
	assert.Equal(t, "7.2.0", rec.Version)
}

func TestInstallModrinthUnknownVersion(t *testing.T) {
	jar := []byte("PK\x03\x04 fake jar bytes")
	env := newTestEnv(t, modrinthProjectHandler(t, jar))

	_, err := env.manager.Install(context.Background(), env.server, InstallRequest{
		Source:    types.SourceModrinth,
		ProjectID: "worldedit",
		VersionID: "ver-nope",
	})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
}

func TestInstallModrinthNoCompatibleVersion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/project/worldedit/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	})

	env := newTestEnv(t, mux)
	_, err := env.manager.Install(context.Background(), env.server, InstallRequest{
		Source:    types.SourceModrinth,
		ProjectID: "worldedit",
	})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))

	plugs, err := env.store.ListPluginsByServer(env.server.ID)
	require.NoError(t, err)
	assert.Empty(t, plugs)
}

func TestInstallFromHangar(t *testing.T) {
	jar := []byte("PK\x03\x04 essentials jar")

	mux := http.NewServeMux()
	mux.HandleFunc("/projects/Essentials/versions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Release", r.URL.Query().Get("channel"))
		link := "http://" + r.Host + "/dl/EssentialsX-2.20.jar"
		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{
				"name": "2.20.1",
				"downloads": map[string]any{
					"PAPER": map[string]any{
						"fileInfo":    map[string]any{"name": "EssentialsX-2.20.jar"},
						"downloadUrl": link,
					},
				},
			}},
		})
	})
	mux.HandleFunc("/dl/EssentialsX-2.20.jar", func(w http.ResponseWriter, r *http.Request) {
		w.Write(jar)
	})

	env := newTestEnv(t, mux)
	rec, err := env.manager.Install(context.Background(), env.server, InstallRequest{
		Source:    types.SourceHangar,
		ProjectID: "Essentials",
	})
	require.NoError(t, err)

	assert.Equal(t, types.SourceHangar, rec.Source)
	assert.Equal(t, "2.20.1", rec.Version)
	assert.Equal(t, filepath.Join(env.server.Dir, "plugins", "EssentialsX-2.20.jar"), rec.FilePath)

	data, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, jar, data)
}

func TestInstallFromURL(t *testing.T) {
	jar := []byte("PK\x03\x04 custom jar")
	mux := http.NewServeMux()
	mux.HandleFunc("/downloads/MyPlugin.jar", func(w http.ResponseWriter, r *http.Request) {
		w.Write(jar)
	})

	env := newTestEnv(t, mux)
	rec, err := env.manager.Install(context.Background(), env.server, InstallRequest{
		Source: types.SourceURL,
		URL:    env.baseURL + "/downloads/MyPlugin.jar?token=abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "MyPlugin", rec.Name)
	assert.Equal(t, types.SourceURL, rec.Source)
	assert.Equal(t, filepath.Join(env.server.Dir, "plugins", "MyPlugin.jar"), rec.FilePath)
}

func TestInstallFromURLValidation(t *testing.T) {
	env := newTestEnv(t, http.NewServeMux())

	tests := []struct {
		name string
		req  InstallRequest
	}{
		{"missing url", InstallRequest{Source: types.SourceURL}},
		{"relative url", InstallRequest{Source: types.SourceURL, URL: "downloads/foo.jar"}},
		{"missing project id", InstallRequest{Source: types.SourceModrinth}},
		{"unknown source", InstallRequest{Source: types.PluginSource("curseforge")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.manager.Install(context.Background(), env.server, tt.req)
			require.Error(t, err)
			assert.True(t, apierr.IsKind(err, apierr.KindValidation))
		})
	}
}

func TestSetEnabledRenamesJar(t *testing.T) {
	jar := []byte("PK\x03\x04 custom jar")
	mux := http.NewServeMux()
	mux.HandleFunc("/downloads/MyPlugin.jar", func(w http.ResponseWriter, r *http.Request) {
		w.Write(jar)
	})

	env := newTestEnv(t, mux)
	rec, err := env.manager.Install(context.Background(), env.server, InstallRequest{
		Source: types.SourceURL,
		URL:    env.baseURL + "/downloads/MyPlugin.jar",
	})
	require.NoError(t, err)
	enabledPath := rec.FilePath

	rec, err = env.manager.SetEnabled(env.server, rec, false)
	require.NoError(t, err)
	assert.False(t, rec.Enabled)
	assert.Equal(t, enabledPath+DisabledSuffix, rec.FilePath)

	_, statErr := os.Stat(enabledPath)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(rec.FilePath)
	assert.NoError(t, statErr)

	stored, err := env.store.GetPlugin(rec.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, rec.FilePath, stored.FilePath)

	rec, err = env.manager.SetEnabled(env.server, rec, true)
	require.NoError(t, err)
	assert.True(t, rec.Enabled)
	assert.Equal(t, enabledPath, rec.FilePath)
	_, statErr = os.Stat(enabledPath)
	assert.NoError(t, statErr)
}

func TestSetEnabledSameStateIsNoop(t *testing.T) {
	env := newTestEnv(t, http.NewServeMux())

	rec := &types.Plugin{ID: 7, Enabled: true, FilePath: filepath.Join(t.TempDir(), "nonexistent.jar")}
	got, err := env.manager.SetEnabled(env.server, rec, true)
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestUninstallRemovesFileAndRecord(t *testing.T) {
	jar := []byte("PK\x03\x04 custom jar")
	mux := http.NewServeMux()
	mux.HandleFunc("/downloads/MyPlugin.jar", func(w http.ResponseWriter, r *http.Request) {
		w.Write(jar)
	})

	env := newTestEnv(t, mux)
	rec, err := env.manager.Install(context.Background(), env.server, InstallRequest{
		Source: types.SourceURL,
		URL:    env.baseURL + "/downloads/MyPlugin.jar",
	})
	require.NoError(t, err)

	require.NoError(t, env.manager.Uninstall(env.server, rec))

	_, statErr := os.Stat(rec.FilePath)
	assert.True(t, os.IsNotExist(statErr))
	_, err = env.store.GetPlugin(rec.ID)
	assert.True(t, storage.IsNotFound(err))
}

func TestUninstallToleratesMissingFile(t *testing.T) {
	env := newTestEnv(t, http.NewServeMux())

	rec := &types.Plugin{
		ServerID: env.server.ID,
		Name:     "ghost",
		Source:   types.SourceURL,
		FilePath: filepath.Join(env.server.Dir, "plugins", "ghost.jar"),
		Enabled:  true,
	}
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertPlugin(rec)
		rec.ID = id
		return err
	}))

	require.NoError(t, env.manager.Uninstall(env.server, rec))
	_, err := env.store.GetPlugin(rec.ID)
	assert.True(t, storage.IsNotFound(err))
}

func TestCheckUpdates(t *testing.T) {
	jar := []byte("PK\x03\x04 fake jar bytes")
	env := newTestEnv(t, modrinthProjectHandler(t, jar))

	// Installed at the old version; the registry's newest is 7.3.0.
	rec := &types.Plugin{
		ServerID:  env.server.ID,
		Name:      "WorldEdit",
		Source:    types.SourceModrinth,
		ProjectID: "worldedit",
		Version:   "7.2.0",
		FilePath:  filepath.Join(env.server.Dir, "plugins", "worldedit-7.2.jar"),
		Enabled:   true,
	}
	urlPlugin := &types.Plugin{
		ServerID: env.server.ID,
		Name:     "manual",
		Source:   types.SourceURL,
		FilePath: filepath.Join(env.server.Dir, "plugins", "manual.jar"),
		Enabled:  true,
	}
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		if _, err := tx.InsertPlugin(rec); err != nil {
			return err
		}
		_, err := tx.InsertPlugin(urlPlugin)
		return err
	}))

	updates, err := env.manager.CheckUpdates(context.Background(), env.server)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "WorldEdit", updates[0].Name)
	assert.Equal(t, "7.2.0", updates[0].CurrentVersion)
	assert.Equal(t, "7.3.0", updates[0].LatestVersion)
}

func TestCheckUpdatesUpToDate(t *testing.T) {
	jar := []byte("PK\x03\x04 fake jar bytes")
	env := newTestEnv(t, modrinthProjectHandler(t, jar))

	rec := &types.Plugin{
		ServerID:  env.server.ID,
		Name:      "WorldEdit",
		Source:    types.SourceModrinth,
		ProjectID: "worldedit",
		Version:   "7.3.0",
		FilePath:  filepath.Join(env.server.Dir, "plugins", "worldedit-7.3.jar"),
		Enabled:   true,
	}
	require.NoError(t, env.store.WithTx(func(tx *storage.Tx) error {
		_, err := tx.InsertPlugin(rec)
		return err
	}))

	updates, err := env.manager.CheckUpdates(context.Background(), env.server)
	require.NoError(t, err)
	assert.Empty(t, updates)
}
