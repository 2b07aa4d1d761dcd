package distro

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/types"
)

func testResolver(t *testing.T, handler http.Handler) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := fetch.New(fetch.Options{
		MaxAttempts:    1,
		AttemptTimeout: 2 * time.Second,
		OverallTimeout: 5 * time.Second,
	})
	return &Resolver{
		client:         client,
		paperBase:      srv.URL,
		mojangManifest: srv.URL + "/mc/game/version_manifest.json",
		fabricBase:     srv.URL,
		purpurBase:     srv.URL,
		forgePromos:    srv.URL + "/promotions_slim.json",
		forgeMaven:     srv.URL + "/maven",
	}
}

func TestResolvePaperPicksLatestBuild(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/paper/versions/1.21.1/builds", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"builds":[
			{"build":10,"channel":"default","downloads":{"application":{"name":"paper-1.21.1-10.jar","sha256":"aaa"}}},
			{"build":12,"channel":"default","downloads":{"application":{"name":"paper-1.21.1-12.jar","sha256":"bbb"}}}
		]}`)
	})
	r := testResolver(t, mux)

	artifact, err := r.Resolve(context.Background(), types.DistroPaper, "1.21.1")
	require.NoError(t, err)
	assert.Contains(t, artifact.URL, "/projects/paper/versions/1.21.1/builds/12/downloads/paper-1.21.1-12.jar")
	require.NotNil(t, artifact.Digest)
	assert.Equal(t, "sha256", artifact.Digest.Algo)
	assert.Equal(t, "bbb", artifact.Digest.Hex)
	assert.Equal(t, "12", artifact.Build)
}

func TestResolvePaperUnknownVersion(t *testing.T) {
	r := testResolver(t, http.NotFoundHandler())

	_, err := r.Resolve(context.Background(), types.DistroPaper, "0.0.0")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
}

func TestResolveVanillaVerifiesSHA1(t *testing.T) {
	mux := http.NewServeMux()
	var detailURL string
	mux.HandleFunc("/mc/game/version_manifest.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"latest":{"release":"1.21.1"},"versions":[
			{"id":"24w33a","type":"snapshot","url":"%s"},
			{"id":"1.21.1","type":"release","url":"%s"}
		]}`, detailURL, detailURL)
	})
	mux.HandleFunc("/detail.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"downloads":{"server":{"sha1":"cafe1234","size":51234567,"url":"https://piston-data.mojang.com/v1/objects/cafe1234/server.jar"}}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	detailURL = srv.URL + "/detail.json"

	client := fetch.New(fetch.Options{MaxAttempts: 1, AttemptTimeout: 2 * time.Second, OverallTimeout: 5 * time.Second})
	r := &Resolver{client: client, mojangManifest: srv.URL + "/mc/game/version_manifest.json"}

	artifact, err := r.Resolve(context.Background(), types.DistroVanilla, "1.21.1")
	require.NoError(t, err)
	assert.Equal(t, "https://piston-data.mojang.com/v1/objects/cafe1234/server.jar", artifact.URL)
	require.NotNil(t, artifact.Digest)
	assert.Equal(t, "sha1", artifact.Digest.Algo)
	assert.Equal(t, "cafe1234", artifact.Digest.Hex)
}

func TestResolveVanillaUnknownVersion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/mc/game/version_manifest.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"versions":[]}`)
	})
	r := testResolver(t, mux)

	_, err := r.Resolve(context.Background(), types.DistroVanilla, "1.0.0")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
}

func TestResolveFabricPrefersStableLoader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/versions/loader", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"version":"0.17.0-beta.1","stable":false},
			{"version":"0.16.5","stable":true}
		]`)
	})
	mux.HandleFunc("/versions/installer", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"version":"1.0.1","stable":true}]`)
	})
	r := testResolver(t, mux)

	artifact, err := r.Resolve(context.Background(), types.DistroFabric, "1.21.1")
	require.NoError(t, err)
	assert.Contains(t, artifact.URL, "/versions/loader/1.21.1/0.16.5/1.0.1/server/jar")
	assert.Nil(t, artifact.Digest)
	assert.Equal(t, "0.16.5", artifact.Build)
}

func TestResolvePurpurVerifiesMD5(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/purpur/1.21.1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"builds":{"latest":"2324"}}`)
	})
	mux.HandleFunc("/purpur/1.21.1/2324", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"md5":"d41d8cd98f00b204e9800998ecf8427e"}`)
	})
	r := testResolver(t, mux)

	artifact, err := r.Resolve(context.Background(), types.DistroPurpur, "1.21.1")
	require.NoError(t, err)
	assert.Contains(t, artifact.URL, "/purpur/1.21.1/2324/download")
	require.NotNil(t, artifact.Digest)
	assert.Equal(t, "md5", artifact.Digest.Algo)
	assert.Equal(t, "2324", artifact.Build)
}

func TestResolveForge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/promotions_slim.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"promos":{
			"1.20.1-recommended":"47.2.0",
			"1.20.1-latest":"47.3.0",
			"1.21.1-latest":"52.0.1"
		}}`)
	})
	r := testResolver(t, mux)

	tests := []struct {
		name      string
		version   string
		wantBuild string
		wantURL   string
	}{
		{
			name:      "recommended wins over latest",
			version:   "1.20.1",
			wantBuild: "47.2.0",
			wantURL:   "/maven/1.20.1-47.2.0/forge-1.20.1-47.2.0-installer.jar",
		},
		{
			name:      "falls back to latest",
			version:   "1.21.1",
			wantBuild: "52.0.1",
			wantURL:   "/maven/1.21.1-52.0.1/forge-1.21.1-52.0.1-installer.jar",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact, err := r.Resolve(context.Background(), types.DistroForge, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBuild, artifact.Build)
			assert.Contains(t, artifact.URL, tt.wantURL)
			assert.Nil(t, artifact.Digest)
		})
	}

	_, err := r.Resolve(context.Background(), types.DistroForge, "1.7.10-pre4")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
}

func TestVersionsListing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/paper", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"versions":["1.20.4","1.21","1.21.1"]}`)
	})
	mux.HandleFunc("/purpur", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"versions":["1.20.4","1.21.1"]}`)
	})
	mux.HandleFunc("/mc/game/version_manifest.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"versions":[
			{"id":"24w33a","type":"snapshot","url":"x"},
			{"id":"1.21.1","type":"release","url":"x"},
			{"id":"1.21","type":"release","url":"x"}
		]}`)
	})
	mux.HandleFunc("/versions/game", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"version":"1.21.2-rc1","stable":false},
			{"version":"1.21.1","stable":true}
		]`)
	})
	mux.HandleFunc("/promotions_slim.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"promos":{
			"1.19.2-recommended":"43.2.0",
			"1.20.1-recommended":"47.2.0",
			"1.20.1-latest":"47.3.0",
			"1.21.1-latest":"52.0.1"
		}}`)
	})
	r := testResolver(t, mux)
	ctx := context.Background()

	paper, err := r.Versions(ctx, types.DistroPaper, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.1", "1.21", "1.20.4"}, paper, "paper versions are newest first")

	purpur, err := r.Versions(ctx, types.DistroPurpur, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.1", "1.20.4"}, purpur)

	releases, err := r.Versions(ctx, types.DistroVanilla, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.1", "1.21"}, releases)

	withSnapshots, err := r.Versions(ctx, types.DistroVanilla, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"24w33a", "1.21.1", "1.21"}, withSnapshots)

	fabric, err := r.Versions(ctx, types.DistroFabric, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.1"}, fabric)

	forge, err := r.Versions(ctx, types.DistroForge, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.1", "1.20.1", "1.19.2"}, forge, "forge versions are semver sorted, newest first")
}

func TestResolveUnknownDistro(t *testing.T) {
	r := testResolver(t, http.NotFoundHandler())

	_, err := r.Resolve(context.Background(), types.Distro("spigot"), "1.21.1")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))

	_, err = r.Versions(context.Background(), types.Distro("spigot"), false)
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))
}
