package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/client"
	"github.com/craftd/msm/pkg/types"
	"github.com/craftd/msm/test/framework"
)

// TestAPIKeyGate walks the authentication lifecycle: open until the
// first key exists, then enforced, with permission tiers honored.
func TestAPIKeyGate(t *testing.T) {
	if testing.Short() {
		t.Skip("integration flow")
	}
	framework.SkipUnlessUnix(t)

	ctx := context.Background()
	d := framework.NewDaemon(t, framework.Config{})

	// No keys issued yet: requests pass without credentials.
	_, err := d.Client.ListServers(ctx)
	require.NoError(t, err)

	issued, err := d.Client.CreateAPIKey(ctx, "ops", types.PermAdmin)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(issued.Key, issued.Prefix+"."),
		"raw key should start with the stored prefix")

	// The same keyless client is now locked out, but liveness stays open.
	_, err = d.Client.ListServers(ctx)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "unauthorized"), "got %v", err)

	report, err := d.Client.Health(ctx)
	require.NoError(t, err, "health must not require a key")
	assert.Equal(t, "ok", report.Status)

	// A wrong key is distinguished from a missing one.
	bad := client.New(client.Options{Base: d.BaseURL, APIKey: issued.Prefix + ".wrong"})
	_, err = bad.ListServers(ctx)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "invalid_api_key"), "got %v", err)

	admin := client.New(client.Options{Base: d.BaseURL, APIKey: issued.Key})
	_, err = admin.ListServers(ctx)
	require.NoError(t, err)

	// Read keys can look but not touch.
	viewer, err := admin.CreateAPIKey(ctx, "viewer", types.PermRead)
	require.NoError(t, err)
	ro := client.New(client.Options{Base: d.BaseURL, APIKey: viewer.Key})
	_, err = ro.ListServers(ctx)
	require.NoError(t, err)
	_, err = ro.CreateServer(ctx, createSpec("forbidden", framework.FreePort(t)))
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "security_refused"), "got %v", err)

	// Revoking the viewer key kills it immediately.
	require.NoError(t, admin.RevokeAPIKey(ctx, viewer.ID))
	_, err = ro.ListServers(ctx)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "invalid_api_key"), "got %v", err)

	keys, err := admin.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ops", keys[0].Label)
}
