package auth

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "msm.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store), store
}

func TestIssueReturnsRawKeyOnce(t *testing.T) {
	mgr, _ := newTestManager(t)

	key, raw, err := mgr.Issue("ci deploy", types.PermWrite)
	require.NoError(t, err)
	require.NotNil(t, key)

	assert.Greater(t, key.ID, int64(0))
	assert.Equal(t, "ci deploy", key.Label)
	assert.Equal(t, types.PermWrite, key.Permissions)
	assert.True(t, key.Active)
	assert.Nil(t, key.LastUsed)

	prefix, secret, ok := strings.Cut(raw, ".")
	require.True(t, ok, "raw key should be <prefix>.<secret>")
	assert.Len(t, prefix, 8)
	assert.Equal(t, key.Prefix, prefix)
	assert.NotEmpty(t, secret)
	assert.Equal(t, HashSecret(secret), key.KeyHash)
	assert.NotContains(t, key.KeyHash, secret, "hash must not embed the secret")
}

func TestIssueValidatesInput(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, _, err := mgr.Issue("", types.PermRead)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "validation_error"))

	_, _, err = mgr.Issue("   ", types.PermRead)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "validation_error"))

	_, _, err = mgr.Issue("ops", types.Permission("root"))
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "validation_error"))
}

func TestIssuedPrefixesAreUnique(t *testing.T) {
	mgr, _ := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		key, _, err := mgr.Issue("key", types.PermRead)
		require.NoError(t, err)
		assert.Len(t, key.Prefix, 8)
		assert.False(t, seen[key.Prefix], "prefix collision")
		seen[key.Prefix] = true
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)

	issued, raw, err := mgr.Issue("ops", types.PermAdmin)
	require.NoError(t, err)

	key, err := mgr.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, key.ID)
	assert.Equal(t, types.PermAdmin, key.Permissions)
}

func TestVerifyMissingKey(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Verify("")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindUnauthorized))
	assert.True(t, apierr.HasCode(err, "unauthorized"))
}

func TestVerifyMalformedKey(t *testing.T) {
	mgr, _ := newTestManager(t)

	for _, raw := range []string{"no-separator", "prefix.", ".secret", "."} {
		_, err := mgr.Verify(raw)
		require.Error(t, err, "raw=%q", raw)
		assert.True(t, apierr.HasCode(err, "invalid_api_key"), "raw=%q", raw)
	}
}

func TestVerifyUnknownPrefix(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Verify("AAAAAAAA.irrelevant")
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "invalid_api_key"))
	assert.True(t, apierr.IsKind(err, apierr.KindSecurity))
}

func TestVerifyWrongSecret(t *testing.T) {
	mgr, _ := newTestManager(t)

	key, _, err := mgr.Issue("ops", types.PermRead)
	require.NoError(t, err)

	_, err = mgr.Verify(key.Prefix + ".guessed-secret")
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "invalid_api_key"))
}

func TestVerifyInactiveKey(t *testing.T) {
	mgr, store := newTestManager(t)

	key, raw, err := mgr.Issue("ops", types.PermRead)
	require.NoError(t, err)

	require.NoError(t, store.WithTx(func(tx *storage.Tx) error {
		return tx.SetAPIKeyActive(key.ID, false)
	}))

	_, err = mgr.Verify(raw)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "invalid_api_key"))
}

func TestVerifyStampsLastUsed(t *testing.T) {
	mgr, store := newTestManager(t)

	issued, raw, err := mgr.Issue("ops", types.PermRead)
	require.NoError(t, err)
	require.Nil(t, issued.LastUsed)

	key, err := mgr.Verify(raw)
	require.NoError(t, err)
	assert.NotNil(t, key.LastUsed)

	stored, err := store.GetAPIKeyByPrefix(issued.Prefix)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsed)
}

func TestEnabledTracksActiveKeys(t *testing.T) {
	mgr, _ := newTestManager(t)

	on, err := mgr.Enabled()
	require.NoError(t, err)
	assert.False(t, on, "fresh install should be open")

	key, _, err := mgr.Issue("ops", types.PermRead)
	require.NoError(t, err)

	on, err = mgr.Enabled()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, mgr.Revoke(key.ID))

	on, err = mgr.Enabled()
	require.NoError(t, err)
	assert.False(t, on, "revoking the last key reopens the api")
}

func TestRevoke(t *testing.T) {
	mgr, _ := newTestManager(t)

	key, raw, err := mgr.Issue("ops", types.PermWrite)
	require.NoError(t, err)

	require.NoError(t, mgr.Revoke(key.ID))

	_, err = mgr.Verify(raw)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "invalid_api_key"))

	err = mgr.Revoke(key.ID)
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "not_found"))
}

func TestListNeverExposesHashesOverJSON(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, _, err := mgr.Issue("ops", types.PermRead)
	require.NoError(t, err)

	keys, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotEmpty(t, keys[0].KeyHash, "hash present in the record")

	body, err := json.Marshal(keys)
	require.NoError(t, err)
	assert.NotContains(t, string(body), keys[0].KeyHash)
	assert.NotContains(t, string(body), "key_hash")
}

func TestHashSecret(t *testing.T) {
	a := HashSecret("secret-a")
	b := HashSecret("secret-b")

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashSecret("secret-a"), "deterministic")
}

func TestPermissionTiers(t *testing.T) {
	assert.True(t, types.PermAdmin.Allows(types.PermRead))
	assert.True(t, types.PermAdmin.Allows(types.PermWrite))
	assert.True(t, types.PermWrite.Allows(types.PermRead))
	assert.False(t, types.PermRead.Allows(types.PermWrite))
	assert.False(t, types.PermWrite.Allows(types.PermAdmin))
	assert.False(t, types.Permission("bogus").Allows(types.PermRead))
}
