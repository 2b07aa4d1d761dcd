package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

const (
	// prefixBytes encodes to the 8 base64url characters stored in the
	// public prefix column.
	prefixBytes = 6
	// secretBytes is the entropy behind the secret half of a key.
	secretBytes = 32
)

// Manager issues and verifies API keys. The raw secret exists exactly once,
// in the string Issue returns; only its SHA-256 reaches the database.
type Manager struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewManager creates an API key manager backed by the given store.
func NewManager(store storage.Store) *Manager {
	return &Manager{
		store:  store,
		logger: log.WithComponent("auth"),
	}
}

// Issue creates a new key and returns the record plus the raw key string
// in the form <prefix>.<secret>. The raw string cannot be recovered later.
func (m *Manager) Issue(label string, perm types.Permission) (*types.APIKey, string, error) {
	if strings.TrimSpace(label) == "" {
		return nil, "", apierr.Validation("label", "label is required")
	}
	switch perm {
	case types.PermRead, types.PermWrite, types.PermAdmin:
	default:
		return nil, "", apierr.Validation("permissions", "must be one of read, write, admin")
	}

	prefix, err := randomToken(prefixBytes)
	if err != nil {
		return nil, "", err
	}
	secret, err := randomToken(secretBytes)
	if err != nil {
		return nil, "", err
	}

	key := &types.APIKey{
		Label:       label,
		Prefix:      prefix,
		KeyHash:     HashSecret(secret),
		Permissions: perm,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	err = m.store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertAPIKey(key)
		key.ID = id
		return err
	})
	if err != nil {
		return nil, "", err
	}

	m.logger.Info().Str("label", label).Str("prefix", prefix).
		Str("permissions", string(perm)).Msg("api key issued")
	return key, prefix + "." + secret, nil
}

// Verify authenticates a raw <prefix>.<secret> string. On success the key
// record is returned and its last_used stamp bumped. The error distinguishes
// missing credentials (unauthorized) from bad ones (invalid), never which
// part of a bad key failed.
func (m *Manager) Verify(raw string) (*types.APIKey, error) {
	if raw == "" {
		return nil, apierr.Unauthorized()
	}
	prefix, secret, ok := strings.Cut(raw, ".")
	if !ok || prefix == "" || secret == "" {
		return nil, apierr.InvalidAPIKey()
	}

	key, err := m.store.GetAPIKeyByPrefix(prefix)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apierr.InvalidAPIKey()
		}
		return nil, err
	}
	if !key.Active {
		return nil, apierr.InvalidAPIKey()
	}
	if subtle.ConstantTimeCompare([]byte(HashSecret(secret)), []byte(key.KeyHash)) != 1 {
		return nil, apierr.InvalidAPIKey()
	}

	// Best effort; a failed stamp must not reject a valid key.
	now := time.Now().UTC()
	err = m.store.WithTx(func(tx *storage.Tx) error { return tx.TouchAPIKey(key.ID, now) })
	if err != nil {
		m.logger.Debug().Err(err).Str("prefix", prefix).Msg("failed to stamp key usage")
	} else {
		key.LastUsed = &now
	}
	return key, nil
}

// Enabled reports whether authentication is enforced, which is the case as
// soon as at least one active key exists.
func (m *Manager) Enabled() (bool, error) {
	n, err := m.store.CountActiveAPIKeys()
	return n > 0, err
}

// List returns every key record, hashes included for no caller; the JSON
// encoding of APIKey never exposes key_hash.
func (m *Manager) List() ([]*types.APIKey, error) {
	return m.store.ListAPIKeys()
}

// Revoke permanently removes a key. Requests already in flight with the
// key finish; the next Verify fails.
func (m *Manager) Revoke(id int64) error {
	err := m.store.WithTx(func(tx *storage.Tx) error { return tx.DeleteAPIKey(id) })
	if err != nil {
		if storage.IsNotFound(err) {
			return apierr.NotFound("api key")
		}
		return err
	}
	m.logger.Info().Int64("key_id", id).Msg("api key revoked")
	return nil
}

// HashSecret returns the hex SHA-256 digest stored for a secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", apierr.Internalf(err, "failed to generate key material")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
