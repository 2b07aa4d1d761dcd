/*
Package auth issues and verifies the API keys protecting the HTTP surface.

A key is a single string <prefix>.<secret>: an 8-character public prefix
used for lookup and a 32-byte URL-safe secret whose SHA-256 hex digest is
the only thing stored. Issue returns the raw string exactly once; there is
no recovery path, only revocation and reissue.

# Verification

	X-API-Key: dGhpc2lz.4fWq...
	            │        └── hashed, constant-time compared against key_hash
	            └── database lookup

Verification failures are deliberately uniform: unknown prefix, wrong
secret and revoked key all produce the same invalid_api_key error, so a
probing client learns nothing about which keys exist. A missing header is
the one distinct case (unauthorized, 401) because the fix is different:
supply a key rather than fix one.

# Enforcement Model

The supervisor is a local single-operator tool first. With no active keys
the API is open and every request carries implicit admin. Issuing the
first key flips the whole surface to enforced mode:

  - read routes require a key with at least read permission
  - mutating routes require write
  - key management requires admin

Deleting the last key reopens the API. The tier ranking lives on
types.Permission; this package only authenticates.

# Usage

	mgr := auth.NewManager(store)
	key, raw, err := mgr.Issue("ci deploy", types.PermWrite)
	// print raw once; it cannot be shown again

	key, err = mgr.Verify(r.Header.Get("X-API-Key"))

# See Also

  - pkg/api: the middleware that calls Verify per request
  - pkg/storage: api_keys table and prefix lookup
*/
package auth
