package acme

import (
	"fmt"
	"os"
	"path/filepath"
)

// TokenStore is the HTTP-01 challenge token store, consulted
// by the proxy's ACME filter. It is backed by a webroot
// directory rather than a bare map: certbot's own `--webroot` plugin writes
// the token file directly into this directory during an HTTP-01 challenge,
// so the Worker's subprocess invocation and the HTTP-facing token store
// share one piece of filesystem state instead of needing an extra
// out-of-band channel between the certbot process and this one.
type TokenStore struct {
	dir string
}

// wellKnownPath is the path segment certbot's --webroot plugin appends to
// the webroot directory when it writes a challenge response file, and the
// one the proxy's ACME filter strips off an inbound validation request.
const wellKnownPath = ".well-known/acme-challenge"

// NewTokenStore ensures dir and its acme-challenge well-known subpath exist
// and returns a TokenStore rooted at dir.
func NewTokenStore(dir string) (*TokenStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, wellKnownPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating acme webroot %s: %w", dir, err)
	}
	return &TokenStore{dir: dir}, nil
}

// Dir is the webroot directory passed to certbot's --webroot plugin.
// Certbot appends .well-known/acme-challenge/<token> to it itself.
func (t *TokenStore) Dir() string { return t.dir }

func (t *TokenStore) path(token string) string {
	return filepath.Join(t.dir, wellKnownPath, token)
}

// Get reads the key-authorization value published for token, if any.
func (t *TokenStore) Get(token string) (string, bool) {
	data, err := os.ReadFile(t.path(token))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Put publishes a token/key-authorization pair directly — used by tests and
// by any in-process HTTP-01 path that does not go through certbot's webroot
// plugin.
func (t *TokenStore) Put(token, keyAuth string) error {
	return os.WriteFile(t.path(token), []byte(keyAuth), 0o644)
}

// Delete removes a published token once its challenge completes or times
// out.
func (t *TokenStore) Delete(token string) error {
	err := os.Remove(t.path(token))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
