// Package secretauth implements the coordinator-wide HMAC authentication
// scheme used to verify connecting agents. All agents share the same
// secret; the coordinator generates one on first boot and persists it so
// restarts don't strand already-configured agents.
package secretauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
)

// secretBytes is the length, in bytes, of a freshly generated secret before
// hex encoding.
const secretBytes = 32

// Authenticator derives and verifies HMAC-SHA256 MACs over a per-connection
// nonce, keyed by a single shared secret.
type Authenticator struct {
	secret []byte
}

// New wraps an already-resolved secret string.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// LoadOrGenerate reads a hex-encoded secret from path. If the file is
// missing, unreadable or empty, a fresh 32-byte random secret is generated and an
// attempt is made to persist it to path; a save failure is non-fatal — the
// coordinator proceeds with the in-memory secret but agents configured
// against a previous boot's secret will fail to authenticate.
//
// Returns the Authenticator and whether the secret was loaded from disk
// (false means freshly generated) so the caller can log without exposing
// the secret itself.
func LoadOrGenerate(path string) (auth *Authenticator, loadedFromDisk bool, err error) {
	if b, readErr := os.ReadFile(path); readErr == nil {
		secret := trimNewline(b)
		if len(secret) > 0 {
			return New(string(secret)), true, nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, false, fmt.Errorf("secretauth: generating secret: %w", err)
	}

	if writeErr := os.WriteFile(path, []byte(secret), 0o600); writeErr != nil {
		// Non-fatal: proceed with the in-memory secret, matching the
		// teacher's "log; generate fresh in-memory if unreadable; warn if
		// unsaveable" disposition for startup errors.
		return New(secret), false, fmt.Errorf("secretauth: saving secret to %s: %w", path, writeErr)
	}

	return New(secret), false, nil
}

// generateSecret returns a fresh hex-encoded random secret.
func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Compute returns the lowercase hex-encoded HMAC-SHA256 of nonce keyed by
// the shared secret.
func (a *Authenticator) Compute(nonce string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether mac is the correct HMAC-SHA256 of nonce under the
// shared secret. Comparison is constant-time to avoid leaking information
// about how many leading hex characters matched.
func (a *Authenticator) Verify(nonce, mac string) bool {
	expected := a.Compute(nonce)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(mac)) == 1
}

// trimNewline strips all trailing \n and \r bytes, as written by most
// editors and shells, without pulling in strings.TrimSpace's broader
// whitespace semantics (a secret should never legitimately contain other
// whitespace).
func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
