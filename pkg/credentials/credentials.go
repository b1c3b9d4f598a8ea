// Package credentials implements the narrow encrypt/decrypt helper every
// executor and channel sender calls before touching
// config.*.password|apiKey|privateKey|... fields (spec.md §4.2, §5).
//
// Key management and rotation policy are explicitly out of scope
// (SPEC_FULL.md §1): this package only provides the symmetric
// encrypt/decrypt primitive the rest of the platform is built against,
// grounded on the teacher's pkg/auth random-secret and bcrypt posture —
// generalized from password hashing to reversible secret storage using
// golang.org/x/crypto's NaCl secretbox construction (the teacher already
// depends on golang.org/x/crypto for bcrypt; secretbox is the same module).
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// sensitiveKeySuffixes mirrors the field-name convention spec.md §4.2
// calls out literally: "config.*.password|apiKey|privateKey|...".
var sensitiveKeySuffixes = []string{"password", "apikey", "privatekey", "token", "secret", "authtoken"}

// IsSensitiveField reports whether a config map key should be treated as
// an encrypted secret.
func IsSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range sensitiveKeySuffixes {
		if strings.Contains(lower, suffix) {
			return true
		}
	}
	return false
}

// Box encrypts and decrypts organization credential fields with a single
// process-wide key loaded from CREDENTIAL_ENCRYPTION_KEY. A job's
// decrypted plaintext must never be cached beyond that job's lifetime
// (spec.md §5) — callers decrypt fresh on every executor invocation.
type Box struct {
	key [32]byte
}

// NewBox builds a secretbox key from the configured secret, which must be
// standard base64 that decodes to exactly 32 raw bytes. The secret is not
// padded or hashed anywhere: pkg/config only checks that
// CREDENTIAL_ENCRYPTION_KEY is set in production, and a short or
// malformed key is rejected here.
func NewBox(base64Key string) (*Box, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("credentials: empty encryption key")
	}
	raw, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("credentials: invalid base64 key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credentials: key must decode to 32 bytes, got %d", len(raw))
	}
	var b Box
	copy(b.key[:], raw)
	return &b, nil
}

// Encrypt returns a base64-encoded nonce||ciphertext blob.
func (b *Box) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("credentials: failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Callers MUST discard the returned plaintext
// once the current job finishes — never store it on a long-lived struct.
func (b *Box) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("credentials: invalid base64 blob: %w", err)
	}
	if len(sealed) < 24 {
		return "", fmt.Errorf("credentials: blob too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	opened, ok := secretbox.Open(nil, sealed[24:], &nonce, &b.key)
	if !ok {
		return "", fmt.Errorf("credentials: decryption failed (bad key or corrupt blob)")
	}
	return string(opened), nil
}

// DecryptConfig walks a monitor/channel config map's top-level keys and
// decrypts every sensitive string field into a new map, so the original (which
// may be what's persisted) is left untouched. Per spec.md §4.2, this must
// run before any executor touches the fields.
func (b *Box) DecryptConfig(config map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		s, ok := v.(string)
		if ok && IsSensitiveField(k) && s != "" {
			plain, err := b.Decrypt(s)
			if err != nil {
				return nil, fmt.Errorf("credentials: failed to decrypt field %q: %w", k, err)
			}
			out[k] = plain
			continue
		}
		out[k] = v
	}
	return out, nil
}
