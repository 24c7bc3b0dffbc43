// Package keys derives per-account content encryption keys.
//
// The content key is never persisted or transmitted: it is recomputed from the
// account's stable identifier on every operation. Note that the derivation has
// no user-held secret in the loop -- this mirrors the deployed system and is a
// known design weakness (anyone able to learn or guess an account identifier
// can recompute that account's key). Changing the derivation would change the
// data-recoverability guarantees, so it is flagged here rather than altered.
package keys

import (
	"crypto/sha256"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key derivation parameters. These must never change: every stored blob
	// depends on the derivation being reproducible.
	pbkdf2Iterations = 100000
	keySize          = 32 // 256 bits, used as an AES-256 / ChaCha20 key

	// Fixed application-level salt. Shared across all accounts; uniqueness of
	// derived keys comes from the identifier, not the salt.
	applicationSalt = "zerovault-content-key-v1"

	minIdentifierLength = 8
)

// ErrInvalidKeyMaterial indicates the stable identifier is empty or malformed
// and no derivation was attempted.
var ErrInvalidKeyMaterial = errors.New("invalid key material")

// ContentKey is a derived 256-bit symmetric content key. It lives only in
// process memory for the duration of an operation.
type ContentKey []byte

// DeriveContentKey derives the content key for the account identified by
// stableUserID. The same identifier always yields the same key.
func DeriveContentKey(stableUserID string) (ContentKey, error) {
	if err := validateIdentifier(stableUserID); err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(stableUserID), []byte(applicationSalt), pbkdf2Iterations, keySize, sha256.New)
	return ContentKey(key), nil
}

// Zero overwrites the key material. The key is unusable afterwards.
func (k ContentKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

func validateIdentifier(id string) error {
	if id == "" {
		return ErrInvalidKeyMaterial
	}
	if strings.TrimSpace(id) != id || len(id) < minIdentifierLength {
		return ErrInvalidKeyMaterial
	}
	return nil
}
