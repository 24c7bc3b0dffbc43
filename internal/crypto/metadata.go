package crypto

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/kenneth/zerovault/internal/keys"
)

// FileMetadata is the plaintext form of a file's stored metadata.
//
// DeclaredType is whatever content type the upload path captured; it is
// frequently a generic placeholder such as application/octet-stream and must
// not drive rendering decisions. Classification of the decrypted bytes is the
// source of truth for that.
type FileMetadata struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
}

// EncryptMetadata encrypts a file's metadata under the same content key as the
// body, with an independent random nonce. The payload is small enough to seal
// in one call.
func (e *Engine) EncryptMetadata(key keys.ContentKey, md FileMetadata) (*EncryptedMetadata, error) {
	aead, err := createAEADCipher(e.algorithm, key)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &EncryptedMetadata{
		Algorithm: e.algorithm,
		Nonce:     nonce,
		Sealed:    aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// DecryptMetadata verifies and decrypts a metadata record.
func (e *Engine) DecryptMetadata(key keys.ContentKey, em *EncryptedMetadata) (FileMetadata, error) {
	aead, err := createAEADCipher(em.Algorithm, key)
	if err != nil {
		return FileMetadata{}, err
	}
	if len(em.Nonce) != nonceSize || len(em.Sealed) < tagSize {
		return FileMetadata{}, fmt.Errorf("metadata record: %w", ErrTruncatedInput)
	}

	plaintext, err := aead.Open(nil, em.Nonce, em.Sealed, nil)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("metadata: %w", ErrAuthenticationFailed)
	}

	var md FileMetadata
	if err := json.Unmarshal(plaintext, &md); err != nil {
		return FileMetadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return md, nil
}
