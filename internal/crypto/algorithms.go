package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// AlgorithmAES256GCM is the default content encryption algorithm.
	AlgorithmAES256GCM = "AES256-GCM"
	// AlgorithmChaCha20Poly1305 is the alternative for hosts without AES
	// hardware support.
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"

	keySize   = 32 // 256 bits, both algorithms
	nonceSize = 12 // 96 bits, both algorithms
	tagSize   = 16
)

// Wire codes for the blob header. Never renumber: stored blobs reference them.
const (
	algCodeAES256GCM        byte = 1
	algCodeChaCha20Poly1305 byte = 2
)

func algorithmCode(algorithm string) (byte, error) {
	switch algorithm {
	case AlgorithmAES256GCM:
		return algCodeAES256GCM, nil
	case AlgorithmChaCha20Poly1305:
		return algCodeChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}

func algorithmFromCode(code byte) (string, error) {
	switch code {
	case algCodeAES256GCM:
		return AlgorithmAES256GCM, nil
	case algCodeChaCha20Poly1305:
		return AlgorithmChaCha20Poly1305, nil
	default:
		return "", fmt.Errorf("unsupported algorithm code: %d", code)
	}
}

// createAEADCipher creates an AEAD cipher for the given algorithm and key.
func createAEADCipher(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", keySize, len(key))
	}

	switch algorithm {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}
