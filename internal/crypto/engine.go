// Package crypto implements the authenticated encryption of file bodies and
// metadata. All operations are pure in-memory transformations; nothing here
// touches the network or disk.
package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kenneth/zerovault/internal/keys"
)

const (
	// DefaultChunkSize is the plaintext size of each sealed chunk (64 KiB).
	// Chunking bounds peak memory per cryptographic call; it is not a
	// parallelism mechanism.
	DefaultChunkSize = 64 * 1024

	// MinChunkSize guards against degenerate per-chunk overhead.
	MinChunkSize = 16 * 1024

	// MaxChunkSize guards peak memory use per chunk.
	MaxChunkSize = 1024 * 1024
)

// Engine performs authenticated encryption and decryption of byte streams.
// It is stateless and safe for concurrent use.
type Engine struct {
	algorithm string
	chunkSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithAlgorithm selects the AEAD algorithm for new encryptions.
func WithAlgorithm(algorithm string) Option {
	return func(e *Engine) { e.algorithm = algorithm }
}

// WithChunkSize sets the plaintext chunk size for new encryptions. Values are
// clamped to [MinChunkSize, MaxChunkSize].
func WithChunkSize(size int) Option {
	return func(e *Engine) { e.chunkSize = size }
}

// NewEngine creates an encryption engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		algorithm: AlgorithmAES256GCM,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	if _, err := algorithmCode(e.algorithm); err != nil {
		return nil, err
	}
	if e.chunkSize < MinChunkSize {
		e.chunkSize = MinChunkSize
	}
	if e.chunkSize > MaxChunkSize {
		e.chunkSize = MaxChunkSize
	}
	return e, nil
}

// EncryptStream encrypts plaintext read from r into a chunked blob. A fresh
// random base nonce is generated per call, so encrypting the same plaintext
// twice never reuses a (key, nonce) pair.
func (e *Engine) EncryptStream(key keys.ContentKey, r io.Reader) (*EncryptedBlob, error) {
	aead, err := createAEADCipher(e.algorithm, key)
	if err != nil {
		return nil, err
	}

	baseNonce := make([]byte, nonceSize)
	if _, err := rand.Read(baseNonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := &EncryptedBlob{
		Algorithm: e.algorithm,
		ChunkSize: e.chunkSize,
		BaseNonce: baseNonce,
	}

	buf := make([]byte, e.chunkSize)
	for chunkIndex := 0; ; chunkIndex++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			nonce := deriveChunkNonce(baseNonce, chunkIndex)
			blob.Sealed = append(blob.Sealed, aead.Seal(nil, nonce, buf[:n], nil)...)
			blob.ChunkCount++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return blob, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read plaintext: %w", err)
		}
	}
}

// DecryptStream verifies and decrypts a blob. Every chunk is authenticated
// before any plaintext is returned; a single failed chunk aborts the whole
// operation with ErrAuthenticationFailed and no partial output.
func (e *Engine) DecryptStream(key keys.ContentKey, blob *EncryptedBlob) (io.Reader, error) {
	plaintext, err := e.decrypt(key, blob)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(plaintext), nil
}

func (e *Engine) decrypt(key keys.ContentKey, blob *EncryptedBlob) ([]byte, error) {
	aead, err := createAEADCipher(blob.Algorithm, key)
	if err != nil {
		return nil, err
	}
	if len(blob.BaseNonce) != nonceSize {
		return nil, fmt.Errorf("base nonce of %d bytes: %w", len(blob.BaseNonce), ErrTruncatedInput)
	}

	sealedChunkSize := blob.ChunkSize + tagSize
	plaintext := make([]byte, 0, len(blob.Sealed))
	sealed := blob.Sealed

	chunkIndex := 0
	for ; len(sealed) > 0; chunkIndex++ {
		n := sealedChunkSize
		if n > len(sealed) {
			n = len(sealed)
		}
		if n < tagSize {
			zeroBytes(plaintext)
			return nil, fmt.Errorf("sealed chunk %d of %d bytes: %w", chunkIndex, n, ErrTruncatedInput)
		}

		nonce := deriveChunkNonce(blob.BaseNonce, chunkIndex)
		chunk, err := aead.Open(nil, nonce, sealed[:n], nil)
		if err != nil {
			zeroBytes(plaintext)
			return nil, fmt.Errorf("chunk %d: %w", chunkIndex, ErrAuthenticationFailed)
		}
		plaintext = append(plaintext, chunk...)
		sealed = sealed[n:]
	}

	// Every chunk verified individually, now verify the whole: a payload cut
	// at a sealed-chunk boundary must not surface a shortened plaintext.
	if chunkIndex != blob.ChunkCount {
		zeroBytes(plaintext)
		return nil, fmt.Errorf("blob declares %d chunks, found %d: %w", blob.ChunkCount, chunkIndex, ErrTruncatedInput)
	}

	return plaintext, nil
}

// deriveChunkNonce derives the nonce for a chunk by XORing the last four
// bytes of the base nonce with the big-endian chunk index. Deterministic and
// unique per chunk under one base nonce.
func deriveChunkNonce(baseNonce []byte, chunkIndex int) []byte {
	nonce := make([]byte, len(baseNonce))
	copy(nonce, baseNonce)

	var index [4]byte
	binary.BigEndian.PutUint32(index[:], uint32(chunkIndex))
	for i := 0; i < 4; i++ {
		nonce[len(nonce)-1-i] ^= index[3-i]
	}
	return nonce
}

// zeroBytes overwrites a byte slice for cleanup of partially decrypted data.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
