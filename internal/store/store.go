// Package store moves opaque ciphertext between the client engine and
// durable storage. No decryption ever happens here: the store sees only the
// framed blob and metadata record bytes.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kenneth/zerovault/internal/gate"
)

// ErrNotFound indicates no blob or metadata record exists for the file id.
var ErrNotFound = errors.New("object not found")

// CiphertextStore persists and serves encrypted file bodies and metadata.
// Fetches require a verifiable access grant; puts happen on the upload path
// before any grant exists.
type CiphertextStore interface {
	PutBlob(ctx context.Context, fileID string, blob []byte) error
	PutMetadata(ctx context.Context, fileID string, record []byte) error
	FetchBlob(ctx context.Context, fileID string, grant gate.Grant) ([]byte, error)
	FetchMetadata(ctx context.Context, fileID string, grant gate.Grant) ([]byte, error)
	Delete(ctx context.Context, fileID string) error
}

// MemoryStore is an in-memory CiphertextStore for tests and the demo server.
type MemoryStore struct {
	verifier gate.Verifier

	mu    sync.RWMutex
	blobs map[string][]byte
	metas map[string][]byte
}

// NewMemoryStore creates an in-memory store. The verifier gates every fetch;
// it must not be nil.
func NewMemoryStore(verifier gate.Verifier) *MemoryStore {
	return &MemoryStore{
		verifier: verifier,
		blobs:    make(map[string][]byte),
		metas:    make(map[string][]byte),
	}
}

func (s *MemoryStore) PutBlob(ctx context.Context, fileID string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[fileID] = append([]byte(nil), blob...)
	return nil
}

func (s *MemoryStore) PutMetadata(ctx context.Context, fileID string, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[fileID] = append([]byte(nil), record...)
	return nil
}

func (s *MemoryStore) FetchBlob(ctx context.Context, fileID string, grant gate.Grant) ([]byte, error) {
	return s.fetch(ctx, fileID, grant, s.blobs)
}

func (s *MemoryStore) FetchMetadata(ctx context.Context, fileID string, grant gate.Grant) ([]byte, error) {
	return s.fetch(ctx, fileID, grant, s.metas)
}

func (s *MemoryStore) fetch(ctx context.Context, fileID string, grant gate.Grant, objects map[string][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.verifier.Verify(grant, fileID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := objects[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, fileID)
	delete(s.metas, fileID)
	return nil
}
