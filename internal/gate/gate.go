// Package gate defines the access grant contract the preview pipeline
// consumes. A grant proves the caller re-authenticated with the account's
// primary credential; it is short-lived and re-requested for every
// operation.
package gate

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAccessDenied indicates the re-authentication proof was rejected or the
// grant is invalid or expired.
var ErrAccessDenied = errors.New("access denied")

// DefaultGrantTTL bounds how long an issued grant stays redeemable.
const DefaultGrantTTL = 30 * time.Second

// Grant is a short-lived credential authorizing ciphertext fetches for one
// file. Opaque to consumers; never cache one beyond a single operation.
type Grant struct {
	FileID    string
	Token     string
	ExpiresAt time.Time
}

// AccessGate authorizes ciphertext retrieval.
type AccessGate interface {
	// RequestAccess validates the re-authentication proof against the
	// account's primary credential and issues a grant for the file.
	RequestAccess(ctx context.Context, fileID, reAuthProof string) (Grant, error)
}

// Verifier checks grants on the storage side.
type Verifier interface {
	// Verify checks that a grant was issued for the file and has not
	// expired.
	Verify(grant Grant, fileID string) error
}

type grantRecord struct {
	fileID    string
	expiresAt time.Time
}

// LocalGate is an in-process gate for tests and single-node deployments. It
// accepts only the primary credential: secondary or restricted credentials are
// rejected even when they are otherwise valid account credentials.
type LocalGate struct {
	primaryHash     [sha256.Size]byte
	secondaryHashes [][sha256.Size]byte
	ttl             time.Duration

	mu     sync.Mutex
	issued map[string]grantRecord
}

// NewLocalGate creates a gate accepting primaryCredential. Any credential in
// secondaryCredentials is explicitly rejected for preview access.
func NewLocalGate(primaryCredential string, secondaryCredentials []string, ttl time.Duration) (*LocalGate, error) {
	if primaryCredential == "" {
		return nil, fmt.Errorf("primary credential cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}

	g := &LocalGate{
		primaryHash: sha256.Sum256([]byte(primaryCredential)),
		ttl:         ttl,
		issued:      make(map[string]grantRecord),
	}
	for _, s := range secondaryCredentials {
		g.secondaryHashes = append(g.secondaryHashes, sha256.Sum256([]byte(s)))
	}
	return g, nil
}

// RequestAccess implements AccessGate.
func (g *LocalGate) RequestAccess(ctx context.Context, fileID, reAuthProof string) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}
	if fileID == "" {
		return Grant{}, fmt.Errorf("file id cannot be empty")
	}

	proofHash := sha256.Sum256([]byte(reAuthProof))

	// A matching secondary credential is still a denial: preview access
	// requires the primary credential specifically.
	for _, h := range g.secondaryHashes {
		if subtle.ConstantTimeCompare(proofHash[:], h[:]) == 1 {
			return Grant{}, fmt.Errorf("restricted credential: %w", ErrAccessDenied)
		}
	}
	if subtle.ConstantTimeCompare(proofHash[:], g.primaryHash[:]) != 1 {
		return Grant{}, ErrAccessDenied
	}

	token, err := randomToken()
	if err != nil {
		return Grant{}, fmt.Errorf("failed to issue grant: %w", err)
	}

	grant := Grant{
		FileID:    fileID,
		Token:     token,
		ExpiresAt: time.Now().Add(g.ttl),
	}

	g.mu.Lock()
	g.sweepLocked(time.Now())
	g.issued[token] = grantRecord{fileID: fileID, expiresAt: grant.ExpiresAt}
	g.mu.Unlock()

	return grant, nil
}

// sweepLocked drops expired grants so the issued map stays bounded by the
// number of grants live within one TTL window. Caller holds g.mu.
func (g *LocalGate) sweepLocked(now time.Time) {
	for token, rec := range g.issued {
		if now.After(rec.expiresAt) {
			delete(g.issued, token)
		}
	}
}

// Verify implements Verifier. A grant stays redeemable until it expires,
// which covers the body and metadata fetches of one operation; expired grants
// are purged on sight.
func (g *LocalGate) Verify(grant Grant, fileID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.issued[grant.Token]
	if !ok {
		return ErrAccessDenied
	}
	if time.Now().After(rec.expiresAt) {
		delete(g.issued, grant.Token)
		return ErrAccessDenied
	}
	if rec.fileID != fileID {
		return ErrAccessDenied
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
