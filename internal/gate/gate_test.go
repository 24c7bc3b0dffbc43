package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalGate(t *testing.T) {
	_, err := NewLocalGate("", nil, 0)
	assert.Error(t, err)

	g, err := NewLocalGate("primary-pass", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultGrantTTL, g.ttl)
}

func TestRequestAccess(t *testing.T) {
	g, err := NewLocalGate("primary-pass", []string{"share-link-pass", "guest-pass"}, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("primary credential issues a grant", func(t *testing.T) {
		grant, err := g.RequestAccess(ctx, "file-1", "primary-pass")
		require.NoError(t, err)
		assert.Equal(t, "file-1", grant.FileID)
		assert.NotEmpty(t, grant.Token)
		assert.True(t, grant.ExpiresAt.After(time.Now()))
	})

	t.Run("wrong credential is denied", func(t *testing.T) {
		_, err := g.RequestAccess(ctx, "file-1", "not-the-password")
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("secondary credential is denied", func(t *testing.T) {
		_, err := g.RequestAccess(ctx, "file-1", "share-link-pass")
		assert.ErrorIs(t, err, ErrAccessDenied)

		_, err = g.RequestAccess(ctx, "file-1", "guest-pass")
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("empty file id is rejected", func(t *testing.T) {
		_, err := g.RequestAccess(ctx, "", "primary-pass")
		assert.Error(t, err)
	})

	t.Run("cancelled context is rejected", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := g.RequestAccess(cancelled, "file-1", "primary-pass")
		assert.Error(t, err)
	})
}

func TestVerify(t *testing.T) {
	g, err := NewLocalGate("primary-pass", nil, time.Minute)
	require.NoError(t, err)

	grant, err := g.RequestAccess(context.Background(), "file-1", "primary-pass")
	require.NoError(t, err)

	t.Run("valid grant verifies repeatedly within its lifetime", func(t *testing.T) {
		assert.NoError(t, g.Verify(grant, "file-1"))
		assert.NoError(t, g.Verify(grant, "file-1"))
	})

	t.Run("grant is bound to its file", func(t *testing.T) {
		assert.ErrorIs(t, g.Verify(grant, "file-2"), ErrAccessDenied)
	})

	t.Run("unknown token is denied", func(t *testing.T) {
		forged := Grant{FileID: "file-1", Token: "deadbeef", ExpiresAt: grant.ExpiresAt}
		assert.ErrorIs(t, g.Verify(forged, "file-1"), ErrAccessDenied)
	})
}

func TestVerifyExpiredGrant(t *testing.T) {
	g, err := NewLocalGate("primary-pass", nil, time.Minute)
	require.NoError(t, err)

	grant, err := g.RequestAccess(context.Background(), "file-1", "primary-pass")
	require.NoError(t, err)

	// Force expiry from the store side.
	g.mu.Lock()
	rec := g.issued[grant.Token]
	rec.expiresAt = time.Now().Add(-time.Second)
	g.issued[grant.Token] = rec
	g.mu.Unlock()

	assert.ErrorIs(t, g.Verify(grant, "file-1"), ErrAccessDenied)

	// Expired grants are purged, so a second check fails the same way.
	g.mu.Lock()
	_, stillThere := g.issued[grant.Token]
	g.mu.Unlock()
	assert.False(t, stillThere)
}

func TestRequestAccessSweepsExpiredGrants(t *testing.T) {
	g, err := NewLocalGate("primary-pass", nil, time.Minute)
	require.NoError(t, err)

	stale, err := g.RequestAccess(context.Background(), "file-1", "primary-pass")
	require.NoError(t, err)

	g.mu.Lock()
	rec := g.issued[stale.Token]
	rec.expiresAt = time.Now().Add(-time.Second)
	g.issued[stale.Token] = rec
	g.mu.Unlock()

	// Issuing a fresh grant reaps expired records even if nobody ever
	// redeems them, so the issued map does not grow without bound.
	fresh, err := g.RequestAccess(context.Background(), "file-2", "primary-pass")
	require.NoError(t, err)

	g.mu.Lock()
	_, staleThere := g.issued[stale.Token]
	_, freshThere := g.issued[fresh.Token]
	g.mu.Unlock()
	assert.False(t, staleThere)
	assert.True(t, freshThere)
}
