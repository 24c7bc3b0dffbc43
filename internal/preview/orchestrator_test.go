package preview

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/zerovault/internal/audit"
	"github.com/kenneth/zerovault/internal/classify"
	"github.com/kenneth/zerovault/internal/crypto"
	"github.com/kenneth/zerovault/internal/gate"
	"github.com/kenneth/zerovault/internal/keys"
	"github.com/kenneth/zerovault/internal/store"
)

const (
	testUserID     = "user-7f3a2b1c"
	testCredential = "primary-pass"
)

// vaultFixture wires an engine, gate, store, and audit logger around a set of
// uploaded files, the way the upload path would.
type vaultFixture struct {
	engine *crypto.Engine
	gate   *gate.LocalGate
	store  *store.MemoryStore
	audit  audit.Logger
}

func newVaultFixture(t *testing.T) *vaultFixture {
	t.Helper()

	engine, err := crypto.NewEngine()
	require.NoError(t, err)

	g, err := gate.NewLocalGate(testCredential, []string{"share-link-pass"}, time.Minute)
	require.NoError(t, err)

	return &vaultFixture{
		engine: engine,
		gate:   g,
		store:  store.NewMemoryStore(g),
		audit:  audit.NewLogger(256, nil),
	}
}

func (f *vaultFixture) upload(t *testing.T, fileID string, body []byte, md crypto.FileMetadata) {
	t.Helper()

	key, err := keys.DeriveContentKey(testUserID)
	require.NoError(t, err)
	defer key.Zero()

	blob, err := f.engine.EncryptStream(key, bytes.NewReader(body))
	require.NoError(t, err)
	record, err := f.engine.EncryptMetadata(key, md)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.store.PutBlob(ctx, fileID, blob.Marshal()))
	require.NoError(t, f.store.PutMetadata(ctx, fileID, record.Marshal()))
}

func (f *vaultFixture) orchestrator(opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(f.engine, f.gate, f.store, f.audit, opts...)
}

func eventTypes(l audit.Logger) []audit.EventType {
	events := audit.Events(l)
	types := make([]audit.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestPreviewTextFile(t *testing.T) {
	f := newVaultFixture(t)
	body := []byte("meeting notes\nline two\nline three\n")
	f.upload(t, "notes", body, crypto.FileMetadata{Name: "notes.txt", DeclaredType: "text/plain"})

	o := f.orchestrator()
	p, err := o.Preview(context.Background(), testUserID, "notes", testCredential)
	require.NoError(t, err)

	assert.Equal(t, classify.KindText, p.Kind)
	assert.Equal(t, string(body), p.Text)
	assert.False(t, p.Truncated)
	assert.Nil(t, p.Handle, "text previews carry no handle")
	assert.Equal(t, "notes.txt", p.Metadata.Name)
	assert.Equal(t, StateRendered, o.State())

	assert.Equal(t, []audit.EventType{
		audit.EventRequested,
		audit.EventDecrypted,
		audit.EventClassified,
	}, eventTypes(f.audit))
}

func TestPreviewTextTruncation(t *testing.T) {
	f := newVaultFixture(t)
	body := bytes.Repeat([]byte("all work and no play makes a dull vault\n"), 200)
	f.upload(t, "big-notes", body, crypto.FileMetadata{Name: "big.txt"})

	o := f.orchestrator(WithTextPreviewLimit(100))
	p, err := o.Preview(context.Background(), testUserID, "big-notes", testCredential)
	require.NoError(t, err)

	assert.Equal(t, classify.KindText, p.Kind)
	assert.True(t, p.Truncated)
	assert.Len(t, p.Text, 100)
	assert.Equal(t, string(body[:100]), p.Text)
}

func TestPreviewBinaryFileYieldsHandle(t *testing.T) {
	f := newVaultFixture(t)
	body := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 4096)...)
	f.upload(t, "photo", body, crypto.FileMetadata{Name: "photo.png", DeclaredType: "image/png"})

	o := f.orchestrator()
	p, err := o.Preview(context.Background(), testUserID, "photo", testCredential)
	require.NoError(t, err)

	assert.Equal(t, classify.KindImage, p.Kind)
	assert.Empty(t, p.Text)
	require.NotNil(t, p.Handle)
	assert.Equal(t, classify.KindImage, p.Handle.Kind())
	assert.Equal(t, len(body), p.Handle.Len())

	data, err := p.Handle.Bytes()
	require.NoError(t, err)
	assert.Equal(t, body, data)

	assert.Same(t, p.Handle, o.Handle())
}

func TestPreviewDetectionIgnoresDeclaredType(t *testing.T) {
	f := newVaultFixture(t)
	body := append([]byte("%PDF-1.7\n"), make([]byte, 10<<20)...)
	if _, err := rand.Read(body[9:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	f.upload(t, "report", body, crypto.FileMetadata{
		Name:         "report.pdf",
		DeclaredType: "application/octet-stream",
	})

	o := f.orchestrator()
	p, err := o.Preview(context.Background(), testUserID, "report", testCredential)
	require.NoError(t, err)

	assert.Equal(t, classify.KindPDF, p.Kind)
	assert.Equal(t, 1.0, p.Confidence)
	assert.Equal(t, "application/octet-stream", p.Metadata.DeclaredType)
	require.NotNil(t, p.Handle)

	data, err := p.Handle.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data[:4])
	assert.Len(t, data, len(body))
}

func TestPreviewSupersedesLiveHandle(t *testing.T) {
	f := newVaultFixture(t)
	image := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 128)...)
	f.upload(t, "first", image, crypto.FileMetadata{Name: "a.png"})
	f.upload(t, "second", image, crypto.FileMetadata{Name: "b.png"})

	o := f.orchestrator()
	ctx := context.Background()

	p1, err := o.Preview(ctx, testUserID, "first", testCredential)
	require.NoError(t, err)
	require.NotNil(t, p1.Handle)

	p2, err := o.Preview(ctx, testUserID, "second", testCredential)
	require.NoError(t, err)
	require.NotNil(t, p2.Handle)

	_, err = p1.Handle.Bytes()
	assert.ErrorIs(t, err, ErrHandleReleased, "first handle revoked on supersession")
	_, err = p2.Handle.Bytes()
	assert.NoError(t, err)
	assert.Same(t, p2.Handle, o.Handle())

	// Exactly one release lands between the first render and the second.
	types := eventTypes(f.audit)
	assert.Equal(t, []audit.EventType{
		audit.EventRequested, audit.EventDecrypted, audit.EventClassified,
		audit.EventReleased,
		audit.EventRequested, audit.EventDecrypted, audit.EventClassified,
	}, types)
}

func TestPreviewRelease(t *testing.T) {
	f := newVaultFixture(t)
	image := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 128)...)
	f.upload(t, "photo", image, crypto.FileMetadata{Name: "a.png"})

	o := f.orchestrator()
	p, err := o.Preview(context.Background(), testUserID, "photo", testCredential)
	require.NoError(t, err)
	require.NotNil(t, p.Handle)

	o.Release()
	assert.Equal(t, StateReleased, o.State())
	assert.Nil(t, o.Handle())

	_, err = p.Handle.Bytes()
	assert.ErrorIs(t, err, ErrHandleReleased)
	assert.Equal(t, 0, p.Handle.Len())

	// Releasing again is harmless and emits nothing further.
	before := len(audit.Events(f.audit))
	o.Release()
	assert.Len(t, audit.Events(f.audit), before)
}

func TestPreviewWrongCredential(t *testing.T) {
	f := newVaultFixture(t)
	f.upload(t, "notes", []byte("text"), crypto.FileMetadata{Name: "n.txt"})

	o := f.orchestrator()
	_, err := o.Preview(context.Background(), testUserID, "notes", "wrong-pass")
	assert.ErrorIs(t, err, gate.ErrAccessDenied)
	assert.Equal(t, StateErrored, o.State())

	events := audit.Events(f.audit)
	last := events[len(events)-1]
	assert.Equal(t, audit.EventErrored, last.Type)
	assert.Equal(t, "access_denied", last.Reason)
}

func TestPreviewSecondaryCredentialDenied(t *testing.T) {
	f := newVaultFixture(t)
	f.upload(t, "notes", []byte("text"), crypto.FileMetadata{Name: "n.txt"})

	o := f.orchestrator()
	_, err := o.Preview(context.Background(), testUserID, "notes", "share-link-pass")
	assert.ErrorIs(t, err, gate.ErrAccessDenied)
}

func TestPreviewMissingFile(t *testing.T) {
	f := newVaultFixture(t)

	o := f.orchestrator()
	_, err := o.Preview(context.Background(), testUserID, "nope", testCredential)
	assert.ErrorIs(t, err, store.ErrNotFound)

	events := audit.Events(f.audit)
	last := events[len(events)-1]
	assert.Equal(t, audit.EventErrored, last.Type)
	assert.Equal(t, "not_found", last.Reason)
}

func TestPreviewInvalidIdentifier(t *testing.T) {
	f := newVaultFixture(t)

	o := f.orchestrator()
	_, err := o.Preview(context.Background(), "", "file", testCredential)
	assert.ErrorIs(t, err, keys.ErrInvalidKeyMaterial)

	events := audit.Events(f.audit)
	last := events[len(events)-1]
	assert.Equal(t, "invalid_key_material", last.Reason)
}

func TestPreviewTamperedCiphertext(t *testing.T) {
	f := newVaultFixture(t)
	body := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 4096)...)
	f.upload(t, "photo", body, crypto.FileMetadata{Name: "p.png"})

	// Corrupt a sealed byte past the header.
	ctx := context.Background()
	grant, err := f.gate.RequestAccess(ctx, "photo", testCredential)
	require.NoError(t, err)
	raw, err := f.store.FetchBlob(ctx, "photo", grant)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, f.store.PutBlob(ctx, "photo", raw))

	o := f.orchestrator()
	_, err = o.Preview(ctx, testUserID, "photo", testCredential)
	assert.ErrorIs(t, err, crypto.ErrAuthenticationFailed)
	assert.Equal(t, StateErrored, o.State())

	events := audit.Events(f.audit)
	last := events[len(events)-1]
	assert.Equal(t, "decryption_failed", last.Reason)
}

func TestPreviewTruncatedCiphertext(t *testing.T) {
	f := newVaultFixture(t)
	body := make([]byte, 100*1024)
	f.upload(t, "doc", body, crypto.FileMetadata{Name: "d.bin"})

	ctx := context.Background()
	grant, err := f.gate.RequestAccess(ctx, "doc", testCredential)
	require.NoError(t, err)
	raw, err := f.store.FetchBlob(ctx, "doc", grant)
	require.NoError(t, err)
	// Cut into the framing header itself.
	require.NoError(t, f.store.PutBlob(ctx, "doc", raw[:10]))

	o := f.orchestrator()
	_, err = o.Preview(ctx, testUserID, "doc", testCredential)
	assert.ErrorIs(t, err, crypto.ErrTruncatedInput)

	events := audit.Events(f.audit)
	last := events[len(events)-1]
	assert.Equal(t, "truncated_input", last.Reason)
}

func TestPreviewCancelledContext(t *testing.T) {
	f := newVaultFixture(t)
	f.upload(t, "notes", []byte("text body"), crypto.FileMetadata{Name: "n.txt"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := f.orchestrator()
	_, err := o.Preview(ctx, testUserID, "notes", testCredential)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, StateReleased, o.State())
	assert.Nil(t, o.Handle())

	events := audit.Events(f.audit)
	last := events[len(events)-1]
	assert.Equal(t, audit.EventReleased, last.Type)
	assert.Equal(t, "aborted", last.Reason)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "rendered", StateRendered.String())
	assert.Equal(t, "unknown", State(99).String())
}
