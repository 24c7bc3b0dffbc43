// Package preview assembles decrypted, classified previews of vault content.
//
// The orchestrator is the only component that sees plaintext outside the
// crypto engine, and it confines that plaintext to bounded text snippets and
// ephemeral handles it owns. Every state transition emits an audit event.
package preview

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/zerovault/internal/audit"
	"github.com/kenneth/zerovault/internal/classify"
	"github.com/kenneth/zerovault/internal/crypto"
	"github.com/kenneth/zerovault/internal/gate"
	"github.com/kenneth/zerovault/internal/keys"
	"github.com/kenneth/zerovault/internal/metrics"
	"github.com/kenneth/zerovault/internal/store"
)

// State is the orchestrator's position in the preview lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateDecrypting
	StateClassifying
	StateRendered
	StateReleased
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateDecrypting:
		return "decrypting"
	case StateClassifying:
		return "classifying"
	case StateRendered:
		return "rendered"
	case StateReleased:
		return "released"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrAborted indicates the preview was cancelled or superseded before it
// rendered; any partially decrypted buffers were discarded, not surfaced.
var ErrAborted = errors.New("preview aborted")

// Error taxonomy tags carried on errored audit events.
const (
	reasonAccessDenied       = "access_denied"
	reasonDecryptionFailed   = "decryption_failed"
	reasonTruncatedInput     = "truncated_input"
	reasonInvalidKeyMaterial = "invalid_key_material"
	reasonNotFound           = "not_found"
	reasonStoreFailure       = "store_failure"
)

// DefaultTextPreviewLimit bounds the size of text handed to the rendering
// surface as a string.
const DefaultTextPreviewLimit = 32 * 1024

// AccessGate and CiphertextStore are the external collaborators the
// orchestrator consumes. Declared here so callers can substitute their own.
type AccessGate interface {
	RequestAccess(ctx context.Context, fileID, reAuthProof string) (gate.Grant, error)
}

type CiphertextStore interface {
	FetchBlob(ctx context.Context, fileID string, grant gate.Grant) ([]byte, error)
	FetchMetadata(ctx context.Context, fileID string, grant gate.Grant) ([]byte, error)
}

// Preview is the typed result handed to the rendering surface. Exactly one of
// Text or Handle is populated: bounded text for text content, an ephemeral
// handle for everything binary.
type Preview struct {
	FileID     string
	Kind       classify.Kind
	Confidence float64
	Metadata   crypto.FileMetadata
	Text       string
	Truncated  bool
	Handle     *Handle
}

// Orchestrator drives one preview at a time through the lifecycle
// Idle -> Requesting -> Decrypting -> Classifying -> Rendered -> Released.
// It owns at most one live ephemeral handle; a new request forces release of
// the previous one first.
type Orchestrator struct {
	engine    *crypto.Engine
	gate      AccessGate
	store     CiphertextStore
	audit     audit.Logger
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	tracer    trace.Tracer
	textLimit int

	mu      sync.Mutex
	state   State
	current *Handle
	gen     uint64
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logrus.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTextPreviewLimit overrides the bound on text preview size.
func WithTextPreviewLimit(limit int) OrchestratorOption {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.textLimit = limit
		}
	}
}

// NewOrchestrator creates a preview orchestrator. The audit logger is
// required: every transition is observable.
func NewOrchestrator(engine *crypto.Engine, accessGate AccessGate, cs CiphertextStore, auditLog audit.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		engine:    engine,
		gate:      accessGate,
		store:     cs,
		audit:     auditLog,
		logger:    logrus.New(),
		tracer:    otel.Tracer("zerovault/preview"),
		textLimit: DefaultTextPreviewLimit,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Handle returns the live ephemeral handle, or nil if none is rendered.
func (o *Orchestrator) Handle() *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && o.current.isReleased() {
		return nil
	}
	return o.current
}

// Release frees the current preview's ephemeral resource, if any, and moves
// the orchestrator to Released. Safe to call at any time.
func (o *Orchestrator) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseLocked()
	o.state = StateReleased
}

// releaseLocked revokes the current handle. Callers hold o.mu.
func (o *Orchestrator) releaseLocked() {
	if o.current == nil {
		return
	}
	h := o.current
	o.current = nil
	// Handle.Release runs the audit/metrics callback; do it outside the
	// handle's own lock but it is safe under o.mu.
	h.Release()
}

// Preview runs the full pipeline for one file. The re-authentication proof is
// forwarded to the access gate; a fresh grant is requested for every call and
// never cached. Cancelling ctx while requesting or decrypting aborts the
// operation and discards any partially decrypted buffers.
func (o *Orchestrator) Preview(ctx context.Context, stableUserID, fileID, reAuthProof string) (*Preview, error) {
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "vault.preview",
		trace.WithAttributes(attribute.String("vault.file_id", fileID)),
	)
	defer span.End()

	// A new request supersedes any rendered preview: exactly one ephemeral
	// resource may be live per orchestrator.
	o.mu.Lock()
	o.releaseLocked()
	o.gen++
	gen := o.gen
	o.state = StateRequesting
	o.mu.Unlock()

	o.emit(audit.Event{Type: audit.EventRequested, FileID: fileID, UserID: stableUserID})

	p, err := o.run(ctx, gen, stableUserID, fileID, reAuthProof, start)
	outcome := "rendered"
	if err != nil {
		switch {
		case errors.Is(err, ErrAborted):
			outcome = "aborted"
		default:
			outcome = "errored"
		}
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.String("vault.kind", string(p.Kind)))
	}
	if o.metrics != nil {
		o.metrics.RecordPreview(outcome, time.Since(start))
	}
	return p, err
}

func (o *Orchestrator) run(ctx context.Context, gen uint64, stableUserID, fileID, reAuthProof string, start time.Time) (*Preview, error) {
	key, err := keys.DeriveContentKey(stableUserID)
	if err != nil {
		return nil, o.fail(gen, fileID, stableUserID, reasonInvalidKeyMaterial, err)
	}
	defer key.Zero()

	grant, err := o.gate.RequestAccess(ctx, fileID, reAuthProof)
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.abort(gen, fileID, stableUserID)
		}
		return nil, o.fail(gen, fileID, stableUserID, reasonAccessDenied, err)
	}

	if !o.advance(gen, StateDecrypting) {
		return nil, o.abort(gen, fileID, stableUserID)
	}

	body, md, err := o.decrypt(ctx, key, fileID, grant)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrAborted) {
			return nil, o.abort(gen, fileID, stableUserID)
		}
		return nil, o.fail(gen, fileID, stableUserID, decryptReason(err), err)
	}
	if ctx.Err() != nil {
		// Decryption completed for an abandoned request: drop the result.
		zero(body)
		return nil, o.abort(gen, fileID, stableUserID)
	}

	o.emit(audit.Event{Type: audit.EventDecrypted, FileID: fileID, UserID: stableUserID, Duration: time.Since(start)})

	if !o.advance(gen, StateClassifying) {
		zero(body)
		return nil, o.abort(gen, fileID, stableUserID)
	}

	// Detection is evidence-based: the declared type recovered from metadata
	// is advisory only and never drives the rendering decision.
	result := classify.Classify(body)
	if o.metrics != nil {
		o.metrics.RecordClassification(string(result.Kind))
	}
	o.emit(audit.Event{Type: audit.EventClassified, FileID: fileID, UserID: stableUserID, Kind: string(result.Kind)})

	p := &Preview{
		FileID:     fileID,
		Kind:       result.Kind,
		Confidence: result.Confidence,
		Metadata:   md,
	}

	if result.Kind == classify.KindText {
		text := body
		if len(text) > o.textLimit {
			text = text[:o.textLimit]
			p.Truncated = true
		}
		p.Text = string(text)
		zero(body)
		if !o.render(gen, nil) {
			return nil, o.abort(gen, fileID, stableUserID)
		}
		return p, nil
	}

	handle := &Handle{
		id:   newHandleID(),
		kind: result.Kind,
		data: body,
	}
	handle.onRelease = func() {
		o.emit(audit.Event{Type: audit.EventReleased, FileID: fileID, UserID: stableUserID})
		if o.metrics != nil {
			o.metrics.HandleReleased()
		}
	}
	if !o.render(gen, handle) {
		handle.Release()
		return nil, o.abort(gen, fileID, stableUserID)
	}
	if o.metrics != nil {
		o.metrics.HandleOpened()
	}
	p.Handle = handle
	return p, nil
}

// decrypt fetches and decrypts body and metadata. The two ciphertexts are
// independent, so they proceed concurrently; both must finish before the
// pipeline moves on.
func (o *Orchestrator) decrypt(ctx context.Context, key keys.ContentKey, fileID string, grant gate.Grant) ([]byte, crypto.FileMetadata, error) {
	var (
		wg      sync.WaitGroup
		body    []byte
		md      crypto.FileMetadata
		bodyErr error
		mdErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		raw, err := o.store.FetchBlob(ctx, fileID, grant)
		if err != nil {
			bodyErr = err
			return
		}
		blob, err := crypto.UnmarshalBlob(raw)
		if err != nil {
			bodyErr = err
			return
		}
		started := time.Now()
		r, err := o.engine.DecryptStream(key, blob)
		if err != nil {
			bodyErr = err
			return
		}
		body, bodyErr = io.ReadAll(r)
		if bodyErr == nil && o.metrics != nil {
			o.metrics.RecordCrypto("decrypt", blob.Algorithm, len(body), time.Since(started))
		}
	}()
	go func() {
		defer wg.Done()
		raw, err := o.store.FetchMetadata(ctx, fileID, grant)
		if err != nil {
			mdErr = err
			return
		}
		record, err := crypto.UnmarshalMetadata(raw)
		if err != nil {
			mdErr = err
			return
		}
		md, mdErr = o.engine.DecryptMetadata(key, record)
	}()
	wg.Wait()

	if bodyErr != nil {
		zero(body)
		return nil, crypto.FileMetadata{}, bodyErr
	}
	if mdErr != nil {
		zero(body)
		return nil, crypto.FileMetadata{}, mdErr
	}
	return body, md, nil
}

// advance moves to next if this generation still owns the pipeline.
func (o *Orchestrator) advance(gen uint64, next State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return false
	}
	o.state = next
	return true
}

// render installs the handle (which may be nil for text previews) and moves
// to Rendered if this generation still owns the pipeline.
func (o *Orchestrator) render(gen uint64, h *Handle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return false
	}
	o.state = StateRendered
	o.current = h
	return true
}

// abort handles cancellation and supersession: buffers are already discarded
// by the caller, the state moves to Released, and no result surfaces.
func (o *Orchestrator) abort(gen uint64, fileID, userID string) error {
	o.mu.Lock()
	if o.gen == gen {
		o.state = StateReleased
	}
	o.mu.Unlock()
	o.emit(audit.Event{Type: audit.EventReleased, FileID: fileID, UserID: userID, Reason: "aborted"})
	return ErrAborted
}

// fail marks the pipeline errored and returns a wrapped error carrying the
// taxonomy tag. Raw internals never reach the caller-facing message beyond
// the wrapped sentinel.
func (o *Orchestrator) fail(gen uint64, fileID, userID, reason string, err error) error {
	o.mu.Lock()
	if o.gen == gen {
		o.state = StateErrored
	}
	o.mu.Unlock()

	o.emit(audit.Event{Type: audit.EventErrored, FileID: fileID, UserID: userID, Reason: reason})
	o.logger.WithError(err).WithFields(logrus.Fields{
		"file_id": fileID,
		"reason":  reason,
	}).Warn("preview failed")
	return fmt.Errorf("preview %s: %w", reason, err)
}

func (o *Orchestrator) emit(e audit.Event) {
	if o.audit != nil {
		o.audit.Emit(e)
	}
}

func decryptReason(err error) string {
	switch {
	case errors.Is(err, crypto.ErrAuthenticationFailed):
		return reasonDecryptionFailed
	case errors.Is(err, crypto.ErrTruncatedInput):
		return reasonTruncatedInput
	case errors.Is(err, store.ErrNotFound):
		return reasonNotFound
	case errors.Is(err, gate.ErrAccessDenied):
		return reasonAccessDenied
	default:
		return reasonStoreFailure
	}
}

func newHandleID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("h-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
