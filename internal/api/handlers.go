// Package api exposes the vault over HTTP. Handlers move ciphertext and
// preview results; plaintext exists only inside the engine, the orchestrator,
// and the response being written.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/zerovault/internal/audit"
	"github.com/kenneth/zerovault/internal/classify"
	"github.com/kenneth/zerovault/internal/crypto"
	"github.com/kenneth/zerovault/internal/gate"
	"github.com/kenneth/zerovault/internal/keys"
	"github.com/kenneth/zerovault/internal/metrics"
	"github.com/kenneth/zerovault/internal/preview"
	"github.com/kenneth/zerovault/internal/store"
)

// Request headers carrying caller identity and re-authentication proof.
const (
	HeaderUser     = "X-Vault-User"
	HeaderFilename = "X-Vault-Filename"
	HeaderReauth   = "X-Vault-Reauth"
)

// maxUploadSize bounds in-memory upload handling.
const maxUploadSize = 256 << 20

// Handler holds the API dependencies.
type Handler struct {
	engine    *crypto.Engine
	store     store.CiphertextStore
	gate      preview.AccessGate
	audit     audit.Logger
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	textLimit int

	mu            sync.Mutex
	orchestrators map[string]*preview.Orchestrator
}

// NewHandler creates the API handler.
func NewHandler(engine *crypto.Engine, cs store.CiphertextStore, ag preview.AccessGate, auditLog audit.Logger, m *metrics.Metrics, logger *logrus.Logger, textLimit int) *Handler {
	return &Handler{
		engine:        engine,
		store:         cs,
		gate:          ag,
		audit:         auditLog,
		metrics:       m,
		logger:        logger,
		textLimit:     textLimit,
		orchestrators: make(map[string]*preview.Orchestrator),
	}
}

// RegisterRoutes attaches the API routes to the router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/files/{id}", h.Upload).Methods(http.MethodPut)
	router.HandleFunc("/v1/files/{id}/preview", h.Preview).Methods(http.MethodPost)
	router.HandleFunc("/v1/files/{id}/preview", h.ReleasePreview).Methods(http.MethodDelete)
	router.HandleFunc("/v1/files/{id}/preview/content", h.PreviewContent).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
}

// orchestratorFor returns the caller's orchestrator, creating it on first
// use. One orchestrator per account keeps the single-live-handle invariant
// scoped the way a rendering surface would.
func (h *Handler) orchestratorFor(userID string) *preview.Orchestrator {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.orchestrators[userID]
	if !ok {
		o = preview.NewOrchestrator(h.engine, h.gate, h.store, h.audit,
			preview.WithMetrics(h.metrics),
			preview.WithLogger(h.logger),
			preview.WithTextPreviewLimit(h.textLimit),
		)
		h.orchestrators[userID] = o
	}
	return o
}

// Upload encrypts and stores a file body plus its metadata. Plaintext is
// encrypted before anything reaches the ciphertext store; the store never
// sees the original bytes, name, or type.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["id"]
	userID := r.Header.Get(HeaderUser)

	key, err := keys.DeriveContentKey(userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_key_material")
		return
	}
	defer key.Zero()

	body := http.MaxBytesReader(w, r.Body, maxUploadSize)
	defer body.Close()

	started := time.Now()
	blob, err := h.engine.EncryptStream(key, body)
	if err != nil {
		h.logger.WithError(err).WithField("file_id", fileID).Error("encryption failed")
		writeError(w, http.StatusInternalServerError, "encryption_failed")
		return
	}

	md := crypto.FileMetadata{
		Name:         r.Header.Get(HeaderFilename),
		DeclaredType: r.Header.Get("Content-Type"),
	}
	record, err := h.engine.EncryptMetadata(key, md)
	if err != nil {
		h.logger.WithError(err).WithField("file_id", fileID).Error("metadata encryption failed")
		writeError(w, http.StatusInternalServerError, "encryption_failed")
		return
	}

	if err := h.store.PutBlob(r.Context(), fileID, blob.Marshal()); err != nil {
		h.logger.WithError(err).WithField("file_id", fileID).Error("blob store failed")
		writeError(w, http.StatusBadGateway, "store_failure")
		return
	}
	if err := h.store.PutMetadata(r.Context(), fileID, record.Marshal()); err != nil {
		h.logger.WithError(err).WithField("file_id", fileID).Error("metadata store failed")
		writeError(w, http.StatusBadGateway, "store_failure")
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCrypto("encrypt", blob.Algorithm, len(blob.Sealed), time.Since(started))
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file_id": fileID,
	})
}

type previewResponse struct {
	FileID       string  `json:"file_id"`
	Kind         string  `json:"kind"`
	Confidence   float64 `json:"confidence"`
	Name         string  `json:"name"`
	DeclaredType string  `json:"declared_type"`
	Text         string  `json:"text,omitempty"`
	Truncated    bool    `json:"truncated,omitempty"`
	HandleID     string  `json:"handle_id,omitempty"`
	ContentURL   string  `json:"content_url,omitempty"`
}

// Preview runs the decrypt-classify-render pipeline for a file. A fresh
// re-authentication proof is required on every call.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["id"]
	userID := r.Header.Get(HeaderUser)
	reAuthProof := r.Header.Get(HeaderReauth)

	o := h.orchestratorFor(userID)
	p, err := o.Preview(r.Context(), userID, fileID, reAuthProof)
	if err != nil {
		status, tag := classifyError(err)
		writeError(w, status, tag)
		return
	}

	resp := previewResponse{
		FileID:       p.FileID,
		Kind:         string(p.Kind),
		Confidence:   p.Confidence,
		Name:         p.Metadata.Name,
		DeclaredType: p.Metadata.DeclaredType,
		Text:         p.Text,
		Truncated:    p.Truncated,
	}
	if p.Handle != nil {
		resp.HandleID = p.Handle.ID()
		resp.ContentURL = "/v1/files/" + fileID + "/preview/content"
	}
	writeJSON(w, http.StatusOK, resp)
}

// PreviewContent streams the bytes behind the caller's live preview handle.
// The same re-authentication proof that opened the preview must accompany the
// fetch; holding a handle identifier alone is not enough. Gone once the
// preview is released or superseded.
func (h *Handler) PreviewContent(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["id"]
	userID := r.Header.Get(HeaderUser)

	if _, err := h.gate.RequestAccess(r.Context(), fileID, r.Header.Get(HeaderReauth)); err != nil {
		writeError(w, http.StatusForbidden, "access_denied")
		return
	}

	o := h.orchestratorFor(userID)
	handle := o.Handle()
	if handle == nil {
		writeError(w, http.StatusGone, "released")
		return
	}

	data, err := handle.Bytes()
	if err != nil {
		writeError(w, http.StatusGone, "released")
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(handle.Kind()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ReleasePreview frees the caller's live preview resource.
func (h *Handler) ReleasePreview(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUser)
	h.orchestratorFor(userID).Release()
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// contentTypeFor maps a detected kind to a generic response content type. The
// declared type from metadata is deliberately not used here.
func contentTypeFor(kind classify.Kind) string {
	switch kind {
	case classify.KindPDF:
		return "application/pdf"
	case classify.KindImage:
		return "image/*"
	case classify.KindAudio:
		return "audio/*"
	case classify.KindVideo:
		return "video/*"
	default:
		return "application/octet-stream"
	}
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, gate.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, keys.ErrInvalidKeyMaterial):
		return http.StatusBadRequest, "invalid_key_material"
	case errors.Is(err, crypto.ErrAuthenticationFailed):
		return http.StatusUnprocessableEntity, "decryption_failed"
	case errors.Is(err, crypto.ErrTruncatedInput):
		return http.StatusUnprocessableEntity, "truncated_input"
	case errors.Is(err, preview.ErrAborted):
		return http.StatusRequestTimeout, "aborted"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, tag string) {
	writeJSON(w, status, map[string]string{"error": tag})
}
