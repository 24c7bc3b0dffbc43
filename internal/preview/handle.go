package preview

import (
	"errors"
	"sync"

	"github.com/kenneth/zerovault/internal/classify"
)

// ErrHandleReleased indicates the ephemeral resource behind a handle has been
// freed and its bytes are no longer readable.
var ErrHandleReleased = errors.New("preview handle released")

// Handle is an ephemeral, revocable reference to decrypted binary content.
// The orchestrator owns the lifecycle: at most one handle is live per
// orchestrator instance, and it is released whenever the preview closes or is
// superseded. Callers bind it to a viewer; they never copy the bytes out to
// storage they manage themselves.
type Handle struct {
	id   string
	kind classify.Kind

	mu        sync.Mutex
	data      []byte
	released  bool
	onRelease func()
}

// ID returns the opaque handle identifier.
func (h *Handle) ID() string { return h.id }

// Kind returns the detected content kind of the backing bytes.
func (h *Handle) Kind() classify.Kind { return h.kind }

// Len returns the size of the backing content, or 0 after release.
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return 0
	}
	return len(h.data)
}

// Bytes returns a copy of the decrypted content backing the handle. The
// returned slice stays valid after Release zeroes the backing buffer, so a
// response in flight cannot be corrupted by a concurrent release. Fails once
// the handle has been released.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrHandleReleased
	}
	return append([]byte(nil), h.data...), nil
}

// Release frees the backing content. Idempotent; the buffer is zeroed so
// plaintext does not linger in memory.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	for i := range h.data {
		h.data[i] = 0
	}
	h.data = nil
	cb := h.onRelease
	h.onRelease = nil
	h.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (h *Handle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}
