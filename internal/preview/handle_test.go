package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/zerovault/internal/classify"
)

func TestHandleLifecycle(t *testing.T) {
	backing := []byte{1, 2, 3, 4}
	released := 0
	h := &Handle{
		id:        "h-test",
		kind:      classify.KindImage,
		data:      backing,
		onRelease: func() { released++ },
	}

	assert.Equal(t, "h-test", h.ID())
	assert.Equal(t, classify.KindImage, h.Kind())
	assert.Equal(t, 4, h.Len())

	data, err := h.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)

	h.Release()
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, h.Len())
	_, err = h.Bytes()
	assert.ErrorIs(t, err, ErrHandleReleased)

	// The backing buffer is scrubbed, not merely dereferenced.
	assert.Equal(t, []byte{0, 0, 0, 0}, backing)

	h.Release()
	assert.Equal(t, 1, released, "release callback runs once")
}

func TestHandleBytesSurviveRelease(t *testing.T) {
	h := &Handle{
		id:   "h-copy",
		kind: classify.KindBinary,
		data: []byte{9, 8, 7, 6},
	}

	data, err := h.Bytes()
	require.NoError(t, err)

	// A slice handed out before release must stay intact while the
	// backing buffer is zeroed, so a write in flight serves real content.
	h.Release()
	assert.Equal(t, []byte{9, 8, 7, 6}, data)
}
