package audit

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerEmit(t *testing.T) {
	logger := NewLogger(10, nil)

	logger.Emit(Event{Type: EventRequested, FileID: "file-1", UserID: "user-7f3a2b1c"})
	logger.Emit(Event{Type: EventDecrypted, FileID: "file-1", Duration: 5 * time.Millisecond})

	events := Events(logger)
	require.Len(t, events, 2)
	assert.Equal(t, EventRequested, events[0].Type)
	assert.Equal(t, EventDecrypted, events[1].Type)
	assert.False(t, events[0].Timestamp.IsZero(), "timestamp should be stamped on emit")
}

func TestLoggerBoundedRetention(t *testing.T) {
	logger := NewLogger(5, nil)

	for i := 0; i < 12; i++ {
		logger.Emit(Event{Type: EventClassified, FileID: "file", Kind: "text"})
	}

	events := Events(logger)
	assert.Len(t, events, 5)
}

func TestLoggerDefaultCapacity(t *testing.T) {
	logger := NewLogger(0, nil)
	logger.Emit(Event{Type: EventReleased})
	assert.Len(t, Events(logger), 1)
}

func TestEventsReturnsCopy(t *testing.T) {
	logger := NewLogger(10, nil)
	logger.Emit(Event{Type: EventErrored, Reason: "decryption_failed"})

	events := Events(logger)
	events[0].Reason = "mutated"

	assert.Equal(t, "decryption_failed", Events(logger)[0].Reason)
}

func TestLogrusWriter(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.InfoLevel)

	logger := NewLogger(10, NewLogrusWriter(log))
	logger.Emit(Event{Type: EventErrored, FileID: "file-1", Reason: "access_denied"})

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, "audit event", entry.Message)
	assert.Equal(t, EventErrored, entry.Data["event_type"])
	assert.Equal(t, "access_denied", entry.Data["reason"])
}
