// Package audit records structured events for each preview pipeline
// transition. Events are handed to an external writer and retained in a
// bounded in-memory buffer; nothing is persisted here.
package audit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType identifies a pipeline transition.
type EventType string

const (
	// EventRequested is emitted when a preview is requested and access is
	// being negotiated.
	EventRequested EventType = "requested"
	// EventDecrypted is emitted after body and metadata decrypt successfully.
	EventDecrypted EventType = "decrypted"
	// EventClassified is emitted after content classification.
	EventClassified EventType = "classified"
	// EventErrored is emitted on any fatal transition failure.
	EventErrored EventType = "errored"
	// EventReleased is emitted when an ephemeral preview resource is freed.
	EventReleased EventType = "released"
)

// Event is a single audit record. Reason carries the error taxonomy tag for
// errored events; it never contains key material, ciphertext, or stack
// internals.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Type      EventType     `json:"event_type"`
	FileID    string        `json:"file_id,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration_ms,omitempty"`
}

// Logger receives pipeline events.
type Logger interface {
	Emit(event Event)
}

// EventWriter forwards events to an external sink.
type EventWriter interface {
	WriteEvent(event Event) error
}

type auditLogger struct {
	mu        sync.Mutex
	events    []Event
	maxEvents int
	writer    EventWriter
}

// NewLogger creates an audit logger retaining at most maxEvents records in
// memory. A nil writer keeps events in the buffer only.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	return &auditLogger{
		events:    make([]Event, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

func (l *auditLogger) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		// Write failures must not break the pipeline; the buffer still
		// holds the event.
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
}

// Events returns a copy of the retained events, oldest first.
func Events(l Logger) []Event {
	al, ok := l.(*auditLogger)
	if !ok {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	out := make([]Event, len(al.events))
	copy(out, al.events)
	return out
}

// logrusWriter writes events as structured log lines.
type logrusWriter struct {
	logger *logrus.Logger
}

// NewLogrusWriter returns an EventWriter that logs each event with logrus.
func NewLogrusWriter(logger *logrus.Logger) EventWriter {
	return &logrusWriter{logger: logger}
}

func (w *logrusWriter) WriteEvent(event Event) error {
	w.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"file_id":    event.FileID,
		"user_id":    event.UserID,
		"kind":       event.Kind,
		"reason":     event.Reason,
		"duration":   event.Duration,
	}).Info("audit event")
	return nil
}
