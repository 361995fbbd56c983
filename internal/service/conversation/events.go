package conversation

import (
	"sync"

	"github.com/verdantsentinel/backend/internal/model/chat"
)

// EventType names a turn event.
type EventType string

const (
	// EventUser carries the user message, first as a pending placeholder for
	// voice input and again once transcribed.
	EventUser EventType = "user"
	// EventReply carries the appended model message.
	EventReply EventType = "reply"
	// EventAudio carries the model message after audio was attached.
	EventAudio EventType = "audio"
	// EventNotice is a non-fatal problem, such as failed speech rendering.
	EventNotice EventType = "notice"
	// EventFallback is a terminal message that never became a turn.
	EventFallback EventType = "fallback"
)

// Event is published to a Sink while a turn progresses.
type Event struct {
	Type      EventType     `json:"event"`
	SessionID string        `json:"sessionId"`
	MessageID string        `json:"messageId,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Content   string        `json:"content,omitempty"`
}

// Sink receives turn events. Publish may be called from the audio
// rendering goroutine after the turn call has returned.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish implements Sink.
func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// GuardedSink serialises Publish calls and drops events once closed, so a
// handler can stop writing to its connection when it returns.
type GuardedSink struct {
	mu     sync.Mutex
	fn     func(Event)
	closed bool
}

// NewGuardedSink wraps fn.
func NewGuardedSink(fn func(Event)) *GuardedSink {
	return &GuardedSink{fn: fn}
}

// Publish implements Sink.
func (g *GuardedSink) Publish(e Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.fn(e)
}

// Close stops delivery. It blocks until an in-progress Publish finishes.
func (g *GuardedSink) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
