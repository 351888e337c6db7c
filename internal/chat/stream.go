package chat

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies a stream event frame.
type EventType string

const (
	EventTextDelta  EventType = "text-delta"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventToolError  EventType = "tool-error"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// ErrorKind classifies a terminal error event.
type ErrorKind string

const (
	ErrorKindUpstream ErrorKind = "upstream"
	ErrorKindTimeout  ErrorKind = "timeout"
	ErrorKindInternal ErrorKind = "internal"
)

// StreamEvent is one frame of the chat response stream. Exactly one of the
// payload fields beyond ID is meaningful, selected by Type.
type StreamEvent struct {
	Type EventType `json:"-"`
	ID   string    `json:"id"`

	// text-delta
	Delta string `json:"delta,omitempty"`

	// tool-call / tool-result / tool-error
	CallID string          `json:"callId,omitempty"`
	Name   string          `json:"name,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// error
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`

	// done
	FinishReason string `json:"finishReason,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewEventID generates a sortable stream event identifier.
func NewEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "evt_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
