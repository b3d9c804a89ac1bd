package stream

import (
	"encoding/json"

	"github.com/codefionn/appforge/internal/store"
)

// EventType discriminates client-bound events
type EventType string

const (
	EventChunk            EventType = "chunk"
	EventAction           EventType = "action"
	EventActionsCompleted EventType = "actions_completed"
	EventTool             EventType = "tool"
	EventError            EventType = "error"
	EventDone             EventType = "done"
	EventPing             EventType = "ping"
)

// ToolEvent is the client view of an executed tool call
type ToolEvent struct {
	Name    string                 `json:"name"`
	Summary string                 `json:"summary"`
	Status  store.Status           `json:"status"`
	Output  map[string]interface{} `json:"output,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Event is one line of the client stream
type Event struct {
	Type      EventType            `json:"type"`
	Content   string               `json:"content,omitempty"`
	Action    string               `json:"action,omitempty"`
	Actions   []store.ActionRecord `json:"actions,omitempty"`
	Tool      *ToolEvent           `json:"tool,omitempty"`
	Message   string               `json:"message,omitempty"`
	ToolName  string               `json:"tool_name,omitempty"`
	Excerpt   string               `json:"excerpt,omitempty"`
	MessageID string               `json:"message_id,omitempty"`
}

// Chunk returns a text fragment event
func Chunk(text string) *Event {
	return &Event{Type: EventChunk, Content: text}
}

// Action returns an in-progress action event
func Action(text string) *Event {
	return &Event{Type: EventAction, Action: text}
}

// Error returns an error event. toolName and excerpt are set for parse errors.
func Error(message, toolName, excerpt string) *Event {
	return &Event{Type: EventError, Message: message, ToolName: toolName, Excerpt: excerpt}
}

// Done returns the terminal event of a persisted turn
func Done(messageID string) *Event {
	return &Event{Type: EventDone, MessageID: messageID}
}

var pingLine = []byte(`{"type":"ping"}` + "\n")

// MarshalLine encodes ev as a single NDJSON line
func MarshalLine(ev *Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
