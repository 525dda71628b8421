package agent

import (
	"fmt"
)

// EventType is the SSE event name of a wire event.
type EventType string

const (
	EventMessageChunk   EventType = "message_chunk"
	EventToolCalls      EventType = "tool_calls"
	EventToolCallChunks EventType = "tool_call_chunks"
	EventToolCallResult EventType = "tool_call_result"
	EventInterrupt      EventType = "interrupt"
	EventError          EventType = "error"
)

const roleAssistant = "assistant"

// InterruptOption is one choice offered to the user on an interrupt.
type InterruptOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// DefaultInterruptOptions are the choices attached to every interrupt event.
var DefaultInterruptOptions = []InterruptOption{
	{Text: "Edit plan", Value: "edit_plan"},
	{Text: "Start research", Value: "accepted"},
}

// WireEvent is the client-facing stream event. Type is the SSE event name;
// the remaining fields form the JSON data payload.
type WireEvent struct {
	Type           EventType         `json:"-"`
	ThreadID       string            `json:"thread_id"`
	Agent          string            `json:"agent,omitempty"`
	ID             string            `json:"id,omitempty"`
	Role           string            `json:"role"`
	Content        any               `json:"content,omitempty"`
	FinishReason   string            `json:"finish_reason,omitempty"`
	ToolCalls      []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallChunks []ToolCallChunk   `json:"tool_call_chunks,omitempty"`
	ToolCallID     string            `json:"tool_call_id,omitempty"`
	Options        []InterruptOption `json:"options,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Validate checks that Type is known and that no field belonging to another
// event type is set.
func (e WireEvent) Validate() error {
	if e.ThreadID == "" {
		return fmt.Errorf("%s event without thread_id", e.Type)
	}
	switch e.Type {
	case EventMessageChunk, EventToolCalls, EventToolCallChunks, EventToolCallResult, EventInterrupt, EventError:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if len(e.ToolCalls) > 0 && e.Type != EventToolCalls {
		return fmt.Errorf("%s event carries tool_calls", e.Type)
	}
	if len(e.ToolCallChunks) > 0 && e.Type != EventToolCalls && e.Type != EventToolCallChunks {
		return fmt.Errorf("%s event carries tool_call_chunks", e.Type)
	}
	if e.ToolCallID != "" && e.Type != EventToolCallResult {
		return fmt.Errorf("%s event carries tool_call_id", e.Type)
	}
	if len(e.Options) > 0 && e.Type != EventInterrupt {
		return fmt.Errorf("%s event carries options", e.Type)
	}
	if e.Error != "" && e.Type != EventError {
		return fmt.Errorf("%s event carries error", e.Type)
	}
	return nil
}

// InterruptWireEvent renders an engine interrupt for the client.
func InterruptWireEvent(threadID string, interrupt Interrupt) WireEvent {
	options := make([]InterruptOption, len(DefaultInterruptOptions))
	copy(options, DefaultInterruptOptions)
	return WireEvent{
		Type:         EventInterrupt,
		ThreadID:     threadID,
		ID:           interrupt.ID,
		Role:         roleAssistant,
		Content:      interrupt.Value,
		FinishReason: "interrupt",
		Options:      options,
	}
}

// ErrorWireEvent renders a terminal failure. The message is carried in both
// content and error.
func ErrorWireEvent(threadID, message string) WireEvent {
	return WireEvent{
		Type:     EventError,
		ThreadID: threadID,
		Role:     roleAssistant,
		Content:  message,
		Error:    message,
	}
}
