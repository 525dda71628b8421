package agent

import "strings"

// Translate maps a raw message event to at most one wire event. Interrupts,
// state updates and non-assistant messages produce nothing.
func Translate(threadID string, raw RawEvent) (WireEvent, bool) {
	msg := raw.Message
	if msg == nil {
		return WireEvent{}, false
	}

	event := WireEvent{
		ThreadID:     threadID,
		Agent:        agentName(raw.Path),
		ID:           msg.ID,
		Role:         roleAssistant,
		Content:      msg.Content,
		FinishReason: msg.FinishReason,
	}

	switch raw.Kind {
	case RawToolResult:
		event.Type = EventToolCallResult
		event.ToolCallID = msg.ToolCallID
	case RawAssistantChunk:
		switch {
		case len(msg.ToolCalls) > 0:
			event.Type = EventToolCalls
			event.ToolCalls = msg.ToolCalls
			event.ToolCallChunks = msg.ToolCallChunks
		case len(msg.ToolCallChunks) > 0:
			event.Type = EventToolCallChunks
			event.ToolCallChunks = msg.ToolCallChunks
		default:
			event.Type = EventMessageChunk
		}
	default:
		return WireEvent{}, false
	}
	return event, true
}

// agentName is the first colon-delimited segment of the first path entry.
func agentName(path []string) string {
	if len(path) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(path[0], ":")
	return name
}
