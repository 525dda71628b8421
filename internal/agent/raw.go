package agent

import (
	"errors"
	"fmt"
)

// RawKind tags the variant carried by a RawEvent.
type RawKind int

const (
	// RawInterrupt is an engine pause waiting for a human decision.
	RawInterrupt RawKind = iota + 1
	// RawAssistantChunk is a streamed assistant message fragment.
	RawAssistantChunk
	// RawToolResult is the result message of one tool call.
	RawToolResult
	// RawStateUpdate is a state-update item without an interrupt marker.
	RawStateUpdate
	// RawOtherMessage is a message of any other role (user, system).
	RawOtherMessage
)

func (k RawKind) String() string {
	switch k {
	case RawInterrupt:
		return "interrupt"
	case RawAssistantChunk:
		return "assistant_chunk"
	case RawToolResult:
		return "tool_result"
	case RawStateUpdate:
		return "state_update"
	case RawOtherMessage:
		return "other_message"
	default:
		return fmt.Sprintf("raw_kind(%d)", int(k))
	}
}

// RawEvent is one item produced by the workflow engine. Exactly one payload
// pointer is set, matching Kind: Interrupt for RawInterrupt, Message for the
// message kinds, neither for RawStateUpdate.
type RawEvent struct {
	Kind RawKind
	// Path is the namespace of the (sub-)workflow that produced the item,
	// outermost first, e.g. ["researcher:6c1d..."].
	Path      []string
	Interrupt *Interrupt
	Message   *MessageFragment
}

// Interrupt is an engine pause request.
type Interrupt struct {
	// ID is the namespace identifier of the paused node.
	ID    string
	Value any
}

// MessageFragment is a message chunk with its routing data.
type MessageFragment struct {
	ID      string
	Content any
	// FinishReason is set on the last fragment of a model response.
	FinishReason   string
	ToolCalls      []ToolCall
	ToolCallChunks []ToolCallChunk
	// ToolCallID links a tool result to the call that produced it.
	ToolCallID string
}

// ToolCall is a completed tool invocation descriptor.
type ToolCall struct {
	ID   string         `json:"id" mapstructure:"id"`
	Name string         `json:"name" mapstructure:"name"`
	Args map[string]any `json:"args" mapstructure:"args"`
	Type string         `json:"type,omitempty" mapstructure:"type"`
}

// ToolCallChunk is a partial tool invocation streamed token by token.
type ToolCallChunk struct {
	ID    string `json:"id,omitempty" mapstructure:"id"`
	Name  string `json:"name,omitempty" mapstructure:"name"`
	Args  string `json:"args,omitempty" mapstructure:"args"`
	Index *int   `json:"index,omitempty" mapstructure:"index"`
	Type  string `json:"type,omitempty" mapstructure:"type"`
}

var errMalformedEvent = errors.New("malformed workflow event")

// Validate checks that the payload matches the kind.
func (e RawEvent) Validate() error {
	switch e.Kind {
	case RawInterrupt:
		if e.Interrupt == nil || e.Message != nil {
			return fmt.Errorf("%w: %s needs an interrupt payload only", errMalformedEvent, e.Kind)
		}
	case RawAssistantChunk, RawToolResult, RawOtherMessage:
		if e.Message == nil || e.Interrupt != nil {
			return fmt.Errorf("%w: %s needs a message payload only", errMalformedEvent, e.Kind)
		}
	case RawStateUpdate:
		if e.Message != nil || e.Interrupt != nil {
			return fmt.Errorf("%w: %s carries no payload", errMalformedEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", errMalformedEvent, e.Kind)
	}
	return nil
}

// NewInterruptEvent builds a RawInterrupt item.
func NewInterruptEvent(path []string, id string, value any) RawEvent {
	return RawEvent{Kind: RawInterrupt, Path: path, Interrupt: &Interrupt{ID: id, Value: value}}
}

// NewAssistantChunk builds a RawAssistantChunk item.
func NewAssistantChunk(path []string, msg MessageFragment) RawEvent {
	return RawEvent{Kind: RawAssistantChunk, Path: path, Message: &msg}
}

// NewToolResult builds a RawToolResult item.
func NewToolResult(path []string, msg MessageFragment) RawEvent {
	return RawEvent{Kind: RawToolResult, Path: path, Message: &msg}
}
