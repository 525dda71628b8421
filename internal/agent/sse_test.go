package agent

import (
	"encoding/json"
	"strings"
	"testing"
)

func decodeFrame(t *testing.T, frame []byte) (string, map[string]any) {
	t.Helper()
	text := string(frame)
	if !strings.HasSuffix(text, "\n\n") {
		t.Fatalf("frame must end with a blank line: %q", text)
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected event and data lines, got %q", text)
	}
	if !strings.HasPrefix(lines[0], "event: ") || !strings.HasPrefix(lines[1], "data: ") {
		t.Fatalf("unexpected frame layout: %q", text)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &data); err != nil {
		t.Fatalf("data line is not JSON: %v", err)
	}
	return strings.TrimPrefix(lines[0], "event: "), data
}

func TestEncodeSSEFrame(t *testing.T) {
	frame, err := EncodeSSE(WireEvent{
		Type:     EventMessageChunk,
		ThreadID: "thread-1",
		Agent:    "planner",
		ID:       "run-1",
		Role:     "assistant",
		Content:  "line one\nline two",
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	event, data := decodeFrame(t, frame)
	if event != "message_chunk" {
		t.Fatalf("unexpected event name %q", event)
	}
	if data["content"] != "line one\nline two" || data["agent"] != "planner" || data["thread_id"] != "thread-1" {
		t.Fatalf("unexpected payload: %v", data)
	}
}

func TestEncodeSSEDropsEmptyContent(t *testing.T) {
	frame, err := EncodeSSE(WireEvent{Type: EventMessageChunk, ThreadID: "t", Role: "assistant", Content: "", FinishReason: "stop"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	_, data := decodeFrame(t, frame)
	if _, present := data["content"]; present {
		t.Fatalf("expected content to be dropped, got %v", data)
	}
	if data["finish_reason"] != "stop" {
		t.Fatalf("expected finish_reason to survive, got %v", data)
	}
}

func TestEncodeSSEKeepsNonStringContent(t *testing.T) {
	frame, err := EncodeSSE(WireEvent{Type: EventMessageChunk, ThreadID: "t", Role: "assistant", Content: []any{}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !strings.Contains(string(frame), `"content":[]`) {
		t.Fatalf("expected empty list content to be kept: %q", frame)
	}
}

func TestEncodeSSEPreservesNonASCII(t *testing.T) {
	frame, err := EncodeSSE(WireEvent{Type: EventMessageChunk, ThreadID: "t", Role: "assistant", Content: "研究 <b>ü</b> & 🚀"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	text := string(frame)
	if !strings.Contains(text, "研究 <b>ü</b> & 🚀") {
		t.Fatalf("expected raw UTF-8 and unescaped HTML, got %q", text)
	}
	if strings.Contains(text, `\u`) {
		t.Fatalf("unexpected unicode escape in %q", text)
	}
}

func TestEncodeSSEInterruptAndError(t *testing.T) {
	frame, err := EncodeSSE(InterruptWireEvent("t", Interrupt{ID: "human_feedback:1", Value: "Please review the plan."}))
	if err != nil {
		t.Fatalf("encode interrupt failed: %v", err)
	}
	event, data := decodeFrame(t, frame)
	if event != "interrupt" || data["finish_reason"] != "interrupt" || data["id"] != "human_feedback:1" {
		t.Fatalf("unexpected interrupt payload: %s %v", event, data)
	}
	options, ok := data["options"].([]any)
	if !ok || len(options) != 2 {
		t.Fatalf("expected two options, got %v", data["options"])
	}
	first := options[0].(map[string]any)
	second := options[1].(map[string]any)
	if first["value"] != "edit_plan" || second["value"] != "accepted" {
		t.Fatalf("unexpected option values: %v", options)
	}

	frame, err = EncodeSSE(ErrorWireEvent("t", "Workflow error: boom"))
	if err != nil {
		t.Fatalf("encode error failed: %v", err)
	}
	event, data = decodeFrame(t, frame)
	if event != "error" || data["content"] != "Workflow error: boom" || data["error"] != "Workflow error: boom" {
		t.Fatalf("unexpected error payload: %s %v", event, data)
	}
}

func TestEncodeSSERejectsInconsistentEvent(t *testing.T) {
	cases := []WireEvent{
		{Type: "", ThreadID: "t"},
		{Type: EventMessageChunk},
		{Type: EventMessageChunk, ThreadID: "t", ToolCallID: "call-1"},
		{Type: EventToolCallChunks, ThreadID: "t", ToolCalls: []ToolCall{{Name: "x"}}},
		{Type: EventError, ThreadID: "t", Options: DefaultInterruptOptions},
	}
	for _, ev := range cases {
		if _, err := EncodeSSE(ev); err == nil {
			t.Fatalf("expected error for %+v", ev)
		}
	}
}

func TestEncodeSSERejectsUnencodableContent(t *testing.T) {
	_, err := EncodeSSE(WireEvent{Type: EventMessageChunk, ThreadID: "t", Role: "assistant", Content: make(chan int)})
	if err == nil {
		t.Fatal("expected encoding error")
	}
}

func TestEncodeSSEOmitsNilInterruptValue(t *testing.T) {
	frame, err := EncodeSSE(InterruptWireEvent("t", Interrupt{ID: "human_feedback:3"}))
	if err != nil {
		t.Fatalf("encode interrupt failed: %v", err)
	}
	event, data := decodeFrame(t, frame)
	if event != "interrupt" || data["id"] != "human_feedback:3" {
		t.Fatalf("unexpected interrupt payload: %s %v", event, data)
	}
	if _, present := data["content"]; present {
		t.Fatalf("expected content omitted for a nil value, got %v", data["content"])
	}
}
