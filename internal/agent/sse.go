package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeSSE frames ev as "event: <type>\ndata: <json>\n\n". Non-ASCII text is
// written as-is and an empty string content is dropped from the payload.
func EncodeSSE(ev WireEvent) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if text, ok := ev.Content.(string); ok && text == "" {
		ev.Content = nil
	}

	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	data := bytes.TrimRight(payload.Bytes(), "\n")

	frame := make([]byte, 0, len(data)+len(ev.Type)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, ev.Type...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
