// Package textnorm normalizes streamed assistant text for display.
package textnorm

import "strings"

// ChunkTrimmer drops the blank lines models tend to open a message with.
// Chunks are grouped by message ID, so interleaved messages from different
// agents are trimmed independently.
type ChunkTrimmer struct {
	started map[string]bool
	pending map[string]string
}

// Push takes the next chunk of messageID and returns the text to display.
// Whitespace-only chunks at the start of a message are held back until
// real content arrives.
func (t *ChunkTrimmer) Push(messageID, chunk string) string {
	if chunk == "" {
		return ""
	}
	if t.started == nil {
		t.started = make(map[string]bool)
		t.pending = make(map[string]string)
	}
	if t.started[messageID] {
		return chunk
	}

	buffered := t.pending[messageID] + chunk
	if strings.TrimSpace(buffered) == "" {
		t.pending[messageID] = buffered
		return ""
	}
	delete(t.pending, messageID)
	t.started[messageID] = true
	return TrimLeadingBlankLines(buffered)
}

// TrimLeadingBlankLines removes whole blank lines from the start of text.
// Indentation on the first non-blank line is kept.
func TrimLeadingBlankLines(text string) string {
	rest := text
	for {
		line, after, found := strings.Cut(rest, "\n")
		if !found || strings.TrimRight(line, " \t\r") != "" {
			return rest
		}
		rest = after
	}
}
