// Package client is a small Go client for the research gateway HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"research-gateway/internal/agent"
)

const maxFrameSize = 2 * 1024 * 1024

// ErrNotFound is returned when the gateway answers 404.
var ErrNotFound = errors.New("not found")

// Event is one decoded SSE frame.
type Event struct {
	Type string
	Data map[string]any
	Raw  string
}

// HealthStatus mirrors the gateway health response.
type HealthStatus struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	GraphInitialized bool   `json:"graph_initialized"`
	GraphError       string `json:"graph_error,omitempty"`
	Note             string `json:"note,omitempty"`
	ActiveStreams    int    `json:"active_streams"`
}

// PendingInterrupt is the interrupt a thread is currently paused at.
type PendingInterrupt struct {
	ThreadID    string          `json:"thread_id"`
	InterruptID string          `json:"interrupt_id"`
	Content     json.RawMessage `json:"content"`
}

// StatusError carries a non-2xx gateway response.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Detail)
}

// Client talks to one gateway instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. A nil httpClient uses a client without timeout so
// long streams are not cut off.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Stream posts a chat request and calls handle for every event until the
// stream ends. It returns the thread ID the gateway assigned.
func (c *Client) Stream(ctx context.Context, req agent.ChatRequest, handle func(Event) error) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	threadID := resp.Header.Get("X-Thread-ID")
	return threadID, DecodeSSE(resp.Body, handle)
}

// Stop cancels the active stream of a thread.
func (c *Client) Stop(ctx context.Context, threadID string) error {
	body, err := json.Marshal(map[string]string{"thread_id": threadID})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stop", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Health fetches the gateway health report.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var health HealthStatus
	if err := c.getJSON(ctx, "/api/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// PendingInterrupt fetches the interrupt a thread is paused at.
func (c *Client) PendingInterrupt(ctx context.Context, threadID string) (*PendingInterrupt, error) {
	var pending PendingInterrupt
	if err := c.getJSON(ctx, "/api/threads/"+url.PathEscape(threadID)+"/interrupt", &pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Detail string `json:"detail"`
	}
	detail := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		detail = body.Detail
	}
	return &StatusError{StatusCode: resp.StatusCode, Detail: detail}
}

// DecodeSSE reads event-stream frames from r and calls handle for each one.
// Comment lines are skipped and multiple data lines are joined with newlines.
func DecodeSSE(r io.Reader, handle func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var eventType string
	var data []string
	flush := func() error {
		if eventType == "" && len(data) == 0 {
			return nil
		}
		ev := Event{Type: eventType, Raw: strings.Join(data, "\n")}
		eventType, data = "", nil
		if ev.Type == "" {
			ev.Type = "message"
		}
		if ev.Raw != "" {
			if err := json.Unmarshal([]byte(ev.Raw), &ev.Data); err != nil {
				return fmt.Errorf("decode %s event: %w", ev.Type, err)
			}
		}
		return handle(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
