package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

const (
	engineStreamPath = "/v1/runs/stream"
	engineHealthPath = "/health"

	modeMessages = "messages"
	modeUpdates  = "updates"

	interruptKey = "__interrupt__"
)

// engineLine is one NDJSON line of the engine stream.
type engineLine struct {
	Namespace []string       `mapstructure:"namespace"`
	Mode      string         `mapstructure:"mode"`
	Data      map[string]any `mapstructure:"data"`
	Error     string         `mapstructure:"error"`
}

type engineInterrupt struct {
	NS    []string `mapstructure:"ns"`
	Value any      `mapstructure:"value"`
}

type engineMessage struct {
	Type             string          `mapstructure:"type"`
	ID               string          `mapstructure:"id"`
	Content          any             `mapstructure:"content"`
	ResponseMetadata map[string]any  `mapstructure:"response_metadata"`
	ToolCalls        []ToolCall      `mapstructure:"tool_calls"`
	ToolCallChunks   []ToolCallChunk `mapstructure:"tool_call_chunks"`
	ToolCallID       string          `mapstructure:"tool_call_id"`
}

// RemoteEngine drives the research workflow hosted by an HTTP sidecar. A turn
// is a POST whose response body is a stream of NDJSON lines.
type RemoteEngine struct {
	baseURL string
	client  *http.Client
}

// NewRemoteEngine creates a client for the sidecar at baseURL.
func NewRemoteEngine(baseURL string, client *http.Client) *RemoteEngine {
	if client == nil {
		client = &http.Client{
			// Streaming requests must not have a global client timeout.
			Timeout: 0,
		}
	}
	return &RemoteEngine{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
	}
}

// DialRemoteEngine returns a factory that probes the sidecar before handing
// out the engine.
func DialRemoteEngine(baseURL string, client *http.Client) EngineFactory {
	return func(ctx context.Context) (Engine, error) {
		engine := NewRemoteEngine(baseURL, client)
		if err := engine.Ping(ctx); err != nil {
			return nil, err
		}
		return engine, nil
	}
}

// Ping checks that the sidecar answers its health endpoint.
func (e *RemoteEngine) Ping(ctx context.Context) error {
	if e.baseURL == "" {
		return errors.New("workflow engine URL not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+engineHealthPath, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return mapEngineTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return mapEngineStatusError(resp.StatusCode, string(body))
	}
	return nil
}

// Stream starts one turn. The request is bound to ctx, so cancelling ctx
// aborts the turn on the sidecar side as well.
func (e *RemoteEngine) Stream(ctx context.Context, input TurnInput, cfg RunConfig) (EventStream, error) {
	body, err := json.Marshal(struct {
		Input  TurnInput `json:"input"`
		Config RunConfig `json:"config"`
	}{Input: input, Config: cfg})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+engineStreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, mapEngineTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, mapEngineStatusError(resp.StatusCode, string(responseBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	buffer := make([]byte, 0, 64*1024)
	scanner.Buffer(buffer, 2*1024*1024)
	return &remoteStream{body: resp.Body, scanner: scanner}, nil
}

type remoteStream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	closeOnce sync.Once
	closeErr  error
}

func (s *remoteStream) Next(ctx context.Context) (RawEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return RawEvent{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return RawEvent{}, fmt.Errorf("read workflow stream: %w", err)
			}
			return RawEvent{}, io.EOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return decodeEngineLine(line)
	}
}

func (s *remoteStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// decodeEngineLine validates one NDJSON line and converts it to a RawEvent.
func decodeEngineLine(line []byte) (RawEvent, error) {
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		return RawEvent{}, fmt.Errorf("decode workflow event: %w", err)
	}

	var item engineLine
	if err := decodeFields(fields, &item); err != nil {
		return RawEvent{}, fmt.Errorf("decode workflow event: %w", err)
	}
	if item.Error != "" {
		return RawEvent{}, errors.New(item.Error)
	}

	switch item.Mode {
	case modeUpdates:
		return decodeUpdate(item)
	case modeMessages:
		return decodeMessage(item)
	default:
		return RawEvent{}, fmt.Errorf("%w: unknown stream mode %q", errMalformedEvent, item.Mode)
	}
}

func decodeUpdate(item engineLine) (RawEvent, error) {
	marker, ok := item.Data[interruptKey]
	if !ok {
		return RawEvent{Kind: RawStateUpdate, Path: item.Namespace}, nil
	}

	var interrupts []engineInterrupt
	if err := decodeFields(marker, &interrupts); err != nil {
		return RawEvent{}, fmt.Errorf("decode interrupt: %w", err)
	}
	if len(interrupts) == 0 || len(interrupts[0].NS) == 0 {
		return RawEvent{}, fmt.Errorf("%w: interrupt without namespace", errMalformedEvent)
	}
	first := interrupts[0]
	return NewInterruptEvent(item.Namespace, first.NS[0], first.Value), nil
}

func decodeMessage(item engineLine) (RawEvent, error) {
	var msg engineMessage
	if err := decodeFields(item.Data, &msg); err != nil {
		return RawEvent{}, fmt.Errorf("decode message: %w", err)
	}

	fragment := MessageFragment{
		ID:             msg.ID,
		Content:        msg.Content,
		ToolCalls:      msg.ToolCalls,
		ToolCallChunks: msg.ToolCallChunks,
		ToolCallID:     msg.ToolCallID,
	}
	if reason, ok := msg.ResponseMetadata["finish_reason"].(string); ok {
		fragment.FinishReason = reason
	}

	switch msg.Type {
	case "ai", "AIMessage", "AIMessageChunk":
		return NewAssistantChunk(item.Namespace, fragment), nil
	case "tool", "ToolMessage":
		return NewToolResult(item.Namespace, fragment), nil
	default:
		return RawEvent{Kind: RawOtherMessage, Path: item.Namespace, Message: &fragment}, nil
	}
}

func decodeFields(input, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  output,
		TagName: "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func mapEngineTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("workflow engine network error: %w", err)
	}
	return fmt.Errorf("workflow engine request failed: %w", err)
}

func mapEngineStatusError(status int, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("workflow engine error (%d)", status)
	}
	return fmt.Errorf("workflow engine error (%d): %s", status, body)
}

var _ Engine = (*RemoteEngine)(nil)
