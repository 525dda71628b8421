package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"research-gateway/internal/agent"
	"research-gateway/internal/client"
	"research-gateway/internal/textnorm"
)

var errStreamFailed = errors.New("stream ended with an error event")

var streamCmd = &cobra.Command{
	Use:   "stream [message]",
	Short: "Start or resume a research stream",
	Long: `Posts a chat turn to the gateway and prints events as they arrive.

Resume a paused plan review with --thread and --feedback, for example
--feedback accepted or --feedback "[EDIT_PLAN] add a section on costs".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := streamRequest(cmd, args)
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetBool("raw")

		out := cmd.OutOrStdout()
		printer := &eventPrinter{out: out, raw: raw}
		threadID, err := newClient(cmd).Stream(cmd.Context(), req, printer.handle)
		printer.finish()
		if err != nil {
			return err
		}
		if !raw && threadID != "" {
			fmt.Fprintf(out, "thread: %s\n", threadID)
		}
		if printer.failed {
			return errStreamFailed
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)

	f := streamCmd.Flags()
	f.StringArrayP("message", "m", nil, "User message (repeatable; the positional argument is appended last)")
	f.StringP("thread", "t", "", "Thread ID to continue (a new one is generated when empty)")
	f.String("feedback", "", "Interrupt feedback used to resume a paused plan review")
	f.Bool("auto-accept", false, "Accept the generated plan without review")
	f.Int("max-plan-iterations", 1, "Maximum number of plan revisions")
	f.Int("max-step-num", 3, "Maximum number of steps in a plan")
	f.Int("max-search-results", 3, "Maximum number of search results per query")
	f.Bool("no-background", false, "Skip the background investigation before planning")
	f.Bool("raw", false, "Print SSE frames as received")
}

func streamRequest(cmd *cobra.Command, args []string) (agent.ChatRequest, error) {
	f := cmd.Flags()
	req := agent.DefaultChatRequest()

	messages, _ := f.GetStringArray("message")
	messages = append(messages, args...)
	for _, text := range messages {
		req.Messages = append(req.Messages, agent.ChatMessage{Role: "user", Content: text})
	}

	req.ThreadID, _ = f.GetString("thread")
	req.InterruptFeedback, _ = f.GetString("feedback")
	req.AutoAcceptedPlan, _ = f.GetBool("auto-accept")
	req.MaxPlanIterations, _ = f.GetInt("max-plan-iterations")
	req.MaxStepNum, _ = f.GetInt("max-step-num")
	req.MaxSearchResults, _ = f.GetInt("max-search-results")
	if noBackground, _ := f.GetBool("no-background"); noBackground {
		req.EnableBackgroundInvestigation = false
	}

	if req.InterruptFeedback != "" && req.ThreadID == "" {
		return req, errors.New("--feedback requires --thread")
	}
	if len(req.Messages) == 0 && req.InterruptFeedback == "" {
		return req, errors.New("provide a message or --feedback")
	}
	return req, req.Validate()
}

// eventPrinter renders gateway events for a terminal.
type eventPrinter struct {
	out     io.Writer
	raw     bool
	failed  bool
	inChunk bool
	trimmer textnorm.ChunkTrimmer
}

func (p *eventPrinter) handle(ev client.Event) error {
	if p.raw {
		fmt.Fprintf(p.out, "event: %s\ndata: %s\n\n", ev.Type, ev.Raw)
		if ev.Type == string(agent.EventError) {
			p.failed = true
		}
		return nil
	}

	switch agent.EventType(ev.Type) {
	case agent.EventMessageChunk:
		id, _ := ev.Data["id"].(string)
		if text := p.trimmer.Push(id, agent.MessageText(ev.Data["content"])); text != "" {
			fmt.Fprint(p.out, text)
			p.inChunk = true
		}
	case agent.EventToolCalls:
		p.endChunk()
		for _, name := range toolNames(ev.Data["tool_calls"]) {
			fmt.Fprintf(p.out, "[%s] calling %s\n", agentLabel(ev.Data), name)
		}
	case agent.EventToolCallResult:
		p.endChunk()
		fmt.Fprintf(p.out, "[%s] result: %s\n", agentLabel(ev.Data), truncate(agent.MessageText(ev.Data["content"]), 200))
	case agent.EventInterrupt:
		p.endChunk()
		fmt.Fprintf(p.out, "\n%s\n", agent.MessageText(ev.Data["content"]))
		fmt.Fprintln(p.out, "Reply with --feedback accepted, or --feedback \"[EDIT_PLAN] <changes>\".")
	case agent.EventError:
		p.endChunk()
		p.failed = true
		fmt.Fprintf(p.out, "error: %v\n", ev.Data["error"])
	}
	return nil
}

func (p *eventPrinter) finish() {
	p.endChunk()
}

func (p *eventPrinter) endChunk() {
	if p.inChunk {
		fmt.Fprintln(p.out)
		p.inChunk = false
	}
}

func agentLabel(data map[string]any) string {
	if name, ok := data["agent"].(string); ok && name != "" {
		return name
	}
	return "agent"
}

func toolNames(value any) []string {
	calls, _ := value.([]any)
	var names []string
	for _, call := range calls {
		if m, ok := call.(map[string]any); ok {
			if name, ok := m["name"].(string); ok && name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
