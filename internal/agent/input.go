package agent

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultThreadID is the placeholder a client sends when it has no thread yet.
// The service replaces it with a freshly generated identifier.
const DefaultThreadID = "__default__"

// ChatMessage is one role-tagged message. Content is either a string or a
// list of content parts ({"type":"text","text":"..."}).
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Resource references a document the research may draw on.
type Resource struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ChatRequest is the body of a chat stream request.
type ChatRequest struct {
	Messages                      []ChatMessage  `json:"messages"`
	Resources                     []Resource     `json:"resources"`
	ThreadID                      string         `json:"thread_id"`
	MaxPlanIterations             int            `json:"max_plan_iterations"`
	MaxStepNum                    int            `json:"max_step_num"`
	MaxSearchResults              int            `json:"max_search_results"`
	AutoAcceptedPlan              bool           `json:"auto_accepted_plan"`
	InterruptFeedback             string         `json:"interrupt_feedback"`
	MCPSettings                   map[string]any `json:"mcp_settings"`
	EnableBackgroundInvestigation bool           `json:"enable_background_investigation"`
}

// DefaultChatRequest returns a request holding the documented defaults.
// Decoding a body into it leaves absent fields at those defaults.
func DefaultChatRequest() ChatRequest {
	return ChatRequest{
		ThreadID:                      DefaultThreadID,
		MaxPlanIterations:             1,
		MaxStepNum:                    3,
		MaxSearchResults:              3,
		EnableBackgroundInvestigation: true,
	}
}

// Validate rejects non-positive limits.
func (r ChatRequest) Validate() error {
	var errs []error
	if r.MaxPlanIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_plan_iterations must be positive, got %d", r.MaxPlanIterations))
	}
	if r.MaxStepNum <= 0 {
		errs = append(errs, fmt.Errorf("max_step_num must be positive, got %d", r.MaxStepNum))
	}
	if r.MaxSearchResults <= 0 {
		errs = append(errs, fmt.Errorf("max_search_results must be positive, got %d", r.MaxSearchResults))
	}
	return errors.Join(errs...)
}

// TurnInput is what one turn hands to the engine: either a FreshInput or a
// ResumeInput.
type TurnInput interface {
	turnInput()
}

// FreshInput starts a new research turn with a reset workflow state.
type FreshInput struct {
	Messages                      []ChatMessage `json:"messages"`
	PlanIterations                int           `json:"plan_iterations"`
	FinalReport                   string        `json:"final_report"`
	CurrentPlan                   any           `json:"current_plan"`
	Observations                  []string      `json:"observations"`
	AutoAcceptedPlan              bool          `json:"auto_accepted_plan"`
	EnableBackgroundInvestigation bool          `json:"enable_background_investigation"`
}

// ResumeInput continues a workflow paused at an interrupt.
type ResumeInput struct {
	Resume string `json:"resume"`
}

func (FreshInput) turnInput()  {}
func (ResumeInput) turnInput() {}

// BuildTurnInput decides between starting fresh and resuming. A request
// resumes only when the plan is not auto-accepted and feedback was given.
func BuildTurnInput(req ChatRequest) TurnInput {
	if !req.AutoAcceptedPlan && req.InterruptFeedback != "" {
		return ResumeInput{Resume: resumeToken(req.InterruptFeedback, req.Messages)}
	}

	messages := make([]ChatMessage, len(req.Messages))
	copy(messages, req.Messages)
	return FreshInput{
		Messages:                      messages,
		PlanIterations:                0,
		FinalReport:                   "",
		CurrentPlan:                   nil,
		Observations:                  []string{},
		AutoAcceptedPlan:              req.AutoAcceptedPlan,
		EnableBackgroundInvestigation: req.EnableBackgroundInvestigation,
	}
}

// BuildRunConfig assembles the engine settings for one turn.
func BuildRunConfig(threadID string, req ChatRequest) RunConfig {
	resources := make([]Resource, len(req.Resources))
	copy(resources, req.Resources)
	return RunConfig{
		ThreadID:          threadID,
		Resources:         resources,
		MaxPlanIterations: req.MaxPlanIterations,
		MaxStepNum:        req.MaxStepNum,
		MaxSearchResults:  req.MaxSearchResults,
		MCPSettings:       req.MCPSettings,
	}
}

// resumeToken renders "[feedback]" and, when messages exist, appends a space
// and the text of the last one.
func resumeToken(feedback string, messages []ChatMessage) string {
	token := "[" + feedback + "]"
	if len(messages) > 0 {
		token += " " + MessageText(messages[len(messages)-1].Content)
	}
	return token
}

// MessageText flattens message content to plain text. Unknown shapes yield "".
func MessageText(content any) string {
	switch value := content.(type) {
	case string:
		return value
	case []any:
		var b strings.Builder
		for _, part := range value {
			item, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if kind, _ := item["type"].(string); kind != "" && kind != "text" {
				continue
			}
			if text, ok := item["text"].(string); ok {
				b.WriteString(text)
			}
		}
		return b.String()
	default:
		return ""
	}
}
