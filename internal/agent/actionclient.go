package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/browser"
	"github.com/xkilldash9x/browser-operator/internal/observability"
)

const (
	// DefaultRequest is sent when no user-authored item is present.
	DefaultRequest = "Explore the current page"
	// DefaultActionInstructions steer the operator for action generation.
	DefaultActionInstructions = "Use the web browser to complete the task. Navigate websites and extract information as needed."

	screenshotNote     = "I took a screenshot of the current page state."
	toolResultNotePfx  = "Tool execution result: "
	errorMessagePrefix = "Error: "
)

// AgentSource provides the browser agent for a session.
type AgentSource interface {
	Init(ctx context.Context) (schemas.Page, error)
	Agent(opts browser.AgentOptions) (schemas.BrowserAgent, error)
}

// ActionClient turns input items into the next Step. It owns the
// conversation history for one invocation.
type ActionClient struct {
	source   AgentSource
	opts     browser.AgentOptions
	history  []schemas.HistoryEntry
	newToken func() string
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewActionClient creates a client with empty history.
func NewActionClient(source AgentSource, opts browser.AgentOptions, logger *zap.Logger, metrics *observability.Metrics) *ActionClient {
	if opts.Instructions == "" {
		opts.Instructions = DefaultActionInstructions
	}
	return &ActionClient{
		source:   source,
		opts:     opts,
		newToken: uuid.NewString,
		logger:   logger.Named("action_client"),
		metrics:  metrics,
	}
}

// History returns a copy of the accumulated conversation.
func (c *ActionClient) History() []schemas.HistoryEntry {
	out := make([]schemas.HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// GetAction produces the next step. Failures never surface as errors; they
// become an "Error: ..." message with a fresh continuation token.
func (c *ActionClient) GetAction(ctx context.Context, items []schemas.InputItem, previousResponseID string) schemas.Step {
	step, err := c.getAction(ctx, items, previousResponseID)
	if err != nil {
		c.logger.Error("Action generation failed.", zap.Error(err))
		c.metrics.GenerationFailure()
		return schemas.Step{
			Output:     []schemas.Action{schemas.NewMessage(errorMessagePrefix + err.Error())},
			ResponseID: c.newToken(),
		}
	}
	return step
}

func (c *ActionClient) getAction(ctx context.Context, items []schemas.InputItem, previousResponseID string) (schemas.Step, error) {
	if _, err := c.source.Init(ctx); err != nil {
		return schemas.Step{}, fmt.Errorf("browser unavailable: %w", err)
	}
	agent, err := c.source.Agent(c.opts)
	if err != nil {
		return schemas.Step{}, err
	}

	for _, item := range items {
		if entry, ok := normalize(item); ok {
			c.history = append(c.history, entry)
		}
	}

	req := schemas.ExecuteRequest{
		Instruction:        currentRequest(items),
		PreviousResponseID: previousResponseID,
	}
	if len(c.history) > 0 {
		req.History = c.History()
	}
	c.logger.Debug("Requesting next action.",
		zap.Int("history_len", len(c.history)),
		zap.String("previous_response_id", previousResponseID),
	)

	result, err := agent.Execute(ctx, req)
	if err != nil {
		return schemas.Step{}, err
	}

	if result.Message != "" {
		c.history = append(c.history, schemas.HistoryEntry{Role: schemas.RoleAssistant, Content: result.Message})
	}

	output := make([]schemas.Action, 0, len(result.Calls)+1)
	output = append(output, result.Calls...)
	output = append(output, schemas.NewMessage(result.Message))
	return schemas.Step{Output: output, ResponseID: c.newToken()}, nil
}

// normalize maps an input item onto a history entry.
func normalize(item schemas.InputItem) (schemas.HistoryEntry, bool) {
	switch it := item.(type) {
	case schemas.TextTurn:
		return normalizeTextTurn(it)
	case schemas.MessageItem:
		return normalizeMessage(it)
	case schemas.ToolOutputItem:
		return normalizeToolOutput(it)
	default:
		return schemas.HistoryEntry{}, false
	}
}

func normalizeTextTurn(t schemas.TextTurn) (schemas.HistoryEntry, bool) {
	role := t.Role
	if role == "" {
		role = schemas.RoleUser
	}
	return schemas.HistoryEntry{Role: role, Content: t.Content}, true
}

func normalizeMessage(m schemas.MessageItem) (schemas.HistoryEntry, bool) {
	text, ok := m.FirstText()
	if !ok {
		return schemas.HistoryEntry{}, false
	}
	return schemas.HistoryEntry{Role: m.Author(), Content: text}, true
}

func normalizeToolOutput(o schemas.ToolOutputItem) (schemas.HistoryEntry, bool) {
	if o.Output.IsImage() {
		return schemas.HistoryEntry{Role: schemas.RoleSystem, Content: screenshotNote}, true
	}
	if o.Output == (schemas.CallOutput{}) {
		return schemas.HistoryEntry{}, false
	}
	raw, err := json.Marshal(o.Output)
	if err != nil {
		return schemas.HistoryEntry{}, false
	}
	return schemas.HistoryEntry{Role: schemas.RoleSystem, Content: toolResultNotePfx + string(raw)}, true
}

// currentRequest is the text of the last user-authored item.
func currentRequest(items []schemas.InputItem) string {
	for i := len(items) - 1; i >= 0; i-- {
		switch it := items[i].(type) {
		case schemas.TextTurn:
			if it.Role == schemas.RoleUser || it.Role == "" {
				if it.Content != "" {
					return it.Content
				}
				return DefaultRequest
			}
		case schemas.MessageItem:
			if it.Role == schemas.RoleUser {
				if text, ok := it.FirstText(); ok {
					return text
				}
				return DefaultRequest
			}
		}
	}
	return DefaultRequest
}
