// Package operator implements the browser automation engine: an LLM tool-use
// loop that reads and drives a single page until it can reply to the user.
package operator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/observability"
)

const (
	defaultMaxSteps      = 25
	defaultPageTextLimit = 6000

	toolGuide = `You control a real web browser through tools.
- Call read_page to see the numbered interactive elements and the visible text before clicking or typing.
- Use goto to open a URL and back to return to the previous page.
- Use screenshot when the user would benefit from seeing the page.
- When you have the answer, or need information only the user can give, call finish with your reply.`
)

// Options tune an Agent.
type Options struct {
	Model         string
	Instructions  string
	MaxSteps      int
	PageTextLimit int
}

// Agent operates one page on behalf of the agent loop.
type Agent struct {
	page    schemas.Page
	llm     schemas.LLMClient
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics
}

var _ schemas.BrowserAgent = (*Agent)(nil)

// New creates an agent bound to page.
func New(page schemas.Page, llm schemas.LLMClient, opts Options, logger *zap.Logger, metrics *observability.Metrics) *Agent {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.PageTextLimit <= 0 {
		opts.PageTextLimit = defaultPageTextLimit
	}
	if opts.Instructions == "" {
		opts.Instructions = config.DefaultInstructions
	}
	return &Agent{
		page:    page,
		llm:     llm,
		opts:    opts,
		logger:  logger.Named("operator").With(zap.String("model", opts.Model)),
		metrics: metrics,
	}
}

// Execute works on the instruction until the model replies, asks for a
// navigation or screenshot, or the step budget runs out. Navigation and
// screenshot requests come back as pending calls with an empty message.
func (a *Agent) Execute(ctx context.Context, req schemas.ExecuteRequest) (*schemas.ExecuteResult, error) {
	msgs := conversation(req)
	system := a.opts.Instructions + "\n\n" + toolGuide

	for step := 0; step < a.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := a.llm.Converse(ctx, schemas.GenerationRequest{
			SystemPrompt: system,
			Messages:     msgs,
			Tools:        toolDefinitions,
			Tier:         schemas.TierPowerful,
		})
		if err != nil {
			return nil, fmt.Errorf("operator model turn %d failed: %w", step+1, err)
		}

		if len(resp.ToolCalls) == 0 {
			text := resp.Text
			if text == "" {
				text = "I could not find anything to report."
			}
			return &schemas.ExecuteResult{Message: text, Completed: true}, nil
		}

		msgs = append(msgs, schemas.Message{Role: schemas.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})

		var pending []schemas.Action
		for _, call := range resp.ToolCalls {
			a.logger.Debug("Model requested tool.", zap.String("tool", call.Name), zap.String("call_id", call.ID))

			if handoffTools[call.Name] {
				action, err := handoffAction(call)
				if err != nil {
					msgs = append(msgs, toolResult(call, "Error: "+err.Error()))
					a.metrics.ToolCall(call.Name, "invalid")
					continue
				}
				pending = append(pending, action)
				a.metrics.ToolCall(call.Name, "handoff")
				continue
			}
			if len(pending) > 0 {
				a.logger.Debug("Skipping tool queued behind a handoff.", zap.String("tool", call.Name))
				continue
			}

			if call.Name == ToolFinish {
				var args finishArgs
				if err := decodeArgs(call, &args); err == nil && args.Message != "" {
					a.metrics.ToolCall(call.Name, "ok")
					completed := args.Completed == nil || *args.Completed
					return &schemas.ExecuteResult{Message: args.Message, Completed: completed}, nil
				}
				msgs = append(msgs, toolResult(call, "Error: finish requires a message"))
				a.metrics.ToolCall(call.Name, "invalid")
				continue
			}

			out, err := a.runTool(ctx, call)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				a.logger.Debug("Tool failed.", zap.String("tool", call.Name), zap.Error(err))
				a.metrics.ToolCall(call.Name, "error")
				msgs = append(msgs, toolResult(call, "Error: "+err.Error()))
				continue
			}
			a.metrics.ToolCall(call.Name, "ok")
			msgs = append(msgs, toolResult(call, out))
		}

		if len(pending) > 0 {
			return &schemas.ExecuteResult{Calls: pending}, nil
		}
	}

	a.logger.Warn("Step budget exhausted.", zap.Int("max_steps", a.opts.MaxSteps))
	return &schemas.ExecuteResult{
		Message: fmt.Sprintf("I stopped after %d steps without finishing the task. Reply with more guidance to continue.", a.opts.MaxSteps),
	}, nil
}

func toolResult(call schemas.ToolCall, content string) schemas.Message {
	return schemas.Message{Role: schemas.RoleTool, ToolCallID: call.ID, ToolName: call.Name, Content: content}
}

// conversation turns the normalized history into model messages, ending with
// the instruction as the latest user turn.
func conversation(req schemas.ExecuteRequest) []schemas.Message {
	msgs := make([]schemas.Message, 0, len(req.History)+1)
	for _, h := range req.History {
		if h.Content != "" {
			msgs = append(msgs, schemas.Message{Role: h.Role, Content: h.Content})
		}
	}
	if req.Instruction == "" {
		return msgs
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == schemas.RoleUser && msgs[n-1].Content == req.Instruction {
		return msgs
	}
	return append(msgs, schemas.Message{Role: schemas.RoleUser, Content: req.Instruction})
}
