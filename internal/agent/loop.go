package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/browser"
	"github.com/xkilldash9x/browser-operator/internal/observability"
)

// LoopState names a phase of one invocation.
type LoopState string

const (
	StateStarting          LoopState = "STARTING"
	StateResumingWithReply LoopState = "RESUMING_WITH_REPLY"
	StateExecuting         LoopState = "EXECUTING"
	StateAwaitingAction    LoopState = "AWAITING_ACTION"
	StateMessageEmitted    LoopState = "MESSAGE_EMITTED"
	StateTerminated        LoopState = "TERMINATED"
)

const (
	// CompletedNotice is returned to callers that already received the message through an observer.
	CompletedNotice = "Task completed."
	screenshotTitle = "Current Browser View"
	dispatchSuccess = "success"
)

// Browser is the session surface the loop drives.
type Browser interface {
	AgentSource
	Goto(ctx context.Context, url string) error
	Back(ctx context.Context) error
	ScreenshotPNG(ctx context.Context) ([]byte, error)
	SessionID() string
}

var _ Browser = (*browser.Handle)(nil)

// LoopConfig tunes a Loop.
type LoopConfig struct {
	Agent browser.AgentOptions
	// MaxTurns caps steps per invocation. Zero leaves the loop bounded only
	// by the context deadline.
	MaxTurns int
}

// Loop drives the agent from a goal or a reply until it emits a message.
type Loop struct {
	browser  Browser
	selector *URLSelector
	store    schemas.StateStore
	cfg      LoopConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	// tokens overrides continuation token generation.
	tokens func() string
}

// NewLoop wires a loop. store may be nil, in which case nothing is persisted.
func NewLoop(b Browser, selector *URLSelector, store schemas.StateStore, cfg LoopConfig, logger *zap.Logger, metrics *observability.Metrics) *Loop {
	if cfg.MaxTurns < 0 {
		cfg.MaxTurns = 0
	}
	return &Loop{
		browser:  b,
		selector: selector,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("agent_loop"),
		metrics:  metrics,
	}
}

// RunRequest is one invocation. Saved switches the loop into resumption:
// Reply is then the user's answer to the saved step's message.
type RunRequest struct {
	Goal     string
	Reply    string
	Saved    *schemas.AgentState
	Observer schemas.Observer
}

// Run executes steps until one carries a user-visible message. With an
// observer the message is delivered there and CompletedNotice is returned;
// without one the message text itself is returned.
func (l *Loop) Run(ctx context.Context, req RunRequest) (string, error) {
	client := NewActionClient(l.browser, l.cfg.Agent, l.logger, l.metrics)
	if l.tokens != nil {
		client.newToken = l.tokens
	}
	goal := req.Goal

	var step schemas.Step
	if req.Saved != nil {
		l.transition(StateResumingWithReply)
		if goal == "" {
			goal = req.Saved.Goal
		}
		prior, _ := req.Saved.CurrentStep.Message()
		step = client.GetAction(ctx, []schemas.InputItem{
			schemas.AssistantText(prior),
			schemas.UserText(req.Reply),
		}, req.Saved.CurrentStep.ResponseID)
		if err := ctx.Err(); err != nil {
			return "", err
		}
		// A reply answered directly ends the invocation here.
		if text, ok := step.Message(); ok {
			l.transition(StateMessageEmitted)
			result := l.emit(ctx, goal, step, text, req.Observer)
			l.transition(StateTerminated)
			return result, nil
		}
	} else {
		l.transition(StateStarting)
		var err error
		if step, err = l.start(ctx, client, goal, req.Observer); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	for turn := 1; ; turn++ {
		calls := step.PendingCalls()
		var outputs []schemas.InputItem
		if len(calls) > 0 {
			l.transition(StateExecuting)
			var err error
			if outputs, err = l.dispatch(ctx, calls, req.Observer); err != nil {
				return "", err
			}
		}

		if text, ok := step.Message(); ok {
			l.transition(StateMessageEmitted)
			result := l.emit(ctx, goal, step, text, req.Observer)
			l.transition(StateTerminated)
			return result, nil
		}

		if l.cfg.MaxTurns > 0 && turn >= l.cfg.MaxTurns {
			l.logger.Warn("Agent loop hit its turn limit.", zap.Int("max_turns", l.cfg.MaxTurns))
			return "", ErrTurnLimit
		}

		l.transition(StateAwaitingAction)
		step = client.GetAction(ctx, outputs, step.ResponseID)
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

func (l *Loop) start(ctx context.Context, client *ActionClient, goal string, obs schemas.Observer) (schemas.Step, error) {
	if obs != nil {
		if err := obs.Started(ctx, goal); err != nil {
			l.logger.Warn("Failed to announce start.", zap.Error(err))
		}
	}
	if _, err := l.browser.Init(ctx); err != nil {
		return schemas.Step{}, fmt.Errorf("initializing browser: %w", err)
	}

	start := l.selector.Select(ctx, goal)
	if err := ctx.Err(); err != nil {
		return schemas.Step{}, err
	}
	if err := l.browser.Goto(ctx, start.URL); err != nil {
		return schemas.Step{}, fmt.Errorf("navigating to starting URL %s: %w", start.URL, err)
	}
	return client.GetAction(ctx, []schemas.InputItem{schemas.UserText(goal)}, ""), nil
}

// dispatch runs every pending call in order and returns one output per call.
func (l *Loop) dispatch(ctx context.Context, calls []schemas.Action, obs schemas.Observer) ([]schemas.InputItem, error) {
	outputs := make([]schemas.InputItem, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := l.execute(ctx, call, obs)
		if err != nil {
			l.metrics.ToolCall(callName(call), "error")
			return nil, &ExecutionError{CallID: call.CallID, Name: callName(call), Err: err}
		}
		l.metrics.ToolCall(callName(call), "ok")
		outputs = append(outputs, schemas.NewCallOutput(call, out))
	}
	return outputs, nil
}

func (l *Loop) execute(ctx context.Context, call schemas.Action, obs schemas.Observer) (schemas.CallOutput, error) {
	switch call.Type {
	case schemas.ActionFunctionCall:
		l.logger.Info("Dispatching function call.", zap.String("name", call.Name), zap.String("call_id", call.CallID))
		switch call.Name {
		case "goto":
			var args struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return schemas.CallOutput{}, fmt.Errorf("decoding goto arguments: %w", err)
			}
			if err := l.browser.Goto(ctx, args.URL); err != nil {
				return schemas.CallOutput{}, err
			}
		case "back":
			if err := l.browser.Back(ctx); err != nil {
				return schemas.CallOutput{}, err
			}
		default:
			l.logger.Debug("No handler for function call, acknowledging.", zap.String("name", call.Name))
		}
		return schemas.CallOutput{Type: schemas.OutputText, Text: dispatchSuccess}, nil

	case schemas.ActionComputerCall:
		png, err := l.browser.ScreenshotPNG(ctx)
		if err != nil {
			return schemas.CallOutput{}, err
		}
		if obs != nil {
			if err := obs.Screenshot(ctx, png, screenshotTitle); err != nil {
				l.logger.Warn("Failed to forward screenshot.", zap.Error(err))
			}
		}
		return schemas.CallOutput{
			Type:     schemas.OutputInputImage,
			ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		}, nil
	}
	return schemas.CallOutput{}, fmt.Errorf("unsupported call type %q", call.Type)
}

// emit persists the step and hands the message to the observer. Persistence
// and screenshot failures are logged and do not affect the result.
func (l *Loop) emit(ctx context.Context, goal string, step schemas.Step, text string, obs schemas.Observer) string {
	if l.store != nil {
		if id := l.browser.SessionID(); id != "" {
			if err := l.store.Save(ctx, id, schemas.AgentState{Goal: goal, CurrentStep: step}); err != nil {
				l.logger.Warn("Failed to save agent state.", zap.String("session_id", id), zap.Error(err))
			}
		}
	}

	if obs == nil {
		return text
	}
	png, err := l.browser.ScreenshotPNG(ctx)
	if err != nil {
		l.logger.Warn("Failed to capture final screenshot.", zap.Error(err))
		png = nil
	}
	if err := obs.Message(ctx, text, png); err != nil {
		l.logger.Warn("Failed to deliver message to observer.", zap.Error(err))
	}
	return CompletedNotice
}

func (l *Loop) transition(s LoopState) {
	l.logger.Debug("Loop state transition.", zap.String("state", string(s)))
	l.metrics.LoopTransition(string(s))
}

func callName(a schemas.Action) string {
	if a.Type == schemas.ActionComputerCall {
		if a.Computer != nil && a.Computer.Type != "" {
			return "computer." + a.Computer.Type
		}
		return "computer"
	}
	return a.Name
}

// IsCancellation reports whether err stems from the invocation's context ending.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
