package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xkilldash9x/browser-operator/api/schemas"
)

// ErrEmptyResponse is returned when the model produced neither text nor tool calls.
var ErrEmptyResponse = errors.New("model returned an empty response")

const (
	defaultMaxTokens  = 4096
	defaultAPITimeout = 2 * time.Minute
	jsonInstruction   = "Respond with a single valid JSON object and nothing else."
	systemNotePrefix  = "[System note] "
	maxRetries        = 4
	// leadingUserTurn opens conversations that would otherwise start with the model.
	leadingUserTurn = "Continue the conversation below."
)

// conversant is the tool-enabled half of an LLMClient; plain generation is
// layered on top of it.
type conversant interface {
	Converse(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error)
}

// generateText runs a tool-less turn and returns its text.
func generateText(ctx context.Context, c conversant, req schemas.GenerationRequest) (string, error) {
	req.Tools = nil
	resp, err := c.Converse(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text, nil
}

// newRetryBackOff mirrors the retry envelope used for all provider calls
// that do not carry their own retry policy.
func newRetryBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// retryableStatus reports whether an HTTP status is worth another attempt.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// objectSchema wraps a tool's properties into a JSON schema object.
func objectSchema(def schemas.ToolDefinition) map[string]any {
	props := def.Parameters
	if props == nil {
		props = map[string]any{}
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(def.Required) > 0 {
		s["required"] = def.Required
	}
	return s
}

// rawArguments normalizes tool-call arguments into a JSON object.
func rawArguments(args string) json.RawMessage {
	if strings.TrimSpace(args) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

// systemPrompt returns the request's system prompt, with a JSON-only
// instruction appended for providers that lack a native JSON mode.
func systemPrompt(req schemas.GenerationRequest, appendJSON bool) string {
	s := req.SystemPrompt
	if appendJSON && req.Options.ForceJSONFormat {
		if s != "" {
			s += "\n\n"
		}
		s += jsonInstruction
	}
	return s
}

func maxTokens(req schemas.GenerationRequest, configured int) int {
	if req.Options.MaxTokens > 0 {
		return req.Options.MaxTokens
	}
	if configured > 0 {
		return configured
	}
	return defaultMaxTokens
}

// -- Anthropic-style turns, shared by the Anthropic API and Bedrock --

type blockKind int

const (
	blockText blockKind = iota
	blockToolUse
	blockToolResult
)

type block struct {
	kind  blockKind
	text  string
	id    string
	name  string
	input json.RawMessage
}

type turn struct {
	role   schemas.Role // RoleUser or RoleAssistant
	blocks []block
}

// anthropicTurns converts a conversation into strictly alternating user and
// assistant turns. System messages become user notes and tool results ride
// in the following user turn.
func anthropicTurns(msgs []schemas.Message) []turn {
	var turns []turn
	add := func(role schemas.Role, b ...block) {
		if len(b) == 0 {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].blocks = append(turns[n-1].blocks, b...)
			return
		}
		turns = append(turns, turn{role: role, blocks: b})
	}

	for _, m := range msgs {
		switch m.Role {
		case schemas.RoleAssistant:
			var bs []block
			if strings.TrimSpace(m.Content) != "" {
				bs = append(bs, block{kind: blockText, text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				bs = append(bs, block{kind: blockToolUse, id: tc.ID, name: tc.Name, input: rawArguments(string(tc.Arguments))})
			}
			add(schemas.RoleAssistant, bs...)
		case schemas.RoleTool:
			add(schemas.RoleUser, block{kind: blockToolResult, id: m.ToolCallID, text: m.Content})
		case schemas.RoleSystem:
			if m.Content != "" {
				add(schemas.RoleUser, block{kind: blockText, text: systemNotePrefix + m.Content})
			}
		default:
			if m.Content != "" {
				add(schemas.RoleUser, block{kind: blockText, text: m.Content})
			}
		}
	}
	if len(turns) > 0 && turns[0].role != schemas.RoleUser {
		turns = append([]turn{{role: schemas.RoleUser, blocks: []block{{kind: blockText, text: leadingUserTurn}}}}, turns...)
	}
	return turns
}

func joinText(parts []string) string {
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func providerError(provider string, err error) error {
	return fmt.Errorf("%s request failed: %w", provider, err)
}
