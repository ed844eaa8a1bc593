package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

// GeminiClient implements schemas.LLMClient for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = defaultAPITimeout
	}

	cc := &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.Endpoint},
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	return generateText(ctx, c, req)
}

// Converse sends the conversation to the Gemini API with retries.
func (c *GeminiClient) Converse(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	contents := toGeminiContents(req.Conversation())
	genConfig := c.buildConfig(req)

	var out *schemas.GenerationResponse
	operation := func() error {
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, c.config.APITimeout)
		defer cancel()
		resp, err := c.client.Models.GenerateContent(callCtx, c.config.Model, contents, genConfig)
		if err != nil {
			return c.classify(err)
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		cand := resp.Candidates[0]
		if cand.Content == nil || len(cand.Content.Parts) == 0 {
			if cand.FinishReason == genai.FinishReasonSafety || cand.FinishReason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", cand.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", cand.FinishReason)
		}

		fields := []zap.Field{zap.String("model", c.config.Model), zap.Duration("duration", time.Since(start))}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)

		out = parseGeminiResponse(resp)
		return nil
	}

	if err := backoff.Retry(operation, newRetryBackOff(ctx)); err != nil {
		return nil, providerError("gemini", err)
	}
	return out, nil
}

// classify marks rate limits and server errors as retryable.
func (c *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.Code) {
			c.logger.Warn("Gemini API transient error, retrying...", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
			return err
		}
		return backoff.Permanent(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
	return err
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temp := float32(req.Options.Temperature)
	if temp <= 0 {
		temp = c.config.Temperature
	}
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temp),
		MaxOutputTokens: int32(maxTokens(req, c.config.MaxTokens)),
	}
	if s := systemPrompt(req, false); s != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}
	if req.Options.ForceJSONFormat && len(req.Tools) == 0 {
		gc.ResponseMIMEType = "application/json"
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, def := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  toGeminiSchema(objectSchema(def)),
			})
		}
		gc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return gc
}

// toGeminiSchema converts a JSON schema map into the SDK's schema type.
func toGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if pm, ok := v.(map[string]any); ok {
				s.Properties[k] = toGeminiSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	switch enum := m["enum"].(type) {
	case []string:
		s.Enum = enum
	case []any:
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

// toGeminiContents maps the conversation onto "user" and "model" contents.
// Consecutive entries with the same role are merged.
func toGeminiContents(msgs []schemas.Message) []*genai.Content {
	var out []*genai.Content
	add := func(role string, parts ...*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range msgs {
		switch m.Role {
		case schemas.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(rawArguments(string(tc.Arguments)), &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			add("model", parts...)
		case schemas.RoleTool:
			add("user", &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.ToolName,
				Response: map[string]any{"result": m.Content},
			}})
		case schemas.RoleSystem:
			if m.Content != "" {
				add("user", &genai.Part{Text: systemNotePrefix + m.Content})
			}
		default:
			if m.Content != "" {
				add("user", &genai.Part{Text: m.Content})
			}
		}
	}
	if len(out) > 0 && out[0].Role != "user" {
		out = append([]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: leadingUserTurn}}}}, out...)
	}
	return out
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) *schemas.GenerationResponse {
	out := &schemas.GenerationResponse{ID: resp.ResponseID}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	var texts []string
	for i, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			texts = append(texts, part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				// Gemini does not always assign call ids.
				id = fmt.Sprintf("call_%d_%s", i, fc.Name)
			}
			args, err := json.Marshal(fc.Args)
			if err != nil || fc.Args == nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{ID: id, Name: fc.Name, Arguments: args})
		}
	}
	out.Text = joinText(texts)
	return out
}

func (c *GeminiClient) Close() error { return nil }
