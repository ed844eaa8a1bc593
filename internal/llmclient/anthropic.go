package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

// AnthropicClient implements schemas.LLMClient on the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient initializes the client.
func NewAnthropicClient(cfg config.LLMModelConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API Key is required")
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(3),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicClient{
		client: &client,
		config: cfg,
		logger: logger.Named("llm_client.anthropic"),
	}, nil
}

func (c *AnthropicClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	return generateText(ctx, c, req)
}

// Converse sends one turn to the Messages API.
func (c *AnthropicClient) Converse(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	params := c.buildParams(req)

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, providerError("anthropic", err)
	}

	c.logger.Info("LLM generation complete (Anthropic)",
		zap.String("model", c.config.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", resp.Usage.InputTokens),
		zap.Int64("completion_tokens", resp.Usage.OutputTokens),
	)
	return parseAnthropicMessage(resp), nil
}

func (c *AnthropicClient) buildParams(req schemas.GenerationRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(maxTokens(req, c.config.MaxTokens)),
		Messages:  toAnthropicMessages(anthropicTurns(req.Conversation())),
	}
	if s := systemPrompt(req, true); s != "" {
		params.System = []anthropic.TextBlockParam{{Text: s}}
	}
	if t := req.Options.Temperature; t > 0 {
		params.Temperature = anthropic.Float(t)
	} else if c.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(c.config.Temperature))
	}

	for _, def := range req.Tools {
		tp := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Parameters,
				Required:   def.Required,
			},
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return params
}

func toAnthropicMessages(turns []turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		content := make([]anthropic.ContentBlockParamUnion, 0, len(t.blocks))
		for _, b := range t.blocks {
			switch b.kind {
			case blockText:
				content = append(content, anthropic.NewTextBlock(b.text))
			case blockToolUse:
				content = append(content, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.id,
						Name:  b.name,
						Input: b.input,
					},
				})
			case blockToolResult:
				content = append(content, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.id,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: b.text},
						}},
					},
				})
			}
		}
		if t.role == schemas.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

func parseAnthropicMessage(resp *anthropic.Message) *schemas.GenerationResponse {
	out := &schemas.GenerationResponse{ID: resp.ID}
	var texts []string
	for _, content := range resp.Content {
		switch b := content.AsAny().(type) {
		case anthropic.TextBlock:
			texts = append(texts, b.Text)
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: rawArguments(string(b.Input)),
			})
		}
	}
	out.Text = joinText(texts)
	return out
}

func (c *AnthropicClient) Close() error { return nil }
