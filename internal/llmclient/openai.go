package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

// OpenAIClient implements schemas.LLMClient on the Chat Completions API.
type OpenAIClient struct {
	client *openai.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient initializes the client. Endpoint overrides the base URL
// for OpenAI-compatible servers.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API Key is required")
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
	// The SDK client is returned by value; keep a pointer to it.
	c := openai.NewClient(opts...)

	return &OpenAIClient{
		client: &c,
		config: cfg,
		logger: logger.Named("llm_client.openai"),
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	return generateText(ctx, c, req)
}

// Converse sends one chat completion request.
func (c *OpenAIClient) Converse(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	params := c.buildParams(req)

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, providerError("openai", err)
	}

	c.logger.Info("LLM generation complete (OpenAI)",
		zap.String("model", c.config.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
	)
	return parseChatCompletion(resp), nil
}

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.config.Model),
		Messages:            toOpenAIMessages(systemPrompt(req, false), req.Conversation()),
		MaxCompletionTokens: openai.Int(int64(maxTokens(req, c.config.MaxTokens))),
	}
	if t := req.Options.Temperature; t > 0 {
		params.Temperature = openai.Float(t)
	} else {
		params.Temperature = openai.Float(float64(c.config.Temperature))
	}
	if req.Options.ForceJSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	for _, def := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  openai.FunctionParameters(objectSchema(def)),
		}))
	}
	return params
}

func toOpenAIMessages(system string, msgs []schemas.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case schemas.RoleAssistant:
			am := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: string(rawArguments(string(tc.Arguments))),
					},
				})
			}
			out = append(out, am.ToParam())
		case schemas.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case schemas.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func parseChatCompletion(resp *openai.ChatCompletion) *schemas.GenerationResponse {
	out := &schemas.GenerationResponse{ID: resp.ID}
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}
	return out
}

func (c *OpenAIClient) Close() error { return nil }
