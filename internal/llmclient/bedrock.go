package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

var bedrockJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockInvoker is the slice of the Bedrock runtime API the client needs.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient runs Anthropic models hosted on AWS Bedrock.
type BedrockClient struct {
	runtime BedrockInvoker
	config  config.LLMModelConfig
	logger  *zap.Logger
}

var _ schemas.LLMClient = (*BedrockClient)(nil)

// NewBedrockClient loads AWS credentials from the default chain.
func NewBedrockClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*BedrockClient, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	runtime := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewBedrockClientWithRuntime(runtime, cfg, logger), nil
}

// NewBedrockClientWithRuntime wraps an existing runtime client.
func NewBedrockClientWithRuntime(runtime BedrockInvoker, cfg config.LLMModelConfig, logger *zap.Logger) *BedrockClient {
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = defaultAPITimeout
	}
	return &BedrockClient{
		runtime: runtime,
		config:  cfg,
		logger:  logger.Named("llm_client.bedrock"),
	}
}

func (c *BedrockClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	return generateText(ctx, c, req)
}

// Converse invokes the model with an Anthropic Messages body.
func (c *BedrockClient) Converse(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	body, err := bedrockJSON.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.APITimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.runtime.InvokeModel(callCtx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.config.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, providerError("bedrock", err)
	}

	out, usage, err := parseBedrockResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("LLM generation complete (Bedrock)",
		zap.String("model", c.config.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", usage.InputTokens),
		zap.Int("completion_tokens", usage.OutputTokens),
	)
	return out, nil
}

type bedrockContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
}

type bedrockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type bedrockResponse struct {
	ID      string           `json:"id"`
	Content []bedrockContent `json:"content"`
	Usage   bedrockUsage     `json:"usage"`
	Message string           `json:"message"` // set on error payloads
}

func (c *BedrockClient) buildRequest(req schemas.GenerationRequest) bedrockRequest {
	br := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        maxTokens(req, c.config.MaxTokens),
		System:           systemPrompt(req, true),
	}
	temp := req.Options.Temperature
	if temp <= 0 {
		temp = float64(c.config.Temperature)
	}
	if temp > 0 {
		br.Temperature = &temp
	}

	for _, t := range anthropicTurns(req.Conversation()) {
		msg := bedrockMessage{Role: string(t.role)}
		for _, b := range t.blocks {
			switch b.kind {
			case blockText:
				msg.Content = append(msg.Content, bedrockContent{Type: "text", Text: b.text})
			case blockToolUse:
				msg.Content = append(msg.Content, bedrockContent{Type: "tool_use", ID: b.id, Name: b.name, Input: b.input})
			case blockToolResult:
				msg.Content = append(msg.Content, bedrockContent{Type: "tool_result", ToolUseID: b.id, Content: b.text})
			}
		}
		br.Messages = append(br.Messages, msg)
	}

	for _, def := range req.Tools {
		br.Tools = append(br.Tools, bedrockTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: objectSchema(def),
		})
	}
	return br
}

func parseBedrockResponse(body []byte) (*schemas.GenerationResponse, bedrockUsage, error) {
	var resp bedrockResponse
	if err := bedrockJSON.Unmarshal(body, &resp); err != nil {
		return nil, bedrockUsage{}, fmt.Errorf("failed to decode Bedrock response: %w", err)
	}
	if len(resp.Content) == 0 && resp.Message != "" {
		return nil, resp.Usage, fmt.Errorf("bedrock API error: %s", resp.Message)
	}

	out := &schemas.GenerationResponse{ID: resp.ID}
	var texts []string
	for _, c := range resp.Content {
		switch c.Type {
		case "text":
			texts = append(texts, c.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
				ID:        c.ID,
				Name:      c.Name,
				Arguments: rawArguments(string(c.Input)),
			})
		}
	}
	out.Text = joinText(texts)
	return out, resp.Usage, nil
}

func (c *BedrockClient) Close() error { return nil }
