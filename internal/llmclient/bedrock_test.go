package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockClient_Converse(t *testing.T) {
	inv := &fakeInvoker{body: `{
		"id": "msg_bdrk",
		"content": [
			{"type": "text", "text": "Clicking."},
			{"type": "tool_use", "id": "toolu_9", "name": "click", "input": {"element_id": 3}}
		],
		"usage": {"input_tokens": 12, "output_tokens": 3}
	}`}
	cfg := getValidLLMConfig(config.ProviderBedrock, "")
	cfg.Model = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	c := NewBedrockClientWithRuntime(inv, cfg, setupTestLogger(t))

	resp, err := c.Converse(context.Background(), toolConversation())
	require.NoError(t, err)
	assert.Equal(t, "msg_bdrk", resp.ID)
	assert.Equal(t, "Clicking.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.JSONEq(t, `{"element_id":3}`, string(resp.ToolCalls[0].Arguments))

	require.NotNil(t, inv.input)
	assert.Equal(t, cfg.Model, aws.ToString(inv.input.ModelId))
	assert.Equal(t, "application/json", aws.ToString(inv.input.ContentType))

	var body map[string]any
	require.NoError(t, json.Unmarshal(inv.input.Body, &body))
	assert.Equal(t, bedrockAnthropicVersion, body["anthropic_version"])
	assert.Equal(t, "You operate a browser.", body["system"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	result := msgs[2].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "navigated", result["content"])
	assert.Len(t, body["tools"], 1)
}

func TestBedrockClient_Errors(t *testing.T) {
	t.Run("InvokeFailure", func(t *testing.T) {
		c := NewBedrockClientWithRuntime(&fakeInvoker{err: errors.New("throttled")}, getValidLLMConfig(config.ProviderBedrock, ""), setupTestLogger(t))
		_, err := c.Converse(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bedrock request failed")
	})

	t.Run("ErrorPayload", func(t *testing.T) {
		c := NewBedrockClientWithRuntime(&fakeInvoker{body: `{"message":"Malformed input request"}`}, getValidLLMConfig(config.ProviderBedrock, ""), setupTestLogger(t))
		_, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Malformed input request")
	})

	t.Run("UndecodableBody", func(t *testing.T) {
		c := NewBedrockClientWithRuntime(&fakeInvoker{body: `not json`}, getValidLLMConfig(config.ProviderBedrock, ""), setupTestLogger(t))
		_, err := c.Converse(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode Bedrock response")
	})
}
