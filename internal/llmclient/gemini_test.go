package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

func newTestGeminiClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGeminiClient(context.Background(), getValidLLMConfig(config.ProviderGemini, srv.URL), setupTestLogger(t))
	require.NoError(t, err)
	return c
}

func TestGeminiClient_Converse(t *testing.T) {
	var body map[string]any
	c := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/test-model:generateContent"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"responseId": "resp-g1",
			"candidates": [{
				"content": {"role": "model", "parts": [
					{"text": "Going there now."},
					{"functionCall": {"name": "goto", "args": {"url": "https://shop.example"}}}
				]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 4, "totalTokenCount": 14}
		}`)
	})

	resp, err := c.Converse(context.Background(), toolConversation())
	require.NoError(t, err)

	assert.Equal(t, "resp-g1", resp.ID)
	assert.Equal(t, "Going there now.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1_goto", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"url":"https://shop.example"}`, string(resp.ToolCalls[0].Arguments))

	contents := body["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.Contains(t, body, "tools")
	assert.Contains(t, body, "systemInstruction")
}

func TestGeminiClient_PermanentError(t *testing.T) {
	var calls atomic.Int32
	c := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := c.Converse(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini request failed")
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestGeminiClient_BlockedResponse(t *testing.T) {
	c := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[]},"finishReason":"SAFETY"}]}`)
	})

	_, err := c.Converse(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked the request")
}

func TestToGeminiContents(t *testing.T) {
	contents := toGeminiContents(toolConversation().Conversation())
	require.Len(t, contents, 3)

	model := contents[1]
	assert.Equal(t, "model", model.Role)
	require.Len(t, model.Parts, 2)
	assert.Equal(t, "https://shop.example", model.Parts[0].FunctionCall.Args["url"])
	assert.Empty(t, model.Parts[1].FunctionCall.Args)

	user := contents[2]
	require.Len(t, user.Parts, 4)
	assert.Equal(t, "read_page", user.Parts[1].FunctionResponse.Name)
	assert.Equal(t, map[string]any{"result": "Price: $10"}, user.Parts[1].FunctionResponse.Response)
	assert.Equal(t, "Continue", user.Parts[3].Text)
}

func TestToGeminiSchema(t *testing.T) {
	s := toGeminiSchema(objectSchema(schemas.ToolDefinition{
		Parameters: map[string]any{
			"key":   map[string]any{"type": "string", "enum": []any{"Enter", "Tab"}},
			"lines": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		Required: []string{"key"},
	}))
	assert.Equal(t, genai.Type("object"), s.Type)
	assert.Equal(t, []string{"key"}, s.Required)
	assert.Equal(t, []string{"Enter", "Tab"}, s.Properties["key"].Enum)
	assert.Equal(t, genai.Type("string"), s.Properties["lines"].Items.Type)
}
