package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

// MockLLMClient is a mock implementation of the LLMClient interface for testing.
type MockLLMClient struct {
	mock.Mock
	Name string
}

// Generate mocks the Generate method.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Converse mocks the Converse method.
func (m *MockLLMClient) Converse(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.GenerationResponse), args.Error(1)
}

// Close mocks the Close method.
func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

// getValidLLMConfig returns a valid LLMModelConfig for testing purposes.
func getValidLLMConfig(provider config.LLMProvider, endpoint string) config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    provider,
		APIKey:      "test-api-key",
		Model:       "test-model",
		Endpoint:    endpoint,
		APITimeout:  5 * time.Second,
		Temperature: 0.7,
		MaxTokens:   512,
	}
}

// toolConversation is a turn history with one executed tool call.
func toolConversation() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "You operate a browser.",
		Messages: []schemas.Message{
			{Role: schemas.RoleUser, Content: "Find the price"},
			{Role: schemas.RoleAssistant, ToolCalls: []schemas.ToolCall{
				{ID: "call_1", Name: "goto", Arguments: []byte(`{"url":"https://shop.example"}`)},
				{ID: "call_2", Name: "read_page", Arguments: nil},
			}},
			{Role: schemas.RoleTool, ToolCallID: "call_1", ToolName: "goto", Content: "navigated"},
			{Role: schemas.RoleTool, ToolCallID: "call_2", ToolName: "read_page", Content: "Price: $10"},
			{Role: schemas.RoleSystem, Content: "I took a screenshot of the current page state."},
		},
		UserPrompt: "Continue",
		Tools: []schemas.ToolDefinition{{
			Name:        "goto",
			Description: "Navigate to a URL",
			Parameters:  map[string]any{"url": map[string]any{"type": "string"}},
			Required:    []string{"url"},
		}},
	}
}
