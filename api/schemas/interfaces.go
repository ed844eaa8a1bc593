package schemas

import (
	"context"
	"encoding/json"
)

// -- Region --

// Region is a geographic deployment region for a remote browser session.
type Region string

const (
	RegionUSWest2      Region = "us-west-2"
	RegionUSEast1      Region = "us-east-1"
	RegionEUCentral1   Region = "eu-central-1"
	RegionAPSoutheast1 Region = "ap-southeast-1"
)

// -- State Store Interface --

// StateStore persists AgentState between invocations, keyed by remote session id.
// Implementations are best-effort: an unconfigured store saves nothing and finds nothing.
type StateStore interface {
	// Save writes a new version of the state for the session.
	Save(ctx context.Context, sessionID string, state AgentState) error
	// Get returns the most recently written state, or nil if none exists.
	Get(ctx context.Context, sessionID string) (*AgentState, error)
}

// -- Observer Interface --

// Observer receives progress reports from the agent loop. A Slack thread is the
// canonical implementation; a nil Observer means results are only logged.
type Observer interface {
	// Started announces that work on the goal has begun.
	Started(ctx context.Context, goal string) error
	// Message delivers the user-visible message of a step along with a screenshot (PNG, may be nil).
	Message(ctx context.Context, text string, screenshot []byte) error
	// Screenshot forwards an intermediate view of the browser.
	Screenshot(ctx context.Context, png []byte, title string) error
	// Notify posts a free-form notice such as an error or timeout.
	Notify(ctx context.Context, text string) error
}

// -- Browser Interfaces --

// Element is an interactive element on the current page, addressable by ID.
type Element struct {
	ID   int    `json:"id"`
	Role string `json:"role"`
	Name string `json:"name"`
}

// Page is a single controllable browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Text returns the visible text of the document body.
	Text(ctx context.Context) (string, error)
	// Elements tags and returns the interactive elements of the page.
	Elements(ctx context.Context) ([]Element, error)
	Click(ctx context.Context, elementID int) error
	Type(ctx context.Context, elementID int, text string) error
	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, deltaY int) error
	Close() error
}

// ExecuteRequest asks a BrowserAgent to work on an instruction.
type ExecuteRequest struct {
	Instruction        string         `json:"instruction"`
	History            []HistoryEntry `json:"history,omitempty"`
	PreviousResponseID string         `json:"previousResponseId,omitempty"`
}

// ExecuteResult is the outcome of BrowserAgent.Execute.
type ExecuteResult struct {
	Message   string   `json:"message"`
	Calls     []Action `json:"calls,omitempty"` // Calls the agent wants the loop to dispatch.
	Completed bool     `json:"completed"`
}

// BrowserAgent is an LLM-bound automation agent operating a Page.
type BrowserAgent interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides parameters to control the text generation.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, asks the model to output valid JSON.
	MaxTokens       int     `json:"max_tokens"`
}

// ToolDefinition describes a tool the model may call. Parameters holds the
// JSON schema "properties" object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Required    []string       `json:"required,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one turn of a multi-turn model conversation.
// Tool results use RoleTool with ToolCallID and ToolName set.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Messages     []Message         `json:"messages,omitempty"` // Prior turns, oldest first.
	Tools        []ToolDefinition  `json:"tools,omitempty"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// Conversation returns the request turns with UserPrompt appended as the final user turn.
func (r GenerationRequest) Conversation() []Message {
	msgs := make([]Message, 0, len(r.Messages)+1)
	msgs = append(msgs, r.Messages...)
	if r.UserPrompt != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: r.UserPrompt})
	}
	return msgs
}

// GenerationResponse is a model reply: text, tool calls, or both.
type GenerationResponse struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Converse runs one model turn with tools enabled.
	Converse(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
	// Close cleans up any resources held by the client.
	Close() error
}
