package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/browser"
	"github.com/xkilldash9x/browser-operator/internal/mocks"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		item schemas.InputItem
		want schemas.HistoryEntry
		ok   bool
	}{
		{
			name: "text turn without role is a user turn",
			item: schemas.TextTurn{Content: "find flights"},
			want: schemas.HistoryEntry{Role: schemas.RoleUser, Content: "find flights"},
			ok:   true,
		},
		{
			name: "assistant text turn keeps role",
			item: schemas.AssistantText("Which date?"),
			want: schemas.HistoryEntry{Role: schemas.RoleAssistant, Content: "Which date?"},
			ok:   true,
		},
		{
			name: "message item uses first text part",
			item: schemas.MessageItem{Content: []schemas.ContentPart{{Type: "refusal"}, {Type: schemas.ContentPartText, Text: "hello"}}},
			want: schemas.HistoryEntry{Role: schemas.RoleAssistant, Content: "hello"},
			ok:   true,
		},
		{
			name: "message item without text is skipped",
			item: schemas.MessageItem{Role: schemas.RoleUser},
			ok:   false,
		},
		{
			name: "screenshot output becomes a note",
			item: schemas.ToolOutputItem{Type: schemas.ActionComputerCallOutput, CallID: "c1", Output: schemas.CallOutput{Type: schemas.OutputInputImage, ImageURL: "data:image/png;base64,AAAA"}},
			want: schemas.HistoryEntry{Role: schemas.RoleSystem, Content: "I took a screenshot of the current page state."},
			ok:   true,
		},
		{
			name: "text output is serialized",
			item: schemas.ToolOutputItem{Type: schemas.ActionFunctionCallOutput, CallID: "c2", Output: schemas.CallOutput{Type: schemas.OutputText, Text: "success"}},
			want: schemas.HistoryEntry{Role: schemas.RoleSystem, Content: `Tool execution result: {"type":"text","text":"success"}`},
			ok:   true,
		},
		{
			name: "empty output is skipped",
			item: schemas.ToolOutputItem{Type: schemas.ActionFunctionCallOutput, CallID: "c3"},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalize(tt.item)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCurrentRequest(t *testing.T) {
	assert.Equal(t, DefaultRequest, currentRequest(nil))
	assert.Equal(t, "second", currentRequest([]schemas.InputItem{
		schemas.UserText("first"),
		schemas.AssistantText("ignored"),
		schemas.UserText("second"),
		schemas.ToolOutputItem{Output: schemas.CallOutput{Type: schemas.OutputText, Text: "success"}},
	}))
	assert.Equal(t, "from message", currentRequest([]schemas.InputItem{
		schemas.MessageItem{Role: schemas.RoleUser, Content: []schemas.ContentPart{{Type: schemas.ContentPartText, Text: "from message"}}},
	}))
	assert.Equal(t, DefaultRequest, currentRequest([]schemas.InputItem{schemas.AssistantText("only the model spoke")}))
}

func TestActionClient_GetAction(t *testing.T) {
	agent := new(mocks.MockBrowserAgent)
	b := newFakeBrowser(agent)
	client := NewActionClient(b, browser.AgentOptions{}, testLogger(t), nil)
	client.newToken = sequentialTokens()

	call := gotoCall(t, "call_1", "https://example.com")
	agent.On("Execute", mock.Anything, schemas.ExecuteRequest{
		Instruction: "buy socks",
		History:     []schemas.HistoryEntry{{Role: schemas.RoleUser, Content: "buy socks"}},
	}).Return(&schemas.ExecuteResult{Calls: []schemas.Action{call}}, nil).Once()

	step := client.GetAction(context.Background(), []schemas.InputItem{schemas.UserText("buy socks")}, "")

	require.Len(t, step.Output, 2)
	assert.Equal(t, call, step.Output[0])
	assert.Equal(t, schemas.ActionMessage, step.Output[1].Type)
	assert.Equal(t, "resp-1", step.ResponseID)
	_, hasMessage := step.Message()
	assert.False(t, hasMessage)
	// Empty replies are not recorded.
	assert.Len(t, client.History(), 1)

	agent.On("Execute", mock.Anything, mock.MatchedBy(func(req schemas.ExecuteRequest) bool {
		return req.PreviousResponseID == "resp-1" && req.Instruction == DefaultRequest && len(req.History) == 2
	})).Return(&schemas.ExecuteResult{Message: "Socks are $5."}, nil).Once()

	step = client.GetAction(context.Background(), []schemas.InputItem{
		schemas.NewCallOutput(call, schemas.CallOutput{Type: schemas.OutputText, Text: "success"}),
	}, "resp-1")

	text, ok := step.Message()
	require.True(t, ok)
	assert.Equal(t, "Socks are $5.", text)
	assert.Equal(t, "resp-2", step.ResponseID)

	want := []schemas.HistoryEntry{
		{Role: schemas.RoleUser, Content: "buy socks"},
		{Role: schemas.RoleSystem, Content: `Tool execution result: {"type":"text","text":"success"}`},
		{Role: schemas.RoleAssistant, Content: "Socks are $5."},
	}
	if diff := cmp.Diff(want, client.History()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	agent.AssertExpectations(t)
}

func TestActionClient_NormalizationIsIdempotent(t *testing.T) {
	agent := new(mocks.MockBrowserAgent)
	agent.On("Execute", mock.Anything, mock.Anything).Return(&schemas.ExecuteResult{}, nil)

	first := NewActionClient(newFakeBrowser(agent), browser.AgentOptions{}, testLogger(t), nil)
	first.GetAction(context.Background(), []schemas.InputItem{
		schemas.UserText("buy socks"),
		schemas.MessageItem{Content: []schemas.ContentPart{{Type: schemas.ContentPartText, Text: "Which size?"}}},
		schemas.UserText("large"),
		schemas.ToolOutputItem{Type: schemas.ActionComputerCallOutput, CallID: "c1", Output: schemas.CallOutput{Type: schemas.OutputInputImage, ImageURL: "data:image/png;base64,AAAA"}},
		schemas.ToolOutputItem{Type: schemas.ActionFunctionCallOutput, CallID: "c2", Output: schemas.CallOutput{Type: schemas.OutputText, Text: "success"}},
	}, "")
	normalized := first.History()
	require.Len(t, normalized, 5)

	replayed := make([]schemas.InputItem, 0, len(normalized))
	for _, entry := range normalized {
		replayed = append(replayed, schemas.TextTurn{Role: entry.Role, Content: entry.Content})
	}
	second := NewActionClient(newFakeBrowser(agent), browser.AgentOptions{}, testLogger(t), nil)
	second.GetAction(context.Background(), replayed, "")

	if diff := cmp.Diff(normalized, second.History()); diff != "" {
		t.Errorf("re-normalized history differs (-first +second):\n%s", diff)
	}
}

func TestActionClient_GetAction_AbsorbsFailures(t *testing.T) {
	t.Run("agent error", func(t *testing.T) {
		agent := new(mocks.MockBrowserAgent)
		agent.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.New("model overloaded"))
		client := NewActionClient(newFakeBrowser(agent), browser.AgentOptions{}, testLogger(t), nil)
		client.newToken = func() string { return "fresh" }

		step := client.GetAction(context.Background(), []schemas.InputItem{schemas.UserText("x")}, "prev")

		text, ok := step.Message()
		require.True(t, ok)
		assert.Equal(t, "Error: model overloaded", text)
		assert.Equal(t, "fresh", step.ResponseID)
		assert.Empty(t, step.PendingCalls())
	})

	t.Run("browser unavailable", func(t *testing.T) {
		b := newFakeBrowser(new(mocks.MockBrowserAgent))
		b.initErr = errors.New("session terminated")
		client := NewActionClient(b, browser.AgentOptions{}, testLogger(t), nil)

		step := client.GetAction(context.Background(), nil, "")

		text, ok := step.Message()
		require.True(t, ok)
		assert.Contains(t, text, "Error: browser unavailable")
		assert.NotEmpty(t, step.ResponseID)
	})
}

func TestNewActionClient_DefaultInstructions(t *testing.T) {
	client := NewActionClient(newFakeBrowser(nil), browser.AgentOptions{Model: "gpt-4o"}, testLogger(t), nil)
	assert.Equal(t, DefaultActionInstructions, client.opts.Instructions)
	assert.Equal(t, "gpt-4o", client.opts.Model)
}
