package schemas

import "encoding/json"

// ActionType discriminates the variants of an Action.
type ActionType string

const (
	ActionMessage            ActionType = "message"
	ActionFunctionCall       ActionType = "function_call"
	ActionComputerCall       ActionType = "computer_call"
	ActionFunctionCallOutput ActionType = "function_call_output"
	ActionComputerCallOutput ActionType = "computer_call_output"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPartText is the content part type carrying user-visible text.
const ContentPartText = "text"

// ContentPart is one element of a structured message.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ComputerAction describes a low-level browser operation requested through a computer_call.
type ComputerAction struct {
	Type string `json:"type"`          // e.g. "screenshot", "click", "scroll"
	X    int    `json:"x,omitempty"`   // Viewport coordinates, when applicable.
	Y    int    `json:"y,omitempty"`
	Text string `json:"text,omitempty"`
}

// Output types carried by CallOutput.
const (
	OutputInputImage = "input_image"
	OutputText       = "text"
)

// CallOutput is the result of dispatching a function or computer call.
// Exactly one of Text or ImageURL is meaningful, selected by Type.
type CallOutput struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// IsImage reports whether the output references a rendered image.
func (o CallOutput) IsImage() bool {
	return o.ImageURL != ""
}

// Action is one entry of a Step's output. Type selects which fields are populated:
//   - message: Role, Content
//   - function_call: CallID, Name, Arguments
//   - computer_call: CallID, Computer
//   - *_call_output: CallID, Output
type Action struct {
	Type      ActionType      `json:"type"`
	Role      Role            `json:"role,omitempty"`
	Content   []ContentPart   `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Computer  *ComputerAction `json:"action,omitempty"`
	Output    *CallOutput     `json:"output,omitempty"`
}

// NewMessage builds an assistant message action with a single text part.
func NewMessage(text string) Action {
	return Action{
		Type:    ActionMessage,
		Role:    RoleAssistant,
		Content: []ContentPart{{Type: ContentPartText, Text: text}},
	}
}

// NewFunctionCall builds a function_call action. Arguments are serialized to JSON.
func NewFunctionCall(callID, name string, args map[string]any) (Action, error) {
	raw := []byte("{}")
	if len(args) > 0 {
		var err error
		if raw, err = json.Marshal(args); err != nil {
			return Action{}, err
		}
	}
	return Action{Type: ActionFunctionCall, CallID: callID, Name: name, Arguments: string(raw)}, nil
}

// NewComputerCall builds a computer_call action.
func NewComputerCall(callID string, action ComputerAction) Action {
	return Action{Type: ActionComputerCall, CallID: callID, Computer: &action}
}

// IsCall reports whether the action requires a correlated output before the next generation.
func (a Action) IsCall() bool {
	return a.Type == ActionFunctionCall || a.Type == ActionComputerCall
}

// OutputType returns the *_call_output type paired with a call action.
func (a Action) OutputType() ActionType {
	if a.Type == ActionComputerCall {
		return ActionComputerCallOutput
	}
	return ActionFunctionCallOutput
}

// Text returns the first text content part of a message action, or "".
func (a Action) Text() string {
	if a.Type != ActionMessage {
		return ""
	}
	for _, part := range a.Content {
		if part.Type == ContentPartText {
			return part.Text
		}
	}
	return ""
}

// Step is one unit of agent output: a set of actions plus a continuation token.
type Step struct {
	Output     []Action `json:"output"`
	ResponseID string   `json:"responseId"`
}

// Message returns the text of the first message action with non-empty text.
func (s Step) Message() (string, bool) {
	for _, a := range s.Output {
		if text := a.Text(); text != "" {
			return text, true
		}
	}
	return "", false
}

// PendingCalls returns the call actions that still need a correlated output.
func (s Step) PendingCalls() []Action {
	var calls []Action
	for _, a := range s.Output {
		if a.IsCall() {
			calls = append(calls, a)
		}
	}
	return calls
}

// AgentState is the persisted unit used to resume a conversation in a later invocation.
type AgentState struct {
	Goal        string `json:"goal"`
	CurrentStep Step   `json:"currentStep"`
}

// HistoryEntry is a normalized conversation record.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
