package schemas

// InputItem is a historical turn fed to the action client. The set of
// implementations is closed: TextTurn, MessageItem and ToolOutputItem.
type InputItem interface {
	isInputItem()
	// Author returns the role that produced the item.
	Author() Role
}

// TextTurn is a plain role/content turn.
type TextTurn struct {
	Role    Role
	Content string
}

// MessageItem is a structured message made of content parts.
type MessageItem struct {
	Role    Role
	Content []ContentPart
}

// ToolOutputItem is the result of a dispatched call, correlated by CallID.
type ToolOutputItem struct {
	Type   ActionType // function_call_output or computer_call_output
	CallID string
	Output CallOutput
}

func (TextTurn) isInputItem()       {}
func (MessageItem) isInputItem()    {}
func (ToolOutputItem) isInputItem() {}

func (t TextTurn) Author() Role { return t.Role }

func (m MessageItem) Author() Role {
	if m.Role == "" {
		return RoleAssistant
	}
	return m.Role
}

func (ToolOutputItem) Author() Role { return RoleTool }

// FirstText returns the first text part of the message.
func (m MessageItem) FirstText() (string, bool) {
	for _, part := range m.Content {
		if part.Type == ContentPartText && part.Text != "" {
			return part.Text, true
		}
	}
	return "", false
}

// UserText builds a user TextTurn.
func UserText(content string) TextTurn {
	return TextTurn{Role: RoleUser, Content: content}
}

// AssistantText builds an assistant TextTurn.
func AssistantText(content string) TextTurn {
	return TextTurn{Role: RoleAssistant, Content: content}
}

// NewCallOutput pairs a call action with its result.
func NewCallOutput(call Action, out CallOutput) ToolOutputItem {
	return ToolOutputItem{Type: call.OutputType(), CallID: call.CallID, Output: out}
}

// ActionsToInput converts step output into input items. Messages become
// MessageItems and call outputs become ToolOutputItems; call requests are
// skipped because they are answered by their outputs.
func ActionsToInput(actions []Action) []InputItem {
	items := make([]InputItem, 0, len(actions))
	for _, a := range actions {
		switch a.Type {
		case ActionMessage:
			items = append(items, MessageItem{Role: a.Role, Content: a.Content})
		case ActionFunctionCallOutput, ActionComputerCallOutput:
			if a.Output != nil {
				items = append(items, ToolOutputItem{Type: a.Type, CallID: a.CallID, Output: *a.Output})
			}
		}
	}
	return items
}
