package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xkilldash9x/browser-operator/api/schemas"
)

// Tool names understood by the operator.
const (
	ToolGoto       = "goto"
	ToolBack       = "back"
	ToolScreenshot = "screenshot"
	ToolClick      = "click"
	ToolType       = "type"
	ToolPressKey   = "press_key"
	ToolScroll     = "scroll"
	ToolReadPage   = "read_page"
	ToolFinish     = "finish"
)

const defaultScrollPixels = 600

// handoffTools are dispatched by the caller of Execute rather than by the
// operator itself. A turn that requests one ends the operator's inner loop.
var handoffTools = map[string]bool{
	ToolGoto:       true,
	ToolBack:       true,
	ToolScreenshot: true,
}

var toolDefinitions = []schemas.ToolDefinition{
	{
		Name:        ToolGoto,
		Description: "Navigate the browser to a URL.",
		Parameters:  map[string]any{"url": map[string]any{"type": "string", "description": "Absolute URL to load."}},
		Required:    []string{"url"},
	},
	{
		Name:        ToolBack,
		Description: "Go back to the previous page in the browser history.",
		Parameters:  map[string]any{},
	},
	{
		Name:        ToolScreenshot,
		Description: "Share a screenshot of the current page with the user.",
		Parameters:  map[string]any{},
	},
	{
		Name:        ToolClick,
		Description: "Click an interactive element by the number shown by read_page.",
		Parameters:  map[string]any{"element_id": map[string]any{"type": "integer"}},
		Required:    []string{"element_id"},
	},
	{
		Name:        ToolType,
		Description: "Focus an element by number and type text into it.",
		Parameters: map[string]any{
			"element_id": map[string]any{"type": "integer"},
			"text":       map[string]any{"type": "string"},
		},
		Required: []string{"element_id", "text"},
	},
	{
		Name:        ToolPressKey,
		Description: "Press a key such as Enter, Tab, Escape or ArrowDown.",
		Parameters:  map[string]any{"key": map[string]any{"type": "string"}},
		Required:    []string{"key"},
	},
	{
		Name:        ToolScroll,
		Description: "Scroll the page up or down.",
		Parameters: map[string]any{
			"direction": map[string]any{"type": "string", "enum": []string{"up", "down"}},
			"pixels":    map[string]any{"type": "integer", "description": "Distance to scroll, default 600."},
		},
		Required: []string{"direction"},
	},
	{
		Name:        ToolReadPage,
		Description: "Read the current URL, title, numbered interactive elements and visible text.",
		Parameters:  map[string]any{},
	},
	{
		Name:        ToolFinish,
		Description: "Reply to the user. Use this to report the answer or to ask a clarifying question.",
		Parameters: map[string]any{
			"message":   map[string]any{"type": "string"},
			"completed": map[string]any{"type": "boolean", "description": "False when waiting on the user."},
		},
		Required: []string{"message"},
	},
}

type gotoArgs struct {
	URL string `json:"url"`
}

type elementArgs struct {
	ElementID int    `json:"element_id"`
	Text      string `json:"text"`
}

type keyArgs struct {
	Key string `json:"key"`
}

type scrollArgs struct {
	Direction string `json:"direction"`
	Pixels    int    `json:"pixels"`
}

type finishArgs struct {
	Message   string `json:"message"`
	Completed *bool  `json:"completed"`
}

func decodeArgs(call schemas.ToolCall, v any) error {
	raw := call.Arguments
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
	}
	return nil
}

// handoffAction converts a handoff tool call into a pending step action.
func handoffAction(call schemas.ToolCall) (schemas.Action, error) {
	switch call.Name {
	case ToolScreenshot:
		return schemas.NewComputerCall(call.ID, schemas.ComputerAction{Type: "screenshot"}), nil
	case ToolGoto:
		var args gotoArgs
		if err := decodeArgs(call, &args); err != nil {
			return schemas.Action{}, err
		}
		if strings.TrimSpace(args.URL) == "" {
			return schemas.Action{}, fmt.Errorf("goto requires a url")
		}
		return schemas.NewFunctionCall(call.ID, ToolGoto, map[string]any{"url": args.URL})
	default:
		return schemas.NewFunctionCall(call.ID, call.Name, nil)
	}
}

// runTool executes a page-local tool and returns the text fed back to the model.
func (a *Agent) runTool(ctx context.Context, call schemas.ToolCall) (string, error) {
	switch call.Name {
	case ToolClick:
		var args elementArgs
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		if err := a.page.Click(ctx, args.ElementID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Clicked element %d.", args.ElementID), nil

	case ToolType:
		var args elementArgs
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		if err := a.page.Type(ctx, args.ElementID, args.Text); err != nil {
			return "", err
		}
		return fmt.Sprintf("Typed %q into element %d.", args.Text, args.ElementID), nil

	case ToolPressKey:
		var args keyArgs
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		if args.Key == "" {
			return "", fmt.Errorf("press_key requires a key")
		}
		if err := a.page.PressKey(ctx, args.Key); err != nil {
			return "", err
		}
		return fmt.Sprintf("Pressed %s.", args.Key), nil

	case ToolScroll:
		var args scrollArgs
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		px := args.Pixels
		if px <= 0 {
			px = defaultScrollPixels
		}
		if strings.EqualFold(args.Direction, "up") {
			px = -px
		}
		if err := a.page.Scroll(ctx, px); err != nil {
			return "", err
		}
		return fmt.Sprintf("Scrolled %s.", strings.ToLower(args.Direction)), nil

	case ToolReadPage:
		return a.readPage(ctx)

	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (a *Agent) readPage(ctx context.Context) (string, error) {
	url, err := a.page.URL(ctx)
	if err != nil {
		return "", err
	}
	title, err := a.page.Title(ctx)
	if err != nil {
		return "", err
	}
	elements, err := a.page.Elements(ctx)
	if err != nil {
		return "", err
	}
	text, err := a.page.Text(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n\nInteractive elements:\n", url, title)
	if len(elements) == 0 {
		b.WriteString("(none)\n")
	}
	for _, el := range elements {
		fmt.Fprintf(&b, "[%d] %s: %s\n", el.ID, el.Role, el.Name)
	}
	b.WriteString("\nPage text:\n")
	b.WriteString(truncate(strings.TrimSpace(text), a.opts.PageTextLimit))
	return b.String(), nil
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "\n[truncated]"
}
