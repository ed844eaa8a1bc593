package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/browser"
	"github.com/xkilldash9x/browser-operator/internal/mocks"
)

// fakeBrowser records navigation and serves a fixed screenshot.
type fakeBrowser struct {
	mu        sync.Mutex
	agent     schemas.BrowserAgent
	initErr   error
	gotoErr   error
	shotErr   error
	png       []byte
	sessionID string
	visited   []string
	backs     int
	inits     int
}

var _ Browser = (*fakeBrowser)(nil)

func newFakeBrowser(agent schemas.BrowserAgent) *fakeBrowser {
	return &fakeBrowser{agent: agent, png: []byte("\x89PNG-fake"), sessionID: "sess-123"}
}

func (f *fakeBrowser) Init(ctx context.Context) (schemas.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &mocks.MockPage{}, nil
}

func (f *fakeBrowser) Agent(browser.AgentOptions) (schemas.BrowserAgent, error) {
	return f.agent, nil
}

func (f *fakeBrowser) Goto(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gotoErr != nil {
		return f.gotoErr
	}
	f.visited = append(f.visited, url)
	return nil
}

func (f *fakeBrowser) Back(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backs++
	return nil
}

func (f *fakeBrowser) ScreenshotPNG(ctx context.Context) ([]byte, error) {
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return f.png, nil
}

func (f *fakeBrowser) SessionID() string { return f.sessionID }

func (f *fakeBrowser) Visited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.visited...)
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

func gotoCall(t *testing.T, id, url string) schemas.Action {
	t.Helper()
	a, err := schemas.NewFunctionCall(id, "goto", map[string]any{"url": url})
	require.NoError(t, err)
	return a
}

// sequentialTokens returns a predictable token generator.
func sequentialTokens() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("resp-%d", n)
	}
}
