package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/agent"
	"github.com/xkilldash9x/browser-operator/internal/browser"
	"github.com/xkilldash9x/browser-operator/internal/browserbase"
	"github.com/xkilldash9x/browser-operator/internal/observability"
)

const releaseTimeout = 30 * time.Second

// RunParams describe one loop invocation.
type RunParams struct {
	// SessionID attaches to a running session; empty creates one.
	SessionID string
	Region    schemas.Region
	Metadata  *browserbase.Metadata
	Goal      string
	Reply     string
	Saved     *schemas.AgentState
	Observer  schemas.Observer
	// Release ends the remote session when the invocation returns.
	Release bool
}

// RunResult is the loop's answer and the session it ran in. SessionID is
// set whenever a session was attached, including on failure.
type RunResult struct {
	Text      string
	SessionID string
}

// Run drives one invocation of the agent loop against a remote session.
func (c *Components) Run(ctx context.Context, p RunParams) (res RunResult, err error) {
	browserCfg := c.Config.Browser()
	agentCfg := c.Config.Agent()

	handle := browser.NewHandle(c.Browserbase, c.connector, c.agentFactory(), browser.Options{
		SessionID: p.SessionID,
		Region:    p.Region,
		Viewport:  browserbase.Viewport{Width: browserCfg.Viewport.Width, Height: browserCfg.Viewport.Height},
		Metadata:  p.Metadata,
		StartURL:  browserCfg.DefaultURL,
	}, c.Logger)

	if p.Release {
		defer func() {
			id := handle.SessionID()
			if id == "" {
				return
			}
			releaseCtx, cancel := browser.DetachedTimeout(ctx, releaseTimeout)
			defer cancel()
			if rerr := c.Browserbase.ReleaseSession(releaseCtx, id); rerr != nil {
				c.Logger.Warn("Failed to release session.", zap.String("session_id", id), zap.Error(rerr))
			}
		}()
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			c.Logger.Debug("Error detaching from session.", zap.Error(cerr))
		}
	}()

	logger := c.Logger
	if p.SessionID != "" {
		logger = observability.SessionLogger(logger, p.SessionID)
	}
	selector := agent.NewURLSelector(c.LLM, agentCfg.StartingURLTimeout, agentCfg.FallbackURL, logger)
	var states schemas.StateStore
	if c.Store != nil {
		states = c.Store
	}
	loop := agent.NewLoop(handle, selector, states, agent.LoopConfig{
		Agent: browser.AgentOptions{
			Model:        agentCfg.Model,
			Provider:     agentCfg.Provider,
			Instructions: agentCfg.Instructions,
		},
		MaxTurns: agentCfg.MaxTurns,
	}, logger, c.Metrics)

	text, err := loop.Run(ctx, agent.RunRequest{
		Goal:     p.Goal,
		Reply:    p.Reply,
		Saved:    p.Saved,
		Observer: p.Observer,
	})
	return RunResult{Text: text, SessionID: handle.SessionID()}, err
}

// CreateSession starts a keep-alive session tagged with meta.
func (c *Components) CreateSession(ctx context.Context, region schemas.Region, meta *browserbase.Metadata) (*browserbase.Session, error) {
	vp := c.Config.Browser().Viewport
	return c.Browserbase.CreateSession(ctx, browserbase.CreateSessionParams{
		Region:   region,
		Viewport: browserbase.Viewport{Width: vp.Width, Height: vp.Height},
		Metadata: meta,
	})
}

// FindSessions lists sessions tagged with a Slack message timestamp.
func (c *Components) FindSessions(ctx context.Context, messageTS string) ([]browserbase.Session, error) {
	return c.Browserbase.ListSessions(ctx, browserbase.MessageQuery(messageTS))
}

func (c *Components) ReleaseSession(ctx context.Context, id string) error {
	return c.Browserbase.ReleaseSession(ctx, id)
}

// DebugURL returns the live debugger link of a session.
func (c *Components) DebugURL(ctx context.Context, id string) (string, error) {
	d, err := c.Browserbase.DebugURLs(ctx, id)
	if err != nil {
		return "", err
	}
	return d.DebuggerURL, nil
}

func (c *Components) SessionURL(id string) string {
	return c.Browserbase.SessionURL(id)
}

// LoadState returns the saved conversation for a session, or nil.
func (c *Components) LoadState(ctx context.Context, id string) (*schemas.AgentState, error) {
	if c.Store == nil {
		return nil, nil
	}
	return c.Store.Get(ctx, id)
}
