// Package browser owns the remote browser session used by the agent loop: it
// creates or reattaches to a Browserbase session, connects over CDP, and hands
// out the LLM-driven agent that operates the page.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/browserbase"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

var (
	// ErrUninitialized is returned by page operations before Init succeeds.
	ErrUninitialized = errors.New("browser handle not initialized")
	// ErrNoConnectURL means the remote session has terminated.
	ErrNoConnectURL = errors.New("browserbase session has terminated")
)

const (
	DefaultAgentModel    = "claude-3-7-sonnet-20250219"
	DefaultAgentProvider = config.ProviderAnthropic
)

// SessionProvider creates and looks up remote browser sessions.
type SessionProvider interface {
	CreateSession(ctx context.Context, p browserbase.CreateSessionParams) (*browserbase.Session, error)
	GetSession(ctx context.Context, id string) (*browserbase.Session, error)
	DebugURLs(ctx context.Context, id string) (*browserbase.DebugURLs, error)
}

// Connector attaches to a running browser through its CDP URL.
type Connector interface {
	Connect(ctx context.Context, connectURL string) (schemas.Page, error)
}

// AgentOptions select the model and instructions for a browser agent.
type AgentOptions struct {
	Model        string
	Provider     config.LLMProvider
	Instructions string
}

func (o AgentOptions) withDefaults() AgentOptions {
	if o.Model == "" {
		o.Model = DefaultAgentModel
	}
	if o.Provider == "" {
		o.Provider = DefaultAgentProvider
	}
	if o.Instructions == "" {
		o.Instructions = config.DefaultInstructions
	}
	return o
}

// AgentFactory builds an agent bound to page.
type AgentFactory func(page schemas.Page, opts AgentOptions) (schemas.BrowserAgent, error)

// Options configure a Handle.
type Options struct {
	// SessionID reattaches to an existing session instead of creating one.
	SessionID string
	Region    schemas.Region
	Viewport  browserbase.Viewport
	Metadata  *browserbase.Metadata
	// StartURL is loaded after creating a new session.
	StartURL string
}

// Handle owns one remote session and its attached page.
type Handle struct {
	provider  SessionProvider
	connector Connector
	newAgent  AgentFactory
	opts      Options
	logger    *zap.Logger

	mu        sync.Mutex
	sessionID string
	page      schemas.Page
	agents    map[AgentOptions]schemas.BrowserAgent
}

// NewHandle creates an uninitialized handle.
func NewHandle(provider SessionProvider, connector Connector, newAgent AgentFactory, opts Options, logger *zap.Logger) *Handle {
	return &Handle{
		provider:  provider,
		connector: connector,
		newAgent:  newAgent,
		opts:      opts,
		sessionID: opts.SessionID,
		logger:    logger.Named("browser_handle"),
		agents:    make(map[AgentOptions]schemas.BrowserAgent),
	}
}

// Init connects to the session, creating it first if no session ID was given.
// Repeat calls return the already attached page.
func (h *Handle) Init(ctx context.Context) (schemas.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.page != nil {
		return h.page, nil
	}

	var (
		session *browserbase.Session
		err     error
		created bool
	)
	if h.sessionID != "" {
		h.logger.Info("Connecting to existing Browserbase session.", zap.String("session_id", h.sessionID))
		session, err = h.provider.GetSession(ctx, h.sessionID)
	} else {
		h.logger.Info("Creating new Browserbase session.", zap.String("region", string(h.opts.Region)))
		session, err = h.provider.CreateSession(ctx, browserbase.CreateSessionParams{
			Region:   h.opts.Region,
			Viewport: h.opts.Viewport,
			Metadata: h.opts.Metadata,
		})
		created = true
	}
	if err != nil {
		return nil, err
	}
	if session.ConnectURL == "" {
		return nil, ErrNoConnectURL
	}
	h.sessionID = session.ID

	page, err := h.connector.Connect(ctx, session.ConnectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to session %s: %w", session.ID, err)
	}

	if created && h.opts.StartURL != "" {
		if err := page.Navigate(ctx, h.opts.StartURL); err != nil {
			page.Close()
			return nil, err
		}
	}

	h.page = page
	return page, nil
}

func (h *Handle) currentPage() (schemas.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.page == nil {
		return nil, ErrUninitialized
	}
	return h.page, nil
}

// Goto navigates the page to url.
func (h *Handle) Goto(ctx context.Context, url string) error {
	page, err := h.currentPage()
	if err != nil {
		return err
	}
	return page.Navigate(ctx, url)
}

// Back navigates one entry back in history.
func (h *Handle) Back(ctx context.Context) error {
	page, err := h.currentPage()
	if err != nil {
		return err
	}
	return page.Back(ctx)
}

// ScreenshotPNG captures the viewport.
func (h *Handle) ScreenshotPNG(ctx context.Context) ([]byte, error) {
	page, err := h.currentPage()
	if err != nil {
		return nil, err
	}
	return page.Screenshot(ctx)
}

// Screenshot captures the viewport as base64-encoded PNG.
func (h *Handle) Screenshot(ctx context.Context) (string, error) {
	png, err := h.ScreenshotPNG(ctx)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// Agent returns the agent for opts, building it on first use.
func (h *Handle) Agent(opts AgentOptions) (schemas.BrowserAgent, error) {
	opts = opts.withDefaults()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.page == nil {
		return nil, ErrUninitialized
	}
	if a, ok := h.agents[opts]; ok {
		return a, nil
	}

	h.logger.Info("Initializing browser agent.", zap.String("model", opts.Model), zap.String("provider", string(opts.Provider)))
	a, err := h.newAgent(h.page, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build browser agent: %w", err)
	}
	h.agents[opts] = a
	return a, nil
}

// SessionID is the remote session id, empty until a session exists.
func (h *Handle) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// DebugURL returns the live debugger URL of the session.
func (h *Handle) DebugURL(ctx context.Context) (string, error) {
	id := h.SessionID()
	if id == "" {
		return "", ErrUninitialized
	}
	d, err := h.provider.DebugURLs(ctx, id)
	if err != nil {
		return "", err
	}
	return d.DebuggerURL, nil
}

// Close detaches from the page. It does not release the remote session.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.page == nil {
		return nil
	}
	err := h.page.Close()
	h.page = nil
	h.agents = make(map[AgentOptions]schemas.BrowserAgent)
	return err
}
