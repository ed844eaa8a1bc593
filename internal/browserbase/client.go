// Package browserbase is a small client for the Browserbase session REST API.
package browserbase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is matched (via errors.Is) by API errors with a 404 status.
var ErrNotFound = errors.New("browserbase: session not found")

// StatusRequestRelease asks Browserbase to end a keep-alive session.
const StatusRequestRelease = "REQUEST_RELEASE"

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("browserbase API error: status %d, body: %s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Viewport is the browser window size requested at session creation.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Metadata tags a session so it can be found again with a list query.
type Metadata struct {
	SlackChannel string `json:"slackChannel,omitempty"`
	MessageTS    string `json:"messageTs,omitempty"`
	UserID       string `json:"userId,omitempty"`
}

// CreateSessionParams describes a new remote browser session.
type CreateSessionParams struct {
	Region   schemas.Region
	Viewport Viewport
	Metadata *Metadata
}

// Session is the subset of the session resource this service reads.
type Session struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	Region       string         `json:"region"`
	ConnectURL   string         `json:"connectUrl"`
	KeepAlive    bool           `json:"keepAlive"`
	CreatedAt    time.Time      `json:"createdAt"`
	UserMetadata map[string]any `json:"userMetadata,omitempty"`
}

// DebugURLs are the live-view links for a running session.
type DebugURLs struct {
	DebuggerURL           string `json:"debuggerUrl"`
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	WSURL                 string `json:"wsUrl"`
}

type browserSettings struct {
	BlockAds bool     `json:"blockAds"`
	Viewport Viewport `json:"viewport"`
}

type createSessionRequest struct {
	ProjectID       string          `json:"projectId"`
	BrowserSettings browserSettings `json:"browserSettings"`
	Region          schemas.Region  `json:"region,omitempty"`
	Proxies         bool            `json:"proxies"`
	KeepAlive       bool            `json:"keepAlive"`
	Timeout         int             `json:"timeout,omitempty"`
	UserMetadata    *Metadata       `json:"userMetadata,omitempty"`
}

type updateSessionRequest struct {
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

// Client talks to the Browserbase API. Requests are rate limited and retried
// with exponential backoff on transport errors, 429 and 5xx responses.
type Client struct {
	cfg        config.BrowserbaseConfig
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBackOff replaces the retry policy factory.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// WithMetrics records per-request counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient initializes the client.
func NewClient(cfg config.BrowserbaseConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Browserbase API key is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("Browserbase project ID is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.browserbase.com"
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(limit, burst),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
		logger: logger.Named("browserbase"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateSession starts a new keep-alive session.
func (c *Client) CreateSession(ctx context.Context, p CreateSessionParams) (*Session, error) {
	viewport := p.Viewport
	if viewport.Width == 0 || viewport.Height == 0 {
		viewport = Viewport{Width: 1024, Height: 768}
	}
	var meta *Metadata
	if p.Metadata != nil {
		m := *p.Metadata
		m.MessageTS = SanitizeMetadataValue(m.MessageTS)
		meta = &m
	}

	req := createSessionRequest{
		ProjectID:       c.cfg.ProjectID,
		BrowserSettings: browserSettings{BlockAds: c.cfg.BlockAds, Viewport: viewport},
		Region:          p.Region,
		Proxies:         c.cfg.Proxies,
		KeepAlive:       c.cfg.KeepAlive,
		Timeout:         c.cfg.SessionTimeout,
		UserMetadata:    meta,
	}

	var s Session
	if err := c.do(ctx, "create", http.MethodPost, "/v1/sessions", nil, req, &s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	c.logger.Info("Created Browserbase session.", zap.String("session_id", s.ID), zap.String("region", s.Region))
	return &s, nil
}

// GetSession fetches a session, including its CDP connect URL while it runs.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.do(ctx, "get", http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, nil, &s); err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	if s.ID == "" {
		s.ID = id
	}
	return &s, nil
}

// ListSessions returns sessions matching a metadata query (see MessageQuery).
func (c *Client) ListSessions(ctx context.Context, query string) ([]Session, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	var out []Session
	if err := c.do(ctx, "list", http.MethodGet, "/v1/sessions", q, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

// ReleaseSession requests the end of a keep-alive session.
func (c *Client) ReleaseSession(ctx context.Context, id string) error {
	req := updateSessionRequest{ProjectID: c.cfg.ProjectID, Status: StatusRequestRelease}
	if err := c.do(ctx, "release", http.MethodPost, "/v1/sessions/"+url.PathEscape(id), nil, req, nil); err != nil {
		return fmt.Errorf("failed to release session %s: %w", id, err)
	}
	c.logger.Info("Released Browserbase session.", zap.String("session_id", id))
	return nil
}

// DebugURLs returns the live-view links for a session.
func (c *Client) DebugURLs(ctx context.Context, id string) (*DebugURLs, error) {
	var d DebugURLs
	if err := c.do(ctx, "debug", http.MethodGet, "/v1/sessions/"+url.PathEscape(id)+"/debug", nil, nil, &d); err != nil {
		return nil, fmt.Errorf("failed to get debug URLs for session %s: %w", id, err)
	}
	return &d, nil
}

// SessionURL is the dashboard page where a human can follow the session.
func (c *Client) SessionURL(id string) string {
	base := strings.TrimRight(c.cfg.DashboardURL, "/")
	if base == "" {
		base = "https://www.browserbase.com/sessions"
	}
	return base + "/" + id
}

var metadataUnsafe = regexp.MustCompile(`[^\w\s-]`)

// SanitizeMetadataValue strips characters the metadata query syntax cannot carry.
// Slack timestamps like "1712345678.123456" become "1712345678123456".
func SanitizeMetadataValue(v string) string {
	return metadataUnsafe.ReplaceAllString(v, "")
}

// MessageQuery builds the list query matching sessions tagged with a message timestamp.
func MessageQuery(messageTS string) string {
	return fmt.Sprintf("user_metadata['messageTs']:'%s'", SanitizeMetadataValue(messageTS))
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("X-BB-API-Key", c.cfg.APIKey)
		httpReq.Header.Set("Accept", "application/json")
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.metrics.BrowserbaseRequest(op, "error")
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Network error calling Browserbase, retrying...", zap.String("op", op), zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()
		c.metrics.BrowserbaseRequest(op, strconv.Itoa(resp.StatusCode))

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return c.handleAPIError(op, resp.StatusCode, respBody)
		}

		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
}

func (c *Client) handleAPIError(op string, statusCode int, body []byte) error {
	err := &APIError{StatusCode: statusCode, Body: strings.TrimSpace(string(body))}

	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		c.logger.Warn("Browserbase returned a retryable status.", zap.String("op", op), zap.Int("status", statusCode))
		return err
	default:
		c.logger.Debug("Browserbase returned an error status.", zap.String("op", op), zap.Int("status", statusCode))
		return backoff.Permanent(err)
	}
}
