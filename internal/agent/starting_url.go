package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultStartingURL        = "https://www.google.com"
	DefaultStartingURLTimeout = 5 * time.Second
)

const startingURLPrompt = `Given the goal: "%s", determine the best URL to start from.
Choose from:
1. A relevant search engine (Google, Bing, etc.)
2. A direct URL if you're confident about the target website
3. Any other appropriate starting point

Return a URL that would be most effective for achieving this goal.
Respond with a JSON object of the form {"url": "<absolute url>", "reasoning": "<one sentence>"}.`

// StartingURL is the selector's choice for where to begin.
type StartingURL struct {
	URL       string `json:"url"`
	Reasoning string `json:"reasoning"`
}

// URLSelector picks the first page to load for a goal using the fast model tier.
type URLSelector struct {
	llm      schemas.LLMClient
	timeout  time.Duration
	fallback string
	logger   *zap.Logger
}

// NewURLSelector creates a selector. Zero timeout and empty fallback take the defaults.
func NewURLSelector(llm schemas.LLMClient, timeout time.Duration, fallback string, logger *zap.Logger) *URLSelector {
	if timeout <= 0 {
		timeout = DefaultStartingURLTimeout
	}
	if fallback == "" {
		fallback = DefaultStartingURL
	}
	return &URLSelector{llm: llm, timeout: timeout, fallback: fallback, logger: logger.Named("url_selector")}
}

// Select never fails: timeouts, model errors and unusable answers all fall
// back to the default search engine.
func (s *URLSelector) Select(ctx context.Context, goal string) StartingURL {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.llm.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(startingURLPrompt, goal),
		Tier:       schemas.TierFast,
		Options:    schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.1, MaxTokens: 256},
	})
	if err != nil {
		s.logger.Warn("Starting URL generation failed, falling back.", zap.String("fallback", s.fallback), zap.Error(err))
		return StartingURL{URL: s.fallback}
	}

	choice, err := parseStartingURL(raw)
	if err != nil {
		s.logger.Warn("Unusable starting URL response, falling back.", zap.String("fallback", s.fallback), zap.Error(err))
		return StartingURL{URL: s.fallback}
	}
	s.logger.Info("Selected starting URL.", zap.String("url", choice.URL), zap.String("reasoning", choice.Reasoning))
	return choice
}

func parseStartingURL(raw string) (StartingURL, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out StartingURL
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return StartingURL{}, fmt.Errorf("decoding starting URL: %w", err)
	}
	u, err := url.Parse(out.URL)
	if err != nil {
		return StartingURL{}, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return StartingURL{}, fmt.Errorf("not an absolute web URL: %q", out.URL)
	}
	return out, nil
}
