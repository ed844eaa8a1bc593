package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the model configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = config.APIKeyFromEnv(cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderBedrock:
		return NewBedrockClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s, %s]",
			cfg.Provider, config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGemini, config.ProviderBedrock)
	}
}

// NewRouterFromConfig builds the fast and powerful tier clients named by cfg.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	built := make(map[string]schemas.LLMClient, 2)
	clientFor := func(name string) (schemas.LLMClient, error) {
		if c, ok := built[name]; ok {
			return c, nil
		}
		c, err := NewClient(ctx, cfg.Models[name], logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for model '%s': %w", name, err)
		}
		built[name] = c
		return c, nil
	}

	fast, err := clientFor(cfg.DefaultFastModel)
	if err != nil {
		return nil, err
	}
	powerful, err := clientFor(cfg.DefaultPowerfulModel)
	if err != nil {
		fast.Close()
		return nil, err
	}
	return NewLLMRouter(logger, fast, powerful)
}

// ModelConfigFor resolves the settings for a model requested by name. Models
// missing from the configured set inherit defaults and the provider's key.
func ModelConfigFor(cfg config.LLMRouterConfig, model string, provider config.LLMProvider) config.LLMModelConfig {
	if m, ok := cfg.Models[model]; ok && (provider == "" || m.Provider == provider) {
		return m
	}
	m := config.LLMModelConfig{
		Provider:    provider,
		Model:       model,
		Temperature: 0.2,
		MaxTokens:   defaultMaxTokens,
		APITimeout:  defaultAPITimeout,
	}
	for _, other := range cfg.Models {
		if other.Provider == provider && other.APIKey != "" {
			m.APIKey = other.APIKey
			m.Endpoint = other.Endpoint
			m.Region = other.Region
			break
		}
	}
	return m
}
