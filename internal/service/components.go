package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/browser"
	"github.com/xkilldash9x/browser-operator/internal/browserbase"
	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/llmclient"
	"github.com/xkilldash9x/browser-operator/internal/observability"
	"github.com/xkilldash9x/browser-operator/internal/operator"
	"github.com/xkilldash9x/browser-operator/internal/slack"
	"github.com/xkilldash9x/browser-operator/internal/store"
)

// Components holds the long-lived dependencies shared by every invocation.
type Components struct {
	Config      config.Interface
	Logger      *zap.Logger
	Registry    *prometheus.Registry
	Metrics     *observability.Metrics
	Browserbase *browserbase.Client
	Store       *store.StateStore
	// LLM routes fast and powerful tier requests; the starting URL selector uses it.
	LLM schemas.LLMClient
	// Slack is nil when no bot token is configured.
	Slack *slack.Bot

	connector browser.Connector
	newLLM    func(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error)

	mu        sync.Mutex
	agentLLMs map[string]schemas.LLMClient
}

// agentFactory binds an operator engine to a page, reusing one LLM client per model.
func (c *Components) agentFactory() browser.AgentFactory {
	return func(page schemas.Page, opts browser.AgentOptions) (schemas.BrowserAgent, error) {
		llm, err := c.agentLLM(opts)
		if err != nil {
			return nil, err
		}
		agentCfg := c.Config.Agent()
		return operator.New(page, llm, operator.Options{
			Model:         opts.Model,
			Instructions:  opts.Instructions,
			MaxSteps:      agentCfg.MaxSteps,
			PageTextLimit: agentCfg.PageTextLimit,
		}, c.Logger, c.Metrics), nil
	}
}

func (c *Components) agentLLM(opts browser.AgentOptions) (schemas.LLMClient, error) {
	key := string(opts.Provider) + "/" + opts.Model

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.agentLLMs[key]; ok {
		return client, nil
	}

	modelCfg := llmclient.ModelConfigFor(c.Config.Agent().LLM, opts.Model, opts.Provider)
	client, err := c.newLLM(context.Background(), modelCfg, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client for %s: %w", opts.Model, err)
	}
	if c.agentLLMs == nil {
		c.agentLLMs = make(map[string]schemas.LLMClient)
	}
	c.agentLLMs[key] = client
	return client, nil
}

// Shutdown releases the shared clients concurrently. It is safe on partially
// initialized components.
func (c *Components) Shutdown(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	g, _ := errgroup.WithContext(ctx)
	if c.Store != nil {
		g.Go(func() error {
			if err := c.Store.Close(); err != nil {
				return fmt.Errorf("closing state store: %w", err)
			}
			logger.Debug("State store closed.")
			return nil
		})
	}
	if c.LLM != nil {
		g.Go(func() error {
			if err := c.LLM.Close(); err != nil {
				return fmt.Errorf("closing LLM router: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		c.mu.Lock()
		clients := c.agentLLMs
		c.agentLLMs = nil
		c.mu.Unlock()

		var errs []error
		for key, client := range clients {
			if err := client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing agent LLM %s: %w", key, err))
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	if err != nil {
		logger.Warn("Components shut down with errors.", zap.Error(err))
		return err
	}
	logger.Info("All components shut down successfully.")
	return nil
}
