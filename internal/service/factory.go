package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/internal/browser"
	"github.com/xkilldash9x/browser-operator/internal/browserbase"
	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/llmclient"
	"github.com/xkilldash9x/browser-operator/internal/observability"
	"github.com/xkilldash9x/browser-operator/internal/slack"
	"github.com/xkilldash9x/browser-operator/internal/store"
)

// ComponentFactory creates the dependencies needed to run the operator.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires every component. On failure the partially built set is shut down.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	components := &Components{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  metrics,
		connector: browser.RemoteConnector{
			ConnectTimeout: cfg.Browser().ConnectTimeout,
			ActionTimeout:  cfg.Browser().ActionTimeout,
			Logger:         logger,
		},
		newLLM: llmclient.NewClient,
	}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			_ = components.Shutdown(context.Background())
		}
	}()

	// 1. Browserbase
	bb, err := browserbase.NewClient(cfg.Browserbase(), logger, browserbase.WithMetrics(metrics))
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize Browserbase client: %w", err)
		return nil, initializationErr
	}
	components.Browserbase = bb
	logger.Debug("Browserbase client initialized.")

	// 2. State store
	backend, err := store.OpenBackend(ctx, cfg.Store(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open state store: %w", err)
		return nil, initializationErr
	}
	components.Store = store.NewStateStore(backend, logger, metrics)
	logger.Debug("State store initialized.", zap.Bool("configured", components.Store.Configured()))

	// 3. LLM router
	router, err := llmclient.NewRouterFromConfig(ctx, cfg.Agent().LLM, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize LLM router: %w", err)
		return nil, initializationErr
	}
	components.LLM = router
	logger.Debug("LLM router initialized.")

	// 4. Slack
	if slackCfg := cfg.Slack(); slackCfg.Enabled() {
		components.Slack = slack.NewBot(slackCfg, logger)
		logger.Debug("Slack bot initialized.", zap.String("bot_user_id", slackCfg.BotUserID))
	} else {
		logger.Info("Slack is not configured; the events endpoint will be disabled.")
	}

	logger.Info("All components initialized successfully.")
	return components, nil
}
