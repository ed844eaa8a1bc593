package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/observability"
	"github.com/xkilldash9x/browser-operator/internal/server"
	"github.com/xkilldash9x/browser-operator/internal/service"
)

func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent API and the Slack events endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), observability.GetLogger(), cfg, factory)
		},
	}
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return serveCmd
}

// runServe blocks until ctx is cancelled and the server has drained.
func runServe(ctx context.Context, logger *zap.Logger, cfg *config.Config, factory service.ComponentFactory) error {
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer func() {
		if err := components.Shutdown(context.Background()); err != nil {
			logger.Warn("Component shutdown reported errors.", zap.Error(err))
		}
	}()

	if components.Slack == nil {
		logger.Info("Slack is not configured; only the agent API is served.")
	}

	srv := server.New(components, server.Options{
		Server:   cfg.Server(),
		Bot:      components.Slack,
		Registry: components.Registry,
		Metrics:  components.Metrics,
		Logger:   logger,
	})
	return srv.ListenAndServe(ctx)
}
