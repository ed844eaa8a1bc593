package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/observability"
	"github.com/xkilldash9x/browser-operator/internal/region"
	"github.com/xkilldash9x/browser-operator/internal/service"
)

func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	var goal string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single goal on a fresh browser session and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runGoal(cmd.Context(), observability.GetLogger(), cfg, goal, factory, cmd.OutOrStdout())
		},
	}
	runCmd.Flags().StringVarP(&goal, "goal", "g", "", "the task for the agent")
	runCmd.Flags().Int("max-turns", 0, "cap on steps per invocation, 0 for none (overrides agent.max_turns)")
	runCmd.Flags().String("model", "", "agent model (overrides agent.model)")
	runCmd.Flags().String("store", "", "state store backend (overrides store.backend)")
	_ = runCmd.MarkFlagRequired("goal")
	return runCmd
}

// runGoal is the CLI twin of the agent endpoint: the session is released on return.
func runGoal(ctx context.Context, logger *zap.Logger, cfg *config.Config, goal string, factory service.ComponentFactory, out io.Writer) error {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return errors.New("goal must not be empty")
	}
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

	ctx, cancel := context.WithTimeout(ctx, cfg.Server().InvocationBudget())
	defer cancel()

	res, err := components.Run(ctx, service.RunParams{
		Region:  region.Local(),
		Goal:    goal,
		Release: true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("operation timed out after %s: %w", cfg.Server().InvocationBudget(), err)
		}
		return err
	}

	logger.Info("Goal completed.", zap.String("session_id", res.SessionID))
	_, err = fmt.Fprintln(out, res.Text)
	return err
}
