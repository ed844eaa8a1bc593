package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/service"
)

type mockComponentFactory struct {
	mock.Mock
}

func (m *mockComponentFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	args := m.Called(ctx, cfg, logger)
	c, _ := args.Get(0).(*service.Components)
	return c, args.Error(1)
}

// executeCommand runs the root command with args and returns combined output.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// findCommand returns the named subcommand of root.
func findCommand(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

// captureConfig replaces sub's RunE with one that records the loaded config.
func captureConfig(t *testing.T, sub *cobra.Command) **config.Config {
	t.Helper()
	var got *config.Config
	sub.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		require.NoError(t, err)
		got = cfg
		return nil
	}
	return &got
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearCredentials unsets the credential variables for the duration of t.
func clearCredentials(t *testing.T) {
	t.Helper()
	for _, env := range []string{"BROWSERBASE_API_KEY", "BROWSERBASE_PROJECT_ID", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(env, "")
	}
}
