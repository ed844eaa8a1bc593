package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/browser-operator/internal/region"
)

func newRegionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "region [timezone]",
		Short: "Show the Browserbase region chosen for a timezone (default: this host's)",
		Args:  cobra.MaximumNArgs(1),
		// Offline command; no config needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			tz := region.LocalZoneName()
			if len(args) == 1 {
				tz = args[0]
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", tz, region.Select(tz))
		},
	}
}
