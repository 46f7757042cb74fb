package cli

import (
	"github.com/spf13/cobra"

	"bg-algo-checker/internal/app"
)

var watchCmd = &cobra.Command{
	Use:   "watch [source]",
	Short: "Re-run the evaluation on the configured schedule",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context(), app.WatchOptions{Source: sourceArg(args)})
	},
}
