package cli

import (
	"github.com/spf13/cobra"

	"bg-algo-checker/internal/app"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [source]",
	Short: "List the sensor sessions of a source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sessions(cmd.Context(), app.SessionsOptions{Source: sourceArg(args)})
	},
}
