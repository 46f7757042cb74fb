package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bg-algo-checker/internal/app"
)

var (
	noiseSession   int64
	noiseDir       string
	noiseMaxPoints int
)

var noiseCmd = &cobra.Command{
	Use:   "noise [source]",
	Short: "Export noise scores of raw sensor readings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if noiseSession < 0 {
			return fmt.Errorf("--session cannot be negative")
		}

		opts := app.NoiseOptions{
			Source:    sourceArg(args),
			SessionID: noiseSession,
			Dir:       noiseDir,
			MaxPoints: noiseMaxPoints,
		}
		return getApp().Noise(cmd.Context(), opts)
	},
}

func init() {
	noiseCmd.Flags().Int64Var(&noiseSession, "session", 0, "Session ID (defaults to all sessions)")
	noiseCmd.Flags().StringVar(&noiseDir, "dir", "", "Output directory (defaults to <export.dir>/noise)")
	noiseCmd.Flags().IntVar(&noiseMaxPoints, "max-points", 0, "Maximum data points per session (defaults to config)")
}
