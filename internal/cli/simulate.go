package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"bg-algo-checker/internal/app"
)

var (
	simulateDays    int
	simulateDensity int
	simulateWobble  float64
	simulateExport  bool
	simulateVerbose bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Score the algorithms on a synthetic rising-BG session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateDays <= 0 || simulateDensity <= 0 {
			return errors.New("--days and --density must be greater than zero")
		}

		opts := app.SimulateOptions{
			Days:    simulateDays,
			Density: simulateDensity,
			Wobble:  simulateWobble,
			Export:  simulateExport,
			Verbose: simulateVerbose,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateDays, "days", 4, "Session length in days")
	simulateCmd.Flags().IntVar(&simulateDensity, "density", 1, "Calibration frequency multiplier (1 = every 12h)")
	simulateCmd.Flags().Float64Var(&simulateWobble, "wobble", 0, "Amplitude of a slow sine added to the raw signal")
	simulateCmd.Flags().BoolVar(&simulateExport, "export", false, "Write the session series to the export directory")
	simulateCmd.Flags().BoolVarP(&simulateVerbose, "verbose", "v", false, "Add session details to the per-session table")
}
