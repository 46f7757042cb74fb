package cli

import (
	"github.com/spf13/cobra"

	"bg-algo-checker/internal/app"
)

var (
	checkExport    bool
	checkExportDir string
	checkMaxPoints int
	checkNoPersist bool
	checkVerbose   bool
)

var checkCmd = &cobra.Command{
	Use:   "check [source]",
	Short: "Score every enabled algorithm against a recorded source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CheckOptions{
			Source:    sourceArg(args),
			Export:    checkExport,
			ExportDir: checkExportDir,
			MaxPoints: checkMaxPoints,
			NoPersist: checkNoPersist,
			Verbose:   checkVerbose,
		}
		return getApp().Check(cmd.Context(), opts)
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkExport, "export", false, "Write per-session CSV files and charts")
	checkCmd.Flags().StringVar(&checkExportDir, "export-dir", "", "Export directory (defaults to config)")
	checkCmd.Flags().IntVar(&checkMaxPoints, "max-points", 0, "Maximum data points per exported series (defaults to config)")
	checkCmd.Flags().BoolVar(&checkNoPersist, "no-persist", false, "Do not store results in the database")
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "Add session details to the per-session table")
}
