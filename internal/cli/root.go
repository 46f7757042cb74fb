package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bg-algo-checker/internal/app"
	"bg-algo-checker/internal/config"
	"bg-algo-checker/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "bgcheck",
	Short: "Backtest blood-glucose calibration algorithms against recorded sensor data",
	Long: `bgcheck replays recorded CGM sensor sessions through calibration algorithms and
scores each one by its mean absolute relative difference (MARD) against fingerstick
measurements.

A source is the path of an xDrip SQLite export, a postgres:// DSN or the URL of a
Nightscout site. Without a source the configured database is read.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(noiseCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

// sourceArg returns the optional positional source.
func sourceArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
