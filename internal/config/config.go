package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"bg-algo-checker/internal/algorithm"
	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/logging"
	"bg-algo-checker/internal/optimizer"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Nightscout NightscoutConfig `mapstructure:"nightscout"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Algorithms AlgorithmsConfig `mapstructure:"algorithms"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables result
// persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// NightscoutConfig covers access to a Nightscout REST API.
type NightscoutConfig struct {
	APISecret      string        `mapstructure:"api_secret"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxEntries     int           `mapstructure:"max_entries"`
	Lookback       time.Duration `mapstructure:"lookback"`
}

// EvaluationConfig holds the session exclusion and matching thresholds.
type EvaluationConfig struct {
	MinCalibrations int           `mapstructure:"min_calibrations"`
	MinRawSamples   int           `mapstructure:"min_raw_samples"`
	MinDuration     time.Duration `mapstructure:"min_duration"`
	MatchTolerance  time.Duration `mapstructure:"match_tolerance"`
	InitialPairGap  time.Duration `mapstructure:"initial_pair_gap"`
}

// AlgorithmsConfig selects and tunes the algorithms under test.
type AlgorithmsConfig struct {
	Enabled []string      `mapstructure:"enabled"`
	Initial InitialConfig `mapstructure:"initial"`
	LineFit LineFitConfig `mapstructure:"linefit"`
	XDrip   XDripConfig   `mapstructure:"xdrip"`
}

// InitialConfig tunes the initial-pair algorithm.
type InitialConfig struct {
	Slope float64 `mapstructure:"slope"`
}

// LineFitConfig tunes the optimizer-driven line fit.
type LineFitConfig struct {
	PairTolerance time.Duration `mapstructure:"pair_tolerance"`
	FitWindow     int           `mapstructure:"fit_window"`
	Tolerance     float64       `mapstructure:"tolerance"`
	MaxIterations int           `mapstructure:"max_iterations"`
	GradientMode  string        `mapstructure:"gradient_mode"`
	InitialSlope  float64       `mapstructure:"initial_slope"`
}

// XDripConfig tunes the reference algorithm.
type XDripConfig struct {
	AgeBoost         float64       `mapstructure:"age_boost"`
	AgeBoostDuration time.Duration `mapstructure:"age_boost_duration"`
}

// AlertingConfig controls the run summary notification.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets per-session export behaviour.
type ExportConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Dir           string `mapstructure:"dir"`
	Charts        bool   `mapstructure:"charts"`
	MaxDataPoints int    `mapstructure:"max_data_points"`
}

// ScheduleConfig controls repeated evaluation in watch mode.
type ScheduleConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	AlignToStart bool          `mapstructure:"align_to_start"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BGCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bgcheck")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.advisory_lock_key", int64(0x62676368))

	v.SetDefault("nightscout.api_secret", "")
	v.SetDefault("nightscout.token", "")
	v.SetDefault("nightscout.request_timeout", "30s")
	v.SetDefault("nightscout.user_agent", "bgcheck/1.0")
	v.SetDefault("nightscout.max_entries", 100000)
	v.SetDefault("nightscout.lookback", "2160h")

	v.SetDefault("evaluation.min_calibrations", 2)
	v.SetDefault("evaluation.min_raw_samples", 10)
	v.SetDefault("evaluation.min_duration", "72h")
	v.SetDefault("evaluation.match_tolerance", "30m")
	v.SetDefault("evaluation.initial_pair_gap", "10m")

	v.SetDefault("algorithms.enabled", []string{algorithm.InitialName, algorithm.LineFitName, algorithm.XDripName})
	v.SetDefault("algorithms.initial.slope", 1.0)
	v.SetDefault("algorithms.linefit.pair_tolerance", "12m")
	v.SetDefault("algorithms.linefit.fit_window", 0)
	v.SetDefault("algorithms.linefit.tolerance", 1e-5)
	v.SetDefault("algorithms.linefit.max_iterations", 100)
	v.SetDefault("algorithms.linefit.gradient_mode", "forward")
	v.SetDefault("algorithms.linefit.initial_slope", 1.0)
	v.SetDefault("algorithms.xdrip.age_boost", 0.45)
	v.SetDefault("algorithms.xdrip.age_boost_duration", "45h36m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.enabled", false)
	v.SetDefault("export.dir", "out")
	v.SetDefault("export.charts", true)
	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("schedule.interval", "6h")
	v.SetDefault("schedule.align_to_start", true)
	v.SetDefault("schedule.startup_delay", "0s")
	v.SetDefault("schedule.run_on_start", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Export.Enabled && c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required when export is enabled")
	}
	if c.Evaluation.MinCalibrations < 2 {
		return fmt.Errorf("evaluation.min_calibrations must be at least 2")
	}
	if c.Evaluation.MinRawSamples < 0 {
		return fmt.Errorf("evaluation.min_raw_samples cannot be negative")
	}
	if c.Evaluation.MinDuration < 0 {
		return fmt.Errorf("evaluation.min_duration cannot be negative")
	}
	if c.Evaluation.MatchTolerance <= 0 {
		return fmt.Errorf("evaluation.match_tolerance must be greater than zero")
	}
	if c.Evaluation.InitialPairGap < 0 {
		return fmt.Errorf("evaluation.initial_pair_gap cannot be negative")
	}
	if len(c.Algorithms.Enabled) == 0 {
		return fmt.Errorf("algorithms.enabled must name at least one algorithm")
	}
	if c.Algorithms.LineFit.PairTolerance <= 0 {
		return fmt.Errorf("algorithms.linefit.pair_tolerance must be greater than zero")
	}
	if c.Algorithms.LineFit.FitWindow < 0 {
		return fmt.Errorf("algorithms.linefit.fit_window cannot be negative")
	}
	if c.Algorithms.LineFit.Tolerance <= 0 {
		return fmt.Errorf("algorithms.linefit.tolerance must be greater than zero")
	}
	if c.Algorithms.LineFit.MaxIterations <= 0 {
		return fmt.Errorf("algorithms.linefit.max_iterations must be greater than zero")
	}
	if _, err := optimizer.ParseMode(c.Algorithms.LineFit.GradientMode); err != nil {
		return fmt.Errorf("algorithms.linefit.gradient_mode: %w", err)
	}
	if c.Algorithms.XDrip.AgeBoost < 0 {
		return fmt.Errorf("algorithms.xdrip.age_boost cannot be negative")
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be greater than zero")
	}
	if c.Schedule.StartupDelay < 0 {
		return fmt.Errorf("schedule.startup_delay cannot be negative")
	}
	if c.Nightscout.RequestTimeout <= 0 {
		return fmt.Errorf("nightscout.request_timeout must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Checker converts the evaluation section into checker thresholds.
func (c EvaluationConfig) Checker() checker.Config {
	return checker.Config{
		MinCalibrations: c.MinCalibrations,
		MinRawSamples:   c.MinRawSamples,
		MinDuration:     c.MinDuration,
		MatchTolerance:  c.MatchTolerance,
		InitialPairGap:  c.InitialPairGap,
	}
}

// Algorithm converts the algorithms section into algorithm settings.
func (c AlgorithmsConfig) Algorithm() (algorithm.Config, error) {
	mode, err := optimizer.ParseMode(c.LineFit.GradientMode)
	if err != nil {
		return algorithm.Config{}, err
	}
	return algorithm.Config{
		Initial: algorithm.InitialConfig{Slope: c.Initial.Slope},
		LineFit: algorithm.LineFitConfig{
			PairTolerance: c.LineFit.PairTolerance,
			FitWindow:     c.LineFit.FitWindow,
			Tolerance:     c.LineFit.Tolerance,
			MaxIterations: c.LineFit.MaxIterations,
			Mode:          mode,
			InitialSlope:  c.LineFit.InitialSlope,
		},
		XDrip: algorithm.XDripConfig{
			AgeBoost:         c.XDrip.AgeBoost,
			AgeBoostDuration: c.XDrip.AgeBoostDuration,
		},
	}, nil
}
