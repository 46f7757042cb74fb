package app

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bg-algo-checker/internal/alerting"
	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/config"
	"bg-algo-checker/internal/export"
	"bg-algo-checker/internal/fetcher"
	"bg-algo-checker/internal/service"
	"bg-algo-checker/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives reports and tables.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openSource resolves a source identifier: a postgres DSN, a Nightscout site URL or the
// path of an xDrip SQLite export. An empty identifier falls back to the configured database.
func (a *App) openSource(ctx context.Context, identifier string) (storage.Source, func(), error) {
	switch {
	case identifier == "":
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if store == nil {
			return nil, nil, errors.New("no source given and database.dsn not configured")
		}
		return store, closeStore, nil

	case strings.HasPrefix(identifier, "postgres://"), strings.HasPrefix(identifier, "postgresql://"):
		dbCfg := a.Config.Database
		dbCfg.DSN = identifier
		pool, err := storage.NewPool(ctx, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewStore(pool)
		return store, store.Close, nil

	case strings.HasPrefix(identifier, "http://"), strings.HasPrefix(identifier, "https://"):
		cfg := a.Config.Nightscout
		opts := fetcher.NightscoutOptions{
			BaseURL:    identifier,
			APISecret:  cfg.APISecret,
			Token:      cfg.Token,
			Timeout:    cfg.RequestTimeout,
			UserAgent:  cfg.UserAgent,
			MaxEntries: cfg.MaxEntries,
		}
		if cfg.Lookback > 0 {
			opts.From = time.Now().UTC().Add(-cfg.Lookback)
		}
		return fetcher.NewNightscout(opts, a.Logger), nil, nil

	default:
		src, err := storage.OpenSQLite(identifier)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	}
}

// sourceLabel renders an identifier without credentials.
func sourceLabel(identifier string) string {
	if identifier == "" {
		return "database"
	}
	if u, err := url.Parse(identifier); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Redacted()
	}
	return identifier
}

func (a *App) newExportWriter(dir string, maxPoints int) *export.Writer {
	if dir == "" {
		dir = a.Config.Export.Dir
	}
	return export.NewWriter(export.Options{
		Dir:       dir,
		Charts:    a.Config.Export.Charts,
		MaxPoints: a.Config.ResolveMaxPoints(maxPoints),
	}, a.Logger)
}

// newService wires the checker and the optional result store, export sink and notifier.
func (a *App) newService(sink checker.Sink, results storage.ResultStore, notifier alerting.Notifier) (*service.Service, error) {
	chk := checker.New(a.Config.Evaluation.Checker(), a.Logger, sink)
	return service.New(a.Config, chk, results, notifier, a.Logger)
}

// CheckOptions configure the check command.
type CheckOptions struct {
	Source    string
	Export    bool
	ExportDir string
	MaxPoints int
	NoPersist bool
	Verbose   bool
}

// WatchOptions configure the watch command.
type WatchOptions struct {
	Source string
}

// SessionsOptions configure the sessions command.
type SessionsOptions struct {
	Source string
}

// NoiseOptions configure the noise command.
type NoiseOptions struct {
	Source    string
	SessionID int64
	Dir       string
	MaxPoints int
}

// SimulateOptions configure the synthetic scenario.
type SimulateOptions struct {
	Days    int
	Density int
	// Wobble is the amplitude of a slow sine added to the raw signal.
	Wobble  float64
	Export  bool
	Verbose bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
