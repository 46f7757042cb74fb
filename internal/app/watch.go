package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"bg-algo-checker/internal/scheduler"
	"bg-algo-checker/internal/storage"
)

// Watch re-evaluates a source on the configured schedule until interrupted.
func (a *App) Watch(ctx context.Context, opts WatchOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var results storage.ResultStore
	if store != nil {
		results = store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}

	svc, err := a.newService(nil, results, a.newNotifier())
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Schedule.Interval,
		AlignToStart: a.Config.Schedule.AlignToStart,
		StartupDelay: a.Config.Schedule.StartupDelay,
		RunOnStart:   a.Config.Schedule.RunOnStart,
	}, a.Logger)

	open := func(ctx context.Context) (storage.Source, func(), error) {
		return a.openSource(ctx, opts.Source)
	}

	a.Logger.Info().Str("source", sourceLabel(opts.Source)).Dur("interval", a.Config.Schedule.Interval).Msg("starting evaluation loop")
	err = svc.Watch(ctx, sched, open, sourceLabel(opts.Source))
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("evaluation loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("evaluation loop stopped")
	return nil
}
