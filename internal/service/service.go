package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bg-algo-checker/internal/alerting"
	"bg-algo-checker/internal/algorithm"
	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/config"
	"bg-algo-checker/internal/scheduler"
	"bg-algo-checker/internal/storage"
)

// SourceOpener yields a fresh data source and its release func for every scheduled run.
type SourceOpener func(ctx context.Context) (storage.Source, func(), error)

// Run is the outcome of evaluating every enabled algorithm over one source.
type Run struct {
	ID        uuid.UUID
	Source    string
	Started   time.Time
	Finished  time.Time
	Sessions  int
	Reports   []checker.Report
	Persisted bool
}

type namedFactory struct {
	name    string
	factory algorithm.Factory
}

// Service orchestrates loading, evaluation, persistence and notification.
type Service struct {
	checker    *checker.Checker
	algorithms []namedFactory
	store      storage.ResultStore
	locker     storage.AdvisoryLocker
	lockKey    int64
	notifier   alerting.Notifier
	alertsOn   bool
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs the evaluation service. store and notifier may be nil.
func New(cfg *config.Config, chk *checker.Checker, store storage.ResultStore, notifier alerting.Notifier, logger zerolog.Logger) (*Service, error) {
	algCfg, err := cfg.Algorithms.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("algorithm config: %w", err)
	}

	algorithms := make([]namedFactory, 0, len(cfg.Algorithms.Enabled))
	for _, name := range cfg.Algorithms.Enabled {
		factory, err := algorithm.NewFactory(name, algCfg, logger)
		if err != nil {
			return nil, err
		}
		algorithms = append(algorithms, namedFactory{name: name, factory: factory})
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		checker:    chk,
		algorithms: algorithms,
		store:      store,
		locker:     locker,
		lockKey:    cfg.Database.AdvisoryLockKey,
		notifier:   notifier,
		alertsOn:   cfg.Alerting.Enabled,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Evaluate scores every enabled algorithm over src, persists the session results when a
// store is configured and sends the run summary.
func (s *Service) Evaluate(ctx context.Context, src storage.Source, label string) (Run, error) {
	run, err := s.evaluate(ctx, src, label)
	if err != nil {
		return run, err
	}

	unlock, proceed, err := s.acquireLock(ctx)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Msg("results not persisted")
	case !proceed:
		s.logger.Warn().Msg("results not persisted because advisory lock is held elsewhere")
	default:
		s.persist(ctx, &run)
		if unlock != nil {
			unlock()
		}
	}

	s.notify(ctx, run)
	return run, nil
}

// Watch re-evaluates a freshly opened source on every scheduler tick.
func (s *Service) Watch(ctx context.Context, sched *scheduler.Scheduler, open SourceOpener, label string) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, func(ctx context.Context, tick time.Time) error {
		return s.ProcessTick(ctx, tick, open, label)
	})
}

// ProcessTick runs one scheduled evaluation. Ticks are skipped while another instance
// holds the advisory lock.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time, open SourceOpener, label string) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	src, release, err := open(ctx)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if release != nil {
		defer release()
	}

	run, err := s.evaluate(ctx, src, label)
	if err != nil {
		return err
	}
	s.persist(ctx, &run)
	s.notify(ctx, run)
	return nil
}

func (s *Service) evaluate(ctx context.Context, src storage.Source, label string) (Run, error) {
	run := Run{ID: uuid.New(), Source: label, Started: s.now()}

	dataset, err := storage.LoadDataset(ctx, src)
	if err != nil {
		return run, fmt.Errorf("load dataset: %w", err)
	}
	sessions := s.checker.Prepare(dataset.Sessions, dataset.Raw, dataset.Calibrations)
	run.Sessions = len(sessions)

	for _, alg := range s.algorithms {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		report := s.checker.Run(alg.factory, sessions)
		// keep the name when no session reached the algorithm
		report.Algorithm = alg.name
		run.Reports = append(run.Reports, report)

		s.logger.Info().
			Str("algorithm", alg.name).
			Float64("aggregate_mard", report.Aggregate).
			Int("scored", report.Scored).
			Int("sessions", len(report.Sessions)).
			Msg("algorithm evaluated")
	}

	run.Finished = s.now()
	return run, nil
}

func (s *Service) persist(ctx context.Context, run *Run) {
	if s.store == nil {
		return
	}
	if err := s.store.EnsureSchema(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to ensure result schema")
		return
	}

	failed := 0
	for _, result := range Results(*run) {
		if err := s.store.UpsertResult(ctx, result); err != nil {
			failed++
			s.logger.Error().Err(err).
				Str("algorithm", result.Algorithm).
				Int64("session", result.SessionID).
				Msg("failed to upsert result")
		}
	}
	run.Persisted = failed == 0
	s.logger.Info().Str("run_id", run.ID.String()).Int("failed", failed).Msg("results persisted")
}

func (s *Service) notify(ctx context.Context, run Run) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	note := alerting.Notification{
		RunID:    run.ID.String(),
		Source:   run.Source,
		Finished: run.Finished,
		Results:  Summaries(run),
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to dispatch summary")
	}
}

// Results flattens a run into one persisted row per algorithm and session.
func Results(run Run) []storage.EvaluationResult {
	var results []storage.EvaluationResult
	for _, report := range run.Reports {
		for _, res := range report.Sessions {
			results = append(results, storage.EvaluationResult{
				RunID:         run.ID,
				Algorithm:     report.Algorithm,
				SessionID:     res.Session.ID,
				SessionUUID:   res.Session.UUID,
				SessionStart:  time.UnixMilli(res.Session.Start).UTC(),
				SessionEnd:    time.UnixMilli(res.Session.End).UTC(),
				State:         res.State.String(),
				MARD:          decimal.NewFromFloat(res.MARD),
				ReferenceMARD: optionalMARD(res.ReferenceMARD),
				Matched:       res.Matched,
				Unmatched:     res.Unmatched,
				CreatedAt:     run.Finished,
			})
		}
	}
	return results
}

// Summaries condenses each report into its aggregate scores.
func Summaries(run Run) []alerting.AlgorithmSummary {
	summaries := make([]alerting.AlgorithmSummary, 0, len(run.Reports))
	for _, report := range run.Reports {
		summaries = append(summaries, alerting.AlgorithmSummary{
			Algorithm: report.Algorithm,
			Aggregate: optionalMARD(report.Aggregate),
			Reference: optionalMARD(report.ReferenceAggregate),
			Scored:    report.Scored,
			Sessions:  len(report.Sessions),
		})
	}
	return summaries
}

func optionalMARD(v float64) decimal.NullDecimal {
	if v == checker.ExcludedMARD {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
