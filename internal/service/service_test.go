package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bg-algo-checker/internal/alerting"
	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/config"
	"bg-algo-checker/internal/models"
	"bg-algo-checker/internal/storage"
)

type memorySource struct {
	dataset storage.Dataset
	err     error
}

func (m memorySource) ListSessions(context.Context) ([]models.Session, error) {
	return m.dataset.Sessions, m.err
}

func (m memorySource) ListRawSamples(context.Context) ([]models.RawSample, error) {
	return m.dataset.Raw, nil
}

func (m memorySource) ListCalibrations(context.Context) ([]models.CalibrationEvent, error) {
	return m.dataset.Calibrations, nil
}

type fakeStore struct {
	locked    bool
	lockCalls int
	unlocks   int
	schema    int
	results   []storage.EvaluationResult
}

func (f *fakeStore) EnsureSchema(context.Context) error {
	f.schema++
	return nil
}

func (f *fakeStore) UpsertResult(_ context.Context, r storage.EvaluationResult) error {
	f.results = append(f.results, r)
	return nil
}

func (f *fakeStore) ListRecentResults(context.Context, int) ([]storage.EvaluationResult, error) {
	return f.results, nil
}

func (f *fakeStore) CountResults(context.Context) (int64, error) {
	return int64(len(f.results)), nil
}

func (f *fakeStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	f.lockCalls++
	if f.locked {
		return nil, false, nil
	}
	return func() { f.unlocks++ }, true, nil
}

type fakeNotifier struct {
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	f.notes = append(f.notes, note)
	return nil
}

func rawValue(i int) float64 {
	return 100 + 0.1*float64(i)
}

// testDataset holds one three-day session calibrated exactly on its raw samples and one
// session too short to score.
func testDataset() storage.Dataset {
	const fiveMin = int64(5 * 60 * 1000)
	ds := storage.Dataset{
		Sessions: []models.Session{
			{ID: 1, UUID: "first", Start: 0, End: 73 * 3600 * 1000},
			{ID: 2, UUID: "second", Start: 100 * 3600 * 1000, End: 101 * 3600 * 1000},
		},
	}
	for i := 0; i <= 864; i++ {
		ds.Raw = append(ds.Raw, models.RawSample{Value: rawValue(i), Timestamp: int64(i) * fiveMin, SessionID: 1})
	}
	for _, i := range []int{12, 12, 120, 240, 480} {
		ds.Calibrations = append(ds.Calibrations, models.CalibrationEvent{
			MeasuredBG: rawValue(i),
			Timestamp:  int64(i) * fiveMin,
			SessionID:  1,
		})
	}
	return ds
}

func newTestService(t *testing.T, store storage.ResultStore, notifier alerting.Notifier) *Service {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Algorithms.Enabled = []string{"initial", "xdrip"}
	cfg.Alerting.Enabled = true

	chk := checker.New(cfg.Evaluation.Checker(), zerolog.Nop(), nil)
	svc, err := New(cfg, chk, store, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc
}

func TestService_Evaluate(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc := newTestService(t, store, notifier)

	run, err := svc.Evaluate(context.Background(), memorySource{dataset: testDataset()}, "memory")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if run.ID == uuid.Nil || run.Source != "memory" || run.Sessions != 2 {
		t.Errorf("run = %+v", run)
	}
	if len(run.Reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(run.Reports))
	}

	initial := run.Reports[0]
	if initial.Algorithm != "initial" || initial.Scored != 1 || initial.Aggregate != 0 {
		t.Errorf("initial report = %+v", initial)
	}
	if got := initial.Sessions[0].Matched; got != 3 {
		t.Errorf("matched = %d, want 3", got)
	}
	if got := initial.Sessions[1].State; got != checker.StateExcluded {
		t.Errorf("second session state = %v, want excluded", got)
	}
	if run.Reports[1].Algorithm != "xdrip" || run.Reports[1].Scored != 1 {
		t.Errorf("xdrip report = %+v", run.Reports[1])
	}

	if !run.Persisted || store.schema != 1 || len(store.results) != 4 {
		t.Errorf("persisted=%v schema=%d results=%d", run.Persisted, store.schema, len(store.results))
	}
	if store.lockCalls != 1 || store.unlocks != 1 {
		t.Errorf("lock calls=%d unlocks=%d", store.lockCalls, store.unlocks)
	}
	for _, r := range store.results {
		if r.RunID != run.ID {
			t.Errorf("result run id = %s, want %s", r.RunID, run.ID)
		}
	}
	excluded := store.results[1]
	if excluded.State != "excluded" || !excluded.MARD.Equal(decimal.NewFromInt(-1)) || excluded.ReferenceMARD.Valid {
		t.Errorf("excluded result = %+v", excluded)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.RunID != run.ID.String() || len(note.Results) != 2 {
		t.Errorf("notification = %+v", note)
	}
	if !note.Results[0].Aggregate.Valid || !note.Results[0].Aggregate.Decimal.IsZero() {
		t.Errorf("initial summary = %+v", note.Results[0])
	}
}

func TestService_EvaluateLockHeld(t *testing.T) {
	store := &fakeStore{locked: true}
	notifier := &fakeNotifier{}
	svc := newTestService(t, store, notifier)

	run, err := svc.Evaluate(context.Background(), memorySource{dataset: testDataset()}, "memory")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if run.Persisted || len(store.results) != 0 {
		t.Errorf("results persisted while lock was held: %d", len(store.results))
	}
	if len(notifier.notes) != 1 {
		t.Errorf("notifications = %d, want 1", len(notifier.notes))
	}
}

func TestService_EvaluateWithoutStore(t *testing.T) {
	svc := newTestService(t, nil, nil)

	run, err := svc.Evaluate(context.Background(), memorySource{dataset: testDataset()}, "memory")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if run.Persisted {
		t.Error("run marked persisted without a store")
	}
}

func TestService_EvaluateSourceError(t *testing.T) {
	svc := newTestService(t, nil, nil)

	_, err := svc.Evaluate(context.Background(), memorySource{err: errors.New("connection refused")}, "memory")
	if err == nil {
		t.Fatal("expected load error")
	}
}

func TestService_ProcessTick(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(t, store, nil)

	opened, released := 0, 0
	open := func(context.Context) (storage.Source, func(), error) {
		opened++
		return memorySource{dataset: testDataset()}, func() { released++ }, nil
	}

	if err := svc.ProcessTick(context.Background(), time.Now(), open, "watch"); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if opened != 1 || released != 1 || len(store.results) != 4 || store.unlocks != 1 {
		t.Errorf("opened=%d released=%d results=%d unlocks=%d", opened, released, len(store.results), store.unlocks)
	}

	store.locked = true
	if err := svc.ProcessTick(context.Background(), time.Now(), open, "watch"); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if opened != 1 {
		t.Errorf("source opened while lock was held elsewhere")
	}
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Algorithms.Enabled = []string{"kalman"}
	chk := checker.New(cfg.Evaluation.Checker(), zerolog.Nop(), nil)
	if _, err := New(cfg, chk, nil, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestSummaries_NothingScored(t *testing.T) {
	run := Run{Reports: []checker.Report{{Algorithm: "linefit", Aggregate: checker.ExcludedMARD, ReferenceAggregate: checker.ExcludedMARD}}}
	got := Summaries(run)
	if len(got) != 1 || got[0].Aggregate.Valid || got[0].Reference.Valid {
		t.Errorf("summaries = %+v", got)
	}
}
