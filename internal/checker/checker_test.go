package checker

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bg-algo-checker/internal/algorithm"
	"bg-algo-checker/internal/models"
)

var (
	minute = models.Millis(time.Minute)
	day    = models.Millis(24 * time.Hour)
)

// constant estimates the same BG regardless of input.
type constant struct{ value float64 }

func (c *constant) Name() string { return "constant" }

func (c *constant) StartSession(models.Session) {}

func (c *constant) UpdateCalibration([]models.CalibrationEvent, []models.RawSample) {}

func (c *constant) EstimateBG([]models.RawSample, int64) float64 { return c.value }

// spy records what the replay reveals to the algorithm.
type spy struct {
	t          *testing.T
	lastCal    int64
	calls      int
	estimateAt []int64
}

func (s *spy) Name() string { return "spy" }

func (s *spy) StartSession(models.Session) { s.lastCal = math.MinInt64 }

func (s *spy) UpdateCalibration(cals []models.CalibrationEvent, raw []models.RawSample) {
	s.calls++
	s.lastCal = cals[len(cals)-1].Timestamp
	for _, r := range raw {
		if r.Timestamp > s.lastCal {
			s.t.Errorf("update for calibration at %d saw raw sample at %d", s.lastCal, r.Timestamp)
		}
	}
}

func (s *spy) EstimateBG(raw []models.RawSample, at int64) float64 {
	s.estimateAt = append(s.estimateAt, at)
	if s.lastCal > at {
		s.t.Errorf("estimate at %d used calibration at %d", at, s.lastCal)
	}
	for _, r := range raw {
		if r.Timestamp > at {
			s.t.Errorf("estimate at %d saw raw sample at %d", at, r.Timestamp)
		}
	}
	return 100
}

type recordingSink struct {
	series []SessionSeries
	err    error
}

func (r *recordingSink) WriteSession(s SessionSeries) error {
	r.series = append(r.series, s)
	return r.err
}

func factoryOf(a algorithm.Algorithm) algorithm.Factory {
	return func() algorithm.Algorithm { return a }
}

// rampSession builds a three day session with raw samples every five minutes rising
// linearly from 100 to 180.
func rampSession(cals []models.CalibrationEvent) SessionData {
	session := models.Session{ID: 1, Start: 0, End: 3 * day}
	var raw []models.RawSample
	for ts := int64(0); ts <= session.End; ts += 5 * minute {
		raw = append(raw, models.RawSample{
			Value:     100 + 80*float64(ts)/float64(session.End),
			Timestamp: ts,
			SessionID: 1,
		})
	}
	for i := range cals {
		cals[i].SessionID = 1
	}
	return SessionData{Session: session, Raw: raw, Calibrations: cals}
}

func cal(minutes int64, bg float64) models.CalibrationEvent {
	return models.CalibrationEvent{MeasuredBG: bg, Timestamp: minutes * minute}
}

func TestCheckSession_Exclusion(t *testing.T) {
	c := New(DefaultConfig(), zerolog.Nop(), nil)
	full := rampSession([]models.CalibrationEvent{cal(0, 100), cal(5, 102), cal(60, 110)})

	tests := []struct {
		name   string
		mutate func(d *SessionData)
		want   string
	}{
		{"one calibration", func(d *SessionData) { d.Calibrations = d.Calibrations[:1] }, "too few calibrations"},
		{"nine raw samples", func(d *SessionData) { d.Raw = d.Raw[:9] }, "too few raw samples"},
		{"short session", func(d *SessionData) { d.Session.End = 2 * day }, "session too short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := full
			tt.mutate(&d)
			res, series := c.CheckSession(d, factoryOf(&constant{value: 100}))
			if res.State != StateExcluded {
				t.Fatalf("State = %s, want excluded", res.State)
			}
			if res.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.want)
			}
			if res.MARD != ExcludedMARD {
				t.Errorf("MARD = %f, want sentinel", res.MARD)
			}
			if series != nil {
				t.Error("excluded session must not produce a series")
			}
		})
	}
}

func TestCheckSession_Causality(t *testing.T) {
	s := &spy{t: t}
	d := rampSession([]models.CalibrationEvent{cal(10, 100), cal(20, 105), cal(30, 110), cal(40, 115)})

	res, series := New(DefaultConfig(), zerolog.Nop(), nil).CheckSession(d, factoryOf(s))
	if res.State != StateScored {
		t.Fatalf("State = %s, want scored", res.State)
	}
	if s.calls != 4 {
		t.Errorf("UpdateCalibration calls = %d, want 4", s.calls)
	}
	if res.Matched != 2 {
		t.Errorf("Matched = %d, want 2", res.Matched)
	}
	// samples up to the first calibration arrive before the initial pair is complete
	wantEstimates := len(d.Raw) - 3
	if res.Estimates != wantEstimates || len(series.Estimated) != wantEstimates {
		t.Errorf("Estimates = %d (series %d), want %d", res.Estimates, len(series.Estimated), wantEstimates)
	}
	if len(series.Raw) != len(d.Raw) || len(series.Measured) != 4 {
		t.Errorf("series sizes raw=%d measured=%d", len(series.Raw), len(series.Measured))
	}
}

func TestCheckSession_LineFitScenario(t *testing.T) {
	factory, err := algorithm.NewFactory(algorithm.LineFitName, algorithm.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	c := New(DefaultConfig(), zerolog.Nop(), nil)

	sparse := rampSession([]models.CalibrationEvent{
		cal(0, 100), cal(5, 102),
		cal(60, 110), cal(120, 115), cal(180, 120),
	})
	dense := rampSession([]models.CalibrationEvent{
		cal(0, 100), cal(5, 102),
		cal(30, 106), cal(60, 110), cal(90, 112.5), cal(120, 115), cal(150, 117.5), cal(180, 120),
	})

	sparseRes, _ := c.CheckSession(sparse, factory)
	denseRes, _ := c.CheckSession(dense, factory)

	for _, res := range []SessionResult{sparseRes, denseRes} {
		if res.State != StateScored {
			t.Fatalf("State = %s, want scored", res.State)
		}
		if math.IsNaN(res.MARD) || math.IsInf(res.MARD, 0) || res.MARD >= 0.5 {
			t.Fatalf("MARD = %f, want finite and below 0.5", res.MARD)
		}
	}
	if sparseRes.Matched != 3 || denseRes.Matched != 6 {
		t.Errorf("matched sparse=%d dense=%d, want 3 and 6", sparseRes.Matched, denseRes.Matched)
	}
	if denseRes.MARD >= sparseRes.MARD {
		t.Errorf("doubling calibrations should lower MARD: sparse %f, dense %f", sparseRes.MARD, denseRes.MARD)
	}
}

func TestCheckSession_UnmatchedCalibrationsInvalidate(t *testing.T) {
	d := rampSession([]models.CalibrationEvent{cal(0, 100), cal(5, 100), cal(2*24*60, 120)})
	// drop every raw sample after the first hour
	d.Raw = d.Raw[:13]

	res, series := New(DefaultConfig(), zerolog.Nop(), nil).CheckSession(d, factoryOf(&constant{value: 100}))
	if res.State != StateInvalid {
		t.Fatalf("State = %s, want invalid", res.State)
	}
	if res.Unmatched != 1 || res.MARD != ExcludedMARD {
		t.Errorf("Unmatched = %d, MARD = %f", res.Unmatched, res.MARD)
	}
	if series == nil {
		t.Error("invalid sessions are still exported")
	}
}

func TestRun_Aggregate(t *testing.T) {
	a := rampSession([]models.CalibrationEvent{
		cal(0, 100), cal(5, 100),
		{MeasuredBG: 125, Timestamp: 60 * minute, Reference: &models.ReferenceFit{Distance: 25}},
	})
	b := rampSession([]models.CalibrationEvent{cal(0, 100), cal(5, 100), cal(60, 100)})
	b.Session.ID = 2
	excluded := rampSession([]models.CalibrationEvent{cal(0, 100)})
	excluded.Session.ID = 3

	sink := &recordingSink{err: errors.New("disk full")}
	report := New(DefaultConfig(), zerolog.Nop(), sink).Run(factoryOf(&constant{value: 100}), []SessionData{a, b, excluded})

	if report.Algorithm != "constant" {
		t.Errorf("Algorithm = %q", report.Algorithm)
	}
	if len(report.Sessions) != 3 || report.Scored != 2 {
		t.Fatalf("sessions=%d scored=%d, want 3 and 2", len(report.Sessions), report.Scored)
	}
	if math.Abs(report.Aggregate-0.1) > 1e-12 {
		t.Errorf("Aggregate = %f, want 0.1", report.Aggregate)
	}
	if math.Abs(report.ReferenceAggregate-0.2) > 1e-12 {
		t.Errorf("ReferenceAggregate = %f, want 0.2", report.ReferenceAggregate)
	}
	if report.Sessions[2].State != StateExcluded {
		t.Errorf("third session State = %s, want excluded", report.Sessions[2].State)
	}
	// a failing sink is reported but does not stop the run
	if len(sink.series) != 2 {
		t.Errorf("sink received %d series, want 2", len(sink.series))
	}
}

func TestRun_NothingScored(t *testing.T) {
	report := New(DefaultConfig(), zerolog.Nop(), nil).Run(factoryOf(&constant{}), nil)
	if report.Aggregate != ExcludedMARD || report.Scored != 0 {
		t.Errorf("report = %+v, want sentinel aggregate", report)
	}
}

func TestMatchPreceding(t *testing.T) {
	raw := []models.RawSample{{Timestamp: 0}, {Timestamp: 10 * minute}, {Timestamp: 50 * minute}}
	tolerance := 30 * time.Minute

	tests := []struct {
		name    string
		ts      int64
		want    int64
		wantErr bool
	}{
		{"exact", 10 * minute, 10 * minute, false},
		{"skips newer sample", 35 * minute, 10 * minute, false},
		{"preceding beyond tolerance", 49 * minute, 0, true},
		{"at tolerance", 40 * minute, 10 * minute, false},
		{"beyond tolerance", 41 * minute, 0, true},
		{"before first", -minute, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchPreceding(raw, tt.ts, tolerance)
			if tt.wantErr {
				if !errors.Is(err, ErrNoMatchingSample) {
					t.Fatalf("expected ErrNoMatchingSample, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Timestamp != tt.want {
				t.Errorf("matched %d, want %d", got.Timestamp, tt.want)
			}
		})
	}
}
