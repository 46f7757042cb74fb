package app

import (
	"context"
	"errors"
	"math"
	"time"

	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/models"
	"bg-algo-checker/internal/storage"
)

// The simulated sensor reads raw = (BG - simIntercept) / simSlope.
const (
	simSlope       = 1.25
	simIntercept   = 20.0
	simStartBG     = 100.0
	simEndBG       = 180.0
	simCalInterval = 12 * time.Hour
	// calibrations are entered a little after the reading they pair with
	simCalOffset = 2 * time.Minute
	simWobble    = 6 * time.Hour
)

var simStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Simulate replays a synthetic rising-BG session and prints the report. Density multiplies
// the calibration frequency.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Days <= 0 {
		return errors.New("days must be greater than zero")
	}
	if opts.Density <= 0 {
		return errors.New("density must be greater than zero")
	}

	var sink checker.Sink
	if opts.Export {
		sink = a.newExportWriter("", 0)
	}

	svc, err := a.newService(sink, nil, nil)
	if err != nil {
		return err
	}

	src := staticSource{dataset: SyntheticDataset(opts)}
	run, err := svc.Evaluate(ctx, src, "simulation")
	if err != nil {
		return err
	}

	printRun(a.Out, run, opts.Verbose)
	return nil
}

// SyntheticDataset builds one session whose BG rises linearly while the raw signal follows
// a fixed calibration line plus an optional slow sine.
func SyntheticDataset(opts SimulateOptions) storage.Dataset {
	start := simStart.UnixMilli()
	span := time.Duration(opts.Days) * 24 * time.Hour
	end := start + models.Millis(span)

	bgAt := func(ts int64) float64 {
		frac := float64(ts-start) / float64(end-start)
		return simStartBG + (simEndBG-simStartBG)*frac
	}
	wobbleAt := func(ts int64) float64 {
		phase := 2 * math.Pi * float64(ts-start) / float64(models.Millis(simWobble))
		return opts.Wobble * math.Sin(phase)
	}

	ds := storage.Dataset{
		Sessions: []models.Session{{ID: 1, UUID: "simulated", Start: start, End: end}},
	}

	step := models.Millis(models.SampleInterval)
	for ts := start; ts <= end; ts += step {
		ds.Raw = append(ds.Raw, models.RawSample{
			Value:      (bgAt(ts)-simIntercept)/simSlope + wobbleAt(ts),
			Timestamp:  ts,
			SessionID:  1,
			NoiseLevel: models.NoiseUnknown,
		})
	}

	interval := models.Millis(simCalInterval) / int64(opts.Density)
	offset := models.Millis(simCalOffset)
	for ts := start + models.Millis(30*time.Minute); ts+offset < end; ts += interval {
		at := ts + offset
		// the reference reading is the sample the calibration follows
		refRaw := (bgAt(ts)-simIntercept)/simSlope + wobbleAt(ts)
		bg := bgAt(at)
		ds.Calibrations = append(ds.Calibrations, models.CalibrationEvent{
			MeasuredBG: bg,
			Timestamp:  at,
			SessionID:  1,
			Reference: &models.ReferenceFit{
				Slope:     simSlope,
				Intercept: simIntercept,
				Distance:  math.Abs(bg - (simSlope*refRaw + simIntercept)),
			},
		})
	}
	return ds
}

type staticSource struct {
	dataset storage.Dataset
}

func (s staticSource) ListSessions(context.Context) ([]models.Session, error) {
	return s.dataset.Sessions, nil
}

func (s staticSource) ListRawSamples(context.Context) ([]models.RawSample, error) {
	return s.dataset.Raw, nil
}

func (s staticSource) ListCalibrations(context.Context) ([]models.CalibrationEvent, error) {
	return s.dataset.Calibrations, nil
}

var _ storage.Source = staticSource{}
