// Package checker replays recorded sensor sessions through a calibration algorithm and
// scores its estimates against fingerstick measurements.
package checker

import (
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"bg-algo-checker/internal/algorithm"
	"bg-algo-checker/internal/models"
	"bg-algo-checker/internal/noise"
)

// ExcludedMARD marks a session that produced no MARD value.
const ExcludedMARD = -1.0

// ErrNoMatchingSample is returned by MatchPreceding when no raw sample is close enough.
var ErrNoMatchingSample = errors.New("checker: no raw sample within match tolerance")

// State is the terminal state of a session evaluation.
type State int

const (
	// StateNotStarted sessions have not been evaluated yet.
	StateNotStarted State = iota
	// StateExcluded sessions had too little data to evaluate.
	StateExcluded
	// StateScored sessions produced a MARD value.
	StateScored
	// StateInvalid sessions were replayed but no calibration could be matched.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateExcluded:
		return "excluded"
	case StateScored:
		return "scored"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Config holds the evaluation thresholds.
type Config struct {
	MinCalibrations int
	MinRawSamples   int
	MinDuration     time.Duration
	// MatchTolerance bounds the distance between a calibration and its preceding raw sample.
	MatchTolerance time.Duration
	InitialPairGap time.Duration
}

// DefaultConfig returns the standard evaluation thresholds.
func DefaultConfig() Config {
	return Config{
		MinCalibrations: 2,
		MinRawSamples:   10,
		MinDuration:     72 * time.Hour,
		MatchTolerance:  30 * time.Minute,
		InitialPairGap:  10 * time.Minute,
	}
}

// SessionResult is the outcome of evaluating one session with one algorithm.
type SessionResult struct {
	Session   models.Session
	Algorithm string
	State     State
	// Reason explains an excluded or invalid session.
	Reason string
	MARD   float64
	// ReferenceMARD is the error of the xDrip app's own fit, when calibrations carried one.
	ReferenceMARD float64
	Matched       int
	Unmatched     int
	Estimates     int
}

// Report aggregates the session results of one algorithm.
type Report struct {
	Algorithm string
	Sessions  []SessionResult
	// Aggregate is the mean MARD of the scored sessions, or ExcludedMARD when there are none.
	Aggregate          float64
	ReferenceAggregate float64
	Scored             int
}

// Point is a value positioned in days since session start.
type Point struct {
	Days  float64
	Value float64
}

// RawPoint is a raw reading with its noise scores.
type RawPoint struct {
	Days   float64
	Value  float64
	Level  models.NoiseLevel
	ScoreA float64
	ScoreB float64
}

// SessionSeries is what a replay offers to the export side.
type SessionSeries struct {
	Session   models.Session
	Algorithm string
	Raw       []RawPoint
	Measured  []Point
	Estimated []Point
}

// Sink receives the series of every replayed session.
type Sink interface {
	WriteSession(series SessionSeries) error
}

// Checker evaluates algorithms over prepared sessions.
type Checker struct {
	cfg        Config
	logger     zerolog.Logger
	classifier *noise.Classifier
	sink       Sink
}

// New creates a Checker. sink may be nil.
func New(cfg Config, logger zerolog.Logger, sink Sink) *Checker {
	return &Checker{
		cfg:        cfg,
		logger:     logger.With().Str("component", "checker").Logger(),
		classifier: noise.NewClassifier(logger),
		sink:       sink,
	}
}

// Run evaluates every session with a fresh instance from factory.
func (c *Checker) Run(factory algorithm.Factory, sessions []SessionData) Report {
	report := Report{Aggregate: ExcludedMARD, ReferenceAggregate: ExcludedMARD}
	var sum, refSum float64
	var refCount int

	for _, data := range sessions {
		res, series := c.CheckSession(data, factory)
		report.Algorithm = res.Algorithm
		report.Sessions = append(report.Sessions, res)

		if series != nil && c.sink != nil {
			if err := c.sink.WriteSession(*series); err != nil {
				c.logger.Warn().Err(err).Int64("session", data.Session.ID).Msg("export failed")
			}
		}

		if res.State != StateScored {
			continue
		}
		sum += res.MARD
		report.Scored++
		if res.ReferenceMARD != ExcludedMARD {
			refSum += res.ReferenceMARD
			refCount++
		}
	}

	if report.Scored > 0 {
		report.Aggregate = sum / float64(report.Scored)
	}
	if refCount > 0 {
		report.ReferenceAggregate = refSum / float64(refCount)
	}
	return report
}

// CheckSession replays one session. Estimates only ever see raw samples and calibrations
// up to their own timestamp. The series is nil for excluded sessions.
func (c *Checker) CheckSession(data SessionData, factory algorithm.Factory) (SessionResult, *SessionSeries) {
	alg := factory()
	session := data.Session
	res := SessionResult{
		Session:       session,
		Algorithm:     alg.Name(),
		MARD:          ExcludedMARD,
		ReferenceMARD: ExcludedMARD,
	}
	logger := c.logger.With().Int64("session", session.ID).Str("algorithm", alg.Name()).Logger()

	if reason := c.exclusion(data); reason != "" {
		res.State = StateExcluded
		res.Reason = reason
		logger.Info().Str("reason", reason).Msg("session excluded")
		return res, nil
	}

	alg.StartSession(session)
	raw, cals := data.Raw, data.Calibrations
	series := &SessionSeries{Session: session, Algorithm: alg.Name()}
	for _, s := range raw {
		series.Raw = append(series.Raw, RawPoint{
			Days:   models.DaysBetween(session.Start, s.Timestamp),
			Value:  s.Value,
			Level:  s.NoiseLevel,
			ScoreA: s.NoiseScoreA,
			ScoreB: s.NoiseScoreB,
		})
	}

	rawHist := make([]models.RawSample, 0, len(raw))
	calHist := make([]models.CalibrationEvent, 0, len(cals))
	next := 0
	drain := func(until int64) {
		for next < len(raw) && raw[next].Timestamp <= until {
			rawHist = append(rawHist, raw[next])
			if len(calHist) >= 2 {
				ts := raw[next].Timestamp
				series.Estimated = append(series.Estimated, Point{
					Days:  models.DaysBetween(session.Start, ts),
					Value: alg.EstimateBG(rawHist, ts),
				})
				res.Estimates++
			}
			next++
		}
	}

	var errSum, refSum float64
	var refCount int
	for i, cal := range cals {
		calHist = append(calHist, cal)
		drain(cal.Timestamp)
		series.Measured = append(series.Measured, Point{
			Days:  models.DaysBetween(session.Start, cal.Timestamp),
			Value: cal.MeasuredBG,
		})

		// the initial pair seeds the fit and is never scored
		if i >= 2 {
			match, err := MatchPreceding(rawHist, cal.Timestamp, c.cfg.MatchTolerance)
			switch {
			case err != nil:
				res.Unmatched++
				logger.Warn().Err(err).Int("calibration", i).Time("at", cal.Time()).Msg("calibration skipped")
			case cal.MeasuredBG <= 0:
				res.Unmatched++
				logger.Warn().Int("calibration", i).Float64("bg", cal.MeasuredBG).Msg("non-positive measured BG skipped")
			default:
				estimate := alg.EstimateBG(rawHist, match.Timestamp)
				errSum += math.Abs(cal.MeasuredBG-estimate) / cal.MeasuredBG
				res.Matched++
				if cal.Reference != nil {
					refSum += cal.Reference.Distance / cal.MeasuredBG
					refCount++
				}
			}
		}

		alg.UpdateCalibration(calHist[:len(calHist):len(calHist)], rawHist[:len(rawHist):len(rawHist)])
	}
	drain(math.MaxInt64)

	if res.Matched == 0 {
		res.State = StateInvalid
		res.Reason = "no calibration matched a raw sample"
		logger.Warn().Msg("session has no scorable calibration")
		return res, series
	}
	res.State = StateScored
	res.MARD = errSum / float64(res.Matched)
	if refCount > 0 {
		res.ReferenceMARD = refSum / float64(refCount)
	}
	logger.Debug().Float64("mard", res.MARD).Int("matched", res.Matched).Msg("session scored")
	return res, series
}

func (c *Checker) exclusion(data SessionData) string {
	switch {
	case len(data.Calibrations) < c.cfg.MinCalibrations:
		return "too few calibrations"
	case len(data.Raw) < c.cfg.MinRawSamples:
		return "too few raw samples"
	case data.Session.Duration() < c.cfg.MinDuration:
		return "session too short"
	default:
		return ""
	}
}

// MatchPreceding returns the newest raw sample at or before ts, provided it lies within
// tolerance of ts. raw must be ascending.
func MatchPreceding(raw []models.RawSample, ts int64, tolerance time.Duration) (models.RawSample, error) {
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i].Timestamp > ts {
			continue
		}
		if ts-raw[i].Timestamp > models.Millis(tolerance) {
			break
		}
		return raw[i], nil
	}
	return models.RawSample{}, ErrNoMatchingSample
}
