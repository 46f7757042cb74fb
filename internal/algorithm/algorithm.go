// Package algorithm defines the calibration algorithms that are backtested by the checker.
package algorithm

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"bg-algo-checker/internal/models"
	"bg-algo-checker/internal/optimizer"
)

// ErrUnknownAlgorithm is returned by NewFactory for names that are not registered.
var ErrUnknownAlgorithm = errors.New("algorithm: unknown algorithm")

// Algorithm is a stateful per-session BG estimator. An instance serves exactly one session.
type Algorithm interface {
	// Name identifies the algorithm in reports.
	Name() string
	// StartSession resets the instance for a new sensor session.
	StartSession(session models.Session)
	// UpdateCalibration receives the full calibration and raw history seen so far;
	// the newest calibration is the last element.
	UpdateCalibration(calibrations []models.CalibrationEvent, raw []models.RawSample)
	// EstimateBG returns the BG estimate at timestamp at, using only raw samples up to it.
	EstimateBG(raw []models.RawSample, at int64) float64
}

// Factory creates a fresh Algorithm instance.
type Factory func() Algorithm

// Config carries the tunables of every registered algorithm.
type Config struct {
	Initial InitialConfig
	LineFit LineFitConfig
	XDrip   XDripConfig
}

// InitialConfig tunes the initial-pair algorithm.
type InitialConfig struct {
	Slope float64
}

// LineFitConfig tunes the optimizer-driven line fit.
type LineFitConfig struct {
	// PairTolerance is the maximum distance between a calibration and its raw sample.
	PairTolerance time.Duration
	// FitWindow limits the fit to the most recent points; zero uses all of them.
	FitWindow     int
	Tolerance     float64
	MaxIterations int
	Mode          optimizer.GradientMode
	InitialSlope  float64
}

// XDripConfig tunes the reference algorithm's sensor-age compensation.
type XDripConfig struct {
	AgeBoost         float64
	AgeBoostDuration time.Duration
}

// DefaultConfig returns the settings the algorithms were designed with.
func DefaultConfig() Config {
	return Config{
		Initial: InitialConfig{Slope: 1},
		LineFit: LineFitConfig{
			PairTolerance: 12 * time.Minute,
			FitWindow:     0,
			Tolerance:     1e-5,
			MaxIterations: 100,
			Mode:          optimizer.Forward,
			InitialSlope:  1,
		},
		XDrip: XDripConfig{
			AgeBoost:         0.45,
			// 1.9 days
			AgeBoostDuration: 45*time.Hour + 36*time.Minute,
		},
	}
}

type constructor func(cfg Config, logger zerolog.Logger) Algorithm

var registry = map[string]constructor{
	InitialName: func(cfg Config, _ zerolog.Logger) Algorithm { return NewInitial(cfg.Initial) },
	LineFitName: func(cfg Config, logger zerolog.Logger) Algorithm { return NewLineFit(cfg.LineFit, logger) },
	XDripName:   func(cfg Config, _ zerolog.Logger) Algorithm { return NewXDrip(cfg.XDrip) },
}

// Names lists the registered algorithm names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFactory returns a Factory for the named algorithm.
func NewFactory(name string, cfg Config, logger zerolog.Logger) (Factory, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return func() Algorithm { return ctor(cfg, logger) }, nil
}

// latestAt returns the newest sample with a timestamp not after at.
func latestAt(raw []models.RawSample, at int64) (models.RawSample, bool) {
	idx := sort.Search(len(raw), func(i int) bool { return raw[i].Timestamp > at }) - 1
	if idx < 0 {
		return models.RawSample{}, false
	}
	return raw[idx], true
}

// nearest returns the sample closest in time to at.
func nearest(raw []models.RawSample, at int64) (models.RawSample, time.Duration, bool) {
	if len(raw) == 0 {
		return models.RawSample{}, 0, false
	}
	idx := sort.Search(len(raw), func(i int) bool { return raw[i].Timestamp >= at })
	best := -1
	var bestDist int64
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= len(raw) {
			continue
		}
		dist := raw[i].Timestamp - at
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return raw[best], time.Duration(bestDist) * time.Millisecond, true
}
