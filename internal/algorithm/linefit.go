package algorithm

import (
	"github.com/rs/zerolog"

	"bg-algo-checker/internal/models"
	"bg-algo-checker/internal/optimizer"
)

// LineFitName is the registry name of LineFit.
const LineFitName = "linefit"

type fitPoint struct {
	raw float64
	bg  float64
}

// LineFit refits slope and intercept on every calibration by minimising the mean
// squared error between calibrated raw values and measured BG.
type LineFit struct {
	cfg    LineFitConfig
	logger zerolog.Logger
	opt    *optimizer.Optimizer
	points []fitPoint
	params models.CalibrationParameters
}

// NewLineFit creates a LineFit algorithm.
func NewLineFit(cfg LineFitConfig, logger zerolog.Logger) *LineFit {
	return &LineFit{
		cfg:    cfg,
		logger: logger.With().Str("component", "linefit").Logger(),
		opt:    optimizer.New(cfg.Tolerance, cfg.MaxIterations, cfg.Mode),
		params: models.CalibrationParameters{Slope: cfg.InitialSlope},
	}
}

func (a *LineFit) Name() string { return LineFitName }

func (a *LineFit) StartSession(models.Session) {
	a.points = a.points[:0]
	a.params = models.CalibrationParameters{Slope: a.cfg.InitialSlope}
}

func (a *LineFit) UpdateCalibration(calibrations []models.CalibrationEvent, raw []models.RawSample) {
	if len(calibrations) == 0 {
		return
	}
	cal := calibrations[len(calibrations)-1]
	sample, dist, ok := nearest(raw, cal.Timestamp)
	if !ok || dist > a.cfg.PairTolerance {
		a.logger.Debug().
			Int64("calibration_ts", cal.Timestamp).
			Dur("distance", dist).
			Msg("no raw sample close enough to calibration")
		return
	}
	a.points = append(a.points, fitPoint{raw: sample.Value, bg: cal.MeasuredBG})
	a.fit()
}

func (a *LineFit) fit() {
	points := a.points
	if a.cfg.FitWindow > 0 && len(points) > a.cfg.FitWindow {
		points = points[len(points)-a.cfg.FitWindow:]
	}
	objective := func(x []float64) float64 {
		var sum float64
		for _, p := range points {
			d := x[0]*p.raw + x[1] - p.bg
			sum += d * d
		}
		return sum / float64(len(points))
	}

	res := a.opt.Optimize([]float64{a.params.Slope, a.params.Intercept}, objective)
	if !res.Converged {
		a.logger.Debug().
			Str("stop", res.Stop.String()).
			Int("points", len(points)).
			Msg("fit did not converge, keeping previous parameters")
		return
	}
	a.params = models.CalibrationParameters{Slope: res.X[0], Intercept: res.X[1]}
}

func (a *LineFit) EstimateBG(raw []models.RawSample, at int64) float64 {
	sample, ok := latestAt(raw, at)
	if !ok {
		return 0
	}
	return a.params.Apply(sample.Value)
}

// Parameters returns the current fit.
func (a *LineFit) Parameters() models.CalibrationParameters {
	return a.params
}

var _ Algorithm = (*LineFit)(nil)
