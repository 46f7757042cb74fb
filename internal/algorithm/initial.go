package algorithm

import "bg-algo-checker/internal/models"

// InitialName is the registry name of Initial.
const InitialName = "initial"

// Initial fixes the slope and derives the intercept from the initial calibration pair
// only. Later calibrations are accepted but never change the fit.
type Initial struct {
	params models.CalibrationParameters
	fitted bool
}

// NewInitial creates an Initial algorithm.
func NewInitial(cfg InitialConfig) *Initial {
	return &Initial{params: models.CalibrationParameters{Slope: cfg.Slope}}
}

func (a *Initial) Name() string { return InitialName }

func (a *Initial) StartSession(models.Session) {
	a.params.Intercept = 0
	a.fitted = false
}

func (a *Initial) UpdateCalibration(calibrations []models.CalibrationEvent, raw []models.RawSample) {
	// the pair may arrive before the first reading; fit on the first call that has both
	if a.fitted || len(calibrations) < 2 || len(raw) == 0 {
		return
	}
	average := (calibrations[0].MeasuredBG + calibrations[1].MeasuredBG) / 2
	latest := raw[len(raw)-1]
	a.params.Intercept = average - a.params.Slope*latest.Value
	a.fitted = true
}

func (a *Initial) EstimateBG(raw []models.RawSample, at int64) float64 {
	sample, ok := latestAt(raw, at)
	if !ok {
		return 0
	}
	return a.params.Apply(sample.Value)
}

// Parameters returns the current fit.
func (a *Initial) Parameters() models.CalibrationParameters {
	return a.params
}

var _ Algorithm = (*Initial)(nil)
