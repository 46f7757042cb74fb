package algorithm

import (
	"time"

	"bg-algo-checker/internal/models"
)

// XDripName is the registry name of XDrip.
const XDripName = "xdrip"

// XDrip replays the parameters that the xDrip app itself computed, as stored with each
// calibration. Until the first calibration with a reference fit arrives it returns the
// age-adjusted raw value.
type XDrip struct {
	cfg   XDripConfig
	start int64
	ref   *models.ReferenceFit
}

// NewXDrip creates an XDrip algorithm.
func NewXDrip(cfg XDripConfig) *XDrip {
	return &XDrip{cfg: cfg}
}

func (a *XDrip) Name() string { return XDripName }

func (a *XDrip) StartSession(session models.Session) {
	a.start = session.Start
	a.ref = nil
}

func (a *XDrip) UpdateCalibration(calibrations []models.CalibrationEvent, _ []models.RawSample) {
	for i := len(calibrations) - 1; i >= 0; i-- {
		if ref := calibrations[i].Reference; ref != nil {
			fit := *ref
			a.ref = &fit
			return
		}
	}
}

func (a *XDrip) EstimateBG(raw []models.RawSample, at int64) float64 {
	sample, ok := latestAt(raw, at)
	if !ok {
		return 0
	}
	adjusted := a.ageAdjusted(sample)
	if a.ref == nil {
		return adjusted
	}
	return a.ref.Slope*adjusted + a.ref.Intercept
}

// ageAdjusted boosts readings of young sensors, fading linearly to no boost at
// AgeBoostDuration.
func (a *XDrip) ageAdjusted(sample models.RawSample) float64 {
	if a.cfg.AgeBoostDuration <= 0 {
		return sample.Value
	}
	age := time.Duration(sample.Timestamp-a.start) * time.Millisecond
	if age < 0 {
		age = 0
	}
	if age >= a.cfg.AgeBoostDuration {
		return sample.Value
	}
	remaining := float64(a.cfg.AgeBoostDuration-age) / float64(a.cfg.AgeBoostDuration)
	return sample.Value * (1 + a.cfg.AgeBoost*remaining)
}

var _ Algorithm = (*XDrip)(nil)
