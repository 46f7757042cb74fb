// Package models contains the sensor data structures shared by the resampler, the
// noise classifier, the calibration algorithms and the evaluation harness.
package models

import (
	"fmt"
	"time"
)

// SampleInterval is the canonical spacing of the resampling grid.
const SampleInterval = 5 * time.Minute

// NoiseLevel is the ordinal 0-4 classification of local signal instability.
type NoiseLevel int

// NoiseUnknown marks a sample whose noise could not be scored.
const NoiseUnknown NoiseLevel = -1

// RawSample is a single raw sensor reading.
type RawSample struct {
	Value       float64
	Timestamp   int64 // Unix timestamp in milliseconds
	SessionID   int64
	NoiseLevel  NoiseLevel
	NoiseScoreA float64
	NoiseScoreB float64
}

// Time returns the time of the reading.
func (r RawSample) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// ReferenceFit is the fit an external algorithm (xDrip) produced for a calibration.
type ReferenceFit struct {
	Slope     float64
	Intercept float64
	// Distance is |measured BG - external estimate| at calibration time.
	Distance float64
}

// CalibrationEvent is a fingerstick measurement entered against a session.
type CalibrationEvent struct {
	MeasuredBG float64
	Timestamp  int64 // Unix timestamp in milliseconds
	SessionID  int64
	Reference  *ReferenceFit
}

// Time returns the time of the calibration.
func (c CalibrationEvent) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Session is one continuous sensor-wear period.
type Session struct {
	ID    int64
	UUID  string
	Start int64 // Unix timestamp in milliseconds
	End   int64 // Unix timestamp in milliseconds
}

// Duration returns the span covered by the session.
func (s Session) Duration() time.Duration {
	return time.Duration(s.End-s.Start) * time.Millisecond
}

// DurationDays returns the session span in fractional days.
func (s Session) DurationDays() float64 {
	return s.Duration().Hours() / 24
}

// Contains reports whether ts falls inside the session bounds.
func (s Session) Contains(ts int64) bool {
	return ts >= s.Start && ts <= s.End
}

// String renders the session as "start - end days" in local time.
func (s Session) String() string {
	const layout = "02-01-2006 15:04:05"
	return fmt.Sprintf("%s - %s %.2f",
		time.UnixMilli(s.Start).Format(layout),
		time.UnixMilli(s.End).Format(layout),
		s.DurationDays(),
	)
}

// CalibrationParameters is the linear raw-to-BG mapping fitted by an algorithm.
type CalibrationParameters struct {
	Slope     float64
	Intercept float64
}

// Apply maps a raw value to BG.
func (p CalibrationParameters) Apply(raw float64) float64 {
	return p.Slope*raw + p.Intercept
}

// Millis converts a duration to epoch-millisecond units.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// DaysBetween returns (to - from) in fractional days.
func DaysBetween(from, to int64) float64 {
	return float64(to-from) / float64(Millis(24*time.Hour))
}
