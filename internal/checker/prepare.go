package checker

import (
	"time"

	"bg-algo-checker/internal/models"
)

// SessionData is one session together with the raw samples and calibrations recorded
// during it, both ascending by timestamp.
type SessionData struct {
	Session      models.Session
	Raw          []models.RawSample
	Calibrations []models.CalibrationEvent
}

// FixSessionEnds extends every session's end to its last raw sample or calibration.
// Ends are never moved backwards. The input slice is not modified.
func FixSessionEnds(sessions []models.Session, raw []models.RawSample, cals []models.CalibrationEvent) []models.Session {
	last := make(map[int64]int64, len(sessions))
	for _, s := range raw {
		if s.Timestamp > last[s.SessionID] {
			last[s.SessionID] = s.Timestamp
		}
	}
	for _, c := range cals {
		if c.Timestamp > last[c.SessionID] {
			last[c.SessionID] = c.Timestamp
		}
	}

	out := make([]models.Session, len(sessions))
	for i, s := range sessions {
		if ts, ok := last[s.ID]; ok && ts > s.End {
			s.End = ts
		}
		out[i] = s
	}
	return out
}

// FilterByDate keeps the calibrations inside [from, to]. When the first two kept
// calibrations are more than initialPairGap apart, the first one is duplicated at its own
// timestamp so the initial pair is always tight.
func FilterByDate(cals []models.CalibrationEvent, from, to int64, initialPairGap time.Duration) []models.CalibrationEvent {
	out := make([]models.CalibrationEvent, 0, len(cals)+1)
	for _, c := range cals {
		if c.Timestamp >= from && c.Timestamp <= to {
			out = append(out, c)
		}
	}
	if len(out) >= 2 && out[1].Timestamp-out[0].Timestamp > models.Millis(initialPairGap) {
		out = append(out, models.CalibrationEvent{})
		copy(out[1:], out[:len(out)-1])
	}
	return out
}

// Split groups pre-sorted samples and calibrations by session ID. Records belonging to
// unknown sessions are dropped. The result follows the order of sessions.
func Split(sessions []models.Session, raw []models.RawSample, cals []models.CalibrationEvent) []SessionData {
	out := make([]SessionData, len(sessions))
	index := make(map[int64]int, len(sessions))
	for i, s := range sessions {
		out[i].Session = s
		index[s.ID] = i
	}
	for _, s := range raw {
		if i, ok := index[s.SessionID]; ok {
			out[i].Raw = append(out[i].Raw, s)
		}
	}
	for _, c := range cals {
		if i, ok := index[c.SessionID]; ok {
			out[i].Calibrations = append(out[i].Calibrations, c)
		}
	}
	return out
}

// Prepare runs the pre-evaluation pipeline once: session ends are corrected, inputs are
// split per session, calibrations are filtered to the session span and raw samples are
// noise-scored.
func (c *Checker) Prepare(sessions []models.Session, raw []models.RawSample, cals []models.CalibrationEvent) []SessionData {
	fixed := FixSessionEnds(sessions, raw, cals)
	data := Split(fixed, raw, cals)
	for i := range data {
		s := data[i].Session
		data[i].Calibrations = FilterByDate(data[i].Calibrations, s.Start, s.End, c.cfg.InitialPairGap)
		scored := c.classifier.ClassifySeries(data[i].Raw)
		c.logger.Debug().
			Int64("session", s.ID).
			Int("raw", len(data[i].Raw)).
			Int("calibrations", len(data[i].Calibrations)).
			Int("noise_scored", scored).
			Msg("session prepared")
	}
	return data
}
