// Package grid regularises irregular raw sensor series onto the fixed 5-minute grid.
package grid

import (
	"errors"
	"math"

	"bg-algo-checker/internal/models"
)

// ErrAnchorOutOfRange is returned when no window can be anchored at the requested index.
var ErrAnchorOutOfRange = errors.New("grid: anchor index out of range")

// Resample returns exactly n samples spaced one SampleInterval apart, ordered oldest to
// newest and ending at series[anchor]. Slots without a real reading are synthesised:
// interior gaps by linear interpolation, the oldest slots by backdating the oldest
// known reading. The input series is never modified.
func Resample(series []models.RawSample, anchor, n int) ([]models.RawSample, error) {
	if n <= 0 || anchor < 0 || anchor >= len(series) {
		return nil, ErrAnchorOutOfRange
	}

	interval := models.Millis(models.SampleInterval)
	dedup := interval / 2

	// slot k (0 = anchor) lives at position n-1-k
	buf := make([]models.RawSample, n)
	filled := make([]bool, n)

	anchorTS := series[anchor].Timestamp
	var lastAccepted int64
	accepted := false
	count := 0

	for i := anchor; i >= 0 && count < n; i-- {
		sample := series[i]
		if accepted && lastAccepted-sample.Timestamp < dedup {
			continue
		}
		slot := int(math.Round(float64(anchorTS-sample.Timestamp) / float64(interval)))
		if slot >= n {
			break
		}
		accepted = true
		lastAccepted = sample.Timestamp

		pos := n - 1 - slot
		if filled[pos] {
			continue
		}
		buf[pos] = sample
		filled[pos] = true
		count++
	}

	fillGaps(buf, filled, interval)
	return buf, nil
}

// fillGaps completes every unfilled slot. The newest slot is always filled.
func fillGaps(buf []models.RawSample, filled []bool, interval int64) {
	pos := len(buf) - 1
	for pos >= 0 {
		if filled[pos] {
			pos--
			continue
		}

		end := pos
		start := pos
		for start >= 0 && !filled[start] {
			start--
		}
		newer := buf[end+1]

		if start < 0 {
			for k := end; k >= 0; k-- {
				clone := newer
				clone.Timestamp = newer.Timestamp - int64(end+1-k)*interval
				buf[k] = clone
				filled[k] = true
			}
			return
		}

		older := buf[start]
		gap := end - start
		for loc := 0; loc < gap; loc++ {
			ratio := float64(loc+1) / float64(gap+1)
			k := start + 1 + loc
			buf[k] = interpolate(older, newer, ratio)
			filled[k] = true
		}
		pos = start
	}
}

func interpolate(older, newer models.RawSample, ratio float64) models.RawSample {
	span := float64(newer.Timestamp - older.Timestamp)
	return models.RawSample{
		Value:      older.Value + (newer.Value-older.Value)*ratio,
		Timestamp:  older.Timestamp + int64(math.Round(span*ratio)),
		SessionID:  newer.SessionID,
		NoiseLevel: models.NoiseUnknown,
	}
}
