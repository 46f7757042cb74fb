// Package noise scores local signal instability of a raw sensor series.
package noise

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"bg-algo-checker/internal/grid"
	"bg-algo-checker/internal/models"
)

// WindowSize is the number of grid samples scored per point: ten of history plus the anchor.
const WindowSize = 11

const (
	minSpacing = models.SampleInterval / 2
	maxSpacing = models.SampleInterval * 3 / 2

	reversalPenalty = 4.0
)

// levelThresholds maps score A to an ordinal level: below thresholds[i] is level i.
var levelThresholds = [...]float64{3, 7, 12, 20}

var (
	// ErrWindowSize is returned when the window does not hold exactly WindowSize samples.
	ErrWindowSize = errors.New("noise: window must hold exactly 11 samples")
	// ErrIrregularSpacing is returned when adjacent samples are not 2.5-7.5 minutes apart.
	ErrIrregularSpacing = errors.New("noise: irregular sample spacing")
	// ErrNotAnchor is returned when Classify is asked to score anything but the newest sample.
	ErrNotAnchor = errors.New("noise: only the newest sample of a window can be classified")
)

// Result is the outcome of scoring one window.
type Result struct {
	Level  models.NoiseLevel
	ScoreA float64
	ScoreB float64
}

// Score evaluates a resampled window and returns the noise of its newest sample.
// On error the returned level is NoiseUnknown.
func Score(window []models.RawSample) (Result, error) {
	unknown := Result{Level: models.NoiseUnknown}
	if len(window) != WindowSize {
		return unknown, ErrWindowSize
	}
	if err := checkSpacing(window); err != nil {
		return unknown, err
	}

	n := float64(len(window) - 1)
	var sumA, sumB, prevDiff float64
	for i := 1; i < len(window); i++ {
		diff := window[i].Value - window[i-1].Value
		contribution := math.Abs(diff)
		if i > 1 {
			if diff*prevDiff < 0 {
				contribution *= reversalPenalty
			}
			sumB += math.Abs(diff - prevDiff)
		}
		sumA += contribution
		prevDiff = diff
	}

	scoreA := sumA / n
	return Result{
		Level:  levelFor(scoreA),
		ScoreA: scoreA,
		ScoreB: sumB / n,
	}, nil
}

// Classify scores window and stores the result on window[i], which must be the newest sample.
func Classify(window []models.RawSample, i int) error {
	if i != len(window)-1 {
		return ErrNotAnchor
	}
	res, err := Score(window)
	window[i].NoiseLevel = res.Level
	window[i].NoiseScoreA = res.ScoreA
	window[i].NoiseScoreB = res.ScoreB
	return err
}

func checkSpacing(window []models.RawSample) error {
	lo := models.Millis(minSpacing)
	hi := models.Millis(maxSpacing)
	for i := 1; i < len(window); i++ {
		gap := window[i].Timestamp - window[i-1].Timestamp
		if gap < lo || gap > hi {
			return fmt.Errorf("%w: %s between samples %d and %d",
				ErrIrregularSpacing, time.Duration(gap)*time.Millisecond, i-1, i)
		}
	}
	return nil
}

func levelFor(score float64) models.NoiseLevel {
	for i, threshold := range levelThresholds {
		if score < threshold {
			return models.NoiseLevel(i)
		}
	}
	return models.NoiseLevel(len(levelThresholds))
}

// Classifier scores every point of a series from a freshly resampled window.
type Classifier struct {
	logger zerolog.Logger
}

// NewClassifier constructs a Classifier.
func NewClassifier(logger zerolog.Logger) *Classifier {
	return &Classifier{logger: logger.With().Str("component", "noise").Logger()}
}

// ClassifySeries writes noise level and scores onto every sample of series. Samples with
// less than a full window of history, or whose window is irregular, get NoiseUnknown.
// It returns the number of samples that could be scored.
func (c *Classifier) ClassifySeries(series []models.RawSample) int {
	scored := 0
	for i := range series {
		if i < WindowSize-1 {
			series[i].NoiseLevel = models.NoiseUnknown
			continue
		}

		window, err := grid.Resample(series, i, WindowSize)
		if err != nil {
			series[i].NoiseLevel = models.NoiseUnknown
			c.logger.Warn().Err(err).Int("index", i).Msg("cannot resample noise window")
			continue
		}

		res, err := Score(window)
		series[i].NoiseLevel = res.Level
		series[i].NoiseScoreA = res.ScoreA
		series[i].NoiseScoreB = res.ScoreB
		if err != nil {
			c.logger.Debug().Err(err).
				Int64("session", series[i].SessionID).
				Time("at", series[i].Time()).
				Msg("noise scoring aborted")
			continue
		}
		scored++
	}
	return scored
}
