// Package export writes replayed sessions and noise scores as CSV files and PNG charts.
package export

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"

	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/models"
)

// Options configure a Writer.
type Options struct {
	Dir       string
	Charts    bool
	MaxPoints int
}

// Writer persists session series under Dir, one sub-directory per algorithm.
type Writer struct {
	opts   Options
	logger zerolog.Logger
}

// NewWriter constructs a Writer.
func NewWriter(opts Options, logger zerolog.Logger) *Writer {
	return &Writer{opts: opts, logger: logger.With().Str("component", "export").Logger()}
}

// WriteSession writes the raw, measured and estimated series of one session as CSV files
// and, when enabled, a combined chart.
func (w *Writer) WriteSession(series checker.SessionSeries) error {
	base := filepath.Join(w.opts.Dir, series.Algorithm, fmt.Sprintf("session-%d", series.Session.ID))

	raw := downsample(series.Raw, w.opts.MaxPoints)
	estimated := downsample(series.Estimated, w.opts.MaxPoints)

	rawRows := make([][]string, 0, len(raw))
	for _, p := range raw {
		rawRows = append(rawRows, []string{
			formatFloat(p.Days, 6),
			formatFloat(p.Value, 3),
			strconv.Itoa(int(p.Level)),
			formatFloat(p.ScoreA, 3),
			formatFloat(p.ScoreB, 3),
		})
	}
	if err := writeCSV(base+"-raw.csv", []string{"days", "raw", "noise_level", "noise_a", "noise_b"}, rawRows); err != nil {
		return err
	}
	if err := writeCSV(base+"-measured.csv", []string{"days", "bg"}, pointRows(series.Measured)); err != nil {
		return err
	}
	if err := writeCSV(base+"-estimated.csv", []string{"days", "bg"}, pointRows(estimated)); err != nil {
		return err
	}

	if w.opts.Charts {
		if err := writeSessionPNG(base+".png", series, raw, estimated); err != nil {
			return fmt.Errorf("render session chart: %w", err)
		}
	}

	w.logger.Debug().
		Int64("session", series.Session.ID).
		Str("algorithm", series.Algorithm).
		Str("path", base).
		Msg("session exported")
	return nil
}

// WriteNoise writes the noise scores of a session's raw samples to path (CSV) and, when
// enabled, a chart next to it.
func (w *Writer) WriteNoise(path string, session models.Session, samples []models.RawSample) error {
	samples = downsample(samples, w.opts.MaxPoints)

	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			s.Time().UTC().Format(time.RFC3339),
			formatFloat(models.DaysBetween(session.Start, s.Timestamp), 6),
			formatFloat(s.Value, 3),
			strconv.Itoa(int(s.NoiseLevel)),
			formatFloat(s.NoiseScoreA, 3),
			formatFloat(s.NoiseScoreB, 3),
		})
	}
	if err := writeCSV(path, []string{"timestamp", "days", "raw", "noise_level", "noise_a", "noise_b"}, rows); err != nil {
		return err
	}

	if w.opts.Charts {
		pngPath := path[:len(path)-len(filepath.Ext(path))] + ".png"
		if err := writeNoisePNG(pngPath, samples); err != nil {
			return fmt.Errorf("render noise chart: %w", err)
		}
	}
	return nil
}

func pointRows(points []checker.Point) [][]string {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{formatFloat(p.Days, 6), formatFloat(p.Value, 3)})
	}
	return rows
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func writeSessionPNG(path string, series checker.SessionSeries, raw []checker.RawPoint, estimated []checker.Point) error {
	rawX, rawY := make([]float64, len(raw)), make([]float64, len(raw))
	for i, p := range raw {
		rawX[i], rawY[i] = p.Days, p.Value
	}
	measuredX, measuredY := splitPoints(series.Measured)
	estimatedX, estimatedY := splitPoints(estimated)

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Title:  series.Session.String(),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "Days since sensor start",
			ValueFormatter: func(v interface{}) string { return chart.FloatValueFormatterWithFormat(v, "%.2f") },
		},
		YAxis: chart.YAxis{
			Name:           "BG (mg/dL)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Raw",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Estimated (" + series.Algorithm + ")",
				XValues: estimatedX,
				YValues: estimatedY,
			},
			chart.ContinuousSeries{
				Name: "Measured",
				Style: chart.Style{
					StrokeWidth: chart.Disabled,
					DotWidth:    4,
				},
				XValues: measuredX,
				YValues: measuredY,
			},
			chart.ContinuousSeries{
				Name:    "Raw",
				XValues: rawX,
				YValues: rawY,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return renderPNG(path, graph)
}

func writeNoisePNG(path string, samples []models.RawSample) error {
	x := make([]time.Time, len(samples))
	values := make([]float64, len(samples))
	scores := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Time()
		values[i] = s.Value
		scores[i] = s.NoiseScoreA
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Raw",
		},
		YAxisSecondary: chart.YAxis{
			Name: "Noise score",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Raw",
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "Noise score",
				XValues: x,
				YValues: scores,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return renderPNG(path, graph)
}

func renderPNG(path string, graph chart.Chart) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func splitPoints(points []checker.Point) ([]float64, []float64) {
	x, y := make([]float64, len(points)), make([]float64, len(points))
	for i, p := range points {
		x[i], y[i] = p.Days, p.Value
	}
	return x, y
}

// downsample keeps at most max evenly spaced items, always including both ends.
func downsample[T any](items []T, max int) []T {
	if max <= 1 || len(items) <= max {
		return items
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64, places int) string {
	return strconv.FormatFloat(v, 'f', places, 64)
}

var _ checker.Sink = (*Writer)(nil)
