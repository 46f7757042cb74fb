package app

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/models"
	"bg-algo-checker/internal/storage"
)

// Noise scores the raw samples of one session, or of every session when SessionID is
// zero, and exports the scores.
func (a *App) Noise(ctx context.Context, opts NoiseOptions) error {
	src, release, err := a.openSource(ctx, opts.Source)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}

	dataset, err := storage.LoadDataset(ctx, src)
	if err != nil {
		return err
	}

	chk := checker.New(a.Config.Evaluation.Checker(), a.Logger, nil)
	sessions := chk.Prepare(dataset.Sessions, dataset.Raw, dataset.Calibrations)

	dir := opts.Dir
	if dir == "" {
		dir = filepath.Join(a.Config.Export.Dir, "noise")
	}
	writer := a.newExportWriter(dir, opts.MaxPoints)

	table := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "Session\tSamples\tUnknown\tL0\tL1\tL2\tL3\tL4\tFile")
	found := false
	for _, data := range sessions {
		if opts.SessionID != 0 && data.Session.ID != opts.SessionID {
			continue
		}
		found = true

		path := filepath.Join(dir, fmt.Sprintf("session-%d.csv", data.Session.ID))
		if len(data.Raw) > 0 {
			if err := writer.WriteNoise(path, data.Session, data.Raw); err != nil {
				return fmt.Errorf("export noise for session %d: %w", data.Session.ID, err)
			}
		} else {
			path = "-"
		}

		counts := levelCounts(data.Raw)
		fmt.Fprintf(table, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			data.Session.ID, len(data.Raw),
			counts[0], counts[1], counts[2], counts[3], counts[4], counts[5],
			path,
		)
	}
	if opts.SessionID != 0 && !found {
		return fmt.Errorf("session %d not found", opts.SessionID)
	}
	table.Flush()
	return nil
}

// levelCounts tallies unknown samples first, then levels 0 through 4.
func levelCounts(samples []models.RawSample) [6]int {
	var counts [6]int
	for _, s := range samples {
		idx := int(s.NoiseLevel) + 1
		if idx < 0 || idx >= len(counts) {
			continue
		}
		counts[idx]++
	}
	return counts
}
