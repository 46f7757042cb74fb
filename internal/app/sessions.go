package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/storage"
)

// Sessions lists the sensor sessions of a source with their span and data volume.
func (a *App) Sessions(ctx context.Context, opts SessionsOptions) error {
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
	if len(dataset.Sessions) == 0 {
		fmt.Fprintln(a.Out, "no sessions found")
		return nil
	}

	fixed := checker.FixSessionEnds(dataset.Sessions, dataset.Raw, dataset.Calibrations)
	data := checker.Split(fixed, dataset.Raw, dataset.Calibrations)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tUUID\tSession\tRaw\tCalibrations")
	for _, d := range data {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%d\t%d\n",
			d.Session.ID,
			d.Session.UUID,
			d.Session.String(),
			len(d.Raw),
			len(d.Calibrations),
		)
	}
	writer.Flush()
	return nil
}
