package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"bg-algo-checker/internal/storage"
)

// Show prints recently persisted evaluation results.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show results")
	}
	if closeStore != nil {
		defer closeStore()
	}

	return printResults(ctx, a.Out, store, opts.Limit)
}

func printResults(ctx context.Context, out io.Writer, store storage.ResultStore, limit int) error {
	results, err := store.ListRecentResults(ctx, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no results found")
		return nil
	}

	total, err := store.CountResults(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRun\tAlgorithm\tSession\tState\tMARD\tReference\tMatched\tUnmatched")

	for _, r := range results {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\t%s\t%s\t%d\t%d\n",
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.RunID.String()[:8],
			r.Algorithm,
			r.SessionID,
			r.State,
			formatDecimal(r.MARD, 4),
			formatNullDecimal(r.ReferenceMARD, 4),
			r.Matched,
			r.Unmatched,
		)
	}

	writer.Flush()
	fmt.Fprintf(out, "\nshowing %d of %d stored results\n", len(results), total)
	return nil
}
