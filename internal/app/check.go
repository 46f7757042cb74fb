package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"bg-algo-checker/internal/checker"
	"bg-algo-checker/internal/service"
	"bg-algo-checker/internal/storage"
)

// Check evaluates every enabled algorithm against a recorded source and prints the report.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	src, release, err := a.openSource(ctx, opts.Source)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}

	var sink checker.Sink
	if opts.Export || a.Config.Export.Enabled {
		sink = a.newExportWriter(opts.ExportDir, opts.MaxPoints)
	}

	var results storage.ResultStore
	if !opts.NoPersist {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		if store != nil {
			results = store
		} else {
			a.Logger.Debug().Msg("database.dsn not configured; results are not persisted")
		}
	}

	svc, err := a.newService(sink, results, a.newNotifier())
	if err != nil {
		return err
	}

	run, err := svc.Evaluate(ctx, src, sourceLabel(opts.Source))
	if err != nil {
		return err
	}

	printRun(a.Out, run, opts.Verbose)
	return nil
}

func printRun(out io.Writer, run service.Run, verbose bool) {
	fmt.Fprintf(out, "Run %s over %s (%d sessions)\n\n", run.ID, run.Source, run.Sessions)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Algorithm\tMARD\tReference\tScored")
	for _, s := range service.Summaries(run) {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d/%d\n",
			s.Algorithm,
			formatNullDecimal(s.Aggregate, 4),
			formatNullDecimal(s.Reference, 4),
			s.Scored,
			s.Sessions,
		)
	}
	writer.Flush()

	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if verbose {
		fmt.Fprintln(writer, "Algorithm\tSession\tSpan\tState\tMARD\tMatched\tUnmatched\tReason")
	} else {
		fmt.Fprintln(writer, "Algorithm\tSession\tState\tMARD\tMatched")
	}
	for _, report := range run.Reports {
		for _, res := range report.Sessions {
			mard := "-"
			if res.State == checker.StateScored {
				mard = formatFloat(res.MARD, 4)
			}
			if !verbose {
				fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%d\n",
					report.Algorithm, res.Session.ID, res.State, mard, res.Matched)
				continue
			}
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
				report.Algorithm,
				res.Session.ID,
				res.Session.String(),
				res.State,
				mard,
				res.Matched,
				res.Unmatched,
				res.Reason,
			)
		}
	}
	writer.Flush()
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "n/a"
	}
	return formatDecimal(d.Decimal, places)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatFloat(v float64, places int32) string {
	return formatDecimal(decimal.NewFromFloat(v), places)
}
