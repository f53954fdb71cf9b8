package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/entity"
	"github.com/joseph-ayodele/weldingest/internal/ingest"
	"github.com/joseph-ayodele/weldingest/internal/pipeline"
)

func (a *App) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init <store>",
		Short: "Create the record store schema",
		Long: `Creates the store if needed and applies pending schema migrations.
<store> is a SQLite file path, ":memory:", or a postgres:// DSN.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close()
			v, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "store ready (%s, schema version %d)\n", store.Dialect(), v)
			return nil
		},
	}
}

func (a *App) ingestCommand() *cobra.Command {
	var (
		workers      int
		skipExisting bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <store> <file|dir>...",
		Short: "Import documents into the store",
		Long: `Imports each named file and every supported file under each named
directory. A file named twice is imported twice; files reached through
overlapping directories are imported once. Exits 1 when any file failed.`,
		Args: usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 0 {
				return usagef("--workers must be positive")
			}
			ctx := cmd.Context()
			store, err := a.openStore(ctx, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			docs := a.documents(store, nil)
			ing, err := a.ingester(store, docs, nil)
			if err != nil {
				return err
			}
			opts := ingest.BatchOptions{
				Workers:      a.cfg.Ingest.Workers,
				QueueSize:    a.cfg.Ingest.QueueSize,
				Timeout:      a.cfg.Ingest.Timeout,
				SkipExisting: a.cfg.Ingest.SkipExisting || skipExisting,
				SkipHidden:   a.cfg.Ingest.SkipHidden,
			}
			if workers > 0 {
				opts.Workers = workers
			}

			report, err := ingest.NewBatch(ing, docs, a.logger).Run(ctx, args[1:], opts)
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if !report.OK() {
				return &exitError{code: ExitFailure}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent ingest workers (default from config)")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip files already imported under the same path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the batch report as JSON")
	return cmd
}

func printReport(w io.Writer, r ingest.BatchReport) {
	for _, we := range r.WalkErrors {
		fmt.Fprintf(w, "%-8s %s: %s\n", "ERROR", we.Path, we.Err)
	}
	for _, o := range r.Outcomes {
		switch {
		case o.Skipped:
			fmt.Fprintf(w, "%-8s %s (already imported)\n", "SKIP", o.Path)
		case o.Result == nil:
			fmt.Fprintf(w, "%-8s %s: not processed\n", "FAILED", o.Path)
		default:
			printResult(w, *o.Result)
		}
	}
	fmt.Fprintf(w, "\nscanned %d, succeeded %d, skipped %d, failed %d\n",
		r.Stats.Scanned, r.Stats.Succeeded, r.Stats.Skipped, r.Stats.Failed)
}

func printResult(w io.Writer, res pipeline.Result) {
	if !res.Succeeded() {
		fmt.Fprintf(w, "%-8s %s: %s\n", "FAILED", res.Path, failureMessage(res))
		return
	}
	s := res.Summary
	docType := s.DocType
	if s.ClassificationDefaulted {
		docType += " (defaulted)"
	}
	fmt.Fprintf(w, "%-8s %s -> %s %s (id %d, avg conf %s, %s)\n",
		"OK", res.Path, docType, s.DocNumber, *res.DocumentID, s.AvgConf, s.TextMethod)
	for _, is := range res.Issues {
		fmt.Fprintf(w, "         %-5s %s: %s\n", is.Severity, is.Field, is.Message)
	}
}

func failureMessage(res pipeline.Result) string {
	for _, is := range res.Issues {
		if is.Field == entity.FieldPipeline && is.Severity == constants.SeverityError {
			return is.Message
		}
	}
	return string(res.State)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
