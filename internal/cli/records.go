package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/common"
	"github.com/joseph-ayodele/weldingest/internal/entity"
	"github.com/joseph-ayodele/weldingest/internal/export"
	"github.com/joseph-ayodele/weldingest/internal/pipeline"
)

func (a *App) searchCommand() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <store> <query>",
		Short: "Full-text search over imported documents",
		Long: `Searches document fields and raw text, best match first. Queries the
full-text index cannot parse fall back to a case-insensitive substring scan.`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return usagef("--limit must not be negative")
			}
			if limit == 0 {
				limit = a.cfg.Store.SearchLimit
			}
			store, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			hits, err := a.documents(store, nil).Search(cmd.Context(), args[1], limit)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if asJSON {
				if hits == nil {
					hits = []entity.SearchHit{}
				}
				return writeJSON(cmd.OutOrStdout(), hits)
			}
			printHits(cmd.OutOrStdout(), hits)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func printHits(w io.Writer, hits []entity.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for _, h := range hits {
		fmt.Fprintf(w, "[%d] %s %s\n", h.ID, h.DocType, orMissing(h.DocNumber))
		var parts []string
		for _, v := range []string{h.Process, h.Material, withUnit(h.ThicknessMM, "mm"), h.Company, h.Date} {
			if v != "" {
				parts = append(parts, v)
			}
		}
		parts = append(parts, "conf "+h.AvgConf)
		fmt.Fprintf(w, "    %s\n", strings.Join(parts, " | "))
		if h.Snippet != "" {
			fmt.Fprintf(w, "    %s\n", h.Snippet)
		}
	}
}

func (a *App) showCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <store> <id>",
		Short: "Show one stored document with its fields and issues",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err := a.documents(store, nil).Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), doc)
			}
			printDocument(cmd.OutOrStdout(), doc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the document as JSON")
	return cmd
}

func printDocument(w io.Writer, d *entity.StoredDocument) {
	thickness := ""
	if d.ThicknessMM != nil {
		thickness = strconv.FormatFloat(*d.ThicknessMM, 'f', -1, 64) + " mm"
	}
	rows := [][2]string{
		{"ID", strconv.FormatInt(d.ID, 10)},
		{"Type", string(d.DocType)},
		{"Number", orMissing(d.DocNumber)},
		{"Process", d.Process},
		{"Material", d.Material},
		{"Thickness", thickness},
		{"Filler", d.Filler},
		{"Shielding gas", d.ShieldingGas},
		{"Position", d.Position},
		{"Company", d.Company},
		{"Date", d.Date},
		{"Avg conf", strconv.FormatFloat(d.AvgConf, 'f', 2, 64)},
		{"Class conf", strconv.FormatFloat(d.ClassificationConfidence, 'f', 2, 64)},
		{"File", d.FilePath},
		{"Imported", d.ImportedAt.Local().Format(time.DateTime)},
	}
	for _, r := range rows {
		if r[1] != "" {
			fmt.Fprintf(w, "%-14s %s\n", r[0]+":", r[1])
		}
	}
	if len(d.Fields) > 0 {
		fmt.Fprintln(w, "\nFields:")
		for _, f := range d.Fields {
			fmt.Fprintf(w, "  %-20s %s (%.2f)\n", f.Name, f.Value, f.Confidence)
		}
	}
	if len(d.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, is := range d.Issues {
			fmt.Fprintf(w, "  %-5s %s: %s\n", is.Severity, is.Field, is.Message)
		}
	}
}

func (a *App) logCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log <store>",
		Short: "Show the import log, newest first",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return usagef("--limit must not be negative")
			}
			store, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := a.importLog(store).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, "No imports recorded.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%s  %-7s %s  %s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Status, e.FilePath, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of entries, 0 for all")
	return cmd
}

func (a *App) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <store> <id>...",
		Short: "Delete stored documents and their issues",
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args)-1)
			for _, s := range args[1:] {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			store, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			docs := a.documents(store, nil)
			var errs []error
			for _, id := range ids {
				if err := docs.Delete(cmd.Context(), id); err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

func (a *App) exportCommand() *cobra.Command {
	var (
		out     string
		docType string
	)
	cmd := &cobra.Command{
		Use:   "export <store> --out file.xlsx",
		Short: "Export documents and issues to an XLSX workbook",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return usagef("--out is required")
			}
			var filter export.Filter
			if docType != "" {
				dt, ok := constants.ParseDocType(strings.ToUpper(docType))
				if !ok {
					return usagef("invalid --type %q: want WPS, PQR or WPQR", docType)
				}
				filter.DocType = dt
			}
			store, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := export.NewService(a.documents(store, nil), a.logger).WriteFile(cmd.Context(), out, filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d documents to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output XLSX path")
	cmd.Flags().StringVarP(&docType, "type", "t", "", "only export one document type (WPS, PQR, WPQR)")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, &usageError{err: fmt.Errorf("invalid document id %q: %w", s, common.ErrInvalidInput)}
	}
	return id, nil
}

func orMissing(s string) string {
	if s == "" {
		return pipeline.MissingNumber
	}
	return s
}

func withUnit(v, unit string) string {
	if v == "" {
		return ""
	}
	return v + " " + unit
}
