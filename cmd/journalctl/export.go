package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/musebar/legaljournal/internal/export"
)

var (
	exportType   string
	exportFormat string
	exportStart  string
	exportEnd    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Produce a signed archive export",
	Long: `export writes a signed archive of the journal to export.dir and records
it in archive_exports.

  journalctl export --type DAILY --start 2026-03-14
  journalctl export --type MONTHLY --start 2026-02-01 --format PDF
  journalctl export --type FULL --format CSV`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			svc, err := e.requireExports()
			if err != nil {
				return err
			}
			st, err := e.settings.Get(ctx)
			if err != nil {
				return err
			}
			loc, err := st.Location()
			if err != nil {
				return err
			}
			req := export.Request{
				Type:      export.Type(strings.ToUpper(exportType)),
				Format:    export.Format(strings.ToUpper(exportFormat)),
				CreatedBy: actor,
			}
			if req.PeriodStart, err = parseDate(exportStart, loc); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if req.PeriodEnd, err = parseDate(exportEnd, loc); err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			rec, err := svc.ExportData(ctx, req)
			if rec != nil {
				if perr := printExports([]*export.Export{rec}); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var verifyExportCmd = &cobra.Command{
	Use:   "verify-export <id>",
	Short: "Check an export file against its recorded hash, size and signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid export id %q: %w", args[0], err)
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			svc, err := e.requireExports()
			if err != nil {
				return err
			}
			res, err := svc.VerifyExport(ctx, id)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				fmt.Printf("export:    %s\n", res.ExportID)
				fmt.Printf("valid:     %t\n", res.IsValid)
				fmt.Printf("hash:      %t\n", res.HashValid)
				fmt.Printf("size:      %t\n", res.SizeValid)
				fmt.Printf("signature: %t\n", res.SignatureValid)
				for _, msg := range res.Errors {
					fmt.Println("  -", msg)
				}
			}
			if !res.IsValid {
				return errors.New("export verification failed")
			}
			return nil
		})
	},
}

var exportsLimit int

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "List archive exports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			svc, err := e.requireExports()
			if err != nil {
				return err
			}
			list, err := svc.ListExports(ctx, exportsLimit)
			if err != nil {
				return err
			}
			return printExports(list)
		})
	},
}

func printExports(list []*export.Export) error {
	if outputFormat == "json" {
		return printJSON(list)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tFORMAT\tSTATUS\tSIZE\tCREATED\tFILE")
	for _, x := range list {
		file := x.FilePath
		if x.ExportStatus == export.StatusFailed {
			file = "error: " + x.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			x.ID, x.ExportType, x.Format, x.ExportStatus, x.FileSize,
			x.CreatedAt.Local().Format("2006-01-02 15:04:05"), file)
	}
	return tw.Flush()
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}

func init() {
	exportCmd.Flags().StringVar(&exportType, "type", string(export.TypeDaily), "Export type: DAILY, MONTHLY, ANNUAL or FULL")
	exportCmd.Flags().StringVar(&exportFormat, "format", string(export.FormatJSON), "File format: JSON, XML, CSV or PDF")
	exportCmd.Flags().StringVar(&exportStart, "start", "", "Period start, YYYY-MM-DD (required except for FULL)")
	exportCmd.Flags().StringVar(&exportEnd, "end", "", "Period end, YYYY-MM-DD (default: derived from --type)")
	exportsCmd.Flags().IntVar(&exportsLimit, "limit", 50, "Maximum number of exports to list")
}
