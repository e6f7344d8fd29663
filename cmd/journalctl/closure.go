package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/musebar/legaljournal/internal/closure"
)

var closeType string

var closeCmd = &cobra.Command{
	Use:   "close <date>",
	Short: "Create a closure bulletin for the period containing date",
	Long: `close seals the DAILY, MONTHLY or ANNUAL period that contains date
(YYYY-MM-DD, interpreted in the configured closure timezone).

  journalctl close 2026-03-14
  journalctl close --type MONTHLY 2026-02-01`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := closure.Type(strings.ToUpper(closeType))
		if !typ.Valid() {
			return fmt.Errorf("unknown closure type %q", closeType)
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			st, err := e.settings.Get(ctx)
			if err != nil {
				return err
			}
			loc, err := st.Location()
			if err != nil {
				return err
			}
			day, err := time.ParseInLocation(time.DateOnly, args[0], loc)
			if err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}
			start, end, err := closure.PeriodFor(typ, day, loc)
			if err != nil {
				return err
			}
			b, err := e.closures.CreateClosure(ctx, typ, start, end, actor)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(b)
			}
			printBulletins([]*closure.Bulletin{b}, loc)
			return nil
		})
	},
}

var bulletinsType string

var bulletinsCmd = &cobra.Command{
	Use:   "bulletins",
	Short: "List closure bulletins, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := closure.Type(strings.ToUpper(bulletinsType))
		if typ != "" && !typ.Valid() {
			return fmt.Errorf("unknown closure type %q", bulletinsType)
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			list, err := e.closures.GetBulletins(ctx, typ)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(list)
			}
			st, err := e.settings.Get(ctx)
			if err != nil {
				return err
			}
			loc, err := st.Location()
			if err != nil {
				return err
			}
			printBulletins(list, loc)
			return nil
		})
	},
}

func printBulletins(list []*closure.Bulletin, loc *time.Location) {
	if len(list) == 0 {
		fmt.Println("no bulletins")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSTART\tEND\tTX\tTOTAL\tVAT\tSEQ\tCLOSED BY")
	for _, b := range list {
		seq := "-"
		if b.FirstSequence != nil && b.LastSequence != nil {
			seq = fmt.Sprintf("%d-%d", *b.FirstSequence, *b.LastSequence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			b.ClosureType,
			b.PeriodStart.In(loc).Format("2006-01-02 15:04"),
			b.PeriodEnd.In(loc).Format("2006-01-02 15:04"),
			b.TotalTransactions, b.TotalAmount.StringFixed(2), b.TotalVAT.StringFixed(2),
			seq, b.ClosedBy)
	}
	_ = tw.Flush()
}

func init() {
	closeCmd.Flags().StringVar(&closeType, "type", string(closure.TypeDaily), "Closure type: DAILY, MONTHLY or ANNUAL")
	bulletinsCmd.Flags().StringVar(&bulletinsType, "type", "", "Only list bulletins of this type")
}
