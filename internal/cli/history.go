package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatianab/silver-tongue/internal/archive"
)

func newHistoryCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List archived battles, or print one battle's transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			store, err := archive.Open(ctx, cfg.ArchivePath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rec, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s vs %s: %s after %d turns (sanity %d/%d)\n",
					rec.PlayerID, rec.OpponentID, describeOutcome(rec.Outcome), rec.Turns, rec.FinalSanity, rec.MaxSanity)
				for _, e := range rec.Transcript {
					printEntry(out, e)
				}
				return nil
			}

			records, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No battles recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFINISHED\tPLAYER\tOPPONENT\tOUTCOME\tTURNS\tSANITY")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d/%d\n",
					r.ID, r.FinishedAt.Local().Format(time.DateTime), r.PlayerID, r.OpponentID,
					r.Outcome, r.Turns, r.FinalSanity, r.MaxSanity)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of battles to list")
	return cmd
}
