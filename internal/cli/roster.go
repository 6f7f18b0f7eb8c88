package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRosterCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "roster",
		Short: "List the available characters and evidence items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			roster, err := loadRoster(cfg)
			if err != nil {
				return fmt.Errorf("load roster: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHARACTER\tNAME\tEFFORT\tLOSE CONDITIONS")
			for _, c := range roster.Characters() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.ID, c.Name, c.Effort(), len(c.LoseConditions))
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "ITEM\tNAME\tDESCRIPTION\t")
			for _, it := range roster.AllItems() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t\n", it.ID, it.Name, it.Description)
			}
			return tw.Flush()
		},
	}
}
