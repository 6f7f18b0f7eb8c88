package cli

import (
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tatianab/silver-tongue/internal/models"
	"github.com/tatianab/silver-tongue/internal/tui"
)

func newPlayCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Play a battle in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}

			// The terminal belongs to the TUI, so logs go to a file.
			f, err := tea.LogToFile(cfg.LogFile, serviceName)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: opts.logLevel()}))

			b, err := opts.newBattle(ctx, cfg, logger, false, mockDisplayDelay)
			if err != nil {
				return err
			}
			defer b.close()
			b.startedAt = time.Now()

			outcome, err := tui.Run(ctx, b.engine)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outcome == models.OutcomeNone {
				fmt.Fprintln(out, "Battle abandoned.")
				return nil
			}
			fmt.Fprintf(out, "Outcome: %s\n", describeOutcome(outcome))
			if !opts.noArchive {
				id, err := b.record(ctx, outcome)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Archived as %s\n", id)
			}
			return nil
		},
	}
}
