package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tatianab/silver-tongue/internal/engine"
	"github.com/tatianab/silver-tongue/internal/models"
)

func newSimulateCommand(opts *options) *cobra.Command {
	var (
		pauseAt     int
		newStrategy string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a battle unattended and print the transcript",
		Long: `Run a battle without the terminal UI. Lines are printed as they are
recorded, followed by each judge evaluation and the final outcome.

With --pause-at N the battle pauses after the opponent's line on turn N and
resumes with --new-strategy.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: opts.logLevel()}))

			b, err := opts.newBattle(ctx, cfg, logger, true, 0)
			if err != nil {
				return err
			}
			defer b.close()

			eng := b.engine
			fmt.Fprintf(out, "=== %s vs %s (%d turns, sanity %d) ===\n",
				eng.Player().Name, eng.Opponent().Name, cfg.MaxTurns, cfg.MaxSanity)

			pauseMarker := fmt.Sprintf("Turn %d (%s)", pauseAt, engine.PhaseOpponentTurn)
			paused := false
			eng.OnDialogue = func(e models.ConversationEntry) {
				printEntry(out, e)
				if pauseAt > 0 && !paused && e.Timestamp == pauseMarker {
					paused = true
					if err := eng.Pause(); err != nil {
						logger.Warn("pause failed", "error", err)
					}
				}
			}
			eng.OnPhase = func(p engine.Phase) {
				if p != engine.PhasePaused {
					return
				}
				strategy := models.Strategy{FreeText: newStrategy, EquippedItems: b.strategy.EquippedItems}
				fmt.Fprintf(out, "--- paused; new strategy: %s\n", strategy.FreeText)
				if err := eng.Resume(strategy); err != nil {
					logger.Warn("resume failed", "error", err)
				}
			}
			eng.OnJudge = func(r models.JudgeResult) {
				s := eng.Snapshot().OpponentSanity
				fmt.Fprintf(out, "    judge: %s (%d) %s | sanity %d/%d\n", r.DamageType, r.Damage, r.Reasoning, s.Current, s.Max)
			}

			outcome, err := b.run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "=== Outcome: %s ===\n", describeOutcome(outcome))

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

	cmd.Flags().IntVar(&pauseAt, "pause-at", 0, "pause after the opponent's line on this turn")
	cmd.Flags().StringVar(&newStrategy, "new-strategy", "Change tack and be blunt.", "strategy used after --pause-at")
	return cmd
}

func printEntry(w io.Writer, e models.ConversationEntry) {
	fmt.Fprintf(w, "[%s] %s: %s\n", e.Timestamp, e.Speaker, e.DisplayText)
	if e.Thought != "" {
		fmt.Fprintf(w, "    (%s)\n", strings.TrimSpace(e.Thought))
	}
	if e.EvidenceID != "" {
		fmt.Fprintf(w, "    presents evidence: %s\n", e.EvidenceID)
	}
}
