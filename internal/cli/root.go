// Package cli wires configuration, the roster, the LLM backend and the
// battle archive into the silvertongue commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

type options struct {
	mock      bool
	envFile   string
	maxTurns  int
	maxSanity int
	player    string
	opponent  string
	strategy  string
	items     []string
	noArchive bool
	verbose   bool
}

const defaultStrategy = "Be sincere and look for what they are hiding."

// NewRootCommand builds the command tree. Each call returns independent flag state.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "silvertongue",
		Short:         "A turn-based persuasion battle between two LLM characters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&opts.mock, "mock", false, "use the scripted demo backend instead of Gemini")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.IntVar(&opts.maxTurns, "max-turns", 0, "turn limit (default from SILVERTONGUE_MAX_TURNS)")
	flags.IntVar(&opts.maxSanity, "max-sanity", 0, "opponent starting sanity (default from SILVERTONGUE_MAX_SANITY)")
	flags.StringVar(&opts.player, "player", "kenta", "player character id")
	flags.StringVar(&opts.opponent, "opponent", "demon_king", "opponent character id")
	flags.StringVar(&opts.strategy, "strategy", defaultStrategy, "the player's opening strategy")
	flags.StringSliceVar(&opts.items, "items", nil, "comma-separated evidence item ids to equip")
	flags.BoolVar(&opts.noArchive, "no-archive", false, "do not record the battle in the archive")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newPlayCommand(opts),
		newSimulateCommand(opts),
		newRosterCommand(opts),
		newHistoryCommand(opts),
	)
	return root
}

// Execute runs the root command with args from the process.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
