package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tatianab/silver-tongue/internal/archive"
	"github.com/tatianab/silver-tongue/internal/config"
	"github.com/tatianab/silver-tongue/internal/content"
	"github.com/tatianab/silver-tongue/internal/engine"
	"github.com/tatianab/silver-tongue/internal/llm"
	"github.com/tatianab/silver-tongue/internal/models"
	"github.com/tatianab/silver-tongue/internal/telemetry"
)

const serviceName = "silvertongue"

// mockDisplayDelay paces the demo backend so the TUI spinner is visible.
const mockDisplayDelay = 400 * time.Millisecond

// battle is a fully wired engine plus everything that must be released after it.
type battle struct {
	cfg       *config.Config
	engine    *engine.Engine
	strategy  models.Strategy
	logger    *slog.Logger
	startedAt time.Time
	closers   []func() error
}

func (o *options) loadConfig(needBackend bool) (*config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	if o.maxTurns != 0 {
		cfg.MaxTurns = o.maxTurns
	}
	if o.maxSanity != 0 {
		cfg.MaxSanity = o.maxSanity
	}
	if err := cfg.Validate(needBackend && !o.mock); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRoster(cfg *config.Config) (*models.Roster, error) {
	if cfg.ContentDir == "" {
		return content.Default()
	}
	return models.LoadRoster(os.DirFS(cfg.ContentDir))
}

func (o *options) logLevel() slog.Level {
	if o.verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// newBattle resolves characters and items, connects the backend and builds the
// engine. The caller must call close.
func (o *options) newBattle(ctx context.Context, cfg *config.Config, logger *slog.Logger, autoAdvance bool, mockDelay time.Duration) (*battle, error) {
	roster, err := loadRoster(cfg)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	player, err := roster.Character(o.player)
	if err != nil {
		return nil, err
	}
	opponent, err := roster.Character(o.opponent)
	if err != nil {
		return nil, err
	}
	items, err := roster.Items(o.items...)
	if err != nil {
		return nil, err
	}

	b := &battle{
		cfg:      cfg,
		strategy: models.Strategy{FreeText: o.strategy, EquippedItems: items},
		logger:   logger,
	}

	shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	var backend llm.Backend
	if o.mock {
		backend = llm.NewMock(mockDelay)
	} else {
		g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, llm.RetryPolicy{
			MaxRetries:   cfg.RetryCount,
			InitialDelay: cfg.RetryDelay,
			Timeout:      cfg.Timeout,
		}, logger)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, g.Close)
		backend = g
	}

	b.engine, err = engine.New(backend, engine.Config{
		Player:      player,
		Opponent:    opponent,
		Strategy:    b.strategy,
		MaxTurns:    cfg.MaxTurns,
		MaxSanity:   cfg.MaxSanity,
		AutoAdvance: autoAdvance,
		Logger:      logger,
	})
	if err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

func (b *battle) run(ctx context.Context) (models.Outcome, error) {
	b.startedAt = time.Now()
	return b.engine.Run(ctx)
}

// record stores a finished battle and returns its archive id.
func (b *battle) record(ctx context.Context, outcome models.Outcome) (string, error) {
	if outcome == models.OutcomeNone {
		return "", errors.New("battle did not finish")
	}
	store, err := archive.Open(ctx, b.cfg.ArchivePath)
	if err != nil {
		return "", err
	}
	defer store.Close()

	rec := archive.FromState(b.engine.Player().ID, b.engine.Opponent().ID, outcome,
		b.startedAt, time.Now(), b.engine.Snapshot())
	return store.Record(ctx, rec)
}

func (b *battle) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Warn("cleanup failed", "error", err)
		}
	}
	b.closers = nil
}

func describeOutcome(o models.Outcome) string {
	if o.PlayerWon() {
		return string(o) + " (player wins)"
	}
	return string(o) + " (opponent wins)"
}
