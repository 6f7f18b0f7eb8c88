// Package engine runs persuasion battles: two conversation agents take turns
// while a judge scores the exchange in the background.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tatianab/silver-tongue/internal/llm"
	"github.com/tatianab/silver-tongue/internal/models"
)

var tracer = otel.Tracer("github.com/tatianab/silver-tongue/internal/engine")

var (
	ErrBattleFinished = errors.New("engine: battle finished")
	ErrNotPaused      = errors.New("engine: battle is not paused")

	errPaused = errors.New("engine: pause requested")
)

// Config describes one battle.
type Config struct {
	Player    models.Character
	Opponent  models.Character
	Strategy  models.Strategy
	MaxTurns  int
	MaxSanity int

	// AutoAdvance skips the wait for Advance between lines.
	AutoAdvance bool
	Logger      *slog.Logger
}

type generation struct {
	side models.Side
	ctx  context.Context
	done chan llm.Response
}

type judgeTask struct {
	done chan models.JudgeResult
}

// Engine is the turn orchestrator. Run owns all mutation of the battle state;
// the other exported methods are safe to call from any goroutine.
type Engine struct {
	backend     llm.Backend
	judge       *Evaluator
	player      models.Character
	opponent    models.Character
	agents      [2]*Agent
	autoAdvance bool
	logger      *slog.Logger

	mu      sync.RWMutex
	state   *models.BattleState
	phase   Phase
	outcome models.Outcome
	started bool

	advanceCh chan struct{}
	pauseCh   chan struct{}
	resumeCh  chan models.Strategy

	// Owned by the Run goroutine.
	segCtx       context.Context
	cancelSeg    context.CancelFunc
	pending      *generation
	pendingJudge *judgeTask

	// Callbacks run on the Run goroutine and must not block.
	OnPhase    func(Phase)
	OnDialogue func(models.ConversationEntry)
	OnThinking func(models.Side)
	OnJudge    func(models.JudgeResult)
	OnFinished func(models.Outcome)
}

// New prepares a battle. Nothing is sent to the backend until Run.
func New(backend llm.Backend, cfg Config) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("engine: nil backend")
	}
	if cfg.MaxTurns < 1 {
		return nil, fmt.Errorf("engine: max turns must be at least 1, got %d", cfg.MaxTurns)
	}
	if cfg.MaxSanity < 1 {
		return nil, fmt.Errorf("engine: max sanity must be at least 1, got %d", cfg.MaxSanity)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	state := models.NewBattleState(cfg.MaxTurns, cfg.MaxSanity, cfg.Player.LoseConditions, cfg.Opponent.LoseConditions)
	state.SetStrategy(cfg.Strategy)

	e := &Engine{
		backend:     backend,
		judge:       NewEvaluator(logger),
		player:      cfg.Player,
		opponent:    cfg.Opponent,
		autoAdvance: cfg.AutoAdvance,
		logger:      logger,
		state:       state,
		advanceCh:   make(chan struct{}, 1),
		pauseCh:     make(chan struct{}, 1),
		resumeCh:    make(chan models.Strategy, 1),
	}
	e.agents[models.PlayerSide] = NewAgent(cfg.Player.Name, llm.LabelPlayer,
		BuildPlayerPrompt(cfg.Player, cfg.Opponent, cfg.Strategy), cfg.Player.Effort())
	e.agents[models.OpponentSide] = NewAgent(cfg.Opponent.Name, llm.LabelOpponent,
		BuildOpponentPrompt(cfg.Player, cfg.Opponent), cfg.Opponent.Effort())
	return e, nil
}

func (e *Engine) Player() models.Character   { return e.player }
func (e *Engine) Opponent() models.Character { return e.opponent }

// Snapshot returns a deep copy of the current battle state.
func (e *Engine) Snapshot() models.BattleState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Snapshot()
}

func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Outcome is OutcomeNone until the battle has finished.
func (e *Engine) Outcome() models.Outcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outcome
}

// Advance lets the next line be shown. Presses made while a line is still
// pending are remembered, but only one.
func (e *Engine) Advance() error {
	if e.Phase() == PhaseFinished {
		return ErrBattleFinished
	}
	select {
	case e.advanceCh <- struct{}{}:
	default:
	}
	return nil
}

// Pause asks the loop to stop before the next line. The request is honored at
// the next point where the loop waits for a speaker.
func (e *Engine) Pause() error {
	switch e.Phase() {
	case PhaseFinished:
		return ErrBattleFinished
	case PhasePaused:
		return nil
	}
	select {
	case e.pauseCh <- struct{}{}:
	default:
	}
	return nil
}

// Resume continues a paused battle with a new strategy.
func (e *Engine) Resume(strategy models.Strategy) error {
	if e.Phase() != PhasePaused {
		return ErrNotPaused
	}
	select {
	case e.resumeCh <- strategy:
	default:
	}
	return nil
}

// Run plays the battle to completion and returns its outcome. It can be called once.
func (e *Engine) Run(ctx context.Context) (models.Outcome, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return models.OutcomeNone, errors.New("engine: battle already started")
	}
	e.started = true
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "battle.run", trace.WithAttributes(
		attribute.String("player", e.player.ID),
		attribute.String("opponent", e.opponent.ID),
		attribute.Int("max_turns", e.state.MaxTurns),
	))
	defer span.End()

	e.segCtx, e.cancelSeg = context.WithCancel(ctx)
	defer func() { e.cancelSeg() }()

	outcome, err := e.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.OutcomeNone, fmt.Errorf("engine: %w", err)
	}
	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int("turns", e.Snapshot().CurrentTurn),
	)
	return outcome, nil
}

func (e *Engine) run(ctx context.Context) (models.Outcome, error) {
	e.agents[models.OpponentSide].AddToHistory(llm.RoleUser, OpeningInstruction)
	e.pending = e.startGeneration(models.OpponentSide)
	if done, err := e.speak(ctx, models.OpponentSide, PhaseOpening, false); done || err != nil {
		return e.Outcome(), err
	}
	e.pending = e.startGeneration(models.PlayerSide)

	for e.currentTurn() <= e.state.MaxTurns {
		if e.tryApplyJudge() {
			return e.Outcome(), nil
		}

		if done, err := e.speak(ctx, models.PlayerSide, PhasePlayerTurn, true); done || err != nil {
			return e.Outcome(), err
		}
		e.pending = e.startGeneration(models.OpponentSide)

		if done, err := e.speak(ctx, models.OpponentSide, PhaseOpponentTurn, true); done || err != nil {
			return e.Outcome(), err
		}

		if e.currentTurn() >= e.state.MaxTurns {
			if e.pendingJudge != nil {
				if done, err := e.drainJudge(ctx); done || err != nil {
					return e.Outcome(), err
				}
			}
			e.setPhase(PhaseFinalVerdict)
			e.fireJudge(ctx)
			if done, err := e.drainJudge(ctx); done || err != nil {
				return e.Outcome(), err
			}
		} else {
			if e.pendingJudge == nil {
				e.setPhase(PhaseJudgeEvaluation)
				e.fireJudge(ctx)
			}
			e.pending = e.startGeneration(models.PlayerSide)
		}

		e.mutate(func(s *models.BattleState) { s.AdvanceTurn() })
	}

	return e.finish(e.timeoutOutcome()), nil
}

// speak waits for the user (when gated) and for the side's pending generation,
// then records the line. A pause at either wait restarts the generation with
// rebuilt prompts once resumed.
func (e *Engine) speak(ctx context.Context, side models.Side, phase Phase, gated bool) (bool, error) {
	for {
		var err error
		if gated && !e.autoAdvance {
			err = e.waitAdvance(ctx)
		} else if e.pauseRequested() {
			err = errPaused
		}
		if errors.Is(err, errPaused) {
			if err := e.pauseUntilResume(ctx, side); err != nil {
				return false, err
			}
			continue
		}
		if err != nil {
			return false, err
		}

		e.setPhase(phase)
		resp, err := e.awaitGeneration(ctx)
		if errors.Is(err, errPaused) {
			if err := e.pauseUntilResume(ctx, side); err != nil {
				return false, err
			}
			continue
		}
		if err != nil {
			return false, err
		}
		if !resp.Success {
			e.logger.Warn("generation failed, skipping line", "side", side, "turn", e.currentTurn(), "error", resp.Error)
			return false, nil
		}
		return e.record(side, phase, resp), nil
	}
}

func (e *Engine) waitAdvance(ctx context.Context) error {
	select {
	case <-e.advanceCh:
		return nil
	case <-e.pauseCh:
		return errPaused
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) pauseRequested() bool {
	select {
	case <-e.pauseCh:
		return true
	default:
		return false
	}
}

func (e *Engine) startGeneration(side models.Side) *generation {
	req := e.agents[side].Request()
	g := &generation{side: side, ctx: e.segCtx, done: make(chan llm.Response, 1)}
	go func() {
		g.done <- e.backend.GenerateResponse(g.ctx, req)
	}()
	return g
}

func (e *Engine) awaitGeneration(ctx context.Context) (llm.Response, error) {
	g := e.pending
	select {
	case resp := <-g.done:
		return e.arrived(g, resp)
	default:
	}

	if e.OnThinking != nil {
		e.OnThinking(g.side)
	}
	select {
	case resp := <-g.done:
		return e.arrived(g, resp)
	case <-e.pauseCh:
		return llm.Response{}, errPaused
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	}
}

// arrived discards results whose segment was cancelled while they were in flight.
func (e *Engine) arrived(g *generation, resp llm.Response) (llm.Response, error) {
	if err := g.ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	return resp, nil
}

func (e *Engine) pauseUntilResume(ctx context.Context, side models.Side) error {
	e.cancelSeg()
	drain(e.resumeCh)
	prev := e.Phase()
	e.setPhase(PhasePaused)
	e.logger.Info("battle paused", "turn", e.currentTurn(), "next_speaker", side)

	var strategy models.Strategy
	select {
	case strategy = <-e.resumeCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mutate(func(s *models.BattleState) { s.SetStrategy(strategy) })
	e.agents[models.PlayerSide].UpdateSystemPrompt(BuildPlayerPrompt(e.player, e.opponent, strategy))
	e.agents[models.OpponentSide].UpdateSystemPrompt(BuildOpponentPrompt(e.player, e.opponent))

	e.segCtx, e.cancelSeg = context.WithCancel(ctx)
	drain(e.advanceCh)
	drain(e.pauseCh)
	e.pending = e.startGeneration(side)

	e.logger.Info("battle resumed", "turn", e.currentTurn(), "items", len(strategy.EquippedItems))
	e.setPhase(prev)
	return nil
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// record stores a successful line in both agents and the transcript, then runs
// the fast checks. It reports whether the battle ended.
func (e *Engine) record(side models.Side, phase Phase, resp llm.Response) bool {
	content := CleanDialogue(resp.Content)
	display, tags := StripTags(content)

	speaker := e.agents[side]
	speaker.AddToHistory(llm.RoleModel, content)
	e.agents[side.Other()].AddToHistory(llm.RoleUser, content)

	thought := resp.ThoughtSummary
	if thought == "" {
		thought = tags.InnerThought
	}

	var entry models.ConversationEntry
	e.mutate(func(s *models.BattleState) {
		entry = models.ConversationEntry{
			Speaker:      speaker.Name,
			DisplayText:  display,
			RawText:      content,
			Timestamp:    fmt.Sprintf("Turn %d (%s)", s.CurrentTurn, phase),
			IsPlayerSide: side == models.PlayerSide,
			EvidenceID:   tags.EvidenceUsed,
			Emotion:      tags.Emotion,
			Thought:      thought,
		}
		s.AddConversationEntry(entry)
	})
	if e.OnDialogue != nil {
		e.OnDialogue(entry)
	}

	switch {
	case tags.AcceptDefeat:
		e.finish(concededOutcome(side))
		return true
	case CheckLoseConditionsByKeyword(e.character(side).LoseConditions, display):
		e.finish(keywordOutcome(side))
		return true
	}
	return false
}

func (e *Engine) character(side models.Side) models.Character {
	if side == models.PlayerSide {
		return e.player
	}
	return e.opponent
}

func concededOutcome(side models.Side) models.Outcome {
	if side == models.PlayerSide {
		return models.OutcomePlayerConceded
	}
	return models.OutcomeOpponentConceded
}

func keywordOutcome(side models.Side) models.Outcome {
	if side == models.PlayerSide {
		return models.OutcomePlayerKeyword
	}
	return models.OutcomeOpponentKeyword
}

// fireJudge starts an evaluation of the transcript so far. Callers ensure no
// other evaluation is pending.
func (e *Engine) fireJudge(ctx context.Context) {
	snap := e.Snapshot()
	in := JudgeInput{
		Transcript:         snap.ConversationHistory,
		PlayerName:         e.player.Name,
		OpponentName:       e.opponent.Name,
		PlayerConditions:   snap.PlayerConditions,
		OpponentConditions: snap.OpponentConditions,
		Sanity:             snap.OpponentSanity,
	}

	task := &judgeTask{done: make(chan models.JudgeResult, 1)}
	e.pendingJudge = task
	go func() {
		ctx, span := tracer.Start(ctx, "battle.judge", trace.WithAttributes(attribute.Int("turn", snap.CurrentTurn)))
		defer span.End()
		r := e.judge.Evaluate(ctx, e.backend, in)
		span.SetAttributes(attribute.Int("damage", r.Damage), attribute.String("damage_type", r.DamageType))
		task.done <- r
	}()
}

// tryApplyJudge applies the pending evaluation only if it has completed.
func (e *Engine) tryApplyJudge() bool {
	if e.pendingJudge == nil {
		return false
	}
	select {
	case r := <-e.pendingJudge.done:
		e.pendingJudge = nil
		return e.applyJudge(r)
	default:
		return false
	}
}

func (e *Engine) drainJudge(ctx context.Context) (bool, error) {
	select {
	case r := <-e.pendingJudge.done:
		e.pendingJudge = nil
		return e.applyJudge(r), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// applyJudge merges conditions and damage, then checks for an ending: depleted
// sanity first, then the player having met every one of their own conditions.
func (e *Engine) applyJudge(r models.JudgeResult) bool {
	var (
		sanity            models.Sanity
		playerMet, oppMet int
		playerAll         bool
		nPlayer, nOpp     int
	)
	e.mutate(func(s *models.BattleState) {
		s.SetLastJudgeResult(r)
		s.MergeConditions(models.PlayerSide, r.PlayerConditions)
		s.MergeConditions(models.OpponentSide, r.OpponentConditions)
		s.ApplyDamage(r.SignedDamage())
		sanity = s.OpponentSanity
		playerMet, oppMet = s.MetConditionCount(models.PlayerSide), s.MetConditionCount(models.OpponentSide)
		nPlayer, nOpp = len(s.PlayerConditions), len(s.OpponentConditions)
		playerAll = s.AllConditionsMet(models.PlayerSide)
	})

	e.logger.Info("judge applied",
		"damage", r.Damage,
		"damage_type", r.DamageType,
		"delta", r.SignedDamage(),
		"sanity", fmt.Sprintf("%d/%d", sanity.Current, sanity.Max),
		"player_conditions_met", fmt.Sprintf("%d/%d", playerMet, nPlayer),
		"opponent_conditions_met", fmt.Sprintf("%d/%d", oppMet, nOpp),
	)
	if e.OnJudge != nil {
		e.OnJudge(r)
	}

	switch {
	case sanity.Current <= 0:
		e.finish(models.OutcomeSanityDepleted)
		return true
	case playerAll:
		e.finish(models.OutcomePlayerConditions)
		return true
	}
	return false
}

// timeoutOutcome favors the player when the opponent is below half sanity.
func (e *Engine) timeoutOutcome() models.Outcome {
	s := e.Snapshot().OpponentSanity
	if s.Current*2 < s.Max {
		return models.OutcomeTimeoutWin
	}
	return models.OutcomeTimeoutLoss
}

func (e *Engine) finish(o models.Outcome) models.Outcome {
	e.mu.Lock()
	e.outcome = o
	e.phase = PhaseFinished
	turn := e.state.CurrentTurn
	e.mu.Unlock()

	e.logger.Info("battle finished", "outcome", o, "player_won", o.PlayerWon(), "turn", turn)
	if e.OnPhase != nil {
		e.OnPhase(PhaseFinished)
	}
	if e.OnFinished != nil {
		e.OnFinished(o)
	}
	return o
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
	e.logger.Debug("phase", "phase", p, "turn", e.currentTurn())
	if e.OnPhase != nil {
		e.OnPhase(p)
	}
}

func (e *Engine) currentTurn() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.CurrentTurn
}

func (e *Engine) mutate(fn func(*models.BattleState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}
