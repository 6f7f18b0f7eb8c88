package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tatianab/silver-tongue/internal/llm"
	"github.com/tatianab/silver-tongue/internal/models"
)

func ok(content string) llm.Response {
	return llm.Response{Success: true, Content: content}
}

func judgeJSON(damage int, damageType string) string {
	return `{"player_conditions": [], "opponent_conditions": [], "damage": ` +
		strconv.Itoa(damage) + `, "damage_type": "` + damageType + `", "reasoning": "test"}`
}

func scripted(player, opponent, judge []string) *llm.Mock {
	return &llm.Mock{Scripts: map[string][]string{
		llm.LabelPlayer:   player,
		llm.LabelOpponent: opponent,
		llm.LabelJudge:    judge,
	}}
}

func newEngine(t *testing.T, backend llm.Backend, maxTurns int) *Engine {
	t.Helper()
	player, opponent := testCharacters()
	e, err := New(backend, Config{
		Player:      player,
		Opponent:    opponent,
		MaxTurns:    maxTurns,
		MaxSanity:   100,
		AutoAdvance: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func runBattle(t *testing.T, e *Engine) models.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	outcome, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return outcome
}

func TestNewValidates(t *testing.T) {
	player, opponent := testCharacters()
	if _, err := New(nil, Config{MaxTurns: 1, MaxSanity: 1}); err == nil {
		t.Error("expected error for nil backend")
	}
	mock := llm.NewMock(0)
	if _, err := New(mock, Config{Player: player, Opponent: opponent, MaxTurns: 0, MaxSanity: 100}); err == nil {
		t.Error("expected error for zero max turns")
	}
	if _, err := New(mock, Config{Player: player, Opponent: opponent, MaxTurns: 3, MaxSanity: 0}); err == nil {
		t.Error("expected error for zero max sanity")
	}
}

func TestTimeoutLossWhenNoDamage(t *testing.T) {
	mock := scripted([]string{"Please listen."}, []string{"Never."}, []string{judgeJSON(0, "Ineffective")})
	e := newEngine(t, mock, 2)

	if got := runBattle(t, e); got != models.OutcomeTimeoutLoss {
		t.Fatalf("outcome = %s, want %s", got, models.OutcomeTimeoutLoss)
	}
	s := e.Snapshot()
	if s.OpponentSanity.Current != 100 {
		t.Errorf("sanity = %d, want 100", s.OpponentSanity.Current)
	}
	if s.CurrentTurn != 3 {
		t.Errorf("turn = %d, want 3", s.CurrentTurn)
	}
	// Opening plus two exchanges.
	if len(s.ConversationHistory) != 5 {
		t.Errorf("transcript has %d entries, want 5", len(s.ConversationHistory))
	}
	if n := mock.CallCount(llm.LabelJudge); n != 2 {
		t.Errorf("judge called %d times, want 2", n)
	}
	if e.Phase() != PhaseFinished || e.Outcome() != models.OutcomeTimeoutLoss {
		t.Errorf("phase=%s outcome=%s after run", e.Phase(), e.Outcome())
	}
}

func TestTimeoutWinBelowHalfSanity(t *testing.T) {
	mock := scripted([]string{"Please listen."}, []string{"Never."}, []string{judgeJSON(30, models.DamageNormalHit)})
	e := newEngine(t, mock, 2)
	if got := runBattle(t, e); got != models.OutcomeTimeoutWin {
		t.Fatalf("outcome = %s, want %s", got, models.OutcomeTimeoutWin)
	}
	if s := e.Snapshot(); s.OpponentSanity.Current != 40 {
		t.Errorf("sanity = %d, want 40", s.OpponentSanity.Current)
	}
}

func TestSanityDepletedEndsBattleEarly(t *testing.T) {
	mock := scripted([]string{"Look at this."}, []string{"No!"}, []string{
		judgeJSON(60, models.DamageCriticalHit),
		judgeJSON(50, models.DamageCriticalHit),
	})
	e := newEngine(t, mock, 5)

	if got := runBattle(t, e); got != models.OutcomeSanityDepleted {
		t.Fatalf("outcome = %s, want %s", got, models.OutcomeSanityDepleted)
	}
	s := e.Snapshot()
	if s.OpponentSanity.Current != 0 {
		t.Errorf("sanity = %d, want 0", s.OpponentSanity.Current)
	}
	if s.CurrentTurn > s.MaxTurns {
		t.Errorf("battle reached turn %d, past max %d", s.CurrentTurn, s.MaxTurns)
	}
	if n := mock.CallCount(llm.LabelJudge); n != 2 {
		t.Errorf("judge called %d times, want 2", n)
	}
}

func TestKeywordLossBypassesJudge(t *testing.T) {
	mock := scripted(
		[]string{"Fine. I GIVE UP ON YOU, demon."},
		[]string{"Hah."},
		[]string{judgeJSON(50, models.DamageCriticalHit)},
	)
	e := newEngine(t, mock, 3)

	if got := runBattle(t, e); got != models.OutcomePlayerKeyword {
		t.Fatalf("outcome = %s, want %s", got, models.OutcomePlayerKeyword)
	}
	if n := mock.CallCount(llm.LabelJudge); n != 0 {
		t.Errorf("judge called %d times, want 0", n)
	}
	s := e.Snapshot()
	if len(s.ConversationHistory) != 2 {
		t.Errorf("transcript has %d entries, want 2", len(s.ConversationHistory))
	}
	if s.OpponentSanity.Current != 100 {
		t.Errorf("sanity changed to %d", s.OpponentSanity.Current)
	}
}

func TestOpponentKeywordAndConcession(t *testing.T) {
	mock := scripted([]string{"Hi."}, []string{"Very well... I admit I am lonely."}, []string{judgeJSON(0, "Ineffective")})
	e := newEngine(t, mock, 3)
	if got := runBattle(t, e); got != models.OutcomeOpponentKeyword {
		t.Errorf("outcome = %s, want %s", got, models.OutcomeOpponentKeyword)
	}

	mock = scripted([]string{"Hi."}, []string{"You win. <accept_defeat/> <emotion=sad>"}, []string{judgeJSON(0, "Ineffective")})
	e = newEngine(t, mock, 3)
	if got := runBattle(t, e); got != models.OutcomeOpponentConceded {
		t.Errorf("outcome = %s, want %s", got, models.OutcomeOpponentConceded)
	}
	entry := e.Snapshot().ConversationHistory[0]
	if entry.DisplayText != "You win." || entry.Emotion != models.EmotionSad {
		t.Errorf("unexpected opening entry: %+v", entry)
	}
	if entry.Timestamp != "Turn 1 (Opening)" {
		t.Errorf("timestamp = %q", entry.Timestamp)
	}
}

func TestPlayerConcession(t *testing.T) {
	mock := scripted([]string{"I yield. <accept_defeat/>"}, []string{"Hah."}, []string{judgeJSON(0, "Ineffective")})
	e := newEngine(t, mock, 3)
	if got := runBattle(t, e); got != models.OutcomePlayerConceded {
		t.Errorf("outcome = %s, want %s", got, models.OutcomePlayerConceded)
	}
}

func TestGarbledJudgeFallsBack(t *testing.T) {
	mock := scripted([]string{"Think about it."}, []string{"Hmm."}, []string{`verdict!! "damage": 25 ... [connection reset`})
	e := newEngine(t, mock, 2)

	if got := runBattle(t, e); got != models.OutcomeTimeoutLoss {
		t.Fatalf("outcome = %s, want %s", got, models.OutcomeTimeoutLoss)
	}
	s := e.Snapshot()
	if s.OpponentSanity.Current != 50 {
		t.Errorf("sanity = %d, want 50", s.OpponentSanity.Current)
	}
	for _, c := range append(s.PlayerConditions, s.OpponentConditions...) {
		if c.IsMet {
			t.Errorf("condition %q changed without a verdict", c.ConditionText)
		}
	}
	if s.LastJudgeResult == nil || s.LastJudgeResult.Reasoning != judgePartialReasoning {
		t.Errorf("unexpected last judge result: %+v", s.LastJudgeResult)
	}
}

func TestTrapHealsOpponent(t *testing.T) {
	mock := scripted([]string{"Argument."}, []string{"Counter."}, []string{
		judgeJSON(30, models.DamageNormalHit),
		judgeJSON(10, models.DamageTrapTrigger),
	})
	e := newEngine(t, mock, 2)
	runBattle(t, e)
	if s := e.Snapshot(); s.OpponentSanity.Current != 80 {
		t.Errorf("sanity = %d, want 80", s.OpponentSanity.Current)
	}
}

func TestPlayerConditionsMetEndsBattle(t *testing.T) {
	verdict := `{"player_conditions": [{"index": 0, "is_met": true, "reasoning": "gave up"}], "opponent_conditions": [{"index": 1, "is_met": true, "reasoning": "friends"}], "damage": 0}`
	mock := scripted([]string{"Whatever."}, []string{"Hah."}, []string{verdict})
	e := newEngine(t, mock, 4)

	if got := runBattle(t, e); got != models.OutcomePlayerConditions {
		t.Fatalf("outcome = %s, want %s", got, models.OutcomePlayerConditions)
	}
	s := e.Snapshot()
	if !s.PlayerConditions[0].IsMet || s.PlayerConditions[0].MetOnTurn < 1 {
		t.Errorf("player condition not stamped: %+v", s.PlayerConditions[0])
	}
	if !s.OpponentConditions[1].IsMet || s.OpponentConditions[0].IsMet {
		t.Errorf("unexpected opponent conditions: %+v", s.OpponentConditions)
	}
}

func TestEmptyConditionsNeverEndBattle(t *testing.T) {
	player, opponent := testCharacters()
	player.LoseConditions = nil
	opponent.LoseConditions = nil
	mock := scripted([]string{"Hi."}, []string{"Hello."}, []string{judgeJSON(0, "Ineffective")})
	e, err := New(mock, Config{Player: player, Opponent: opponent, MaxTurns: 2, MaxSanity: 100, AutoAdvance: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := runBattle(t, e); got != models.OutcomeTimeoutLoss {
		t.Errorf("outcome = %s, want %s", got, models.OutcomeTimeoutLoss)
	}
}

func TestFailedGenerationSkipsLine(t *testing.T) {
	backend := llm.BackendFunc(func(_ context.Context, req llm.Request) llm.Response {
		switch req.Label {
		case llm.LabelOpponent:
			return llm.Failed("503 overloaded")
		case llm.LabelPlayer:
			return ok("Still here.")
		default:
			return llm.Failed("judge down")
		}
	})
	e := newEngine(t, backend, 2)
	if got := runBattle(t, e); got != models.OutcomeTimeoutLoss {
		t.Fatalf("outcome = %s", got)
	}
	s := e.Snapshot()
	if len(s.ConversationHistory) != 2 {
		t.Errorf("transcript has %d entries, want 2", len(s.ConversationHistory))
	}
	for _, entry := range s.ConversationHistory {
		if !entry.IsPlayerSide {
			t.Errorf("unexpected opponent entry %+v", entry)
		}
	}
	if s.LastJudgeResult == nil || s.LastJudgeResult.Reasoning != judgeFailedReasoning {
		t.Errorf("unexpected judge result: %+v", s.LastJudgeResult)
	}
}

func TestHistoryIsMirrored(t *testing.T) {
	var mu sync.Mutex
	var playerReqs []llm.Request
	backend := llm.BackendFunc(func(_ context.Context, req llm.Request) llm.Response {
		switch req.Label {
		case llm.LabelPlayer:
			mu.Lock()
			playerReqs = append(playerReqs, req)
			mu.Unlock()
			return ok("[Thought Process] hmm\nPlayer line. <evidence_used=ev_diary>")
		case llm.LabelOpponent:
			return ok("Opponent line.")
		default:
			return ok(judgeJSON(0, "Ineffective"))
		}
	})
	e := newEngine(t, backend, 2)
	runBattle(t, e)

	mu.Lock()
	defer mu.Unlock()
	if len(playerReqs) != 2 {
		t.Fatalf("expected 2 player requests, got %d", len(playerReqs))
	}
	h := playerReqs[1].History
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "Opponent line."},
		{Role: llm.RoleModel, Content: "Player line. <evidence_used=ev_diary>"},
		{Role: llm.RoleUser, Content: "Opponent line."},
	}
	if len(h) != len(want) {
		t.Fatalf("history = %+v", h)
	}
	for i := range want {
		if h[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, h[i], want[i])
		}
	}
	entry := e.Snapshot().ConversationHistory[1]
	if entry.DisplayText != "Player line." || entry.EvidenceID != "ev_diary" || entry.Timestamp != "Turn 1 (Player Turn)" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestPauseResumeRebuildsPlayerPrompt(t *testing.T) {
	backend := llm.BackendFunc(func(_ context.Context, req llm.Request) llm.Response {
		switch req.Label {
		case llm.LabelPlayer:
			if strings.Contains(req.SystemPrompt, "NEW PLAN") {
				return ok("Line from the new plan.")
			}
			return ok("Line from the old plan.")
		case llm.LabelOpponent:
			return ok("Never!")
		default:
			return ok(judgeJSON(0, "Ineffective"))
		}
	})
	player, opponent := testCharacters()
	e, err := New(backend, Config{
		Player:      player,
		Opponent:    opponent,
		Strategy:    models.Strategy{FreeText: "OLD PLAN"},
		MaxTurns:    3,
		MaxSanity:   100,
		AutoAdvance: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	pauses := 0
	e.OnDialogue = func(entry models.ConversationEntry) {
		if !entry.IsPlayerSide && entry.Timestamp == "Turn 1 (Opponent Turn)" {
			if err := e.Pause(); err != nil {
				t.Errorf("Pause: %v", err)
			}
		}
	}
	e.OnPhase = func(p Phase) {
		if p != PhasePaused {
			return
		}
		pauses++
		if err := e.Resume(models.Strategy{FreeText: "NEW PLAN"}); err != nil {
			t.Errorf("Resume: %v", err)
		}
	}
	runBattle(t, e)

	if pauses != 1 {
		t.Errorf("paused %d times, want 1", pauses)
	}
	s := e.Snapshot()
	if s.Strategy.FreeText != "NEW PLAN" {
		t.Errorf("strategy = %q", s.Strategy.FreeText)
	}
	var lines []string
	for i, entry := range s.ConversationHistory {
		lines = append(lines, entry.DisplayText)
		if i > 0 && entry.IsPlayerSide == s.ConversationHistory[i-1].IsPlayerSide {
			t.Errorf("entries %d and %d are from the same side", i-1, i)
		}
	}
	want := []string{
		"Never!",
		"Line from the old plan.", "Never!",
		"Line from the new plan.", "Never!",
		"Line from the new plan.", "Never!",
	}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("transcript = %q, want %q", lines, want)
	}
}

func TestPauseResumeErrors(t *testing.T) {
	mock := scripted([]string{"Hi."}, []string{"Hello."}, []string{judgeJSON(0, "Ineffective")})
	e := newEngine(t, mock, 1)
	if err := e.Resume(models.Strategy{}); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume before pause = %v, want ErrNotPaused", err)
	}
	runBattle(t, e)
	if err := e.Advance(); !errors.Is(err, ErrBattleFinished) {
		t.Errorf("Advance after finish = %v", err)
	}
	if err := e.Pause(); !errors.Is(err, ErrBattleFinished) {
		t.Errorf("Pause after finish = %v", err)
	}
	if _, err := e.Run(context.Background()); err == nil {
		t.Error("expected error running a battle twice")
	}
}

func TestManualAdvance(t *testing.T) {
	mock := scripted([]string{"Hi."}, []string{"Hello."}, []string{judgeJSON(10, models.DamageNormalHit)})
	player, opponent := testCharacters()
	e, err := New(mock, Config{Player: player, Opponent: opponent, MaxTurns: 2, MaxSanity: 100})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			if err := e.Advance(); errors.Is(err, ErrBattleFinished) {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	outcome, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-done
	if outcome != models.OutcomeTimeoutLoss {
		t.Errorf("outcome = %s", outcome)
	}
	if n := len(e.Snapshot().ConversationHistory); n != 5 {
		t.Errorf("transcript has %d entries, want 5", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	mock := scripted([]string{"Hi."}, []string{"Hello."}, []string{judgeJSON(0, "Ineffective")})
	player, opponent := testCharacters()
	e, err := New(mock, Config{Player: player, Opponent: opponent, MaxTurns: 2, MaxSanity: 100})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.OnDialogue = func(models.ConversationEntry) { cancel() }

	_, err = e.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestAtMostOneJudgeInFlight(t *testing.T) {
	for seed := range uint64(25) {
		rng := rand.New(rand.NewPCG(seed, 7))
		var rngMu sync.Mutex
		jitter := func() time.Duration {
			rngMu.Lock()
			defer rngMu.Unlock()
			return time.Duration(rng.IntN(1500)) * time.Microsecond
		}

		var inFlight, maxInFlight, judgeCalls atomic.Int32
		backend := llm.BackendFunc(func(ctx context.Context, req llm.Request) llm.Response {
			if req.Label == llm.LabelJudge {
				judgeCalls.Add(1)
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
			}
			select {
			case <-time.After(jitter()):
			case <-ctx.Done():
				return llm.Failed(ctx.Err().Error())
			}
			switch req.Label {
			case llm.LabelJudge:
				return ok(judgeJSON(5, models.DamageNormalHit))
			case llm.LabelPlayer:
				return ok("A point.")
			default:
				return ok("A rebuttal.")
			}
		})

		e := newEngine(t, backend, 6)
		var turns []int
		e.OnPhase = func(Phase) { turns = append(turns, e.Snapshot().CurrentTurn) }
		runBattle(t, e)

		if m := maxInFlight.Load(); m > 1 {
			t.Fatalf("seed %d: %d judge evaluations in flight at once", seed, m)
		}
		if judgeCalls.Load() < 1 || judgeCalls.Load() > 6 {
			t.Errorf("seed %d: %d judge calls", seed, judgeCalls.Load())
		}
		for i := 1; i < len(turns); i++ {
			if d := turns[i] - turns[i-1]; d < 0 || d > 1 {
				t.Fatalf("seed %d: turn moved from %d to %d", seed, turns[i-1], turns[i])
			}
		}
		if got := e.Snapshot().CurrentTurn; got != 7 {
			t.Errorf("seed %d: final turn = %d, want 7", seed, got)
		}
	}
}
