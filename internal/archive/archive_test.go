package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tatianab/silver-tongue/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "battles.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	state := models.NewBattleState(3, 100, []string{"I give up"}, nil)
	state.ApplyDamage(70)
	state.AddConversationEntry(models.ConversationEntry{Speaker: "Demon King", DisplayText: "Begone.", Timestamp: "Turn 1 (Opening)"})
	state.AddConversationEntry(models.ConversationEntry{Speaker: "Kenta", DisplayText: "No.", IsPlayerSide: true, EvidenceID: "ev_diary"})
	state.CurrentTurn = 4

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := FromState("kenta", "demon_king", models.OutcomeTimeoutWin, started, started.Add(time.Minute), state.Snapshot())
	if rec.Turns != 3 {
		t.Errorf("turns = %d, want capped at 3", rec.Turns)
	}

	id, err := store.Record(ctx, rec)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Outcome != models.OutcomeTimeoutWin || got.FinalSanity != 30 || got.MaxSanity != 100 {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started = %s", got.StartedAt)
	}
	if len(got.Transcript) != 2 || got.Transcript[1].EvidenceID != "ev_diary" || !got.Transcript[1].IsPlayerSide {
		t.Errorf("transcript = %+v", got.Transcript)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, outcome := range []models.Outcome{models.OutcomeTimeoutLoss, models.OutcomeSanityDepleted, models.OutcomePlayerKeyword} {
		_, err := store.Record(ctx, Record{
			StartedAt:  base,
			FinishedAt: base.Add(time.Duration(i) * time.Hour),
			PlayerID:   "kenta",
			OpponentID: "demon_king",
			Outcome:    outcome,
			MaxSanity:  100,
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	got, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Outcome != models.OutcomePlayerKeyword || got[1].Outcome != models.OutcomeSanityDepleted {
		t.Errorf("order = %s, %s", got[0].Outcome, got[1].Outcome)
	}
}

func TestRecordValidation(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Record(context.Background(), Record{}); err == nil {
		t.Error("expected error for missing outcome")
	}
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Error("expected error for blank path")
	}
}
