package engine

import (
	"context"
	"testing"

	"github.com/tatianab/silver-tongue/internal/llm"
	"github.com/tatianab/silver-tongue/internal/models"
)

func TestCleanDialogue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Hello there.  ", "Hello there."},
		{"[Thought Process] plan it out\nActual line.", "Actual line."},
		{"[Thought Process] a\n[Thought Process] b\nLine.", "Line."},
		{"[Thought Process] nothing after", "[Thought Process] nothing after"},
		{"[Thought Process] trailing newline\n", "[Thought Process] trailing newline"},
		{"No preamble [Thought Process] here\nsecond", "No preamble [Thought Process] here\nsecond"},
		{"", ""},
	}
	for _, tt := range tests {
		got := CleanDialogue(tt.in)
		if got != tt.want {
			t.Errorf("CleanDialogue(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := CleanDialogue(got); again != got {
			t.Errorf("CleanDialogue not idempotent for %q: %q then %q", tt.in, got, again)
		}
	}
}

func TestStripTags(t *testing.T) {
	raw := "<inner_thought>Go for the diary.</inner_thought>I read your diary. <evidence_used=ev_diary> <emotion=Smug> <accept_defeat />"
	clean, tags := StripTags(raw)
	if clean != "I read your diary." {
		t.Errorf("clean = %q", clean)
	}
	if !tags.AcceptDefeat {
		t.Error("expected AcceptDefeat")
	}
	if tags.EvidenceUsed != "ev_diary" {
		t.Errorf("EvidenceUsed = %q", tags.EvidenceUsed)
	}
	if tags.InnerThought != "Go for the diary." {
		t.Errorf("InnerThought = %q", tags.InnerThought)
	}
	if tags.Emotion != models.EmotionSmug {
		t.Errorf("Emotion = %q", tags.Emotion)
	}
}

func TestStripTagsAbsentAndMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"Plain line.",
		"Broken <evidence_used= tag",
		"<inner_thought>never closed",
		"<emotion=furious> Unknown emotion.",
	} {
		_, tags := StripTags(raw)
		if tags.AcceptDefeat || tags.InnerThought != "" {
			t.Errorf("StripTags(%q) found tags: %+v", raw, tags)
		}
		if tags.Emotion != models.EmotionNeutral {
			t.Errorf("StripTags(%q) emotion = %q, want neutral", raw, tags.Emotion)
		}
	}
}

func TestStripTagsIdempotent(t *testing.T) {
	for _, raw := range []string{
		"Hello <accept_defeat/> world",
		"<accept_<evidence_used=x>defeat/> spliced",
		"a  <emotion=sad>  b",
		"   ",
		"<inner_thought>x</inner_thought><inner_thought>y</inner_thought>z",
		"[Thought Process] keep\nthis",
	} {
		once, _ := StripTags(raw)
		twice, _ := StripTags(once)
		if once != twice {
			t.Errorf("StripTags not idempotent for %q: %q then %q", raw, once, twice)
		}
	}
}

func TestAgentRequestIsACopy(t *testing.T) {
	a := NewAgent("Kenta", llm.LabelPlayer, "prompt v1", models.EffortMedium)
	a.AddToHistory(llm.RoleUser, "hi")
	req := a.Request()

	a.AddToHistory(llm.RoleModel, "hello")
	a.UpdateSystemPrompt("prompt v2")

	if len(req.History) != 1 || req.SystemPrompt != "prompt v1" {
		t.Errorf("request changed after agent mutation: %+v", req)
	}
	if req.ThinkingEffort != models.EffortMedium || req.Label != llm.LabelPlayer {
		t.Errorf("unexpected request metadata: %+v", req)
	}
	if len(a.History()) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(a.History()))
	}
}

func TestAgentGenerateLeavesHistoryAlone(t *testing.T) {
	a := NewAgent("Kenta", llm.LabelPlayer, "prompt", models.EffortLow)
	a.AddToHistory(llm.RoleUser, "opening")
	backend := llm.BackendFunc(func(_ context.Context, req llm.Request) llm.Response {
		if len(req.History) != 1 {
			t.Errorf("expected 1 history message, got %d", len(req.History))
		}
		return llm.Failed("boom")
	})
	resp := a.GenerateResponse(context.Background(), backend)
	if resp.Success {
		t.Fatal("expected failure")
	}
	if len(a.History()) != 1 {
		t.Errorf("failed call modified history: %d entries", len(a.History()))
	}
}
