package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/tatianab/silver-tongue/internal/llm"
	"github.com/tatianab/silver-tongue/internal/models"
)

// Agent holds one side's conversation with the model.
type Agent struct {
	Name  string
	Label string

	systemPrompt string
	effort       models.ThinkingEffort
	history      []llm.Message
}

func NewAgent(name, label, systemPrompt string, effort models.ThinkingEffort) *Agent {
	return &Agent{Name: name, Label: label, systemPrompt: systemPrompt, effort: effort}
}

// AddToHistory appends a message. There is no dedup and no cap.
func (a *Agent) AddToHistory(role, content string) {
	a.history = append(a.history, llm.Message{Role: role, Content: content})
}

// UpdateSystemPrompt replaces the prompt used for future requests. History is untouched.
func (a *Agent) UpdateSystemPrompt(prompt string) { a.systemPrompt = prompt }

func (a *Agent) SystemPrompt() string { return a.systemPrompt }

func (a *Agent) Effort() models.ThinkingEffort { return a.effort }

// History returns a copy of the accumulated messages.
func (a *Agent) History() []llm.Message {
	return append([]llm.Message(nil), a.history...)
}

// Request snapshots the agent into a backend request. The copy is safe to hand
// to another goroutine while the agent keeps changing.
func (a *Agent) Request() llm.Request {
	return llm.Request{
		Label:          a.Label,
		SystemPrompt:   a.systemPrompt,
		History:        a.History(),
		ThinkingEffort: a.effort,
	}
}

// GenerateResponse asks the backend for the next line. The agent's history is
// not modified; the caller records the line once it has interpreted it.
func (a *Agent) GenerateResponse(ctx context.Context, backend llm.Backend) llm.Response {
	return backend.GenerateResponse(ctx, a.Request())
}

var thoughtPreambleRe = regexp.MustCompile(`(?s)^\[Thought Process\][^\n]*\n(.*)$`)

// CleanDialogue drops a leading "[Thought Process] ...\n" preamble, repeatedly,
// and trims the result.
func CleanDialogue(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		m := thoughtPreambleRe.FindStringSubmatch(s)
		if m == nil {
			return s
		}
		rest := strings.TrimSpace(m[1])
		if rest == "" {
			return s
		}
		s = rest
	}
}

// ParsedTags holds the payloads of inline tags found in a line.
type ParsedTags struct {
	AcceptDefeat bool
	EvidenceUsed string
	InnerThought string
	Emotion      models.Emotion
}

var (
	acceptDefeatRe = regexp.MustCompile(`<accept_defeat\s*/>`)
	evidenceRe     = regexp.MustCompile(`<evidence_used=([^>]+)>`)
	innerThoughtRe = regexp.MustCompile(`(?s)<inner_thought>(.*?)</inner_thought>`)
	emotionRe      = regexp.MustCompile(`<emotion=([^>]+)>`)
	spaceRunRe     = regexp.MustCompile(`[ \t]{2,}`)
)

// StripTags removes recognized tags and returns the display text with their
// payloads. Missing or malformed tags leave the zero value; the emotion
// defaults to neutral.
func StripTags(raw string) (string, ParsedTags) {
	tags := ParsedTags{Emotion: models.EmotionNeutral}
	if raw == "" {
		return "", tags
	}

	tags.AcceptDefeat = acceptDefeatRe.MatchString(raw)
	if m := evidenceRe.FindStringSubmatch(raw); m != nil {
		tags.EvidenceUsed = strings.TrimSpace(m[1])
	}
	if m := innerThoughtRe.FindStringSubmatch(raw); m != nil {
		tags.InnerThought = strings.TrimSpace(m[1])
	}
	if m := emotionRe.FindStringSubmatch(raw); m != nil {
		tags.Emotion = models.ParseEmotion(m[1])
	}

	// Removing one tag can splice a new one together, so repeat until stable.
	clean := raw
	for {
		next := innerThoughtRe.ReplaceAllString(clean, "")
		next = acceptDefeatRe.ReplaceAllString(next, "")
		next = evidenceRe.ReplaceAllString(next, "")
		next = emotionRe.ReplaceAllString(next, "")
		next = spaceRunRe.ReplaceAllString(next, " ")
		next = strings.TrimSpace(next)
		if next == clean {
			break
		}
		clean = next
	}
	return clean, tags
}
