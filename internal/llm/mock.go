package llm

import (
	"context"
	"sync"
	"time"
)

// Mock is a scripted Backend. Each label rotates through its own responses.
type Mock struct {
	Scripts map[string][]string
	Delay   time.Duration

	mu    sync.Mutex
	next  map[string]int
	calls []Request
}

// NewMock returns a Mock using the demo scripts.
func NewMock(delay time.Duration) *Mock {
	return &Mock{Scripts: DemoScripts(), Delay: delay}
}

// GenerateResponse implements Backend.
func (m *Mock) GenerateResponse(ctx context.Context, req Request) Response {
	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Failed(ctx.Err().Error())
		case <-t.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next == nil {
		m.next = make(map[string]int)
	}
	m.calls = append(m.calls, req)

	script := m.Scripts[req.Label]
	if len(script) == 0 {
		return Failed("mock: no script for " + req.Label)
	}
	content := script[m.next[req.Label]%len(script)]
	m.next[req.Label]++
	return Response{Success: true, Content: content, ThoughtSummary: "Mock thinking process."}
}

// Calls returns a copy of every request received so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount counts requests with the given label.
func (m *Mock) CallCount(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Label == label {
			n++
		}
	}
	return n
}

// DemoScripts is a short battle between the default roster's Kenta and the Demon King.
func DemoScripts() map[string][]string {
	return map[string][]string{
		LabelPlayer: {
			"[Thought Process] Appeal to what they hide.\nI read your diary. You wrote about wanting friends, and that takes more courage than conquest. <evidence_used=ev_diary> <emotion=happy>",
			"[Thought Process] Point at the contradiction.\nYou say you feel nothing, yet you kept every page of that photo album. <evidence_used=ev_photo>",
			"<inner_thought>Softer might land better.</inner_thought>N-not that I want to be your friend! But if you stopped being evil, I wouldn't hate it. <emotion=flustered>",
			"[Thought Process] Use the recipe.\nA true conqueror doesn't hide a ramen recipe covered in heart doodles. <evidence_used=ev_ramen>",
			"Everyone deserves a second chance. You don't have to fight alone anymore.",
		},
		LabelOpponent: {
			"Silence, mortal! The Demon King has no use for sentimental drivel! <emotion=angry>",
			"You dare bring up my past?! Those were strategic documents! <emotion=flustered>",
			"Hmph. World domination requires no friends, only power. <emotion=smug>",
			"That recipe was... research. For poisoning enemies. Obviously.",
			"<inner_thought>They are right. I am tired of being alone.</inner_thought>I don't need your pity. But perhaps a ceasefire would not be the worst idea. <accept_defeat/> <emotion=sad>",
		},
		LabelJudge: {
			`{"player_conditions": [{"index": 0, "is_met": false, "reasoning": "No violation."}], "opponent_conditions": [{"index": 0, "is_met": false, "reasoning": "Not yet persuaded."}, {"index": 1, "is_met": false, "reasoning": "Still defensive."}], "damage": 20, "damage_type": "Normal Hit", "reasoning": "The diary shook the opponent."}`,
			`{"player_conditions": [{"index": 0, "is_met": false, "reasoning": "Player stayed focused."}], "opponent_conditions": [{"index": 0, "is_met": true, "reasoning": "The photo album broke through."}], "damage": 40, "damage_type": "Critical Hit", "reasoning": "Strong emotional leverage."}`,
			`{"player_conditions": [], "opponent_conditions": [], "damage": 0, "damage_type": "Ineffective", "reasoning": "No evidence used."}`,
			`{"player_conditions": [], "opponent_conditions": [{"index": 1, "is_met": true, "reasoning": "Passion exposed."}], "damage": 30, "damage_type": "Normal Hit", "reasoning": "The recipe was compelling."}`,
		},
	}
}
