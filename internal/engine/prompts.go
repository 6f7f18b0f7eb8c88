package engine

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/tatianab/silver-tongue/internal/models"
)

//go:embed prompts/player.txt
var playerPromptText string

//go:embed prompts/opponent.txt
var opponentPromptText string

//go:embed prompts/judge_system.txt
var judgeSystemPromptText string

//go:embed prompts/judge.txt
var judgePromptText string

// OpeningInstruction seeds the opponent before its first line.
const OpeningInstruction = "The debate begins. State your opening position."

var promptFuncs = template.FuncMap{
	"itemLine": itemLine,
}

var (
	playerTmpl   = template.Must(template.New("player").Funcs(promptFuncs).Parse(playerPromptText))
	opponentTmpl = template.Must(template.New("opponent").Funcs(promptFuncs).Parse(opponentPromptText))
	judgeTmpl    = template.Must(template.New("judge").Parse(judgePromptText))
)

// itemLine renders an equipped item. The fact injection is used verbatim when present.
func itemLine(item models.Item) string {
	body := item.FactInjection
	if body == "" {
		body = item.Description
	}
	return fmt.Sprintf("[ITEM: %s] (ID: %s) %s", item.Name, item.ID, body)
}

type battlerPromptData struct {
	Player   models.Character
	Opponent models.Character
	Strategy models.Strategy
}

// BuildPlayerPrompt renders the player's system prompt, including strategy and equipped items.
func BuildPlayerPrompt(player, opponent models.Character, strategy models.Strategy) string {
	return execute(playerTmpl, battlerPromptData{Player: player, Opponent: opponent, Strategy: strategy})
}

// BuildOpponentPrompt renders the opponent's system prompt. It never sees the player's strategy.
func BuildOpponentPrompt(player, opponent models.Character) string {
	return execute(opponentTmpl, battlerPromptData{Player: player, Opponent: opponent})
}

// JudgeSystemPrompt is the fixed system instruction for evaluations.
func JudgeSystemPrompt() string { return strings.TrimSpace(judgeSystemPromptText) }

// JudgeInput is what the evaluator needs from the battle. It is a copy; the
// evaluator never touches live state.
type JudgeInput struct {
	Transcript         []models.ConversationEntry
	PlayerName         string
	OpponentName       string
	PlayerConditions   []models.ConditionStatus
	OpponentConditions []models.ConditionStatus
	Sanity             models.Sanity
}

type indexedCondition struct {
	Index int
	Text  string
}

func unmet(conditions []models.ConditionStatus) []indexedCondition {
	var out []indexedCondition
	for i, c := range conditions {
		if !c.IsMet {
			out = append(out, indexedCondition{Index: i, Text: c.ConditionText})
		}
	}
	return out
}

// BuildJudgePrompt renders the evaluation request. Only unmet conditions are
// listed, keyed by their index in the full condition list.
func BuildJudgePrompt(in JudgeInput) string {
	return execute(judgeTmpl, struct {
		Transcript    []models.ConversationEntry
		PlayerName    string
		OpponentName  string
		Sanity        models.Sanity
		PlayerUnmet   []indexedCondition
		OpponentUnmet []indexedCondition
	}{
		Transcript:    in.Transcript,
		PlayerName:    in.PlayerName,
		OpponentName:  in.OpponentName,
		Sanity:        in.Sanity,
		PlayerUnmet:   unmet(in.PlayerConditions),
		OpponentUnmet: unmet(in.OpponentConditions),
	})
}

// execute panics on failure: the templates are embedded and the data types are fixed.
func execute(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("engine: render %s prompt: %v", t.Name(), err))
	}
	return strings.TrimSpace(buf.String())
}
