package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/tatianab/silver-tongue/internal/llm"
	"github.com/tatianab/silver-tongue/internal/models"
)

const (
	judgeFailedReasoning   = "Judge evaluation failed."
	judgePartialReasoning  = "Parsed from partial response."
	judgeUnparsedReasoning = "Judge output could not be parsed; no damage applied."
)

// Evaluator scores exchanges with the judge model. It holds no battle state.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evaluator{logger: logger}
}

// Evaluate always returns a result. Backend failures and unreadable output
// degrade to zero damage with an explanatory reasoning.
func (e *Evaluator) Evaluate(ctx context.Context, backend llm.Backend, in JudgeInput) models.JudgeResult {
	resp := backend.GenerateResponse(ctx, llm.Request{
		Label:          llm.LabelJudge,
		SystemPrompt:   JudgeSystemPrompt(),
		History:        []llm.Message{{Role: llm.RoleUser, Content: BuildJudgePrompt(in)}},
		ThinkingEffort: models.EffortHigh,
	})
	if !resp.Success {
		e.logger.Warn("judge generation failed", "error", resp.Error)
		return models.JudgeResult{DamageType: models.DamageIneffective, Reasoning: judgeFailedReasoning}
	}

	result, strict := parseJudgeOutput(resp.Content, len(in.PlayerConditions), len(in.OpponentConditions))
	if !strict {
		e.logger.Warn("judge output was not valid JSON, used fallback extraction",
			"raw_len", len(resp.Content), "damage", result.Damage)
	}
	return result
}

var (
	codeBlockRe    = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
	damageRe       = regexp.MustCompile(`"damage(?:_dealt)?"\s*:\s*(-?\d+)`)
	damageTypeRe   = regexp.MustCompile(`"damage_type"\s*:\s*"([^"]*)"`)
	objectRe       = regexp.MustCompile(`\{[^{}]*\}`)
	indexRe        = regexp.MustCompile(`"index"\s*:\s*(\d+)`)
	isMetRe        = regexp.MustCompile(`"is_met"\s*:\s*(true|false)`)
	reasoningRe    = regexp.MustCompile(`"reasoning"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	conditionArrRe = map[string]*regexp.Regexp{
		"player_conditions":   regexp.MustCompile(`(?s)"player_conditions"\s*:\s*\[(.*?)\]`),
		"opponent_conditions": regexp.MustCompile(`(?s)"opponent_conditions"\s*:\s*\[(.*?)\]`),
	}
)

type judgeWire struct {
	PlayerConditions   []models.ConditionVerdict `json:"player_conditions"`
	OpponentConditions []models.ConditionVerdict `json:"opponent_conditions"`
	Damage             *int                      `json:"damage"`
	DamageDealt        *int                      `json:"damage_dealt"`
	DamageType         string                    `json:"damage_type"`
	Reasoning          string                    `json:"reasoning"`
}

// parseJudgeOutput reads the judge's JSON. It tries the raw text, then a fenced
// code block, then the outermost braces; if none decode it falls back to
// regex extraction. The bool reports whether strict decoding succeeded.
// Verdicts with indices outside [0, n) are dropped.
func parseJudgeOutput(raw string, nPlayer, nOpponent int) (models.JudgeResult, bool) {
	if w, ok := decodeJudgeJSON(raw); ok {
		damage := 0
		switch {
		case w.Damage != nil:
			damage = *w.Damage
		case w.DamageDealt != nil:
			damage = *w.DamageDealt
		}
		return models.JudgeResult{
			PlayerConditions:   inRange(w.PlayerConditions, nPlayer),
			OpponentConditions: inRange(w.OpponentConditions, nOpponent),
			Damage:             abs(damage),
			DamageType:         normalizeDamageType(w.DamageType, damage),
			Reasoning:          w.Reasoning,
		}, true
	}
	return extractJudgeFragments(raw, nPlayer, nOpponent), false
}

func decodeJudgeJSON(raw string) (judgeWire, bool) {
	candidates := []string{strings.TrimSpace(raw)}
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}
	for _, c := range candidates {
		var w judgeWire
		if err := json.Unmarshal([]byte(c), &w); err == nil {
			return w, true
		}
	}
	return judgeWire{}, false
}

func extractJudgeFragments(raw string, nPlayer, nOpponent int) models.JudgeResult {
	result := models.JudgeResult{
		PlayerConditions:   inRange(extractVerdicts(raw, "player_conditions"), nPlayer),
		OpponentConditions: inRange(extractVerdicts(raw, "opponent_conditions"), nOpponent),
	}

	found := len(result.PlayerConditions) > 0 || len(result.OpponentConditions) > 0
	damage := 0
	if m := damageRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			damage = n
			found = true
		}
	}
	result.Damage = abs(damage)

	damageType := ""
	if m := damageTypeRe.FindStringSubmatch(raw); m != nil {
		damageType = m[1]
	} else {
		for _, t := range []string{models.DamageCriticalHit, models.DamageNormalHit, models.DamageTrapTrigger} {
			if strings.Contains(raw, t) {
				damageType = t
				break
			}
		}
	}
	result.DamageType = normalizeDamageType(damageType, damage)

	if found {
		result.Reasoning = judgePartialReasoning
	} else {
		result.Reasoning = judgeUnparsedReasoning
	}
	return result
}

func extractVerdicts(raw, field string) []models.ConditionVerdict {
	m := conditionArrRe[field].FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	var verdicts []models.ConditionVerdict
	for _, obj := range objectRe.FindAllString(m[1], -1) {
		idx := indexRe.FindStringSubmatch(obj)
		met := isMetRe.FindStringSubmatch(obj)
		if idx == nil || met == nil {
			continue
		}
		n, err := strconv.Atoi(idx[1])
		if err != nil {
			continue
		}
		v := models.ConditionVerdict{Index: n, IsMet: met[1] == "true"}
		if r := reasoningRe.FindStringSubmatch(obj); r != nil {
			v.Reasoning = r[1]
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}

func inRange(verdicts []models.ConditionVerdict, n int) []models.ConditionVerdict {
	var out []models.ConditionVerdict
	for _, v := range verdicts {
		if v.Index >= 0 && v.Index < n {
			out = append(out, v)
		}
	}
	return out
}

func normalizeDamageType(s string, damage int) string {
	for _, t := range []string{models.DamageIneffective, models.DamageNormalHit, models.DamageCriticalHit, models.DamageTrapTrigger} {
		if strings.EqualFold(strings.TrimSpace(s), t) {
			return t
		}
	}
	if damage != 0 {
		return models.DamageNormalHit
	}
	return models.DamageIneffective
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// CheckLoseConditionsByKeyword reports whether the utterance contains any of the
// phrases, ignoring case. Blank phrases never match.
func CheckLoseConditionsByKeyword(conditions []string, dialogue string) bool {
	lower := strings.ToLower(dialogue)
	for _, c := range conditions {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}
