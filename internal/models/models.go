package models

import "strings"

// ThinkingEffort is a coarse hint passed to the LLM backend controlling reasoning depth.
type ThinkingEffort string

const (
	EffortLow    ThinkingEffort = "low"
	EffortMedium ThinkingEffort = "medium"
	EffortHigh   ThinkingEffort = "high"
)

func (e ThinkingEffort) rank() int {
	switch e {
	case EffortHigh:
		return 2
	case EffortMedium:
		return 1
	default:
		return 0
	}
}

// ParseThinkingEffort maps free-form config values onto an effort level, defaulting to low.
func ParseThinkingEffort(s string) ThinkingEffort {
	switch ThinkingEffort(strings.ToLower(strings.TrimSpace(s))) {
	case EffortHigh:
		return EffortHigh
	case EffortMedium:
		return EffortMedium
	default:
		return EffortLow
	}
}

// MaxEffort returns the higher of two effort levels.
func MaxEffort(a, b ThinkingEffort) ThinkingEffort {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Emotion is the expression a speaker attaches to a line with an <emotion=...> tag.
type Emotion string

const (
	EmotionNeutral   Emotion = "neutral"
	EmotionHappy     Emotion = "happy"
	EmotionAngry     Emotion = "angry"
	EmotionSad       Emotion = "sad"
	EmotionSurprised Emotion = "surprised"
	EmotionSmug      Emotion = "smug"
	EmotionFlustered Emotion = "flustered"
)

// ParseEmotion returns the matching emotion, or neutral for anything unrecognized.
func ParseEmotion(s string) Emotion {
	switch e := Emotion(strings.ToLower(strings.TrimSpace(s))); e {
	case EmotionHappy, EmotionAngry, EmotionSad, EmotionSurprised, EmotionSmug, EmotionFlustered:
		return e
	default:
		return EmotionNeutral
	}
}

// Skill is a debating technique a character brings into battle.
type Skill struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	PromptModifier string         `yaml:"prompt_modifier"`
	ThinkingEffort ThinkingEffort `yaml:"thinking_effort"`
}

// Character is a battler definition loaded from the roster.
type Character struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Lore           string         `yaml:"lore"`
	Personality    string         `yaml:"personality"`
	VoiceTone      string         `yaml:"voice_tone"`
	ThinkingEffort ThinkingEffort `yaml:"thinking_effort"`
	Skills         []Skill        `yaml:"skills"`
	LoseConditions []string       `yaml:"lose_conditions"`
}

// Effort is the character's base effort raised to the highest effort among its skills.
func (c Character) Effort() ThinkingEffort {
	effort := ParseThinkingEffort(string(c.ThinkingEffort))
	for _, s := range c.Skills {
		effort = MaxEffort(effort, ParseThinkingEffort(string(s.ThinkingEffort)))
	}
	return effort
}

// Item is a piece of evidence the player can equip.
type Item struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	FactInjection string `yaml:"fact_injection"`
}

// Strategy is the player's plan for a battle segment.
type Strategy struct {
	FreeText      string `yaml:"free_text"`
	EquippedItems []Item `yaml:"equipped_items"`
}

// ConversationEntry is one recorded line of dialogue.
type ConversationEntry struct {
	Speaker      string  `yaml:"speaker"`
	DisplayText  string  `yaml:"display_text"`
	RawText      string  `yaml:"raw_text"`
	Timestamp    string  `yaml:"timestamp"`
	IsPlayerSide bool    `yaml:"is_player_side"`
	EvidenceID   string  `yaml:"evidence_id,omitempty"`
	Emotion      Emotion `yaml:"emotion,omitempty"`
	Thought      string  `yaml:"thought,omitempty"`
}

// PromptText is the tag-intact text when available, else the display text.
func (e ConversationEntry) PromptText() string {
	if e.RawText != "" {
		return e.RawText
	}
	return e.DisplayText
}

// ConditionStatus tracks one lose condition over the course of a battle.
type ConditionStatus struct {
	ConditionText string `yaml:"condition"`
	IsMet         bool   `yaml:"is_met"`
	Reasoning     string `yaml:"reasoning"`
	MetOnTurn     int    `yaml:"met_on_turn"` // 0 while unmet
}

// ConditionVerdict is the judge's finding for the condition at Index.
type ConditionVerdict struct {
	Index     int    `json:"index"`
	IsMet     bool   `json:"is_met"`
	Reasoning string `json:"reasoning"`
}

// Damage types reported by the judge.
const (
	DamageIneffective = "Ineffective"
	DamageNormalHit   = "Normal Hit"
	DamageCriticalHit = "Critical Hit"
	DamageTrapTrigger = "Trap Trigger"
)

// JudgeResult is one evaluation of the transcript.
type JudgeResult struct {
	PlayerConditions   []ConditionVerdict `yaml:"player_conditions"`
	OpponentConditions []ConditionVerdict `yaml:"opponent_conditions"`
	Damage             int                `yaml:"damage"` // non-negative magnitude
	DamageType         string             `yaml:"damage_type"`
	Reasoning          string             `yaml:"reasoning"`
}

// SignedDamage is the amount to subtract from opponent sanity; a trap heals instead.
func (r JudgeResult) SignedDamage() int {
	if r.DamageType == DamageTrapTrigger {
		return -r.Damage
	}
	return r.Damage
}

// Outcome is how a battle ended.
type Outcome string

const (
	OutcomeNone Outcome = ""

	// Player wins.
	OutcomeSanityDepleted   Outcome = "SANITY_DEPLETED"
	OutcomeOpponentConceded Outcome = "OPPONENT_CONCEDED"
	OutcomeOpponentKeyword  Outcome = "OPPONENT_LOSE_PHRASE"
	OutcomeTimeoutWin       Outcome = "TIMEOUT_WIN"

	// Opponent wins.
	OutcomePlayerConditions Outcome = "PLAYER_CONDITIONS_MET"
	OutcomePlayerConceded   Outcome = "PLAYER_CONCEDED"
	OutcomePlayerKeyword    Outcome = "PLAYER_LOSE_PHRASE"
	OutcomeTimeoutLoss      Outcome = "TIMEOUT_LOSS"
)

// PlayerWon reports whether the outcome favors the player.
func (o Outcome) PlayerWon() bool {
	switch o {
	case OutcomeSanityDepleted, OutcomeOpponentConceded, OutcomeOpponentKeyword, OutcomeTimeoutWin:
		return true
	default:
		return false
	}
}
