package models

// Side selects one of the two battlers.
type Side int

const (
	PlayerSide Side = iota
	OpponentSide
)

func (s Side) String() string {
	if s == PlayerSide {
		return "player"
	}
	return "opponent"
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == PlayerSide {
		return OpponentSide
	}
	return PlayerSide
}

// Sanity is the opponent's health-like resource.
type Sanity struct {
	Current int `yaml:"current"`
	Max     int `yaml:"max"`
}

// BattleState is the authoritative record of one battle. It does no I/O and is
// mutated only by the engine that owns it.
type BattleState struct {
	CurrentTurn         int                 `yaml:"current_turn"`
	MaxTurns            int                 `yaml:"max_turns"`
	OpponentSanity      Sanity              `yaml:"opponent_sanity"`
	ConversationHistory []ConversationEntry `yaml:"conversation_history"`
	Strategy            Strategy            `yaml:"strategy"`
	PlayerConditions    []ConditionStatus   `yaml:"player_conditions"`
	OpponentConditions  []ConditionStatus   `yaml:"opponent_conditions"`
	LastJudgeResult     *JudgeResult        `yaml:"last_judge_result,omitempty"`
}

// NewBattleState starts a battle at turn 1 with full sanity.
func NewBattleState(maxTurns, maxSanity int, playerLoseConditions, opponentLoseConditions []string) *BattleState {
	if maxSanity < 0 {
		maxSanity = 0
	}
	return &BattleState{
		CurrentTurn:        1,
		MaxTurns:           maxTurns,
		OpponentSanity:     Sanity{Current: maxSanity, Max: maxSanity},
		PlayerConditions:   initConditions(playerLoseConditions),
		OpponentConditions: initConditions(opponentLoseConditions),
	}
}

func initConditions(conditions []string) []ConditionStatus {
	result := make([]ConditionStatus, len(conditions))
	for i, c := range conditions {
		result[i] = ConditionStatus{ConditionText: c}
	}
	return result
}

// ApplyDamage subtracts damage from opponent sanity, clamped to [0, max]. A
// negative damage heals. It returns the new current sanity.
func (s *BattleState) ApplyDamage(damage int) int {
	s.OpponentSanity.Current = clamp(s.OpponentSanity.Current-damage, 0, s.OpponentSanity.Max)
	return s.OpponentSanity.Current
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Conditions returns the condition array for a side.
func (s *BattleState) Conditions(side Side) []ConditionStatus {
	if side == PlayerSide {
		return s.PlayerConditions
	}
	return s.OpponentConditions
}

// MergeConditions applies verdicts to a side. Only unmet conditions can become
// met; they are stamped with the current turn. Out-of-range indices are ignored.
// It returns the number of conditions that transitioned.
func (s *BattleState) MergeConditions(side Side, verdicts []ConditionVerdict) int {
	conditions := s.Conditions(side)
	changed := 0
	for _, v := range verdicts {
		if v.Index < 0 || v.Index >= len(conditions) || !v.IsMet {
			continue
		}
		c := &conditions[v.Index]
		if c.IsMet {
			continue
		}
		c.IsMet = true
		c.Reasoning = v.Reasoning
		c.MetOnTurn = s.CurrentTurn
		changed++
	}
	return changed
}

// AllConditionsMet is false for an empty condition list.
func (s *BattleState) AllConditionsMet(side Side) bool {
	conditions := s.Conditions(side)
	if len(conditions) == 0 {
		return false
	}
	for _, c := range conditions {
		if !c.IsMet {
			return false
		}
	}
	return true
}

// UnmetConditions returns the indices of a side's unmet conditions, in order.
func (s *BattleState) UnmetConditions(side Side) []int {
	var unmet []int
	for i, c := range s.Conditions(side) {
		if !c.IsMet {
			unmet = append(unmet, i)
		}
	}
	return unmet
}

// MetConditionCount counts met conditions for a side.
func (s *BattleState) MetConditionCount(side Side) int {
	n := 0
	for _, c := range s.Conditions(side) {
		if c.IsMet {
			n++
		}
	}
	return n
}

// AdvanceTurn moves to the next player+opponent exchange.
func (s *BattleState) AdvanceTurn() { s.CurrentTurn++ }

// AddConversationEntry appends to the transcript.
func (s *BattleState) AddConversationEntry(e ConversationEntry) {
	s.ConversationHistory = append(s.ConversationHistory, e)
}

// SetStrategy replaces the current strategy.
func (s *BattleState) SetStrategy(strategy Strategy) { s.Strategy = strategy }

// SetLastJudgeResult records the most recently applied evaluation.
func (s *BattleState) SetLastJudgeResult(r JudgeResult) { s.LastJudgeResult = &r }

// Snapshot returns a deep copy safe to hand to readers.
func (s *BattleState) Snapshot() BattleState {
	c := *s
	c.ConversationHistory = append([]ConversationEntry(nil), s.ConversationHistory...)
	c.PlayerConditions = append([]ConditionStatus(nil), s.PlayerConditions...)
	c.OpponentConditions = append([]ConditionStatus(nil), s.OpponentConditions...)
	c.Strategy.EquippedItems = append([]Item(nil), s.Strategy.EquippedItems...)
	if s.LastJudgeResult != nil {
		r := *s.LastJudgeResult
		r.PlayerConditions = append([]ConditionVerdict(nil), r.PlayerConditions...)
		r.OpponentConditions = append([]ConditionVerdict(nil), r.OpponentConditions...)
		c.LastJudgeResult = &r
	}
	return c
}
