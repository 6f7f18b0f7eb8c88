package engine

// Phase is where the battle loop currently is.
type Phase int

const (
	PhaseOpening Phase = iota
	PhasePlayerTurn
	PhaseOpponentTurn
	PhaseJudgeEvaluation
	PhaseFinalVerdict
	PhasePaused
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "Opening"
	case PhasePlayerTurn:
		return "Player Turn"
	case PhaseOpponentTurn:
		return "Opponent Turn"
	case PhaseJudgeEvaluation:
		return "Judge Evaluation"
	case PhaseFinalVerdict:
		return "Final Verdict"
	case PhasePaused:
		return "Paused"
	case PhaseFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}
