package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/silver-tongue/internal/engine"
	"github.com/tatianab/silver-tongue/internal/models"
)

type sessionState int

const (
	stateBattle sessionState = iota
	stateEditing
	stateFinished
	stateError
)

type model struct {
	ctx       context.Context
	state     sessionState
	engine    *engine.Engine
	textInput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	snapshot  models.BattleState
	phase     engine.Phase
	thinking  string
	outcome   models.Outcome
	notice    string
	err       error
	width     int
	height    int

	// Strategy submitted while the engine had not paused yet.
	queuedResume *models.Strategy
}

var (
	playerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1).
			PaddingRight(1)

	opponentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#875F5F")).
			Bold(true).
			PaddingLeft(1).
			PaddingRight(1)

	lineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)

	metStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#87AF87"))
	sanityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#D75F5F"))
	winStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#87D787")).Bold(true)
	loseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D75F5F")).Bold(true)
)

func NewModel(ctx context.Context, eng *engine.Engine) model {
	ti := textinput.New()
	ti.Placeholder = "Describe your strategy..."
	ti.CharLimit = 400
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		ctx:       ctx,
		state:     stateBattle,
		engine:    eng,
		textInput: ti,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		snapshot:  eng.Snapshot(),
		phase:     eng.Phase(),
	}
}

type phaseMsg struct{ phase engine.Phase }

type dialogueMsg struct{ entry models.ConversationEntry }

type thinkingMsg struct{ side models.Side }

type judgeMsg struct{ result models.JudgeResult }

type battleDoneMsg struct {
	outcome models.Outcome
	err     error
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runBattle())
}

func (m model) runBattle() tea.Cmd {
	return func() tea.Msg {
		outcome, err := m.engine.Run(m.ctx)
		return battleDoneMsg{outcome, err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = int(float64(msg.Width) * 0.65)
		m.viewport.Height = msg.Height - 6
		m.refreshLog()

	case phaseMsg:
		m.phase = msg.phase
		m.snapshot = m.engine.Snapshot()
		if msg.phase == engine.PhasePaused && m.queuedResume != nil {
			strategy := *m.queuedResume
			m.queuedResume = nil
			m.resume(strategy)
		}

	case dialogueMsg:
		m.thinking = ""
		m.snapshot = m.engine.Snapshot()
		m.refreshLog()
		m.viewport.GotoBottom()

	case thinkingMsg:
		if msg.side == models.PlayerSide {
			m.thinking = m.engine.Player().Name
		} else {
			m.thinking = m.engine.Opponent().Name
		}

	case judgeMsg:
		m.snapshot = m.engine.Snapshot()

	case battleDoneMsg:
		m.thinking = ""
		m.snapshot = m.engine.Snapshot()
		m.refreshLog()
		if msg.err != nil {
			if errors.Is(msg.err, context.Canceled) {
				return m, tea.Quit
			}
			m.err = msg.err
			m.state = stateError
			return m, nil
		}
		m.outcome = msg.outcome
		m.state = stateFinished
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.state == stateEditing {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.state {
	case stateEditing:
		switch msg.Type {
		case tea.KeyEnter:
			m.submitStrategy(strings.TrimSpace(m.textInput.Value()))
			return m, nil
		case tea.KeyEsc:
			m.submitStrategy(m.snapshot.Strategy.FreeText)
			return m, nil
		}
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd

	case stateFinished, stateError:
		switch msg.Type {
		case tea.KeyEnter, tea.KeyEsc:
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case msg.Type == tea.KeyEsc:
		return m, tea.Quit
	case msg.Type == tea.KeyEnter:
		m.notice = ""
		if err := m.engine.Advance(); err != nil {
			m.notice = err.Error()
		}
	case msg.String() == "p":
		if err := m.engine.Pause(); err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.state = stateEditing
		m.textInput.SetValue(m.snapshot.Strategy.FreeText)
		m.textInput.CursorEnd()
		return m, m.textInput.Focus()
	case msg.String() == "pgup", msg.String() == "pgdown", msg.String() == "up", msg.String() == "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// submitStrategy keeps the equipped items and replaces the free text. If the
// engine has not reached its pause point yet the strategy waits for it.
func (m *model) submitStrategy(text string) {
	strategy := models.Strategy{FreeText: text, EquippedItems: m.snapshot.Strategy.EquippedItems}
	m.textInput.Blur()
	m.state = stateBattle
	if m.phase != engine.PhasePaused {
		m.queuedResume = &strategy
		m.notice = "Strategy saved; it applies once the current line settles."
		return
	}
	m.resume(strategy)
}

func (m *model) resume(strategy models.Strategy) {
	if err := m.engine.Resume(strategy); err != nil {
		m.notice = err.Error()
		return
	}
	m.notice = "Strategy updated."
}

func (m *model) refreshLog() {
	m.viewport.SetContent(m.renderLog())
}

func (m model) View() string {
	var s string

	switch m.state {
	case stateError:
		s = fmt.Sprintf("\n  Error: %v\n\nPress Esc to quit.", m.err)

	default:
		mainView := lipgloss.JoinHorizontal(lipgloss.Top,
			m.viewport.View(),
			m.renderState(),
		)

		var bottom string
		switch m.state {
		case stateEditing:
			bottom = "Edit your strategy (Enter to resume, Esc to keep it):\n" + m.textInput.View()
		case stateFinished:
			bottom = m.renderOutcome() + "\n" + helpStyle.Render("Press Enter to exit.")
		default:
			if m.thinking != "" {
				bottom = m.spinner.View() + " " + m.thinking + " is thinking..."
			}
			if m.notice != "" {
				bottom += "\n" + helpStyle.Render(m.notice)
			}
			bottom += "\n" + helpStyle.Render("Enter: next line · p: pause and edit strategy · Esc: quit")
		}

		s = lipgloss.JoinVertical(lipgloss.Left, mainView, "\n"+bottom)
	}

	return "\n" + s + "\n"
}

func (m model) renderLog() string {
	width := m.viewport.Width
	var b strings.Builder
	for _, e := range m.snapshot.ConversationHistory {
		style := opponentStyle
		if e.IsPlayerSide {
			style = playerStyle
		}
		header := style.Render(e.Speaker) + " " + helpStyle.Render(e.Timestamp)
		if e.Emotion != "" && e.Emotion != models.EmotionNeutral {
			header += helpStyle.Render(" (" + string(e.Emotion) + ")")
		}
		b.WriteString(header + "\n")
		if e.Thought != "" {
			b.WriteString(helpStyle.Width(width).Render("  "+e.Thought) + "\n")
		}
		b.WriteString(lineStyle.Width(width).Render(e.DisplayText) + "\n")
		if e.EvidenceID != "" {
			b.WriteString(metStyle.Render("  presents evidence: "+e.EvidenceID) + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderState() string {
	s := m.snapshot
	turn := s.CurrentTurn
	if turn > s.MaxTurns {
		turn = s.MaxTurns
	}

	battle := titleStyle.Render("BATTLE") + "\n" +
		fmt.Sprintf("Turn %d/%d\n%s\n\n", turn, s.MaxTurns, m.phase)

	sanity := titleStyle.Render("SANITY") + "\n" +
		sanityBar(s.OpponentSanity, 20) + "\n" +
		fmt.Sprintf("%d/%d\n\n", s.OpponentSanity.Current, s.OpponentSanity.Max)

	conditions := titleStyle.Render(strings.ToUpper(m.engine.Player().Name)+" MUST AVOID") + "\n" +
		renderConditions(s.PlayerConditions) + "\n" +
		titleStyle.Render(strings.ToUpper(m.engine.Opponent().Name)+" MUST AVOID") + "\n" +
		renderConditions(s.OpponentConditions) + "\n"

	judge := ""
	if r := s.LastJudgeResult; r != nil {
		judge = titleStyle.Render("JUDGE") + "\n" +
			fmt.Sprintf("%s (%d)\n%s\n", r.DamageType, r.Damage, r.Reasoning)
	}

	stateWidth := int(float64(m.width) * 0.33)
	if stateWidth < 24 {
		stateWidth = 24
	}
	return stateStyle.Width(stateWidth).Height(m.viewport.Height).Render(battle + sanity + conditions + judge)
}

func renderConditions(conditions []models.ConditionStatus) string {
	if len(conditions) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, c := range conditions {
		if c.IsMet {
			b.WriteString(metStyle.Render(fmt.Sprintf("[x] %s (turn %d)", c.ConditionText, c.MetOnTurn)) + "\n")
		} else {
			b.WriteString("[ ] " + c.ConditionText + "\n")
		}
	}
	return b.String()
}

func sanityBar(s models.Sanity, width int) string {
	if s.Max <= 0 {
		return ""
	}
	filled := s.Current * width / s.Max
	return sanityStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", width-filled)
}

func (m model) renderOutcome() string {
	text := outcomeText(m.outcome, m.engine.Player().Name, m.engine.Opponent().Name)
	if m.outcome.PlayerWon() {
		return winStyle.Render("VICTORY: " + text)
	}
	return loseStyle.Render("DEFEAT: " + text)
}

func outcomeText(o models.Outcome, player, opponent string) string {
	switch o {
	case models.OutcomeSanityDepleted:
		return opponent + "'s sanity broke."
	case models.OutcomeOpponentConceded:
		return opponent + " conceded."
	case models.OutcomeOpponentKeyword:
		return opponent + " said the words they swore never to say."
	case models.OutcomeTimeoutWin:
		return "Time ran out with " + opponent + " badly shaken."
	case models.OutcomePlayerConditions:
		return player + " fell into every trap."
	case models.OutcomePlayerConceded:
		return player + " conceded."
	case models.OutcomePlayerKeyword:
		return player + " said the words they swore never to say."
	case models.OutcomeTimeoutLoss:
		return "Time ran out and " + opponent + " held firm."
	default:
		return string(o)
	}
}

// Run plays the battle in the terminal and returns once the user exits. The
// battle is cancelled if the user quits early.
func Run(ctx context.Context, eng *engine.Engine) (models.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(ctx, eng), tea.WithAltScreen(), tea.WithContext(ctx))
	eng.OnPhase = func(ph engine.Phase) { p.Send(phaseMsg{ph}) }
	eng.OnDialogue = func(e models.ConversationEntry) { p.Send(dialogueMsg{e}) }
	eng.OnThinking = func(side models.Side) { p.Send(thinkingMsg{side}) }
	eng.OnJudge = func(r models.JudgeResult) { p.Send(judgeMsg{r}) }

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return models.OutcomeNone, err
	}
	return eng.Outcome(), nil
}
