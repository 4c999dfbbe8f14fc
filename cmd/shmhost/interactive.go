package main

import (
	stderrors "errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/coordinator"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	aliveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	deadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyLimit = 12

type stepOutcome struct {
	step coordinator.Step
	err  error
}

type stepsDoneMsg struct {
	outcomes []stepOutcome
}

type interactiveModel struct {
	coord    *coordinator.Coordinator
	input    textinput.Model
	history  []stepOutcome
	parseErr error
	busy     bool
}

func newInteractiveModel(c *coordinator.Coordinator) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "A:i A:v B:i B:r"
	ti.Prompt = "steps> "
	ti.Width = 48
	ti.Focus()
	return &interactiveModel{coord: c, input: ti}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			if m.busy {
				return m, nil
			}
			raw := m.input.Value()
			if strings.TrimSpace(raw) == "" {
				return m, nil
			}
			steps, err := coordinator.ParseSequence(raw)
			if err != nil {
				m.parseErr = err
				return m, nil
			}
			m.parseErr = nil
			m.input.SetValue("")
			m.busy = true
			return m, m.dispatchSteps(steps)
		}

	case stepsDoneMsg:
		m.busy = false
		m.history = append(m.history, msg.outcomes...)
		if len(m.history) > historyLimit {
			m.history = m.history[len(m.history)-historyLimit:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// dispatchSteps runs the typed steps against live containers. A read-only
// write that kills its container is reported as the expected outcome, same
// as in scripted mode.
func (m *interactiveModel) dispatchSteps(steps []coordinator.Step) tea.Cmd {
	return func() tea.Msg {
		outcomes := make([]stepOutcome, 0, len(steps))
		for _, step := range steps {
			err := m.coord.Dispatch(step.Label, step.Cmd)
			outcomes = append(outcomes, stepOutcome{step: step, err: err})
		}
		return stepsDoneMsg{outcomes: outcomes}
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Shared Memory Host"))
	b.WriteString("\n\n")

	b.WriteString("Containers: ")
	for i, label := range m.coord.Labels() {
		if i > 0 {
			b.WriteString("  ")
		}
		if m.coord.Alive(label) {
			b.WriteString(aliveStyle.Render(label + " alive"))
		} else {
			b.WriteString(deadStyle.Render(label + " gone"))
		}
	}
	b.WriteString("\n\n")

	for _, o := range m.history {
		b.WriteString("  ")
		b.WriteString(o.step.String())
		b.WriteString("  ")
		switch {
		case o.err == nil:
			b.WriteString(okStyle.Render(o.step.Cmd.String() + " ok"))
		case o.step.Cmd == wasmshm.CmdWriteRO && stderrors.Is(o.err, coordinator.ErrContainerGone):
			b.WriteString(okStyle.Render("container killed by protection fault"))
		default:
			b.WriteString(errStyle.Render(o.err.Error()))
		}
		b.WriteString("\n")
	}
	if len(m.history) > 0 {
		b.WriteString("\n")
	}

	if m.parseErr != nil {
		b.WriteString(errStyle.Render(m.parseErr.Error()))
		b.WriteString("\n")
	}
	if m.busy {
		b.WriteString("dispatching...\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("commands: i init • v verify • m stress • w write • r read • q write-ro • e fault • x exit"))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter dispatch • esc quit"))

	return b.String()
}

func runInteractive(c *coordinator.Coordinator) error {
	p := tea.NewProgram(newInteractiveModel(c), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
