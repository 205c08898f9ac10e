package main

import (
	"context"
	"strings"

	"github.com/4thel00z/docqa/internal"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func NewChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}

			m := newChatModel(cmd.Context(), svc, svc.Config().Messages.CitationPrefix)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
}

type asker interface {
	Ask(ctx context.Context, question string) internal.Answer
}

type exchange struct {
	question string
	answer   string
}

type answerMsg struct {
	question string
	answer   internal.Answer
}

type chatModel struct {
	ctx      context.Context
	svc      asker
	prefix   string
	input    textinput.Model
	viewport viewport.Model
	history  []exchange
	waiting  bool
	ready    bool
}

func newChatModel(ctx context.Context, svc asker, citationPrefix string) chatModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	return chatModel{
		ctx:      ctx,
		svc:      svc,
		prefix:   citationPrefix,
		input:    ti,
		viewport: viewport.New(0, 0),
	}
}

func (m chatModel) Init() tea.Cmd { return textinput.Blink }

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := boxStyle.GetFrameSize()
		// title, bordered input and status line
		reserved := 1 + (1 + fh) + 1
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil

	case answerMsg:
		m.waiting = false
		m.history = append(m.history, exchange{
			question: msg.question,
			answer:   msg.answer.Format(m.prefix),
		})
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.waiting {
				return m, nil
			}
			m.input.SetValue("")
			m.waiting = true
			return m, m.ask(q)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) ask(q string) tea.Cmd {
	return func() tea.Msg {
		return answerMsg{question: q, answer: m.svc.Ask(m.ctx, q)}
	}
}

func (m *chatModel) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m chatModel) renderHistory() string {
	if len(m.history) == 0 {
		return dimStyle.Render("No questions yet.")
	}

	var sb strings.Builder
	for i, ex := range m.history {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(questionStyle.Render("Q: " + ex.question))
		sb.WriteString("\n")
		sb.WriteString(lipgloss.NewStyle().Width(m.viewport.Width).Render(ex.answer))
	}
	return sb.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	status := dimStyle.Render("Enter to ask, PgUp/PgDn to scroll, Esc to quit")
	if m.waiting {
		status = busyStyle.Render("Searching the documents...")
	}

	return titleStyle.Render("docqa") + "\n" +
		m.viewport.View() + "\n" +
		boxStyle.Render(m.input.View()) + "\n" +
		status
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	busyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)
