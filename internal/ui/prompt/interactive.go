// File: internal/ui/prompt/interactive.go
package prompt

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	hintStyle    = lipgloss.NewStyle().Faint(true)
)

// Prompts with an inline text input. Meant for terminals; piped input
// should use StandardPrompter.
type InteractivePrompter struct {
	reader io.Reader
	writer io.Writer
}

func NewInteractivePrompter(in io.Reader, out io.Writer) *InteractivePrompter {
	return &InteractivePrompter{
		reader: in,
		writer: out,
	}
}

func (p *InteractivePrompter) Confirm(message string, expectedValue string) (bool, error) {
	if expectedValue == "" {
		return false, fmt.Errorf("expected confirmation value cannot be empty")
	}

	program := tea.NewProgram(newConfirmModel(message, expectedValue), tea.WithInput(p.reader), tea.WithOutput(p.writer))
	final, err := program.Run()
	if err != nil {
		return false, fmt.Errorf("error reading user input: %w", err)
	}

	m, ok := final.(confirmModel)
	if !ok {
		return false, nil
	}
	return m.confirmed, nil
}

type confirmModel struct {
	message   string
	expected  string
	input     textinput.Model
	done      bool
	confirmed bool
}

func newConfirmModel(message, expected string) confirmModel {
	input := textinput.New()
	input.Placeholder = expected
	input.Prompt = "> "
	input.Focus()
	return confirmModel{message: message, expected: expected, input: input}
}

func (m confirmModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			m.confirmed = strings.TrimSpace(m.input.Value()) == m.expected
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m confirmModel) View() string {
	if m.done {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(warningStyle.Render(m.message))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("To confirm, type '%s':", m.expected))
	sb.WriteString("\n")
	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	sb.WriteString(hintStyle.Render("(esc to cancel)"))
	sb.WriteString("\n")
	return sb.String()
}
