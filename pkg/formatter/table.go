// File: pkg/formatter/table.go
package formatter

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var titleStyle = lipgloss.NewStyle().Bold(true)

// Table renders rows in a bordered, fixed-width grid. Cells past the last
// header are dropped.
type Table struct {
	Headers []string
	Rows    [][]string
	// Columns whose cells are padded on the left, e.g. sizes
	rightAligned map[int]bool
}

func NewTable(headers []string) *Table {
	return &Table{
		Headers:      headers,
		Rows:         [][]string{},
		rightAligned: map[int]bool{},
	}
}

func (t *Table) AddRow(row []string) {
	t.Rows = append(t.Rows, row)
}

// Pads the cells of column i on the left. Headers stay left-aligned.
func (t *Table) AlignRight(i int) *Table {
	t.rightAligned[i] = true
	return t
}

// Widths are measured in terminal cells so object keys with wide or
// multi-byte characters still line up
func (t *Table) widths() []int {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}
	return widths
}

// Returns the rendered table without a trailing newline, or "" when it has
// no headers
func (t *Table) String() string {
	if len(t.Headers) == 0 {
		return ""
	}
	widths := t.widths()

	var rule strings.Builder
	rule.WriteByte('+')
	for _, w := range widths {
		rule.WriteString(strings.Repeat("-", w+2))
		rule.WriteByte('+')
	}

	lines := make([]string, 0, len(t.Rows)+4)
	lines = append(lines, rule.String(), t.renderRow(t.Headers, widths, false), rule.String())
	for _, row := range t.Rows {
		lines = append(lines, t.renderRow(row, widths, true))
	}
	lines = append(lines, rule.String())
	return strings.Join(lines, "\n")
}

func (t *Table) renderRow(row []string, widths []int, body bool) string {
	var sb strings.Builder
	sb.WriteString("| ")
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		pad := strings.Repeat(" ", w-lipgloss.Width(cell))
		if body && t.rightAligned[i] {
			sb.WriteString(pad + cell)
		} else {
			sb.WriteString(cell + pad)
		}
		sb.WriteString(" | ")
	}
	return sb.String()
}

// A bold title framed by two lines of '='
func FormatHeaderSection(title string) string {
	border := strings.Repeat("=", lipgloss.Width(title)+30)
	return border + "\n  " + titleStyle.Render(title) + "  \n" + border
}

func FormatSectionTitle(title string) string {
	return "-- " + titleStyle.Render(title) + " --"
}
