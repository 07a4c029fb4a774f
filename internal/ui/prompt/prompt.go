// File: internal/ui/prompt/prompt.go
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Asks before something destructive happens
type Prompter interface {
	// Reports whether the user typed expectedValue in answer to message
	Confirm(message string, expectedValue string) (bool, error)
}

// Line-based prompter. Prompts go to out, typically stderr, so piped
// output stays clean.
type StandardPrompter struct {
	in  io.Reader
	out io.Writer
}

func NewStandardPrompter(in io.Reader, out io.Writer) *StandardPrompter {
	return &StandardPrompter{in: in, out: out}
}

// Reads a single line. Input closed before any line arrives is a refusal; a
// final line without a newline still counts.
func (p *StandardPrompter) Confirm(message string, expectedValue string) (bool, error) {
	if expectedValue == "" {
		return false, errors.New("expected confirmation value cannot be empty")
	}

	fmt.Fprintf(p.out, "%s\nTo confirm, type '%s': ", message, expectedValue)

	scanner := bufio.NewScanner(p.in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, fmt.Errorf("error reading user input: %w", err)
		}
		return false, nil
	}
	return strings.TrimSpace(scanner.Text()) == expectedValue, nil
}
