package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNoAnswer is returned when input ends before a required answer.
var ErrNoAnswer = errors.New("no answer given")

// Choice is one option of a list question.
type Choice struct {
	Name  string
	Value string
}

// Prompter asks line-based questions for options missing from the command
// line.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Input asks a free-text question. An empty answer, or end of input,
// yields def.
func (p *Prompter) Input(message, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "? %s (%s) ", message, def)
	} else {
		fmt.Fprintf(p.out, "? %s ", message)
	}
	answer, err := p.readLine()
	if errors.Is(err, io.EOF) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Choose asks the user to pick one of choices by number and returns its
// value. Invalid answers are asked again.
func (p *Prompter) Choose(message string, choices []Choice) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("%s: no choices available", message)
	}
	for {
		fmt.Fprintf(p.out, "? %s\n", message)
		for i, c := range choices {
			fmt.Fprintf(p.out, "  %d) %s\n", i+1, c.Name)
		}
		fmt.Fprint(p.out, "  Answer: ")

		answer, err := p.readLine()
		if errors.Is(err, io.EOF) {
			return "", ErrNoAnswer
		}
		if err != nil {
			return "", err
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(choices) {
			return choices[n-1].Value, nil
		}
		for _, c := range choices {
			if strings.EqualFold(answer, c.Value) {
				return c.Value, nil
			}
		}
		fmt.Fprintf(p.out, "  %q is not a valid choice\n", answer)
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(message string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	answer, err := p.Input(message, hint)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "true":
		return true, nil
	case "n", "no", "false":
		return false, nil
	}
	return def, nil
}

// DisplayName turns a method name into a sentence-cased label:
// "ConvertDatasetToTimeplan" becomes "Convert dataset to timeplan".
func DisplayName(method string) string {
	runes := []rune(method)
	var words []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	if start < len(runes) {
		words = append(words, string(runes[start:]))
	}
	if len(words) == 0 {
		return ""
	}

	lower := cases.Lower(language.English)
	for i, w := range words {
		words[i] = lower.String(w)
	}
	words[0] = cases.Title(language.English).String(words[0])
	return strings.Join(words, " ")
}

// methodChoices lists methods for a Choose question.
func methodChoices(methods []string) []Choice {
	choices := make([]Choice, len(methods))
	for i, m := range methods {
		choices[i] = Choice{Name: DisplayName(m), Value: m}
	}
	return choices
}
