// Package diff renders replay mismatches as colored unified diffs.
//
// Output follows the layout of a mocha-style failure report: each entry is
// headed by its index and recording id, followed by the mismatch message and
// a diff where "+" lines come from the expected (recorded) value and "-"
// lines from the actual (replayed) one.
package diff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/roach88/playback/internal/compare"
)

// ANSI color codes by role.
const (
	ColorPass        = 90
	ColorFail        = 31
	ColorPending     = 36
	ColorGreen       = 32
	ColorTitle       = 0
	ColorMessage     = 31
	ColorStack       = 90
	ColorDiffAdded   = 32
	ColorDiffRemoved = 31
)

// Result symbols.
const (
	SymbolOK  = "✓"
	SymbolErr = "✖"
)

const (
	diffIndent  = "      "
	diffContext = 4
)

// Status classifies a replayed recording.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusPending Status = "pending"
	StatusSkipped Status = "skipped"
)

// Entry is one reported failure.
type Entry struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Diff    string `json:"diff,omitempty"`
	Context string `json:"context,omitempty"`
}

// Printer formats entries. The zero value prints without colors.
type Printer struct {
	Color  bool
	Escape bool
}

// Paint wraps s in the ANSI escape for code when colors are enabled.
func (p Printer) Paint(code int, s string) string {
	if !p.Color {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", code, s)
}

// paintLines colors each line separately so that terminals do not carry a
// color across a line break.
func (p Printer) paintLines(code int, s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = p.Paint(code, l)
	}
	return strings.Join(lines, "\n")
}

// StatusMark returns the colored result symbol for status.
func (p Printer) StatusMark(status Status) string {
	switch status {
	case StatusPass:
		return p.Paint(ColorGreen, SymbolOK)
	case StatusPending:
		return p.Paint(ColorPending, SymbolErr)
	default:
		return p.Paint(ColorFail, SymbolErr)
	}
}

// Stringify renders v as indented JSON with sorted object keys.
func Stringify(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("stringify: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Unified renders the diff between the actual and expected texts. Hunk
// headers and file headers are dropped; the result starts with the
// "+ expected - actual" legend.
func (p Printer) Unified(expected, actual string) (string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(actual),
		B:        difflib.SplitLines(expected),
		FromFile: "actual",
		ToFile:   "expected",
		Context:  diffContext,
	})
	if err != nil {
		return "", fmt.Errorf("unified diff: %w", err)
	}

	var out []string
	for i, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		if i < 2 || line == "" {
			continue
		}
		if cleaned, ok := p.cleanUp(line); ok {
			out = append(out, cleaned)
		}
	}

	legend := p.paintLines(ColorDiffAdded, "+ expected") + " " + p.paintLines(ColorDiffRemoved, "- actual")
	return "\n" + diffIndent + legend + "\n\n" + strings.Join(out, "\n"), nil
}

func (p Printer) cleanUp(line string) (string, bool) {
	if p.Escape {
		line = EscapeInvisibles(line)
	}
	switch {
	case strings.HasPrefix(line, "+"):
		return diffIndent + p.paintLines(ColorDiffAdded, line), true
	case strings.HasPrefix(line, "-"):
		return diffIndent + p.paintLines(ColorDiffRemoved, line), true
	case strings.Contains(line, "@@"):
		return "", false
	case strings.Contains(line, `\ No newline`):
		return "", false
	}
	return diffIndent + line, true
}

// EscapeInvisibles makes tabs and line breaks visible.
func EscapeInvisibles(line string) string {
	return strings.NewReplacer("\t", "<tab>", "\r", "<CR>", "\n", "<LF>\n").Replace(line)
}

// Headline returns the part of a mismatch message that names what differed:
// "tpRoutes: expected ..." yields "tpRoutes". Messages without a prefix are
// returned unchanged.
func Headline(message string) string {
	prefix, _, found := strings.Cut(message, ": expected")
	if found && prefix != "" && !strings.Contains(prefix, ":") {
		return prefix
	}
	return message
}

// NewEntry builds the report entry for a failed replay. Comparator
// mismatches carry a diff when both sides have the same shape; any other
// error is reported with its text as context.
func (p Printer) NewEntry(index int, title string, status Status, err error) (Entry, error) {
	e := Entry{Index: index, Title: title, Status: status, Message: err.Error()}

	var me *compare.MismatchError
	if !errors.As(err, &me) || !sameType(me.Expected, me.Actual) {
		e.Context = err.Error()
		return e, nil
	}

	e.Message = Headline(me.Message)
	expected, eok := me.Expected.(string)
	actual, aok := me.Actual.(string)
	if !eok || !aok {
		var serr error
		if expected, serr = Stringify(me.Expected); serr != nil {
			return e, serr
		}
		if actual, serr = Stringify(me.Actual); serr != nil {
			return e, serr
		}
	}

	d, err := p.Unified(expected, actual)
	if err != nil {
		return e, err
	}
	e.Diff = d
	return e, nil
}

func sameType(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.TypeOf(a).Kind() == reflect.TypeOf(b).Kind()
}

// Format renders one entry.
func (p Printer) Format(e Entry) string {
	var b strings.Builder
	b.WriteString(p.Paint(ColorTitle, fmt.Sprintf("  %d) %s:", e.Index, e.Title)))
	b.WriteString("\n")
	if e.Diff != "" {
		b.WriteString("\n" + diffIndent + p.Paint(ColorMessage, e.Message))
		b.WriteString(e.Diff)
		b.WriteString("\n")
	} else {
		b.WriteString(diffIndent + p.Paint(ColorMessage, e.Message) + "\n")
	}
	if e.Context != "" && e.Context != e.Message {
		b.WriteString(p.Paint(ColorStack, e.Context) + "\n")
	}
	return b.String()
}

// FormatAll renders entries in order, separated by blank lines.
func (p Printer) FormatAll(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = p.Format(e)
	}
	return strings.Join(parts, "\n")
}
