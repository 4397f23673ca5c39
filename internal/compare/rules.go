package compare

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// ruleSchema closes every rule so misspelled keys are rejected.
const ruleSchema = `
#Rule: {
	pick?:   [...string]
	ignore?: [...string]
	strip?:  [...string]
}
comparator: [string]: #Rule
`

// Rule is a declarative comparator for one method, loaded from CUE:
//
//	comparator: FilterCreateLines: {
//		ignore: ["jobId", "createdAt"]
//		strip:  ["uuid"]
//	}
//
// Pick keeps only the named top-level fields, Ignore drops top-level
// fields, Strip drops fields with those names at any depth. The projected
// values are then compared with Equal.
type Rule struct {
	Method string   `json:"-"`
	Pick   []string `json:"pick,omitempty"`
	Ignore []string `json:"ignore,omitempty"`
	Strip  []string `json:"strip,omitempty"`
}

// Project applies the rule to one side of a comparison.
func (r Rule) Project(v any) any {
	if len(r.Pick) > 0 {
		v = PickTopLevel(v, r.Pick...)
	}
	v = OmitTopLevel(v, r.Ignore...)
	return StripNested(v, r.Strip...)
}

// Comparator returns the rule as a Comparator.
func (r Rule) Comparator() Comparator {
	return func(expected, actual any) error {
		return Equal(r.Project(expected), r.Project(actual))
	}
}

// RuleError reports an invalid rule file.
type RuleError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *RuleError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadRules reads comparator rules from a CUE file.
func LoadRules(path string) ([]Rule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(src, path)
}

// ParseRules parses comparator rules from CUE source. Rules are returned in
// declaration order.
func ParseRules(src []byte, filename string) ([]Rule, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(ruleSchema, cue.Filename("comparator-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	compVal := v.LookupPath(cue.ParsePath("comparator"))
	if !compVal.Exists() {
		return nil, nil
	}

	iter, err := compVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rules []Rule
	for iter.Next() {
		var rule Rule
		if err := iter.Value().Decode(&rule); err != nil {
			return nil, &RuleError{
				Field:   "comparator." + iter.Label(),
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
		rule.Method = iter.Label()
		rules = append(rules, rule)
	}
	return rules, nil
}

// RegisterRules registers every rule, replacing existing comparators for
// the same methods.
func (r *Registry) RegisterRules(rules []Rule) {
	for _, rule := range rules {
		r.Register(rule.Method, rule.Comparator())
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &RuleError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &RuleError{Field: "cue", Message: first.Error()}
}
