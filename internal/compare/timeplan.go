package compare

import "fmt"

// TimeplanMethod is the worker whose outputs ConvertDatasetToTimeplan compares.
const TimeplanMethod = "ConvertDatasetToTimeplan"

// timeplanEntities are compared in this order; the first mismatch is reported.
var timeplanEntities = []string{"tpTimetables", "tpRunningTimes", "tpRoutes"}

// ConvertDatasetToTimeplan compares only the directions of each timeplan
// entity. Trips are compared without their pattern, patterns without their
// pattern and id. Everything else in the output is ignored.
func ConvertDatasetToTimeplan(expected, actual any) error {
	em, _ := expected.(map[string]any)
	am, _ := actual.(map[string]any)

	for _, entity := range timeplanEntities {
		exp := cleanTimeplanEntity(em[entity])
		act := cleanTimeplanEntity(am[entity])
		if err := Equal(exp, act); err != nil {
			return &MismatchError{
				Message:  fmt.Sprintf("%s: expected values to be deeply equal", entity),
				Expected: exp,
				Actual:   act,
			}
		}
	}
	return nil
}

func cleanTimeplanEntity(v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(items))
	for i, item := range items {
		m, _ := item.(map[string]any)
		directions, ok := m["directions"].([]any)
		if !ok {
			out[i] = map[string]any{"directions": m["directions"]}
			continue
		}
		cleaned := make([]any, len(directions))
		for j, d := range directions {
			cleaned[j] = cleanDirection(d)
		}
		out[i] = map[string]any{"directions": cleaned}
	}
	return out
}

func cleanDirection(d any) any {
	m, ok := d.(map[string]any)
	if !ok {
		return d
	}
	if trips, ok := m["trips"].([]any); ok {
		return map[string]any{"trips": omitEach(trips, "pattern")}
	}
	if patterns, ok := m["patterns"].([]any); ok {
		return map[string]any{"patterns": omitEach(patterns, "pattern", "id")}
	}
	return d
}

func omitEach(items []any, fields ...string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = OmitTopLevel(item, fields...)
	}
	return out
}
