// Package compare decides whether a replayed output matches the recorded one.
//
// Comparators are resolved by method name. Methods without a registered
// comparator use Default: deep structural equality after dropping the
// top-level fields that legitimately change between runs.
package compare

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
)

// Comparator returns nil when actual matches expected, or a *MismatchError.
type Comparator func(expected, actual any) error

// MismatchError reports a failed comparison. Expected and Actual hold the
// values as compared, after any projection the comparator applied.
type MismatchError struct {
	Message  string
	Expected any
	Actual   any
}

// Error implements the error interface.
func (e *MismatchError) Error() string { return e.Message }

// IsMismatch returns true if err is a comparison failure.
// Uses errors.As to handle wrapped errors.
func IsMismatch(err error) bool {
	var me *MismatchError
	return errors.As(err, &me)
}

// DefaultVolatileFields are dropped from both sides by Default.
var DefaultVolatileFields = []string{
	"loggerContext",
	"projectId",
	"redisKey",
	"euclidResultKey",
	"jobId",
	"transitTo",
	"id",
	"folderId",
}

// Default compares with deep equality after omitting DefaultVolatileFields
// from the top level of both values.
func Default(expected, actual any) error {
	return Equal(
		OmitTopLevel(expected, DefaultVolatileFields...),
		OmitTopLevel(actual, DefaultVolatileFields...),
	)
}

// Equal is deep structural equality.
func Equal(expected, actual any) error {
	if cmp.Equal(expected, actual) {
		return nil
	}
	return &MismatchError{
		Message:  "expected values to be deeply equal",
		Expected: expected,
		Actual:   actual,
	}
}

// OmitTopLevel returns a shallow copy of an object without fields.
// Non-objects are returned unchanged.
func OmitTopLevel(v any, fields ...string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// PickTopLevel returns a copy of an object holding only fields.
// Non-objects are returned unchanged.
func PickTopLevel(v any, fields ...string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if val, present := m[f]; present {
			out[f] = val
		}
	}
	return out
}

// StripNested removes fields named in names from every object at any depth.
func StripNested(v any, names ...string) any {
	if len(names) == 0 {
		return v
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	return strip(v, drop)
}

func strip(v any, drop map[string]bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if drop[k] {
				continue
			}
			out[k] = strip(elem, drop)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = strip(elem, drop)
		}
		return out
	default:
		return v
	}
}

// Registry resolves comparators by method name.
type Registry struct {
	mu       sync.RWMutex
	byMethod map[string]Comparator
	fallback Comparator
}

// NewRegistry creates a registry holding the built-in named comparators,
// falling back to Default.
func NewRegistry() *Registry {
	r := &Registry{
		byMethod: make(map[string]Comparator),
		fallback: Default,
	}
	r.Register(TimeplanMethod, ConvertDatasetToTimeplan)
	return r
}

// Register sets the comparator for method, replacing any earlier one.
func (r *Registry) Register(method string, c Comparator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMethod[method] = c
}

// Resolve returns the comparator for method, or Default.
func (r *Registry) Resolve(method string) Comparator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byMethod[method]; ok {
		return c
	}
	return r.fallback
}

// Methods returns the methods with a dedicated comparator, sorted.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byMethod))
	for name := range r.byMethod {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compare resolves the comparator for method and applies it.
func (r *Registry) Compare(method string, expected, actual any) error {
	if err := r.Resolve(method)(expected, actual); err != nil {
		var me *MismatchError
		if errors.As(err, &me) {
			return err
		}
		return fmt.Errorf("compare %s: %w", method, err)
	}
	return nil
}
