package cassette

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/roach88/playback/internal/recording"
)

// UndefinedReplacer is the sentinel written in place of an undefined field so
// the key survives serialization.
const UndefinedReplacer = "^_--undefined--_^"

// UndefinedValue marks a field that is present but has no value.
type UndefinedValue struct{}

// MarshalJSON encodes an UndefinedValue the codec does not reach, such as a
// struct field, as the quoted UndefinedReplacer.
func (UndefinedValue) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(UndefinedReplacer)), nil
}

// Undefined is the value of a present-but-undefined field.
var Undefined = UndefinedValue{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(UndefinedValue)
	return ok
}

// Replacer is called for every value before serialization, top-down, with the
// object key (or array index) it is stored under. The root has key "".
// Its return value replaces the original.
type Replacer func(key string, value any) any

// ReplaceUndefined substitutes UndefinedReplacer for Undefined.
func ReplaceUndefined(_ string, value any) any {
	if IsUndefined(value) {
		return UndefinedReplacer
	}
	return value
}

// ErrCyclic is returned when a value contains itself.
var ErrCyclic = errors.New("cyclic structure")

// StringifyObjectAndReplaceValues serializes v as JSON, passing every map
// value and slice element through replacer first. Object fields still
// Undefined after replacement are omitted; array elements become null.
// A nil replacer serializes as-is.
func StringifyObjectAndReplaceValues(v any, replacer Replacer) ([]byte, error) {
	if replacer == nil {
		replacer = func(_ string, value any) any { return value }
	}
	w := walker{replacer: replacer, active: make(map[uintptr]bool)}
	tree, err := w.walk("", v)
	if err != nil {
		return nil, fmt.Errorf("stringify: %w", err)
	}
	tree = stripUndefined(tree)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("stringify: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// walker applies a replacer top-down. active holds the maps and slices on
// the current path so a value reachable from itself is reported.
type walker struct {
	replacer Replacer
	active   map[uintptr]bool
}

func (w *walker) walk(key string, v any) (any, error) {
	v = w.replacer(key, v)
	switch val := v.(type) {
	case recording.Metadata:
		v = map[string]any(val)
	case recording.Data:
		v = dataObject(val)
	}

	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val, nil
		}
		return w.walkMap(reflect.ValueOf(val))
	case []any:
		if len(val) == 0 {
			return val, nil
		}
		return w.walkSlice(reflect.ValueOf(val))
	}

	// Typed containers ([]map[string]any, map[string][]any, ...) are walked
	// too, unless their type encodes itself.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String || encodesItself(rv.Type()) {
			return v, nil
		}
		return w.walkMap(rv)
	case reflect.Slice:
		if rv.IsNil() || rv.Type().Elem().Kind() == reflect.Uint8 || encodesItself(rv.Type()) {
			return v, nil
		}
		return w.walkSlice(rv)
	default:
		return v, nil
	}
}

func (w *walker) walkMap(rv reflect.Value) (any, error) {
	id := rv.Pointer()
	if err := w.enter(id); err != nil {
		return nil, err
	}
	defer w.leave(id)

	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		r, err := w.walk(k, iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

func (w *walker) walkSlice(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	if rv.Len() == 0 {
		return out, nil
	}
	id := rv.Pointer()
	if err := w.enter(id); err != nil {
		return nil, err
	}
	defer w.leave(id)

	for i := range out {
		r, err := w.walk(strconv.Itoa(i), rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

func encodesItself(t reflect.Type) bool {
	return t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType)
}

func (w *walker) enter(id uintptr) error {
	if id == 0 {
		return nil
	}
	if w.active[id] {
		return ErrCyclic
	}
	w.active[id] = true
	return nil
}

func (w *walker) leave(id uintptr) {
	delete(w.active, id)
}

// dataObject is the map form of recording.Data used for walking.
func dataObject(d recording.Data) map[string]any {
	m := make(map[string]any, len(d.Extra)+2)
	for k, v := range d.Extra {
		m[k] = v
	}
	input := d.Input
	if input == nil {
		input = []any{}
	}
	m["input"] = input
	m["output"] = d.Output
	return m
}

func stripUndefined(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, elem := range val {
			if IsUndefined(elem) {
				delete(val, k)
				continue
			}
			val[k] = stripUndefined(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			if IsUndefined(elem) {
				val[i] = nil
				continue
			}
			val[i] = stripUndefined(elem)
		}
		return val
	default:
		if IsUndefined(v) {
			return nil
		}
		return v
	}
}

// Canonicalize returns the structural form v takes after a round trip
// through storage: Undefined fields become UndefinedReplacer, numbers become
// json.Number, structs become maps. Both sides of a replay comparison must
// be canonicalized.
func Canonicalize(v any) (any, error) {
	b, err := StringifyObjectAndReplaceValues(v, ReplaceUndefined)
	if err != nil {
		return nil, err
	}
	out, err := recording.DecodeValue(b)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Decanonicalize reverses the sentinel substitution of Canonicalize,
// restoring Undefined for every UndefinedReplacer string.
func Decanonicalize(v any) any {
	switch val := v.(type) {
	case string:
		if val == UndefinedReplacer {
			return Undefined
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Decanonicalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Decanonicalize(elem)
		}
		return out
	default:
		return v
	}
}

// encodeData serializes recording data, keeping undefined fields.
func encodeData(d recording.Data) ([]byte, error) {
	return StringifyObjectAndReplaceValues(d, ReplaceUndefined)
}

// encodeMetadata serializes metadata. Undefined fields are dropped.
func encodeMetadata(md recording.Metadata) ([]byte, error) {
	return StringifyObjectAndReplaceValues(md, nil)
}

func decodeData(b []byte) (recording.Data, error) {
	var d recording.Data
	if err := json.Unmarshal(b, &d); err != nil {
		return recording.Data{}, err
	}
	return d, nil
}
