// Package recording defines the captured input/output/metadata of a single
// worker invocation.
//
// A Recording is created when a real invocation starts. Metadata is filled
// first (method, timestamp, caller context), data once the computation has
// returned or failed. It is handed to a cassette exactly once; after that it
// is only read back by id.
package recording

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata keys written by the capture layer.
const (
	KeyMethod    = "method"
	KeyTimestamp = "timestamp"
	KeyCustomer  = "customer"
	KeyUser      = "user"
	KeyError     = "error"
	KeyException = "exception"
)

// Data is the captured call: the ordered argument list and the result.
//
// Extra holds any additional top-level fields merged in with AddData.
// It is serialized alongside input/output.
type Data struct {
	Input  []any          `json:"input"`
	Output any            `json:"output"`
	Extra  map[string]any `json:"-"`
}

// MarshalJSON writes input, output and every Extra field as one object.
func (d Data) MarshalJSON() ([]byte, error) {
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
	return json.Marshal(m)
}

// UnmarshalJSON splits input/output from the remaining fields.
// Numbers are decoded as json.Number so large integers survive.
func (d *Data) UnmarshalJSON(b []byte) error {
	m, err := DecodeObject(b)
	if err != nil {
		return fmt.Errorf("unmarshal recording data: %w", err)
	}
	*d = Data{}
	d.merge(m)
	return nil
}

func (d *Data) merge(m map[string]any) {
	for k, v := range m {
		switch k {
		case "input":
			d.Input = toArgs(v)
		case "output":
			d.Output = v
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			d.Extra[k] = v
		}
	}
}

func toArgs(v any) []any {
	switch args := v.(type) {
	case nil:
		return nil
	case []any:
		return args
	default:
		return []any{args}
	}
}

// Metadata is the flat, extensible context stored next to the data.
type Metadata map[string]any

// Method returns the captured method name.
func (m Metadata) Method() string {
	s, _ := m[KeyMethod].(string)
	return s
}

// Customer returns the customer namespace the recording was captured for.
func (m Metadata) Customer() string {
	s, _ := m[KeyCustomer].(string)
	return s
}

// User returns the user that triggered the invocation, if known.
func (m Metadata) User() string {
	s, _ := m[KeyUser].(string)
	return s
}

// Failed reports whether the original capture was tagged as an error.
func (m Metadata) Failed() bool {
	b, _ := m[KeyError].(bool)
	return b
}

// Timestamp returns the capture time. The zero time is returned when the
// field is missing or not numeric.
func (m Metadata) Timestamp() time.Time {
	var ms int64
	switch v := m[KeyTimestamp].(type) {
	case int64:
		ms = v
	case int:
		ms = int64(v)
	case float64:
		ms = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return time.Time{}
			}
			n = int64(f)
		}
		ms = n
	default:
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ExceptionSnapshot is the serializable form of a capture-time error.
type ExceptionSnapshot struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SnapshotError builds an ExceptionSnapshot for err.
func SnapshotError(err error) ExceptionSnapshot {
	if err == nil {
		return ExceptionSnapshot{}
	}
	return ExceptionSnapshot{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
}

// Fields returns the snapshot as a metadata value.
func (s ExceptionSnapshot) Fields() map[string]any {
	return map[string]any{"type": s.Type, "message": s.Message}
}

// Recording is one captured invocation.
//
// ID and Method never change after construction. Data and metadata may be
// mutated until the recording is saved.
type Recording struct {
	id       string
	method   string
	data     Data
	hasData  bool
	metadata Metadata
}

// New creates a recording with a fresh UUIDv7 id and base metadata
// {method, timestamp}.
func New(method string) *Recording {
	return NewWithGenerator(method, UUIDv7Generator{}, time.Now())
}

// NewWithGenerator creates a recording using gen for the id and now for the
// timestamp. Used by tests for deterministic ids.
func NewWithGenerator(method string, gen IDGenerator, now time.Time) *Recording {
	return &Recording{
		id:     gen.Generate(),
		method: method,
		metadata: Metadata{
			KeyMethod:    method,
			KeyTimestamp: now.UnixMilli(),
		},
	}
}

// ID returns the recording id.
func (r *Recording) ID() string { return r.id }

// Method returns the captured method name.
func (r *Recording) Method() string { return r.method }

// SetData replaces the data wholesale.
func (r *Recording) SetData(d Data) {
	r.data = d
	r.hasData = true
}

// AddData shallow-merges fields into the data. "input" and "output" address
// the call fields; any other key is kept as an extra field.
func (r *Recording) AddData(fields map[string]any) {
	r.data.merge(fields)
	r.hasData = true
}

// Data returns the captured data.
func (r *Recording) Data() Data { return r.data }

// HasData reports whether data was set at least once.
func (r *Recording) HasData() bool { return r.hasData }

// AddMetaData shallow-merges fields into the metadata. Last write wins per key.
func (r *Recording) AddMetaData(fields map[string]any) {
	for k, v := range fields {
		r.metadata[k] = v
	}
}

// MetaData returns the live metadata map.
func (r *Recording) MetaData() Metadata { return r.metadata }

// Snapshot returns copies of data and metadata safe to hand to storage.
// Top-level maps are copied; nested values are shared.
func (r *Recording) Snapshot() (Data, Metadata) {
	return r.data.Clone(), r.metadata.Clone()
}

// Clone returns a copy of d that shares no maps or slices with it. Values
// other than map[string]any and []any are copied by assignment.
func (d Data) Clone() Data {
	c := Data{Output: cloneValue(d.Output)}
	if d.Input != nil {
		c.Input = cloneValue(d.Input).([]any)
	}
	if d.Extra != nil {
		c.Extra = cloneValue(d.Extra).(map[string]any)
	}
	return c
}

// Clone returns a deep copy of m in the sense of Data.Clone.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return Metadata(cloneValue(map[string]any(m)).(map[string]any))
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}
