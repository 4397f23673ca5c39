package cassette

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/playback/internal/recording"
)

func TestStringify_ReplacesUndefined(t *testing.T) {
	b, err := StringifyObjectAndReplaceValues(map[string]any{"a": Undefined, "b": 1}, ReplaceUndefined)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"^_--undefined--_^","b":1}`, string(b))
}

func TestStringify_NilReplacerDropsUndefined(t *testing.T) {
	b, err := StringifyObjectAndReplaceValues(map[string]any{"a": Undefined, "b": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1}`, string(b))

	b, err = StringifyObjectAndReplaceValues([]any{Undefined, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, `[null,1]`, string(b))
}

func TestStringify_ReplacerSeesKeys(t *testing.T) {
	double := func(key string, v any) any {
		if n, ok := v.(int); ok && key == "n" {
			return n * 2
		}
		return v
	}
	b, err := StringifyObjectAndReplaceValues(map[string]any{
		"n":    2,
		"m":    2,
		"list": []any{map[string]any{"n": 5}},
	}, double)
	require.NoError(t, err)
	assert.Equal(t, `{"list":[{"n":10}],"m":2,"n":4}`, string(b))
}

func TestStringify_KeepsHTML(t *testing.T) {
	b, err := StringifyObjectAndReplaceValues(map[string]any{"s": "<a&b>"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"s":"<a&b>"}`, string(b))
}

func TestStringify_RecordingData(t *testing.T) {
	b, err := StringifyObjectAndReplaceValues(recording.Data{Output: 6}, ReplaceUndefined)
	require.NoError(t, err)
	assert.Equal(t, `{"input":[],"output":6}`, string(b))
}

func TestStringify_CyclicStructure(t *testing.T) {
	m := map[string]any{"a": 1}
	m["self"] = m

	_, err := StringifyObjectAndReplaceValues(m, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclic)
}

func TestStringify_SharedNonCyclicValue(t *testing.T) {
	shared := map[string]any{"x": 1}
	b, err := StringifyObjectAndReplaceValues(map[string]any{"a": shared, "b": shared}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":1},"b":{"x":1}}`, string(b))
}

// Replayed output {a: <absent>, b: 1} canonicalizes to {a: sentinel, b: 1};
// decanonicalizing restores the absent marker with the key still present.
func TestCanonicalize_SentinelRoundTrip(t *testing.T) {
	out := map[string]any{"a": Undefined, "b": 1}

	canon, err := Canonicalize(out)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": UndefinedReplacer, "b": json.Number("1")}, canon)

	restored, ok := Decanonicalize(canon).(map[string]any)
	require.True(t, ok)
	require.Contains(t, restored, "a")
	assert.True(t, IsUndefined(restored["a"]))
	assert.Equal(t, json.Number("1"), restored["b"])
}

func TestCanonicalize_Idempotent(t *testing.T) {
	in := map[string]any{
		"n":    int64(9007199254740993),
		"list": []any{1.5, "x", nil, Undefined},
	}
	once, err := Canonicalize(in)
	require.NoError(t, err)
	twice, err := Canonicalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	m := once.(map[string]any)
	assert.Equal(t, json.Number("9007199254740993"), m["n"])
	assert.Equal(t, []any{json.Number("1.5"), "x", nil, UndefinedReplacer}, m["list"])
}

func TestCanonicalize_Structs(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y,omitempty"`
	}
	canon, err := Canonicalize([]any{point{X: 1}})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"x": json.Number("1")}}, canon)
}

func TestUndefinedValue_MarshalsAsSentinel(t *testing.T) {
	b, err := json.Marshal(struct {
		V UndefinedValue `json:"v"`
	}{})
	require.NoError(t, err)
	assert.Equal(t, `{"v":"^_--undefined--_^"}`, string(b))
}

func TestCanonicalize_UndefinedInTypedContainers(t *testing.T) {
	in := map[string]any{
		"list":  []map[string]any{{"a": Undefined, "b": 1}},
		"byKey": map[string][]any{"k": {Undefined, "x"}},
	}
	canon, err := Canonicalize(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"list":  []any{map[string]any{"a": UndefinedReplacer, "b": json.Number("1")}},
		"byKey": map[string]any{"k": []any{UndefinedReplacer, "x"}},
	}, canon)

	restored := Decanonicalize(canon).(map[string]any)
	row := restored["list"].([]any)[0].(map[string]any)
	assert.True(t, IsUndefined(row["a"]))
}

func TestCanonicalize_UndefinedInStruct(t *testing.T) {
	type result struct {
		A any `json:"a"`
		B int `json:"b"`
	}
	canon, err := Canonicalize(result{A: Undefined, B: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": UndefinedReplacer, "b": json.Number("1")}, canon)
	assert.True(t, IsUndefined(Decanonicalize(canon).(map[string]any)["a"]))
}

func TestStringify_TypedContainersWithoutReplacer(t *testing.T) {
	b, err := StringifyObjectAndReplaceValues(map[string]any{
		"rows": []map[string]any{{"a": Undefined, "b": 1}},
		"raw":  []byte("hi"),
	}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[{"b":1}],"raw":"aGk="}`, string(b))
}

func TestSentinelPreservation_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("undefined fields survive canonical round trip", prop.ForAll(
		func(fields map[string]bool) bool {
			in := make(map[string]any, len(fields))
			for k, undefined := range fields {
				if undefined {
					in[k] = Undefined
				} else {
					in[k] = "v-" + k
				}
			}
			canon, err := Canonicalize(in)
			if err != nil {
				return false
			}
			out, ok := Decanonicalize(canon).(map[string]any)
			if !ok || len(out) != len(in) {
				return false
			}
			for k, v := range in {
				got, present := out[k]
				if !present {
					return false
				}
				if IsUndefined(v) != IsUndefined(got) {
					return false
				}
				if !IsUndefined(v) && got != v {
					return false
				}
			}
			return true
		},
		gen.MapOf(gen.AlphaString(), gen.Bool()),
	))

	properties.TestingRun(t)
}
