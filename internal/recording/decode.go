package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeValue parses JSON into generic Go values.
// Numbers become json.Number so integers beyond 2^53 keep their precision.
func DecodeValue(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeObject parses a JSON object into a map.
func DecodeObject(b []byte) (map[string]any, error) {
	v, err := DecodeValue(b)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return m, nil
}

// DecodeMetadata parses a stored metadata document.
func DecodeMetadata(b []byte) (Metadata, error) {
	m, err := DecodeObject(b)
	if err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return Metadata(m), nil
}
