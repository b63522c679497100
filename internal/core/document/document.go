// Package document models the hub's JSON state documents as trees of
// string-keyed fields and provides structural equality and deep copies
// over them.
//
// Documents are the values produced by encoding/json when decoding into
// interface{}: map[string]any, []any, float64, string, bool and nil.
// Equality and cloning go through structpb so the comparison is defined by
// protobuf's well-known Struct semantics rather than Go map identity.
package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Map is a JSON object.
type Map = map[string]any

// Parse decodes a JSON object.
func Parse(data []byte) (Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("document: parse: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("document: parse: not an object")
	}
	return m, nil
}

// Equal reports whether a and b are structurally equal. Values that cannot
// be represented as JSON are never equal.
func Equal(a, b any) bool {
	va, err := structpb.NewValue(a)
	if err != nil {
		return false
	}
	vb, err := structpb.NewValue(b)
	if err != nil {
		return false
	}
	return proto.Equal(va, vb)
}

// Clone returns a deep copy of m. Numbers come back as float64.
func Clone(m Map) (Map, error) {
	if m == nil {
		return nil, nil
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("document: clone: %w", err)
	}
	return s.AsMap(), nil
}

// Object returns m[key] when it is a JSON object.
func Object(m Map, key string) (Map, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

// String returns m[key] when it is a JSON string.
func String(m Map, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// Bool returns m[key] when it is a JSON boolean.
func Bool(m Map, key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

// Number returns m[key] when it is numeric.
func Number(m Map, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Pair returns m[key] when it is a two-element numeric array, as used by
// the hub's xy colour field.
func Pair(m Map, key string) (float64, float64, bool) {
	switch v := m[key].(type) {
	case []any:
		if len(v) != 2 {
			return 0, 0, false
		}
		a, okA := toFloat(v[0])
		b, okB := toFloat(v[1])
		return a, b, okA && okB
	case []float64:
		if len(v) != 2 {
			return 0, 0, false
		}
		return v[0], v[1], true
	default:
		return 0, 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// SortedKeys returns the keys of m ordered numerically where both keys are
// integers, lexically otherwise. Hub IDs are decimal strings, so "10" sorts
// after "9".
func SortedKeys(m Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return keys[i] < keys[j]
	})
	return keys
}
