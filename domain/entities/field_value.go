package entities

import (
	"fmt"
	"strings"
)

// ValueKind tells which variant a FieldValue holds.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindMapping
	KindList
	KindTuples
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMapping:
		return "mapping"
	case KindList:
		return "list"
	case KindTuples:
		return "tuples"
	}
	return "unknown"
}

// FieldValue is the data bound to one field: a scalar, a name→value mapping,
// a list of scalars or a list of tuples.
type FieldValue struct {
	Kind    ValueKind
	Scalar  string
	Mapping map[string]string
	List    []string
	Tuples  [][]string
}

// Scalar builds a scalar value.
func Scalar(s string) FieldValue {
	return FieldValue{Kind: KindScalar, Scalar: s}
}

// Mapping builds a compound value such as {last_name, birth_date}.
func Mapping(m map[string]string) FieldValue {
	return FieldValue{Kind: KindMapping, Mapping: m}
}

// List builds a scalar array value.
func List(items ...string) FieldValue {
	return FieldValue{Kind: KindList, List: items}
}

// Tuples builds a tuple array value.
func Tuples(items ...[]string) FieldValue {
	return FieldValue{Kind: KindTuples, Tuples: items}
}

// IsEmpty reports whether there is nothing to enter.
func (v FieldValue) IsEmpty() bool {
	switch v.Kind {
	case KindScalar:
		return v.Scalar == ""
	case KindMapping:
		return len(v.Mapping) == 0
	case KindList:
		return len(v.List) == 0
	case KindTuples:
		return len(v.Tuples) == 0
	}
	return true
}

// Key extracts a named sub-value of a mapping.
func (v FieldValue) Key(name string) (string, bool) {
	if v.Kind != KindMapping {
		return "", false
	}
	s, ok := v.Mapping[name]
	return s, ok
}

// String renders the value for status lines and logs.
func (v FieldValue) String() string {
	switch v.Kind {
	case KindScalar:
		return v.Scalar
	case KindMapping:
		return fmt.Sprint(v.Mapping)
	case KindList:
		return "[" + strings.Join(v.List, ", ") + "]"
	case KindTuples:
		parts := make([]string, len(v.Tuples))
		for i, t := range v.Tuples {
			parts[i] = "(" + strings.Join(t, ", ") + ")"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ""
}

// ValueFrom converts a decoded JSON/YAML value into a FieldValue.
func ValueFrom(raw interface{}) (FieldValue, error) {
	switch t := raw.(type) {
	case nil:
		return Scalar(""), nil
	case string:
		return Scalar(t), nil
	case bool, int, int64, float64:
		return Scalar(fmt.Sprint(t)), nil
	case map[string]interface{}:
		m := make(map[string]string, len(t))
		for k, item := range t {
			m[k] = fmt.Sprint(item)
		}
		return Mapping(m), nil
	case map[string]string:
		return Mapping(t), nil
	case []string:
		return List(t...), nil
	case []interface{}:
		if len(t) == 0 {
			return List(), nil
		}
		if _, nested := t[0].([]interface{}); nested {
			tuples := make([][]string, 0, len(t))
			for i, item := range t {
				row, ok := item.([]interface{})
				if !ok {
					return FieldValue{}, fmt.Errorf("element %d is not a tuple", i)
				}
				tuple := make([]string, len(row))
				for j, cell := range row {
					tuple[j] = fmt.Sprint(cell)
				}
				tuples = append(tuples, tuple)
			}
			return Tuples(tuples...), nil
		}
		items := make([]string, 0, len(t))
		for i, item := range t {
			switch item.(type) {
			case []interface{}, map[string]interface{}:
				return FieldValue{}, fmt.Errorf("element %d mixes scalars and collections", i)
			}
			items = append(items, fmt.Sprint(item))
		}
		return List(items...), nil
	}
	return FieldValue{}, fmt.Errorf("unsupported field value type %T", raw)
}
