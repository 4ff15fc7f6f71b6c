package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValueKind enumerates the closed set of shapes a dynamic payload may take.
// Keeping the set closed lets every consumer handle payloads exhaustively
// without reflection.
type ValueKind int

const (
	// KindNull is the zero value; it marshals to JSON null.
	KindNull ValueKind = iota
	// KindBool holds a boolean.
	KindBool
	// KindNumber holds a float64. Integers are numbers with no fractional part.
	KindNumber
	// KindString holds a string.
	KindString
	// KindList holds an ordered sequence of values.
	KindList
	// KindMap holds a string-keyed mapping of values.
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "array"
	case KindMap:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a tagged union over the JSON value kinds. It represents node
// configuration, model inputs, and model outputs without resorting to an
// open interface{} type.
type Value struct {
	Kind ValueKind
	Bool bool
	Num  float64
	Str  string
	List []Value
	Map  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NumberValue wraps a float64.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// ListValue wraps an ordered sequence.
func ListValue(items ...Value) Value { return Value{Kind: KindList, List: items} }

// MapValue wraps a string-keyed mapping.
func MapValue(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Field returns the value stored under key when v is a map.
func (v Value) Field(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	item, ok := v.Map[key]
	return item, ok
}

// AsNumber returns the numeric payload when v is a number.
func (v Value) AsNumber() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// AsString returns the string payload when v is a string.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// AsBool returns the boolean payload when v is a bool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// IsInteger reports whether the value is a number with no fractional part.
func (v Value) IsInteger() bool {
	return v.Kind == KindNumber && v.Num == math.Trunc(v.Num) && !math.IsInf(v.Num, 0)
}

// Equal reports deep equality. Maps compare by key set, lists by position.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Num == other.Num
	case KindString:
		return v.Str == other.Str
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for key, item := range v.Map {
			otherItem, ok := other.Map[key]
			if !ok || !item.Equal(otherItem) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler. Map keys are emitted in sorted order
// so identical values always serialize identically.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.Bool), nil
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return nil, fmt.Errorf("cannot marshal non-finite number %v", v.Num)
		}
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(encoded)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for key := range v.Map {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			encoded, err := v.Map[key].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(encoded)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %s", v.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	decoded, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler so node configuration and payloads
// can be declared directly in configuration files.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	decoded, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (any, error) {
	return v.Unwrap(), nil
}

// FromAny converts a decoded JSON/YAML value into the tagged representation.
// Supported inputs are the shapes produced by encoding/json and yaml.v3.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case float64:
		return NumberValue(t), nil
	case float32:
		return NumberValue(float64(t)), nil
	case int:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case uint64:
		return NumberValue(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return NumberValue(n), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, converted)
		}
		return Value{Kind: KindList, List: items}, nil
	case map[string]any:
		entries := make(map[string]Value, len(t))
		for key, item := range t {
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			entries[key] = converted
		}
		return Value{Kind: KindMap, Map: entries}, nil
	case map[any]any:
		// Legacy yaml decodings key maps by any.
		entries := make(map[string]Value, len(t))
		for key, item := range t {
			keyStr, ok := key.(string)
			if !ok {
				return Value{}, fmt.Errorf("unsupported map key %v (%T)", key, key)
			}
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			entries[keyStr] = converted
		}
		return Value{Kind: KindMap, Map: entries}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Unwrap converts the tagged value back to plain Go shapes, the inverse of
// FromAny. Useful at serialization boundaries.
func (v Value) Unwrap() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindList:
		items := make([]any, len(v.List))
		for i, item := range v.List {
			items[i] = item.Unwrap()
		}
		return items
	case KindMap:
		entries := make(map[string]any, len(v.Map))
		for key, item := range v.Map {
			entries[key] = item.Unwrap()
		}
		return entries
	default:
		return nil
	}
}
