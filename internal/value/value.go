package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// DataType identifies the JSON shape a setting value is allowed to take.
type DataType string

const (
	// TypeString is a JSON string value.
	TypeString DataType = "string"
	// TypeNumber is a JSON number value, carried as float64.
	TypeNumber DataType = "number"
	// TypeBool is a JSON boolean value.
	TypeBool DataType = "bool"
	// TypeArray is a JSON array value.
	TypeArray DataType = "array"
	// TypeObject is a JSON object value.
	TypeObject DataType = "object"
)

// Valid reports whether t is one of the five supported data types.
func (t DataType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBool, TypeArray, TypeObject:
		return true
	}
	return false
}

// Value is a dynamically typed setting value tagged with its data type.
// The zero Value is invalid; construct values with the typed constructors
// or decode them from JSON with FromJSON.
type Value struct {
	typ DataType
	raw interface{}
}

// String returns a string value.
func String(s string) Value {
	return Value{typ: TypeString, raw: s}
}

// Number returns a number value.
func Number(f float64) Value {
	return Value{typ: TypeNumber, raw: f}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{typ: TypeBool, raw: b}
}

// Array returns an array value. Elements are normalized through a JSON
// round trip so that later equality checks compare like with like.
func Array(elems []interface{}) (Value, error) {
	norm, err := normalize(elems)
	if err != nil {
		return Value{}, err
	}
	return Value{typ: TypeArray, raw: norm}, nil
}

// Object returns an object value. Entries are normalized through a JSON
// round trip so that later equality checks compare like with like.
func Object(entries map[string]interface{}) (Value, error) {
	norm, err := normalize(entries)
	if err != nil {
		return Value{}, err
	}
	return Value{typ: TypeObject, raw: norm}, nil
}

// FromAny converts an arbitrary Go value into a tagged Value by encoding
// it to JSON and decoding the result. Values that do not map onto one of
// the five supported types are rejected.
func FromAny(v interface{}) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, &SerializationError{Op: OpEncode, Err: err}
	}
	return FromJSON(raw)
}

// FromJSON decodes a raw JSON document into a tagged Value. The tag is
// derived from the JSON token kind. JSON null is rejected because the
// engine expresses "no value" through deletion, never through null.
func FromJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Value{}, &SerializationError{Op: OpDecode, Err: err}
	}
	if dec.More() {
		return Value{}, &SerializationError{Op: OpDecode, Err: ErrTrailingData}
	}

	out, err := tag(v)
	if err != nil {
		return Value{}, err
	}

	return out, nil
}

// tag walks a decoded JSON tree, converts json.Number leaves to float64
// and assigns the data type tag for the root.
func tag(v interface{}) (Value, error) {
	switch t := v.(type) {
	case string:
		return Value{typ: TypeString, raw: t}, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, &SerializationError{Op: OpDecode, Err: err}
		}
		return Value{typ: TypeNumber, raw: f}, nil
	case bool:
		return Value{typ: TypeBool, raw: t}, nil
	case []interface{}:
		for i, elem := range t {
			tagged, err := tag(elem)
			if err != nil {
				return Value{}, err
			}
			t[i] = tagged.raw
		}
		return Value{typ: TypeArray, raw: t}, nil
	case map[string]interface{}:
		for k, elem := range t {
			tagged, err := tag(elem)
			if err != nil {
				return Value{}, err
			}
			t[k] = tagged.raw
		}
		return Value{typ: TypeObject, raw: t}, nil
	case nil:
		return Value{}, &SerializationError{Op: OpDecode, Err: ErrNullValue}
	default:
		return Value{}, &SerializationError{Op: OpDecode, Err: fmt.Errorf("unsupported value kind %T", v)}
	}
}

func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Op: OpEncode, Err: err}
	}
	out, err := FromJSON(raw)
	if err != nil {
		return nil, err
	}
	return out.raw, nil
}

// Type returns the data type tag.
func (v Value) Type() DataType {
	return v.typ
}

// IsZero reports whether v is the invalid zero Value.
func (v Value) IsZero() bool {
	return v.typ == ""
}

// Str returns the string payload. It reports false when the value is not
// a string.
func (v Value) Str() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// Num returns the number payload. It reports false when the value is not
// a number.
func (v Value) Num() (float64, bool) {
	f, ok := v.raw.(float64)
	return f, ok
}

// Boolean returns the boolean payload. It reports false when the value is
// not a boolean.
func (v Value) Boolean() (bool, bool) {
	b, ok := v.raw.(bool)
	return b, ok
}

// Elems returns the array payload. It reports false when the value is not
// an array. The returned slice is a deep copy.
func (v Value) Elems() ([]interface{}, bool) {
	a, ok := v.raw.([]interface{})
	if !ok {
		return nil, false
	}
	return deepCopySlice(a), true
}

// Entries returns the object payload. It reports false when the value is
// not an object. The returned map is a deep copy.
func (v Value) Entries() (map[string]interface{}, bool) {
	m, ok := v.raw.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return deepCopyMap(m), true
}

// Interface returns the raw payload as a deep copy, suitable for callers
// that want to inspect the value without the tag.
func (v Value) Interface() interface{} {
	return deepCopy(v.raw)
}

// Equal reports whether two values carry the same tag and the same
// payload. Object key order is irrelevant, array order matters.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	return reflect.DeepEqual(v.raw, other.raw)
}

// JSON encodes the payload as a raw JSON document. The tag is not part
// of the encoding; it travels separately wherever values are stored or
// shipped.
func (v Value) JSON() ([]byte, error) {
	if v.IsZero() {
		return nil, &SerializationError{Op: OpEncode, Err: ErrZeroValue}
	}
	raw, err := json.Marshal(v.raw)
	if err != nil {
		return nil, &SerializationError{Op: OpEncode, Err: err}
	}
	return raw, nil
}

// MustJSON is JSON for values known to be well formed, such as values
// built by the typed constructors. It panics on encoding failure.
func (v Value) MustJSON() []byte {
	raw, err := v.JSON()
	if err != nil {
		panic(err)
	}
	return raw
}

// Display renders a short human readable form for log lines and CLI
// output. Composite values render as compact JSON.
func (v Value) Display() string {
	switch v.typ {
	case TypeString:
		s, _ := v.Str()
		return s
	case TypeNumber:
		f, _ := v.Num()
		return strconv.FormatFloat(f, 'f', -1, 64)
	case TypeBool:
		b, _ := v.Boolean()
		return strconv.FormatBool(b)
	case TypeArray, TypeObject:
		raw, err := v.JSON()
		if err != nil {
			return "<invalid>"
		}
		return string(raw)
	default:
		return "<zero>"
	}
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		return deepCopySlice(t)
	case map[string]interface{}:
		return deepCopyMap(t)
	default:
		return v
	}
}

func deepCopySlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, elem := range in {
		out[i] = deepCopy(elem)
	}
	return out
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, elem := range in {
		out[k] = deepCopy(elem)
	}
	return out
}
