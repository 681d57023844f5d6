package routingslip

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ValueKind tags the type held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindDuration
	KindJSON
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	case KindJSON:
		return "json"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

func parseValueKind(s string) (ValueKind, error) {
	for k := KindNull; k <= KindJSON; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindNull, fmt.Errorf("unknown value kind %q", s)
}

// Value is an immutable tagged value stored in a Variables bag or in activity
// arguments. The zero Value is null.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	t    time.Time
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a bool value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int returns an int value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a float value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bytes returns a bytes value holding a copy of v.
func Bytes(v []byte) Value {
	return Value{kind: KindBytes, raw: bytes.Clone(v)}
}

// Time returns a time value normalised to UTC.
func Time(v time.Time) Value { return Value{kind: KindTime, t: v.UTC()} }

// Duration returns a duration value.
func Duration(v time.Duration) Value { return Value{kind: KindDuration, i: int64(v)} }

// JSON marshals v and returns it as a json value.
func JSON(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("value is not JSON serializable: %w", err)
	}
	return Value{kind: KindJSON, raw: data}, nil
}

// RawJSON returns a json value holding a copy of an already encoded document.
func RawJSON(data json.RawMessage) (Value, error) {
	if !json.Valid(data) {
		return Value{}, fmt.Errorf("invalid JSON document")
	}
	return Value{kind: KindJSON, raw: bytes.Clone(data)}, nil
}

// ValueOf converts a Go value to a Value. Values of a kind's native type keep
// that kind; composite values are stored as json. Integers that do not fit an
// int64 and values that cannot be marshalled are rejected.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return uintValue(x)
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case time.Time:
		return Time(x), nil
	case time.Duration:
		return Duration(x), nil
	case json.RawMessage:
		return RawJSON(x)
	default:
		return JSON(x)
	}
}

func uintValue(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, fmt.Errorf("unsigned value %d overflows int64", v)
	}
	return Int(int64(v)), nil
}

// MustValueOf is like ValueOf but panics on error. Intended for literals.
func MustValueOf(v any) Value {
	val, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Kind returns the tag of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

// AsFloat returns the value as a float64. Int values are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsBytes returns a copy of the held bytes.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return bytes.Clone(v.raw), true
}

func (v Value) AsTime() (time.Time, bool) {
	return v.t, v.kind == KindTime
}

func (v Value) AsDuration() (time.Duration, bool) {
	return time.Duration(v.i), v.kind == KindDuration
}

// AsJSON returns a copy of the encoded document of a json value.
func (v Value) AsJSON() (json.RawMessage, bool) {
	if v.kind != KindJSON {
		return nil, false
	}
	return bytes.Clone(v.raw), true
}

// DecodeJSON unmarshals a json value into out.
func (v Value) DecodeJSON(out any) error {
	if v.kind != KindJSON {
		return fmt.Errorf("value of kind %s is not json", v.kind)
	}
	return json.Unmarshal(v.raw, out)
}

// Interface returns the value as a plain Go value: nil, bool, int64, float64,
// string, []byte, time.Time, time.Duration, or the decoded JSON document.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return bytes.Clone(v.raw)
	case KindTime:
		return v.t
	case KindDuration:
		return time.Duration(v.i)
	case KindJSON:
		var out any
		if err := json.Unmarshal(v.raw, &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt, KindDuration:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes, KindJSON:
		return bytes.Equal(v.raw, o.raw)
	case KindTime:
		return v.t.Equal(o.t)
	}
	return false
}

// GoString renders the value for debugging and test failure output.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.s)
	case KindBytes:
		return "bytes:" + base64.StdEncoding.EncodeToString(v.raw)
	case KindJSON:
		return "json:" + string(v.raw)
	default:
		return fmt.Sprintf("%s:%v", v.kind, v.Interface())
	}
}

type valueJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindNull:
		return json.Marshal(valueJSON{Kind: v.kind.String()})
	case KindBool:
		payload = v.b
	case KindInt:
		payload = v.i
	case KindFloat:
		payload = v.f
	case KindString:
		payload = v.s
	case KindBytes:
		payload = v.raw // []byte encodes as base64
	case KindTime:
		payload = v.t.Format(time.RFC3339Nano)
	case KindDuration:
		payload = v.i
	case KindJSON:
		return json.Marshal(valueJSON{Kind: v.kind.String(), Value: v.raw})
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %s", v.kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.kind.String(), Value: data})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var env valueJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	kind, err := parseValueKind(env.Kind)
	if err != nil {
		return err
	}

	var out Value
	switch kind {
	case KindNull:
		out = Null()
	case KindBool:
		var b bool
		err = json.Unmarshal(env.Value, &b)
		out = Bool(b)
	case KindInt:
		var i int64
		err = json.Unmarshal(env.Value, &i)
		out = Int(i)
	case KindFloat:
		var f float64
		err = json.Unmarshal(env.Value, &f)
		out = Float(f)
	case KindString:
		var s string
		err = json.Unmarshal(env.Value, &s)
		out = String(s)
	case KindBytes:
		var raw []byte
		err = json.Unmarshal(env.Value, &raw)
		out = Value{kind: KindBytes, raw: raw}
	case KindTime:
		var s string
		if err = json.Unmarshal(env.Value, &s); err == nil {
			var t time.Time
			t, err = time.Parse(time.RFC3339Nano, s)
			out = Time(t)
		}
	case KindDuration:
		var i int64
		err = json.Unmarshal(env.Value, &i)
		out = Duration(time.Duration(i))
	case KindJSON:
		out, err = RawJSON(env.Value)
	}
	if err != nil {
		return fmt.Errorf("decode %s value: %w", kind, err)
	}
	*v = out
	return nil
}
