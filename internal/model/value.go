package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
)

// Value is one node of a loosely-typed metadata payload. Numbers keep
// their literal text in Raw so integers beyond 2^53 survive unchanged.
type Value struct {
	Kind   ValueKind
	Str    string
	Num    float64
	Raw    string
	Bool   bool
	List   []Value
	Object map[string]Value
}

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

func Integer(n int64) Value {
	return Value{Kind: KindNumber, Num: float64(n), Raw: strconv.FormatInt(n, 10)}
}

// NumberText builds a number from its literal form. Text that is not a
// number becomes a string value.
func NumberText(text string) Value {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !isRangeErr(err) {
		return String(text)
	}
	return Value{Kind: KindNumber, Num: f, Raw: text}
}

func isRangeErr(err error) bool {
	var numErr *strconv.NumError
	return errors.As(err, &numErr) && numErr.Err == strconv.ErrRange
}

// FromAny converts decoded JSON (or BSON-like) data into a Value. Unknown
// scalar types are rendered with fmt.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Integer(int64(t))
	case int32:
		return Integer(int64(t))
	case int64:
		return Integer(t)
	case uint64:
		return NumberText(strconv.FormatUint(t, 10))
	case json.Number:
		return NumberText(t.String())
	case []any:
		out := make([]Value, 0, len(t))
		for _, item := range t {
			out = append(out, FromAny(item))
		}
		return Value{Kind: KindList, List: out}
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = FromAny(item)
		}
		return Value{Kind: KindObject, Object: out}
	default:
		return String(fmt.Sprint(t))
	}
}

// Any is the inverse of FromAny. Numbers with literal text come back as
// json.Number.
func (v Value) Any() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		if v.Raw != "" {
			return json.Number(v.Raw)
		}
		return v.Num
	case KindBool:
		return v.Bool
	case KindList:
		out := make([]any, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, item.Any())
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Object))
		for k, item := range v.Object {
			out[k] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// Text renders scalars the way correlation ids are compared. Lists and
// objects render as compact JSON.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		if v.Raw != "" {
			return v.Raw
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNull:
		return ""
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}

// Truthy reports whether the value counts as present for id lookups.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindString:
		return v.Str != ""
	case KindBool:
		return v.Bool
	case KindList:
		return len(v.List) > 0
	case KindObject:
		return len(v.Object) > 0
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindObject:
		keys := make([]string, 0, len(v.Object))
		for k := range v.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.Object[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return json.Marshal(v.Any())
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// Metadata is the free-form key-value bag attached to an event.
type Metadata map[string]Value

// Lookup returns the textual form of key when it is present and truthy.
func (m Metadata) Lookup(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok || !v.Truthy() {
		return "", false
	}
	return v.Text(), true
}

func (m Metadata) Plain() map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

func MetadataFromPlain(in map[string]any) Metadata {
	if in == nil {
		return nil
	}
	out := make(Metadata, len(in))
	for k, v := range in {
		out[k] = FromAny(v)
	}
	return out
}
