package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueKind identifies what a node input holds.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
	ValueLink
	// ValueOther covers arrays and objects that are not links. They are kept
	// verbatim so a graph survives a decode/encode round trip.
	ValueOther
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueString:
		return "string"
	case ValueNumber:
		return "number"
	case ValueBool:
		return "bool"
	case ValueLink:
		return "link"
	default:
		return "other"
	}
}

// Link references output slot Output of node NodeID.
type Link struct {
	NodeID string
	Output int
}

// Value is a single node input: either a scalar literal or a Link to the
// output of another node. Links are never editable.
type Value struct {
	kind ValueKind
	str  string // string literal, or the literal text of a number
	b    bool
	link Link
	raw  json.RawMessage
}

// String returns a string literal value.
func String(s string) Value { return Value{kind: ValueString, str: s} }

// Bool returns a boolean literal value.
func Bool(b bool) Value { return Value{kind: ValueBool, b: b} }

// Number returns a numeric literal holding n verbatim.
func Number(n json.Number) Value { return Value{kind: ValueNumber, str: n.String()} }

// Int returns an integer literal.
func Int(i int64) Value { return Value{kind: ValueNumber, str: strconv.FormatInt(i, 10)} }

// Uint returns an unsigned integer literal. Seeds use the full 64-bit range.
func Uint(u uint64) Value { return Value{kind: ValueNumber, str: strconv.FormatUint(u, 10)} }

// Float returns a floating point literal.
func Float(f float64) Value {
	return Value{kind: ValueNumber, str: strconv.FormatFloat(f, 'f', -1, 64)}
}

// LinkTo returns a link to output slot out of node nodeID.
func LinkTo(nodeID string, out int) Value {
	return Value{kind: ValueLink, link: Link{NodeID: nodeID, Output: out}}
}

// ValueOf converts a loosely typed override into a Value. Only scalars are
// accepted; slices, maps and links are rejected.
func ValueOf(v any) (Value, bool) {
	switch t := v.(type) {
	case Value:
		if t.kind == ValueLink || t.kind == ValueOther {
			return Value{}, false
		}
		return t, true
	case string:
		return String(t), true
	case bool:
		return Bool(t), true
	case json.Number:
		if _, err := t.Float64(); err != nil {
			return Value{}, false
		}
		return Number(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Value{}, false
		}
		return Float(t), true
	case float32:
		return Float(float64(t)), true
	case int:
		return Int(int64(t)), true
	case int32:
		return Int(int64(t)), true
	case int64:
		return Int(t), true
	case uint:
		return Uint(uint64(t)), true
	case uint32:
		return Uint(uint64(t)), true
	case uint64:
		return Uint(t), true
	default:
		return Value{}, false
	}
}

// Kind reports what the value holds.
func (v Value) Kind() ValueKind { return v.kind }

// IsLink reports whether the value references another node's output.
func (v Value) IsLink() bool { return v.kind == ValueLink }

// IsScalar reports whether the value is a string, number or boolean literal.
func (v Value) IsScalar() bool {
	return v.kind == ValueString || v.kind == ValueNumber || v.kind == ValueBool
}

// Str returns the string literal.
func (v Value) Str() (string, bool) { return v.str, v.kind == ValueString }

// BoolValue returns the boolean literal.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == ValueBool }

// LinkValue returns the link target.
func (v Value) LinkValue() (Link, bool) { return v.link, v.kind == ValueLink }

// Number returns the numeric literal text.
func (v Value) Number() (json.Number, bool) {
	return json.Number(v.str), v.kind == ValueNumber
}

// Float64 returns the numeric literal as a float.
func (v Value) Float64() (float64, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.str, 64)
	return f, err == nil
}

// Int64 returns the numeric literal as an integer when it is integral.
func (v Value) Int64() (int64, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	if i, err := strconv.ParseInt(v.str, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(v.str, 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Uint64 returns the numeric literal as an unsigned integer when it is a
// non-negative integral value that fits in 64 bits.
func (v Value) Uint64() (uint64, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	if u, err := strconv.ParseUint(v.str, 10, 64); err == nil {
		return u, true
	}
	f, err := strconv.ParseFloat(v.str, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
		return 0, false
	}
	return uint64(f), true
}

// IsInteger reports whether the value is an integral number literal.
func (v Value) IsInteger() bool {
	if v.kind != ValueNumber {
		return false
	}
	if _, err := strconv.ParseInt(v.str, 10, 64); err == nil {
		return true
	}
	_, err := strconv.ParseUint(v.str, 10, 64)
	return err == nil
}

// IsZeroNumber reports whether the value is the number zero.
func (v Value) IsZeroNumber() bool {
	f, ok := v.Float64()
	return ok && f == 0
}

// Interface returns the value as plain Go data: string, json.Number, bool,
// nil, a two element []any for links, or the raw JSON for anything else.
func (v Value) Interface() any {
	switch v.kind {
	case ValueString:
		return v.str
	case ValueNumber:
		return json.Number(v.str)
	case ValueBool:
		return v.b
	case ValueLink:
		return []any{v.link.NodeID, v.link.Output}
	case ValueOther:
		return v.raw
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case ValueString, ValueNumber:
		return v.str
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueLink:
		return fmt.Sprintf("[%q, %d]", v.link.NodeID, v.link.Output)
	case ValueOther:
		return string(v.raw)
	default:
		return "null"
	}
}

// Equal reports whether two values hold the same literal or link.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueString, ValueNumber:
		return v.str == o.str
	case ValueBool:
		return v.b == o.b
	case ValueLink:
		return v.link == o.link
	case ValueOther:
		return bytes.Equal(v.raw, o.raw)
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueString:
		return json.Marshal(v.str)
	case ValueNumber:
		return []byte(v.str), nil
	case ValueBool:
		return json.Marshal(v.b)
	case ValueLink:
		return json.Marshal([]any{v.link.NodeID, v.link.Output})
	case ValueOther:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case 'n':
		*v = Value{kind: ValueNull}
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '[':
		if l, ok := decodeLink(data); ok {
			*v = Value{kind: ValueLink, link: l}
			return nil
		}
		*v = Value{kind: ValueOther, raw: append(json.RawMessage(nil), data...)}
	case '{':
		*v = Value{kind: ValueOther, raw: append(json.RawMessage(nil), data...)}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
	}
	return nil
}

// decodeLink recognises the ["node-id", slot] shape used for node links.
func decodeLink(data []byte) (Link, bool) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) != 2 {
		return Link{}, false
	}
	var id string
	if err := json.Unmarshal(parts[0], &id); err != nil {
		return Link{}, false
	}
	var slot int
	if err := json.Unmarshal(parts[1], &slot); err != nil {
		return Link{}, false
	}
	return Link{NodeID: id, Output: slot}, true
}
