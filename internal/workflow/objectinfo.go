package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ObjectInfo is the engine's per-node-type input schema, keyed by class type,
// as served by GET /object_info.
type ObjectInfo map[string]NodeTypeInfo

// NodeTypeInfo describes the inputs of one node class.
type NodeTypeInfo struct {
	Input struct {
		Required map[string]InputSpec `json:"required"`
		Optional map[string]InputSpec `json:"optional"`
	} `json:"input"`
	DisplayName string `json:"display_name,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Lookup returns the input spec for a field of a node class.
func (o ObjectInfo) Lookup(classType, field string) (InputSpec, bool) {
	if o == nil {
		return InputSpec{}, false
	}
	info, ok := o[classType]
	if !ok {
		return InputSpec{}, false
	}
	if s, ok := info.Input.Required[field]; ok {
		return s, true
	}
	s, ok := info.Input.Optional[field]
	return s, ok
}

// Merge copies every class of other into o.
func (o ObjectInfo) Merge(other ObjectInfo) {
	for k, v := range other {
		o[k] = v
	}
}

// InputSpec is one input declaration. On the wire it is either
// [[choice, ...]] / [[choice, ...], {...}] for fixed choice sets,
// ["COMBO", {"options": [...]}] in newer engines, or
// ["INT"|"FLOAT"|..., {"min", "max", "step", "default"}].
type InputSpec struct {
	TypeName string
	Choices  []string
	Min      json.Number
	Max      json.Number
	Step     json.Number
	Default  json.RawMessage
}

type inputOptions struct {
	Min     json.Number     `json:"min"`
	Max     json.Number     `json:"max"`
	Step    json.Number     `json:"step"`
	Default json.RawMessage `json:"default"`
	Options []any           `json:"options"`
}

func (s *InputSpec) UnmarshalJSON(data []byte) error {
	*s = InputSpec{}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		// Unknown declaration shapes carry no usable metadata.
		return nil
	}
	if len(parts) == 0 {
		return nil
	}

	head := bytes.TrimSpace(parts[0])
	if len(head) > 0 && head[0] == '[' {
		var choices []any
		if err := json.Unmarshal(head, &choices); err != nil {
			return fmt.Errorf("choices: %w", err)
		}
		s.Choices = stringify(choices)
	} else {
		_ = json.Unmarshal(head, &s.TypeName)
	}

	if len(parts) > 1 {
		var opts inputOptions
		if err := json.Unmarshal(parts[1], &opts); err == nil {
			s.Min, s.Max, s.Step, s.Default = opts.Min, opts.Max, opts.Step, opts.Default
			if s.TypeName == "COMBO" && len(opts.Options) > 0 {
				s.Choices = stringify(opts.Options)
			}
		}
	}
	return nil
}

func (s InputSpec) MarshalJSON() ([]byte, error) {
	opts := map[string]any{}
	if s.Min != "" {
		opts["min"] = s.Min
	}
	if s.Max != "" {
		opts["max"] = s.Max
	}
	if s.Step != "" {
		opts["step"] = s.Step
	}
	if len(s.Default) > 0 {
		opts["default"] = s.Default
	}
	var head any = s.TypeName
	if len(s.Choices) > 0 && s.TypeName == "" {
		head = s.Choices
	}
	if len(opts) == 0 {
		return json.Marshal([]any{head})
	}
	return json.Marshal([]any{head, opts})
}

// IsEnum reports whether the input is a fixed choice set.
func (s InputSpec) IsEnum() bool { return len(s.Choices) > 0 }

// Range returns the numeric bounds when both are declared.
func (s InputSpec) Range() (lo, hi float64, ok bool) {
	if s.Min == "" || s.Max == "" {
		return 0, 0, false
	}
	lo, errLo := s.Min.Float64()
	hi, errHi := s.Max.Float64()
	if errLo != nil || errHi != nil || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

// StepOr returns the declared step or def.
func (s InputSpec) StepOr(def float64) float64 {
	if s.Step == "" {
		return def
	}
	f, err := s.Step.Float64()
	if err != nil || f <= 0 {
		return def
	}
	return f
}

// MaxUint64 returns the declared maximum as an unsigned integer. Seed
// inputs declare 0xffffffffffffffff, which does not survive a float64.
func (s InputSpec) MaxUint64() (uint64, bool) {
	if s.Max == "" {
		return 0, false
	}
	if u, err := strconv.ParseUint(s.Max.String(), 10, 64); err == nil {
		return u, true
	}
	f, err := s.Max.Float64()
	if err != nil || f < 0 {
		return 0, false
	}
	if f >= math.MaxUint64 {
		return math.MaxUint64, true
	}
	return uint64(f), true
}

func stringify(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch t := it.(type) {
		case string:
			out = append(out, t)
		case nil:
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}
