package workflow

import (
	"strings"
)

// FieldKind is the control kind chosen for an editable input.
type FieldKind string

const (
	FieldEnum   FieldKind = "enum"
	FieldBool   FieldKind = "bool"
	FieldNumber FieldKind = "number"
	FieldSlider FieldKind = "slider"
	FieldSeed   FieldKind = "seed"
	FieldString FieldKind = "string"
)

// SliderRange bounds a numeric input rendered as a slider.
type SliderRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// SliderConfig holds caller supplied slider ranges keyed by "Class.field"
// or by bare field name.
type SliderConfig map[string]SliderRange

func (c SliderConfig) lookup(classType, field string) (SliderRange, bool) {
	if c == nil {
		return SliderRange{}, false
	}
	if r, ok := c[classType+"."+field]; ok {
		return r, true
	}
	r, ok := c[field]
	return r, ok
}

// FieldSchema describes one editable input.
type FieldSchema struct {
	NodeID    string    `json:"node_id"`
	Name      string    `json:"name"`
	Kind      FieldKind `json:"kind"`
	Value     Value     `json:"value"`
	Options   []string  `json:"options,omitempty"`
	Min       float64   `json:"min,omitempty"`
	Max       float64   `json:"max,omitempty"`
	Step      float64   `json:"step,omitempty"`
	Randomize bool      `json:"randomize,omitempty"`
}

// Key returns the override key addressing this field.
func (f FieldSchema) Key() string { return Key(f.NodeID, f.Name) }

// DimensionsControl presents a width/height pair as aspect ratio x pixel
// count. Width and Height remain available for raw numeric entry.
type DimensionsControl struct {
	Width       FieldSchema `json:"width"`
	Height      FieldSchema `json:"height"`
	AspectRatio string      `json:"aspect_ratio"`
	PixelCount  string      `json:"pixel_count"`
	// Exact is false when the current size is not one of the presets and
	// AspectRatio/PixelCount name the nearest one.
	Exact bool `json:"exact"`
}

// NodeSchema groups the editable fields of one node.
type NodeSchema struct {
	NodeID     string             `json:"node_id"`
	Title      string             `json:"title"`
	ClassType  string             `json:"class_type"`
	Fields     []FieldSchema      `json:"fields"`
	Dimensions *DimensionsControl `json:"dimensions,omitempty"`
}

// Field returns the named field of the node schema.
func (n NodeSchema) Field(name string) (FieldSchema, bool) {
	for _, f := range n.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// IsSeedField reports whether an input name denotes a seed.
func IsSeedField(name string) bool {
	return strings.Contains(strings.ToLower(name), "seed")
}

// Extract classifies every editable input of g. info and sliders may be nil;
// without info the classification relies on literal values only. The graph
// is not modified.
func Extract(g Graph, info ObjectInfo, sliders SliderConfig) []NodeSchema {
	promptNode, promptField, hasPrompt := PromptField(g)

	var out []NodeSchema
	for _, id := range g.NodeIDs() {
		node := g[id]
		ns := NodeSchema{
			NodeID:    id,
			Title:     node.DisplayTitle(id),
			ClassType: node.ClassType,
		}

		for _, name := range node.InputNames() {
			if hasPrompt && id == promptNode && name == promptField {
				continue
			}
			v, _ := node.Input(name)
			if !v.IsScalar() {
				continue
			}
			ns.Fields = append(ns.Fields, classify(id, node.ClassType, name, v, info, sliders))
		}

		ns.Fields, ns.Dimensions = extractDimensions(ns.Fields)
		if len(ns.Fields) == 0 && ns.Dimensions == nil {
			continue
		}
		out = append(out, ns)
	}
	return out
}

// classify applies the kind precedence: remote choice set, seed name,
// boolean, ranged number, number, string.
func classify(nodeID, classType, name string, v Value, info ObjectInfo, sliders SliderConfig) FieldSchema {
	f := FieldSchema{NodeID: nodeID, Name: name, Value: v}
	spec, hasSpec := info.Lookup(classType, name)

	switch {
	case hasSpec && spec.IsEnum():
		f.Kind = FieldEnum
		f.Options = append([]string(nil), spec.Choices...)
	case IsSeedField(name) && v.Kind() != ValueString:
		f.Kind = FieldSeed
		f.Randomize = v.IsZeroNumber()
	case v.Kind() == ValueBool:
		f.Kind = FieldBool
	case v.Kind() == ValueNumber:
		f.Kind = FieldNumber
		defStep := 0.01
		if v.IsInteger() {
			defStep = 1
		}
		if r, ok := sliders.lookup(classType, name); ok && r.Max > r.Min {
			f.Kind = FieldSlider
			f.Min, f.Max = r.Min, r.Max
			f.Step = r.Step
			if f.Step <= 0 {
				f.Step = spec.StepOr(defStep)
			}
		} else if lo, hi, ok := spec.Range(); hasSpec && ok {
			f.Kind = FieldSlider
			f.Min, f.Max = lo, hi
			f.Step = spec.StepOr(defStep)
		}
	default:
		f.Kind = FieldString
	}
	return f
}

// extractDimensions lifts an integral width/height pair out of fields into a
// composite control.
func extractDimensions(fields []FieldSchema) ([]FieldSchema, *DimensionsControl) {
	wi, hi := -1, -1
	for i, f := range fields {
		if f.Kind != FieldNumber && f.Kind != FieldSlider {
			continue
		}
		switch f.Name {
		case "width":
			wi = i
		case "height":
			hi = i
		}
	}
	if wi < 0 || hi < 0 {
		return fields, nil
	}
	w, wok := fields[wi].Value.Int64()
	h, hok := fields[hi].Value.Int64()
	if !wok || !hok {
		return fields, nil
	}

	dc := &DimensionsControl{Width: fields[wi], Height: fields[hi]}
	if ar, pc, ok := FindMatchingPreset(int(w), int(h)); ok {
		dc.AspectRatio, dc.PixelCount, dc.Exact = ar, pc, true
	} else {
		dc.AspectRatio, dc.PixelCount = FindNearestPreset(int(w), int(h))
	}

	rest := make([]FieldSchema, 0, len(fields)-2)
	for i, f := range fields {
		if i != wi && i != hi {
			rest = append(rest, f)
		}
	}
	return rest, dc
}
