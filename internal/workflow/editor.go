package workflow

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Overrides maps "<node-id>.<field>" keys to replacement literals. Seed
// fields may carry an extra "<node-id>.<field>.randomize" boolean.
type Overrides map[string]any

// RandomizeSuffix marks the per-seed randomize flag.
const RandomizeSuffix = ".randomize"

// PromptTitle is the node title that marks the free-text prompt node.
const PromptTitle = "Prompt"

// PromptFieldCandidates lists the input names tried, in order, on the prompt
// node. Workflows do not agree on what the text input is called.
var PromptFieldCandidates = []string{"text", "value", "prompt", "string"}

// Key builds an override key.
func Key(nodeID, field string) string { return nodeID + "." + field }

// RandomizeKey builds the randomize flag key for a seed field.
func RandomizeKey(nodeID, field string) string { return Key(nodeID, field) + RandomizeSuffix }

// SplitKey splits an override key at the first dot.
func SplitKey(key string) (nodeID, field string, ok bool) {
	nodeID, field, ok = strings.Cut(key, ".")
	if !ok || nodeID == "" || field == "" {
		return "", "", false
	}
	return nodeID, field, true
}

// Clone returns a shallow copy of the overrides.
func (o Overrides) Clone() Overrides {
	c := make(Overrides, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Randomize returns the randomize flag for a seed field, if one is set.
func (o Overrides) Randomize(nodeID, field string) (bool, bool) {
	raw, ok := o[RandomizeKey(nodeID, field)]
	if !ok {
		return false, false
	}
	switch t := raw.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	default:
		return false, false
	}
}

// MergeOverrides returns a deep copy of g with overrides applied. The input
// graph is never modified. Keys that do not resolve to an existing, non-link
// input are skipped and returned so the caller can log them; a graph may have
// changed shape since the overrides were collected.
func MergeOverrides(g Graph, overrides Overrides) (Graph, []string) {
	merged := g.Clone()

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dropped []string
	for _, key := range keys {
		if strings.HasSuffix(key, RandomizeSuffix) {
			continue
		}
		nodeID, field, ok := SplitKey(key)
		if !ok {
			dropped = append(dropped, key)
			continue
		}
		node, ok := merged[nodeID]
		if !ok || node == nil {
			dropped = append(dropped, key)
			continue
		}
		current, ok := node.Input(field)
		if !ok || current.IsLink() {
			dropped = append(dropped, key)
			continue
		}
		v, ok := coerce(overrides[key], current)
		if !ok {
			dropped = append(dropped, key)
			continue
		}
		node.SetInput(field, v)
	}
	return merged, dropped
}

// coerce converts an override into a Value. Integer-looking strings become
// numbers unless the field currently holds a string literal.
func coerce(raw any, current Value) (Value, bool) {
	if s, ok := raw.(string); ok && current.Kind() != ValueString && isIntegerString(s) {
		return Number(json.Number(strings.TrimSpace(s))), true
	}
	return ValueOf(raw)
}

func isIntegerString(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return true
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// PromptField locates the prompt node and the text input that will receive
// the prompt.
func PromptField(g Graph) (nodeID, field string, ok bool) {
	for _, id := range g.NodeIDs() {
		node := g[id]
		if !strings.EqualFold(strings.TrimSpace(node.Title), PromptTitle) {
			continue
		}
		for _, name := range PromptFieldCandidates {
			if v, ok := node.Input(name); ok && !v.IsLink() {
				return id, name, true
			}
		}
		return "", "", false
	}
	return "", "", false
}

// InjectPrompt writes text into the prompt node of g in place. It returns
// false, leaving g untouched, when there is no usable prompt node.
func InjectPrompt(g Graph, text string) bool {
	nodeID, field, ok := PromptField(g)
	if !ok {
		return false
	}
	g[nodeID].SetInput(field, String(text))
	return true
}
