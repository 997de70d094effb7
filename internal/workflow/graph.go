package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Graph is a job definition: node id -> node. It is the API-format workflow
// submitted to the engine.
type Graph map[string]*Node

// Node is a single graph node. Inputs keep the order they were decoded in so
// that generated controls follow the workflow author's layout.
type Node struct {
	ClassType string
	// Title comes from _meta.title; empty when the workflow has none.
	Title string

	inputs    map[string]Value
	order     []string
	hasInputs bool
	meta      json.RawMessage
	extra     map[string]json.RawMessage
}

// NewNode creates an empty node of the given class.
func NewNode(classType, title string) *Node {
	return &Node{
		ClassType: classType,
		Title:     title,
		inputs:    make(map[string]Value),
		hasInputs: true,
	}
}

// DisplayTitle returns the node title, defaulting to "Node <id>".
func (n *Node) DisplayTitle(id string) string {
	if n.Title != "" {
		return n.Title
	}
	return "Node " + id
}

// Input returns the named input.
func (n *Node) Input(name string) (Value, bool) {
	v, ok := n.inputs[name]
	return v, ok
}

// SetInput assigns an input, appending it to the input order if new.
func (n *Node) SetInput(name string, v Value) {
	if n.inputs == nil {
		n.inputs = make(map[string]Value)
	}
	if _, ok := n.inputs[name]; !ok {
		n.order = append(n.order, name)
	}
	n.inputs[name] = v
	n.hasInputs = true
}

// InputNames returns input names in decode order.
func (n *Node) InputNames() []string {
	return append([]string(nil), n.order...)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		ClassType: n.ClassType,
		Title:     n.Title,
		hasInputs: n.hasInputs,
		order:     append([]string(nil), n.order...),
	}
	if n.inputs != nil {
		c.inputs = make(map[string]Value, len(n.inputs))
		for k, v := range n.inputs {
			if v.raw != nil {
				v.raw = append(json.RawMessage(nil), v.raw...)
			}
			c.inputs[k] = v
		}
	}
	if n.meta != nil {
		c.meta = append(json.RawMessage(nil), n.meta...)
	}
	if n.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(n.extra))
		for k, v := range n.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = Node{}
	for k, v := range raw {
		switch k {
		case "class_type":
			if err := json.Unmarshal(v, &n.ClassType); err != nil {
				return fmt.Errorf("class_type: %w", err)
			}
		case "_meta":
			n.meta = v
			var m struct {
				Title string `json:"title"`
			}
			if err := json.Unmarshal(v, &m); err == nil {
				n.Title = m.Title
			}
		case "inputs":
			inputs, order, err := decodeInputs(v)
			if err != nil {
				// Malformed inputs are carried through untouched and
				// expose no fields.
				if n.extra == nil {
					n.extra = make(map[string]json.RawMessage)
				}
				n.extra[k] = v
				continue
			}
			n.inputs, n.order, n.hasInputs = inputs, order, true
		default:
			if n.extra == nil {
				n.extra = make(map[string]json.RawMessage)
			}
			n.extra[k] = v
		}
	}
	return nil
}

func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(name string, value []byte) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	if n.hasInputs {
		inputs, err := n.encodeInputs()
		if err != nil {
			return nil, err
		}
		field("inputs", inputs)
	}
	if n.ClassType != "" {
		ct, _ := json.Marshal(n.ClassType)
		field("class_type", ct)
	}
	if n.meta != nil {
		field("_meta", n.meta)
	}
	keys := make([]string, 0, len(n.extra))
	for k := range n.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field(k, n.extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (n *Node) encodeInputs() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range n.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		val, err := n.inputs[name].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeInputs decodes an inputs object while remembering key order.
func decodeInputs(data []byte) (map[string]Value, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	inputs := make(map[string]Value)
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected input name, got %v", tok)
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		if _, dup := inputs[name]; !dup {
			order = append(order, name)
		}
		inputs[name] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return inputs, order, nil
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	if g == nil {
		return nil
	}
	c := make(Graph, len(g))
	for id, n := range g {
		c[id] = n.Clone()
	}
	return c
}

// NodeIDs returns node ids with numeric ids first in numeric order, then the
// remaining ids lexically.
func (g Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id, n := range g {
		if n != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aErr := strconv.ParseInt(ids[i], 10, 64)
		b, bErr := strconv.ParseInt(ids[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}

// ParseGraph decodes an API-format workflow.
func ParseGraph(data []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("workflow is not an object")
	}
	for id, n := range g {
		if n == nil {
			delete(g, id)
		}
	}
	return g, nil
}
