package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/simplui/simplui/internal/comfy"
	"github.com/simplui/simplui/internal/workflow"
	"github.com/stretchr/testify/require"
)

// script drives one job of the fake engine. After its events the stream
// either ends or, with block set, waits until the iteration is cancelled.
type script struct {
	events []comfy.Event
	block  bool
	err    error
	runErr error
}

type fakeEngine struct {
	mu         sync.Mutex
	scripts    []script
	graphs     []workflow.Graph
	interrupts int
	clears     int
}

func newFakeEngine(scripts ...script) *fakeEngine {
	return &fakeEngine{scripts: scripts}
}

func (e *fakeEngine) Run(ctx context.Context, g workflow.Graph) (Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.graphs)
	e.graphs = append(e.graphs, g.Clone())

	var sc script
	if n < len(e.scripts) {
		sc = e.scripts[n]
	}
	if sc.runErr != nil {
		return nil, sc.runErr
	}
	return &fakeStream{id: fmt.Sprintf("job-%d", n+1), script: sc}, nil
}

func (e *fakeEngine) Interrupt(context.Context) {
	e.mu.Lock()
	e.interrupts++
	e.mu.Unlock()
}

func (e *fakeEngine) ClearQueue(context.Context) {
	e.mu.Lock()
	e.clears++
	e.mu.Unlock()
}

func (e *fakeEngine) submitted() []workflow.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]workflow.Graph(nil), e.graphs...)
}

func (e *fakeEngine) controlCounts() (interrupts, clears int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interrupts, e.clears
}

type fakeStream struct {
	id     string
	script script
	next   int
	closed bool
}

func (s *fakeStream) JobID() string { return s.id }

func (s *fakeStream) Next(ctx context.Context) (comfy.Event, error) {
	if err := ctx.Err(); err != nil {
		return comfy.Event{}, err
	}
	if s.next < len(s.script.events) {
		ev := s.script.events[s.next]
		s.next++
		return ev, nil
	}
	if s.script.err != nil {
		return comfy.Event{}, s.script.err
	}
	if s.script.block {
		<-ctx.Done()
		return comfy.Event{}, ctx.Err()
	}
	return comfy.Event{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

const templateJSON = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 20, "cfg": 7.5, "model": ["4", 0]}},
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "base.safetensors"}},
  "6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Prompt"}, "inputs": {"text": "", "clip": ["4", 1]}}
}`

func testTemplate(t *testing.T) workflow.Graph {
	t.Helper()
	g, err := workflow.ParseGraph([]byte(templateJSON))
	require.NoError(t, err)
	return g
}

func seedOf(t *testing.T, g workflow.Graph, nodeID, field string) uint64 {
	t.Helper()
	v, ok := g[nodeID].Input(field)
	require.True(t, ok)
	u, ok := v.Uint64()
	require.True(t, ok, "seed %s.%s is %v", nodeID, field, v)
	return u
}

func progress(v, m int) comfy.Event {
	return comfy.Event{Kind: comfy.EventProgress, Value: v, Max: m}
}

func preview(data string) comfy.Event {
	return comfy.Event{Kind: comfy.EventPreview, Data: []byte(data)}
}

func output(data string) comfy.Event {
	return comfy.Event{
		Kind: comfy.EventOutput,
		Data: []byte(data),
		File: comfy.OutputFile{Filename: data + ".png", Type: "output"},
	}
}
