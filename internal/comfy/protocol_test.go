package comfy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textFrame(t *testing.T, typ string, data any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(t, err)
	return b
}

func binaryFrame(payload string) []byte {
	return append([]byte{0, 0, 0, 1, 0, 0, 0, 2}, payload...)
}

func TestTrackerHoldsBinaryUntilNextFrame(t *testing.T) {
	tr := newTracker("job")

	st := tr.binary(binaryFrame("a"))
	assert.Empty(t, st.events)

	// A second frame proves the first was a preview.
	st = tr.binary(binaryFrame("b"))
	require.Len(t, st.events, 1)
	assert.Equal(t, "a", string(st.events[0].Data))

	st = tr.text(textFrame(t, "progress", map[string]any{"value": 3, "max": 10, "prompt_id": "job"}))
	require.Len(t, st.events, 2)
	assert.Equal(t, EventPreview, st.events[0].Kind)
	assert.Equal(t, "b", string(st.events[0].Data))
	assert.Equal(t, EventProgress, st.events[1].Kind)
	assert.False(t, st.done)
}

func TestTrackerExecutedDropsHeldFrame(t *testing.T) {
	tr := newTracker("job")
	tr.binary(binaryFrame("tail"))

	st := tr.text(textFrame(t, "executed", map[string]any{
		"node":      "9",
		"prompt_id": "job",
		"output": map[string]any{"images": []any{
			map[string]any{"filename": "a.png", "subfolder": "", "type": "output"},
			map[string]any{"filename": "b.png", "subfolder": "", "type": "output"},
		}},
	}))

	assert.Empty(t, st.events)
	assert.True(t, st.done)
	assert.Equal(t, "9", st.outputNode)
	assert.Equal(t, []OutputFile{{Filename: "a.png", Type: "output"}, {Filename: "b.png", Type: "output"}}, st.outputs)
	assert.Empty(t, tr.flush())
}

func TestTrackerExecutedWithoutImages(t *testing.T) {
	tr := newTracker("job")
	tr.binary(binaryFrame("p"))

	st := tr.text(textFrame(t, "executed", map[string]any{"prompt_id": "job", "output": map[string]any{"images": []any{}}}))
	require.Len(t, st.events, 1)
	assert.Equal(t, EventPreview, st.events[0].Kind)
	assert.False(t, st.done)
}

func TestTrackerExecutedForOtherJob(t *testing.T) {
	tr := newTracker("job")
	st := tr.text(textFrame(t, "executed", map[string]any{
		"prompt_id": "other",
		"output":    map[string]any{"images": []any{map[string]any{"filename": "x.png"}}},
	}))
	assert.False(t, st.done)
	assert.Empty(t, st.outputs)
}

func TestTrackerShortBinaryFrameIgnored(t *testing.T) {
	tr := newTracker("job")
	st := tr.binary([]byte{1, 2, 3})
	assert.Empty(t, st.events)
	assert.Empty(t, tr.flush())
}

func TestTrackerStatus(t *testing.T) {
	tr := newTracker("job")

	withSID := textFrame(t, "status", map[string]any{
		"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 0}},
		"sid":    "client",
	})
	assert.False(t, tr.text(withSID).done)

	busy := textFrame(t, "status", map[string]any{
		"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 2}},
	})
	assert.False(t, tr.text(busy).done)

	noInfo := textFrame(t, "status", map[string]any{"status": map[string]any{}})
	assert.False(t, tr.text(noInfo).done)

	drained := textFrame(t, "status", map[string]any{
		"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 0}},
	})
	assert.True(t, tr.text(drained).done)
}

func TestTrackerTerminators(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		data map[string]any
		done bool
		err  bool
	}{
		{"executing node", "executing", map[string]any{"node": "5", "prompt_id": "job"}, false, false},
		{"executing null", "executing", map[string]any{"node": nil, "prompt_id": "job"}, true, false},
		{"executing null other", "executing", map[string]any{"node": nil, "prompt_id": "other"}, false, false},
		{"success", "execution_success", map[string]any{"prompt_id": "job"}, true, false},
		{"interrupted", "execution_interrupted", map[string]any{"prompt_id": "job"}, true, false},
		{"interrupted other", "execution_interrupted", map[string]any{"prompt_id": "other"}, false, false},
		{"error", "execution_error", map[string]any{"prompt_id": "job", "exception_message": "boom"}, true, true},
		{"cached", "execution_cached", map[string]any{"prompt_id": "job", "nodes": []string{"4"}}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTracker("job").text(textFrame(t, tt.typ, tt.data))
			assert.Equal(t, tt.done, st.done)
			assert.Equal(t, tt.err, st.err != nil)
		})
	}
}

func TestTrackerTracksExecutingNode(t *testing.T) {
	tr := newTracker("job")
	tr.text(textFrame(t, "executing", map[string]any{"node": "8", "prompt_id": "job"}))
	tr.binary(binaryFrame("p"))

	evs := tr.flush()
	require.Len(t, evs, 1)
	assert.Equal(t, "8", evs[0].Node)
}

func TestTrackerMalformedText(t *testing.T) {
	tr := newTracker("job")
	tr.binary(binaryFrame("p"))

	st := tr.text([]byte("{nope"))
	require.Len(t, st.events, 1)
	assert.False(t, st.done)
}
