package comfy

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Stream) ([]Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var evs []Event
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return evs, nil
			}
			return evs, err
		}
		evs = append(evs, ev)
	}
}

func TestRunProgressPreviewOutput(t *testing.T) {
	e := newFakeEngine(t)
	out := OutputFile{Filename: "simplui_00001_.png", Type: "output"}
	e.addFile(out, []byte("final-image"))
	e.setScript(func(conn *websocket.Conn, jobID string) {
		writeJSON(t, conn, "executing", map[string]any{"node": "3", "prompt_id": jobID})
		writeJSON(t, conn, "progress", map[string]any{"value": 1, "max": 2, "prompt_id": jobID, "node": "3"})
		writeBinary(t, conn, "preview-1")
		writeJSON(t, conn, "progress", map[string]any{"value": 2, "max": 2, "prompt_id": jobID, "node": "3"})
		writeBinary(t, conn, "tail")
		writeJSON(t, conn, "executed", map[string]any{
			"node":      "9",
			"prompt_id": jobID,
			"output":    map[string]any{"images": []any{out}},
		})
	})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "job-1", s.JobID())

	evs, err := collect(t, s)
	require.NoError(t, err)
	require.Len(t, evs, 4)

	assert.Equal(t, Event{Kind: EventProgress, Node: "3", Value: 1, Max: 2}, evs[0])
	assert.Equal(t, EventPreview, evs[1].Kind)
	assert.Equal(t, "preview-1", string(evs[1].Data))
	assert.Equal(t, Event{Kind: EventProgress, Node: "3", Value: 2, Max: 2}, evs[2])
	assert.Equal(t, EventOutput, evs[3].Kind)
	assert.Equal(t, "final-image", string(evs[3].Data))
	assert.Equal(t, out, evs[3].File)
	assert.Equal(t, "9", evs[3].Node)

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, []string{c.ClientID()}, e.wsClientIDs)
}

func TestRunIgnoresOtherJobs(t *testing.T) {
	e := newFakeEngine(t)
	e.setScript(func(conn *websocket.Conn, jobID string) {
		writeJSON(t, conn, "progress", map[string]any{"value": 9, "max": 9, "prompt_id": "someone-else"})
		writeJSON(t, conn, "executing", map[string]any{"node": nil, "prompt_id": "someone-else"})
		writeJSON(t, conn, "execution_success", map[string]any{"prompt_id": "someone-else"})
		writeJSON(t, conn, "progress", map[string]any{"value": 1, "max": 4, "prompt_id": jobID})
		writeJSON(t, conn, "execution_success", map[string]any{"prompt_id": jobID})
	})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	defer s.Close()

	evs, err := collect(t, s)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, 1, evs[0].Value)
	assert.Equal(t, 4, evs[0].Max)
}

func TestRunEndsOnQueueDrain(t *testing.T) {
	e := newFakeEngine(t)
	e.setScript(func(conn *websocket.Conn, jobID string) {
		writeBinary(t, conn, "preview")
		writeJSON(t, conn, "status", map[string]any{
			"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 0}},
		})
	})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	defer s.Close()

	evs, err := collect(t, s)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, EventPreview, evs[0].Kind)
	assert.Equal(t, "preview", string(evs[0].Data))
}

func TestRunEndsOnExecutingNull(t *testing.T) {
	e := newFakeEngine(t)
	e.setScript(func(conn *websocket.Conn, jobID string) {
		writeJSON(t, conn, "executing", map[string]any{"node": "3", "prompt_id": jobID})
		writeJSON(t, conn, "executing", map[string]any{"node": nil, "prompt_id": jobID})
	})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	defer s.Close()

	evs, err := collect(t, s)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestRunExecutionError(t *testing.T) {
	e := newFakeEngine(t)
	e.setScript(func(conn *websocket.Conn, jobID string) {
		writeJSON(t, conn, "execution_error", map[string]any{
			"prompt_id":         jobID,
			"node_id":           "3",
			"node_type":         "KSampler",
			"exception_type":    "RuntimeError",
			"exception_message": "out of memory",
		})
	})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = collect(t, s)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "execute", streamErr.Op)
	assert.ErrorContains(t, err, "out of memory")
}

func TestRunOutputFetchFailure(t *testing.T) {
	e := newFakeEngine(t)
	e.setScript(func(conn *websocket.Conn, jobID string) {
		writeJSON(t, conn, "executed", map[string]any{
			"prompt_id": jobID,
			"output":    map[string]any{"images": []any{OutputFile{Filename: "gone.png", Type: "output"}}},
		})
	})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = collect(t, s)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "fetch output", streamErr.Op)
}

func TestRunConnectionDropped(t *testing.T) {
	e := newFakeEngine(t)
	e.setScript(func(conn *websocket.Conn, jobID string) {
		writeJSON(t, conn, "progress", map[string]any{"value": 1, "max": 4, "prompt_id": jobID})
		conn.Close()
	})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	defer s.Close()

	evs, err := collect(t, s)
	require.Len(t, evs, 1)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "read", streamErr.Op)
}

func TestRunSubmissionRejected(t *testing.T) {
	e := newFakeEngine(t)
	e.respondToPrompt(400, "invalid prompt")
	c := newTestClient(t, e)

	_, err := c.Run(context.Background(), testGraph(t))
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, 400, subErr.StatusCode)
}

func TestRunDialFailure(t *testing.T) {
	e := newFakeEngine(t)
	c := newTestClient(t, e, WithDialTimeout(300*time.Millisecond))
	e.server.Close()

	_, err := c.Run(context.Background(), testGraph(t))
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "dial", streamErr.Op)
}

func TestStreamNextHonoursContext(t *testing.T) {
	e := newFakeEngine(t)
	e.setScript(func(conn *websocket.Conn, jobID string) {})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamClose(t *testing.T) {
	e := newFakeEngine(t)
	e.setScript(func(conn *websocket.Conn, jobID string) {
		writeJSON(t, conn, "progress", map[string]any{"value": 1, "max": 4, "prompt_id": jobID})
	})
	c := newTestClient(t, e)

	s, err := c.Run(context.Background(), testGraph(t))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	// Closing abandons the stream without reporting an error.
	for {
		_, err := s.Next(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.NoError(t, s.Close())
}
