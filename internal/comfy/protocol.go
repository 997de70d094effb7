package comfy

import (
	"encoding/json"
	"errors"
	"fmt"
)

// previewHeaderSize is the length of the event-type and image-format header
// that precedes image bytes in binary frames.
const previewHeaderSize = 8

// EventKind discriminates GenerationEvent variants.
type EventKind int

const (
	EventProgress EventKind = iota + 1
	EventPreview
	EventOutput
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventPreview:
		return "preview"
	case EventOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Event is one decoded generation event of a job.
type Event struct {
	Kind EventKind
	// Node is the executing node when known.
	Node string

	// Progress
	Value int
	Max   int

	// Preview and Output image bytes.
	Data []byte
	// File is set on Output events.
	File OutputFile
}

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type statusData struct {
	Status *struct {
		ExecInfo *struct {
			QueueRemaining *int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
	SID string `json:"sid"`
}

// drained reports a broadcast status with an empty queue. The status sent on
// connect carries the session id and is not a drain signal.
func (d statusData) drained() bool {
	return d.SID == "" &&
		d.Status != nil &&
		d.Status.ExecInfo != nil &&
		d.Status.ExecInfo.QueueRemaining != nil &&
		*d.Status.ExecInfo.QueueRemaining == 0
}

type progressData struct {
	Value    float64 `json:"value"`
	Max      float64 `json:"max"`
	PromptID string  `json:"prompt_id"`
	Node     string  `json:"node"`
}

type executingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type executedData struct {
	Node     string `json:"node"`
	PromptID string `json:"prompt_id"`
	Output   struct {
		Images []OutputFile `json:"images"`
	} `json:"output"`
}

type executionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionType    string `json:"exception_type"`
	ExceptionMessage string `json:"exception_message"`
}

type promptData struct {
	PromptID string `json:"prompt_id"`
}

// step is what the tracker decided after one frame.
type step struct {
	events []Event
	// outputs are files to download and emit as Output, in order.
	outputs    []OutputFile
	outputNode string
	done       bool
	err        error
}

// tracker follows the multiplexed connection for a single job id. A binary
// frame is held back until the next frame shows whether it was a preview or
// the tail of a finished output.
type tracker struct {
	jobID   string
	node    string
	pending []byte
	held    bool
}

func newTracker(jobID string) *tracker {
	return &tracker{jobID: jobID}
}

// mine attributes a message to the job. Messages without a prompt id belong
// to the connection's job.
func (t *tracker) mine(promptID string) bool {
	return promptID == "" || promptID == t.jobID
}

func (t *tracker) flush() []Event {
	if !t.held {
		return nil
	}
	ev := Event{Kind: EventPreview, Node: t.node, Data: t.pending}
	t.pending, t.held = nil, false
	return []Event{ev}
}

func (t *tracker) binary(frame []byte) step {
	if len(frame) < previewHeaderSize {
		return step{}
	}
	st := step{events: t.flush()}
	t.pending, t.held = frame[previewHeaderSize:], true
	return st
}

func (t *tracker) text(frame []byte) step {
	var msg message
	if err := json.Unmarshal(frame, &msg); err != nil || len(msg.Data) == 0 {
		return step{events: t.flush()}
	}

	if msg.Type == "executed" {
		var d executedData
		if err := json.Unmarshal(msg.Data, &d); err == nil && t.mine(d.PromptID) && len(d.Output.Images) > 0 {
			t.pending, t.held = nil, false
			return step{outputs: d.Output.Images, outputNode: d.Node, done: true}
		}
	}

	st := step{events: t.flush()}
	switch msg.Type {
	case "status":
		var d statusData
		if json.Unmarshal(msg.Data, &d) == nil && d.drained() {
			st.done = true
		}
	case "progress":
		var d progressData
		if json.Unmarshal(msg.Data, &d) == nil && t.mine(d.PromptID) {
			st.events = append(st.events, Event{Kind: EventProgress, Node: d.Node, Value: int(d.Value), Max: int(d.Max)})
		}
	case "executing":
		var d executingData
		if json.Unmarshal(msg.Data, &d) == nil && t.mine(d.PromptID) {
			if d.Node == nil {
				st.done = true
			} else {
				t.node = *d.Node
			}
		}
	case "execution_success", "execution_interrupted":
		var d promptData
		if json.Unmarshal(msg.Data, &d) == nil && t.mine(d.PromptID) {
			st.done = true
		}
	case "execution_error":
		var d executionErrorData
		if json.Unmarshal(msg.Data, &d) == nil && t.mine(d.PromptID) {
			st.done = true
			st.err = &StreamError{Op: "execute", Err: d.err()}
		}
	}
	return st
}

func (d executionErrorData) err() error {
	msg := d.ExceptionMessage
	if msg == "" {
		msg = "execution failed"
	}
	if d.ExceptionType != "" {
		msg = d.ExceptionType + ": " + msg
	}
	if d.NodeID == "" {
		return errors.New(msg)
	}
	return fmt.Errorf("node %s (%s): %s", d.NodeID, d.NodeType, msg)
}
