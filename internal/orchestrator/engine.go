package orchestrator

import (
	"context"

	"github.com/simplui/simplui/internal/comfy"
	"github.com/simplui/simplui/internal/workflow"
)

// Engine runs jobs on the generation engine.
type Engine interface {
	// Run submits g and returns the job's event stream.
	Run(ctx context.Context, g workflow.Graph) (Stream, error)
	// Interrupt and ClearQueue are best-effort and must return promptly.
	Interrupt(ctx context.Context)
	ClearQueue(ctx context.Context)
}

// SessionEngine is an Engine that can hand each session its own identity on
// the remote engine.
type SessionEngine interface {
	Engine
	ForSession() Engine
}

// Stream is the event stream of one job. Next returns io.EOF at the end.
type Stream interface {
	JobID() string
	Next(ctx context.Context) (comfy.Event, error)
	Close() error
}

type comfyEngine struct {
	client *comfy.Client
}

// NewComfyEngine adapts a comfy client to Engine.
func NewComfyEngine(client *comfy.Client) Engine {
	return &comfyEngine{client: client}
}

// ForSession returns an engine with its own client id on the same engine.
func (e *comfyEngine) ForSession() Engine {
	return &comfyEngine{client: e.client.ForSession()}
}

func (e *comfyEngine) Run(ctx context.Context, g workflow.Graph) (Stream, error) {
	s, err := e.client.Run(ctx, g)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *comfyEngine) Interrupt(ctx context.Context)  { e.client.Interrupt(ctx) }
func (e *comfyEngine) ClearQueue(ctx context.Context) { e.client.ClearQueue(ctx) }
