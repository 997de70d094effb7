// Package catalog serves the configured workflows: their parameter schema
// and ready-to-run batch requests.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/simplui/simplui/internal/comfy"
	"github.com/simplui/simplui/internal/config"
	"github.com/simplui/simplui/internal/events"
	"github.com/simplui/simplui/internal/orchestrator"
	"github.com/simplui/simplui/internal/workflow"
	"go.uber.org/zap"
)

// ErrUnknownWorkflow is returned for names missing from the config.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// InfoSource fetches the engine's node type schema.
type InfoSource interface {
	ObjectInfo(ctx context.Context, types ...string) (workflow.ObjectInfo, error)
}

type Catalog struct {
	cfg    *config.Config
	info   InfoSource
	logger *zap.Logger
}

func New(cfg *config.Config, info InfoSource, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{cfg: cfg, info: info, logger: logger}
}

// Names lists the configured workflows.
func (c *Catalog) Names() []string { return c.cfg.WorkflowNames() }

// Graph loads the named workflow.
func (c *Catalog) Graph(name string) (workflow.Graph, error) {
	if _, ok := c.cfg.Workflow(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
	}
	return c.cfg.LoadWorkflow(name)
}

// Schema extracts the editable fields of the named workflow.
func (c *Catalog) Schema(ctx context.Context, name string) ([]workflow.NodeSchema, error) {
	g, err := c.Graph(name)
	if err != nil {
		return nil, err
	}
	return workflow.Extract(g, c.objectInfo(ctx, g), c.cfg.Sliders()), nil
}

// BatchParams are the caller's choices for one batch.
type BatchParams struct {
	Workflow   string             `json:"workflow"`
	Prompt     string             `json:"prompt"`
	Overrides  workflow.Overrides `json:"overrides"`
	BatchCount int                `json:"batch_count"`
}

// Request builds an orchestrator request for p.
func (c *Catalog) Request(ctx context.Context, p BatchParams) (orchestrator.Request, error) {
	g, err := c.Graph(p.Workflow)
	if err != nil {
		return orchestrator.Request{}, err
	}
	if p.BatchCount == 0 {
		p.BatchCount = 1
	}
	info := c.objectInfo(ctx, g)
	return orchestrator.Request{
		Template:   g,
		Prompt:     p.Prompt,
		Overrides:  p.Overrides,
		BatchCount: p.BatchCount,
		SeedMax:    orchestrator.SeedMax(g, info),
		Info:       info,
	}, nil
}

// objectInfo fetches the schema of the classes used by g. A failed fetch
// degrades to literal-only classification.
func (c *Catalog) objectInfo(ctx context.Context, g workflow.Graph) workflow.ObjectInfo {
	if c.info == nil {
		return nil
	}
	types := classTypes(g)
	if len(types) == 0 {
		return nil
	}
	info, err := c.info.ObjectInfo(ctx, types...)
	if err != nil {
		fields := map[string]interface{}{"error": err.Error()}
		var se *comfy.SchemaError
		if errors.As(err, &se) && se.NodeType != "" {
			fields["node_type"] = se.NodeType
		}
		c.logger.Warn("object info unavailable, using literal values", zap.Error(err))
		events.Emit("warn", "schema.degraded", "", fields)
		return nil
	}
	return info
}

func classTypes(g workflow.Graph) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range g {
		if n == nil || n.ClassType == "" || seen[n.ClassType] {
			continue
		}
		seen[n.ClassType] = true
		out = append(out, n.ClassType)
	}
	sort.Strings(out)
	return out
}
