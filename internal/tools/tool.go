// Package tools defines the read-only controller queries beacon exposes to
// an external agent. Every tool is pure translation to the controller
// client; none carries state.
package tools

import (
	"context"
	"encoding/json"

	"github.com/linnemanlabs/beacon/internal/appd"
)

// Controller is the subset of the APM client the tools consume.
type Controller interface {
	ListApplications(ctx context.Context) ([]appd.Application, error)
	ViolationsForApp(ctx context.Context, app string) ([]appd.Violation, error)
	ListBusinessTransactions(ctx context.Context, app string) (json.RawMessage, error)
	MetricData(ctx context.Context, app, metricPath string, durationMins int) (json.RawMessage, error)
	Topology(ctx context.Context, app string) (json.RawMessage, error)
	Snapshots(ctx context.Context, app string, durationMins, maxResults int) (json.RawMessage, error)
	Errors(ctx context.Context, app string, durationMins int) (json.RawMessage, error)
	Anomalies(ctx context.Context, app string, durationMins int) (json.RawMessage, error)
}

// Tool is one named operation offered on the tool surface.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage // JSON Schema
	Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// ToolDef is the wire form of a tool definition served to clients.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Registry holds available tools keyed by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, keyed by its Name.
func (r *Registry) Register(t Tool) {
	if _, dup := r.tools[t.Name()]; !dup {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name, returns the tool and a boolean indicating if it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns the tool definitions in registration order.
func (r *Registry) Defs() []ToolDef {
	out := make([]ToolDef, 0, len(r.tools))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return out
}
