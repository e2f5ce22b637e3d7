package tools

import (
	"context"
	"encoding/json"
)

// GetTopology fetches the tier and node layout of one application.
type GetTopology struct {
	client Controller
}

// NewGetTopology creates the get_topology tool.
func NewGetTopology(client Controller) *GetTopology {
	return &GetTopology{client: client}
}

func (t *GetTopology) Name() string { return "get_topology" }

func (t *GetTopology) Description() string {
	return `Fetch the deployment topology of an application: its tiers and the nodes in each tier,
including agent types and machine names.`
}

func (t *GetTopology) Parameters() json.RawMessage {
	return json.RawMessage(appOnlySchema)
}

func (t *GetTopology) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	input, err := parseAppInput(params)
	if err != nil {
		return nil, err
	}
	return t.client.Topology(ctx, input.Application)
}
