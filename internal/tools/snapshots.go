package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ListSnapshots fetches transaction snapshots of one application.
type ListSnapshots struct {
	client Controller
}

// NewListSnapshots creates the list_snapshots tool.
func NewListSnapshots(client Controller) *ListSnapshots {
	return &ListSnapshots{client: client}
}

func (t *ListSnapshots) Name() string { return "list_snapshots" }

func (t *ListSnapshots) Description() string {
	return `Fetch transaction snapshots captured for an application over a look-back window.
Snapshots carry call graphs and slow/error transaction detail; cap the result count to keep
responses small.`
}

func (t *ListSnapshots) Parameters() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"application": {
			"type": "string",
			"description": "Name of the monitored application"
		},
		"duration_mins": {
			"type": "integer",
			"description": "Look-back window in minutes (default 60, max 1440)"
		},
		"max_results": {
			"type": "integer",
			"description": "Maximum snapshots to return (default 20, max 100)"
		}
	},
	"required": ["application"]
}`)
}

func (t *ListSnapshots) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Application  string `json:"application"`
		DurationMins int    `json:"duration_mins,omitempty"`
		MaxResults   int    `json:"max_results,omitempty"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.Application == "" {
		return nil, fmt.Errorf("application is required")
	}

	switch {
	case input.MaxResults <= 0:
		input.MaxResults = 20
	case input.MaxResults > 100:
		input.MaxResults = 100
	}

	return t.client.Snapshots(ctx, input.Application, clampDuration(input.DurationMins), input.MaxResults)
}
