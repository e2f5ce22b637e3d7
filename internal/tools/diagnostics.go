package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

const diagnosticsSchema = `{
	"type": "object",
	"properties": {
		"application": {
			"type": "string",
			"description": "Name of the monitored application"
		},
		"duration_mins": {
			"type": "integer",
			"description": "Look-back window in minutes (default 60, max 1440)"
		}
	},
	"required": ["application"]
}`

type diagnosticsInput struct {
	Application  string `json:"application"`
	DurationMins int    `json:"duration_mins,omitempty"`
}

func parseDiagnosticsInput(params json.RawMessage) (diagnosticsInput, error) {
	var input diagnosticsInput
	if err := json.Unmarshal(params, &input); err != nil {
		return input, fmt.Errorf("invalid params: %w", err)
	}
	if input.Application == "" {
		return input, fmt.Errorf("application is required")
	}
	input.DurationMins = clampDuration(input.DurationMins)
	return input, nil
}

// ListErrors fetches per-transaction error counts of one application.
type ListErrors struct {
	client Controller
}

// NewListErrors creates the list_errors tool.
func NewListErrors(client Controller) *ListErrors {
	return &ListErrors{client: client}
}

func (t *ListErrors) Name() string { return "list_errors" }

func (t *ListErrors) Description() string {
	return `Fetch error counts for an application broken down by tier and error type over a look-back window.`
}

func (t *ListErrors) Parameters() json.RawMessage {
	return json.RawMessage(diagnosticsSchema)
}

func (t *ListErrors) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	input, err := parseDiagnosticsInput(params)
	if err != nil {
		return nil, err
	}
	return t.client.Errors(ctx, input.Application, input.DurationMins)
}

// ListAnomalies fetches detected anomalies of one application.
type ListAnomalies struct {
	client Controller
}

// NewListAnomalies creates the list_anomalies tool.
func NewListAnomalies(client Controller) *ListAnomalies {
	return &ListAnomalies{client: client}
}

func (t *ListAnomalies) Name() string { return "list_anomalies" }

func (t *ListAnomalies) Description() string {
	return `Fetch anomalies the controller's anomaly detection flagged for an application over a look-back window.`
}

func (t *ListAnomalies) Parameters() json.RawMessage {
	return json.RawMessage(diagnosticsSchema)
}

func (t *ListAnomalies) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	input, err := parseDiagnosticsInput(params)
	if err != nil {
		return nil, err
	}
	return t.client.Anomalies(ctx, input.Application, input.DurationMins)
}
