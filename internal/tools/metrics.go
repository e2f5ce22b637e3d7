package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// QueryMetrics evaluates a controller metric path over a look-back window.
type QueryMetrics struct {
	client Controller
}

// NewQueryMetrics creates the query_metrics tool.
func NewQueryMetrics(client Controller) *QueryMetrics {
	return &QueryMetrics{client: client}
}

func (t *QueryMetrics) Name() string { return "query_metrics" }

func (t *QueryMetrics) Description() string {
	return `Fetch metric data for an application using a controller metric path, e.g.
"Overall Application Performance|Average Response Time (ms)". Wildcards (*) are allowed
in path segments. Returns metric values over the requested look-back window.`
}

func (t *QueryMetrics) Parameters() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"application": {
			"type": "string",
			"description": "Name of the monitored application"
		},
		"metric_path": {
			"type": "string",
			"description": "Controller metric path, pipe-separated"
		},
		"duration_mins": {
			"type": "integer",
			"description": "Look-back window in minutes (default 60, max 1440)"
		}
	},
	"required": ["application", "metric_path"]
}`)
}

func (t *QueryMetrics) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Application  string `json:"application"`
		MetricPath   string `json:"metric_path"`
		DurationMins int    `json:"duration_mins,omitempty"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.Application == "" {
		return nil, fmt.Errorf("application is required")
	}
	if input.MetricPath == "" {
		return nil, fmt.Errorf("metric_path is required")
	}
	return t.client.MetricData(ctx, input.Application, input.MetricPath, clampDuration(input.DurationMins))
}

// clampDuration normalizes a look-back window to 1..1440 minutes, defaulting
// to an hour.
func clampDuration(mins int) int {
	switch {
	case mins <= 0:
		return 60
	case mins > 1440:
		return 1440
	}
	return mins
}
