package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// appInput is the argument object shared by per-application tools.
type appInput struct {
	Application string `json:"application"`
}

func parseAppInput(params json.RawMessage) (appInput, error) {
	var input appInput
	if err := json.Unmarshal(params, &input); err != nil {
		return input, fmt.Errorf("invalid params: %w", err)
	}
	if input.Application == "" {
		return input, fmt.Errorf("application is required")
	}
	return input, nil
}

const appOnlySchema = `{
	"type": "object",
	"properties": {
		"application": {
			"type": "string",
			"description": "Name of the monitored application"
		}
	},
	"required": ["application"]
}`

// ListApplications lists every application registered on the controller.
type ListApplications struct {
	client Controller
}

// NewListApplications creates the list_applications tool.
func NewListApplications(client Controller) *ListApplications {
	return &ListApplications{client: client}
}

func (t *ListApplications) Name() string { return "list_applications" }

func (t *ListApplications) Description() string {
	return `List all applications monitored by the APM controller. Returns each application's id and name.
Use the name as the "application" argument of the other tools.`
}

func (t *ListApplications) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ListApplications) Execute(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	apps, err := t.client.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(apps)
}

// ListViolations lists the active health-rule violations of one application.
type ListViolations struct {
	client Controller
}

// NewListViolations creates the list_violations tool.
func NewListViolations(client Controller) *ListViolations {
	return &ListViolations{client: client}
}

func (t *ListViolations) Name() string { return "list_violations" }

func (t *ListViolations) Description() string {
	return `List the health-rule violations reported for an application over the last 24 hours,
normalized to a flat array regardless of controller response shape. Includes incident id,
status (OPEN/CANCELLED), severity, affected entity and deep link.`
}

func (t *ListViolations) Parameters() json.RawMessage {
	return json.RawMessage(appOnlySchema)
}

func (t *ListViolations) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	input, err := parseAppInput(params)
	if err != nil {
		return nil, err
	}
	vs, err := t.client.ViolationsForApp(ctx, input.Application)
	if err != nil {
		return nil, err
	}
	return json.Marshal(vs)
}

// ListTransactions lists the business transactions of one application.
type ListTransactions struct {
	client Controller
}

// NewListTransactions creates the list_transactions tool.
func NewListTransactions(client Controller) *ListTransactions {
	return &ListTransactions{client: client}
}

func (t *ListTransactions) Name() string { return "list_transactions" }

func (t *ListTransactions) Description() string {
	return `List the business transactions registered for an application, with their tiers and entry point types.`
}

func (t *ListTransactions) Parameters() json.RawMessage {
	return json.RawMessage(appOnlySchema)
}

func (t *ListTransactions) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	input, err := parseAppInput(params)
	if err != nil {
		return nil, err
	}
	return t.client.ListBusinessTransactions(ctx, input.Application)
}
