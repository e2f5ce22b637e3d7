// Package jira creates and transitions tracker issues for health-rule
// violations. Failures never propagate past this package's boolean/empty
// returns; the reconciliation loop retries or moves on.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/beacon/internal/appd"
	"github.com/linnemanlabs/go-core/log"
)

const httpTimeout = 30 * time.Second

// Gateway submits issues to one Jira project using basic auth.
type Gateway struct {
	baseURL  string
	username string
	apiToken string
	project  string
	logger   log.Logger
	client   *http.Client
}

// New creates a Jira gateway for the given project.
func New(baseURL, username, apiToken, project string, logger log.Logger) *Gateway {
	if logger == nil {
		logger = log.Nop()
	}
	return &Gateway{
		baseURL:  baseURL,
		username: username,
		apiToken: apiToken,
		project:  project,
		logger:   logger,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

// priorityFor maps controller severity to a Jira priority name. Anything
// that is not CRITICAL lands as High so it still gets looked at.
func priorityFor(severity string) string {
	if strings.EqualFold(severity, "CRITICAL") {
		return "Critical"
	}
	return "High"
}

// CreateTicket raises a new issue for a violation and returns its key.
// On any failure it logs and returns an empty key: the caller records
// nothing and retries the incident on a later tick.
func (g *Gateway) CreateTicket(ctx context.Context, v *appd.Violation, appName string) string {
	summary := fmt.Sprintf("[APM] %s violated on %s", ruleName(v), appName)

	var desc strings.Builder
	fmt.Fprintf(&desc, "Health rule violation detected by beacon.\n\n")
	fmt.Fprintf(&desc, "Application: %s\n", appName)
	fmt.Fprintf(&desc, "Health rule: %s\n", ruleName(v))
	fmt.Fprintf(&desc, "Severity: %s\n", v.Severity)
	fmt.Fprintf(&desc, "Incident: %s\n", v.ID)
	if v.AffectedEntity.Name != "" {
		fmt.Fprintf(&desc, "Affected entity: %s (%s)\n", v.AffectedEntity.Name, v.AffectedEntity.EntityType)
	}
	if v.DetectedAtMillis > 0 {
		fmt.Fprintf(&desc, "Detected: %s\n", time.UnixMilli(v.DetectedAtMillis).UTC().Format(time.RFC3339))
	}
	if v.DeepLinkURL != "" {
		fmt.Fprintf(&desc, "\nController link: %s\n", v.DeepLinkURL)
	}

	payload := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": g.project},
			"issuetype":   map[string]string{"name": "Bug"},
			"summary":     summary,
			"description": desc.String(),
			"priority":    map[string]string{"name": priorityFor(v.Severity)},
		},
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := g.call(ctx, http.MethodPost, "/rest/api/2/issue", payload, &created); err != nil {
		g.logger.Error(ctx, err, "ticket creation failed", "incident", string(v.ID), "application", appName)
		return ""
	}
	if created.Key == "" {
		g.logger.Error(ctx, fmt.Errorf("issue create response carried no key"), "ticket creation failed",
			"incident", string(v.ID), "application", appName)
		return ""
	}
	return created.Key
}

// CloseTicket transitions an issue to its done state. It returns false,
// without error, when the issue has no transition whose name or target state
// matches "done"; the caller marks the incident closed locally either way.
func (g *Gateway) CloseTicket(ctx context.Context, ticketKey string) bool {
	var listing struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			To   struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}

	path := "/rest/api/2/issue/" + ticketKey + "/transitions"
	if err := g.call(ctx, http.MethodGet, path, nil, &listing); err != nil {
		g.logger.Error(ctx, err, "transition listing failed", "ticket", ticketKey)
		return false
	}

	var doneID string
	for _, tr := range listing.Transitions {
		if strings.EqualFold(tr.Name, "done") || strings.EqualFold(tr.To.Name, "done") {
			doneID = tr.ID
			break
		}
	}
	if doneID == "" {
		g.logger.Warn(ctx, "no done transition available", "ticket", ticketKey)
		return false
	}

	payload := map[string]any{
		"transition": map[string]string{"id": doneID},
	}
	if err := g.call(ctx, http.MethodPost, path, payload, nil); err != nil {
		g.logger.Error(ctx, err, "transition apply failed", "ticket", ticketKey, "transition", doneID)
		return false
	}
	return true
}

// call performs one authenticated Jira API round trip, decoding the response
// into out when out is non-nil.
func (g *Gateway) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(g.username, g.apiToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("jira %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jira returned %d for %s %s: %s", resp.StatusCode, method, path, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func ruleName(v *appd.Violation) string {
	if v.Name != "" {
		return v.Name
	}
	return "health rule"
}
