package appd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// ErrNotFound marks a controller 404. Callers treat it as "nothing
// configured", not as a failure.
var ErrNotFound = errors.New("controller resource not found")

// get performs an authenticated GET against a controller REST path and
// returns the raw response body. The output=JSON parameter is always set.
func (c *Client) get(ctx context.Context, restPath string, params url.Values) (json.RawMessage, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.baseURL + restPath)
	if err != nil {
		return nil, fmt.Errorf("invalid controller url: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("output", "JSON")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("controller get %s: %w", restPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, restPath)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("controller returned %d for %s: %s", resp.StatusCode, restPath, string(body))
	}
	return body, nil
}

// ListApplications fetches every application registered on the controller.
func (c *Client) ListApplications(ctx context.Context) ([]Application, error) {
	raw, err := c.get(ctx, "/controller/rest/applications", nil)
	if err != nil {
		return nil, err
	}
	var apps []Application
	if err := json.Unmarshal(raw, &apps); err != nil {
		return nil, fmt.Errorf("parse applications: %w", err)
	}
	return apps, nil
}

func lookbackParams(durationMins int) url.Values {
	if durationMins <= 0 {
		durationMins = violationLookbackMins
	}
	p := url.Values{}
	p.Set("time-range-type", "BEFORE_NOW")
	p.Set("duration-in-mins", strconv.Itoa(durationMins))
	return p
}

// ListBusinessTransactions fetches the business transactions of one application.
func (c *Client) ListBusinessTransactions(ctx context.Context, app string) (json.RawMessage, error) {
	return c.get(ctx, "/controller/rest/applications/"+url.PathEscape(app)+"/business-transactions", nil)
}

// MetricData evaluates a metric path over a look-back window.
func (c *Client) MetricData(ctx context.Context, app, metricPath string, durationMins int) (json.RawMessage, error) {
	p := lookbackParams(durationMins)
	p.Set("metric-path", metricPath)
	return c.get(ctx, "/controller/rest/applications/"+url.PathEscape(app)+"/metric-data", p)
}

// Topology fetches an application's tiers and nodes and returns them as one
// document.
func (c *Client) Topology(ctx context.Context, app string) (json.RawMessage, error) {
	base := "/controller/rest/applications/" + url.PathEscape(app)
	tiers, err := c.get(ctx, base+"/tiers", nil)
	if err != nil {
		return nil, err
	}
	nodes, err := c.get(ctx, base+"/nodes", nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"tiers": tiers,
		"nodes": nodes,
	})
}

// Snapshots fetches transaction snapshots over a look-back window.
func (c *Client) Snapshots(ctx context.Context, app string, durationMins, maxResults int) (json.RawMessage, error) {
	p := lookbackParams(durationMins)
	if maxResults > 0 {
		p.Set("maximum-results", strconv.Itoa(maxResults))
	}
	return c.get(ctx, "/controller/rest/applications/"+url.PathEscape(app)+"/request-snapshots", p)
}

// Errors fetches per-transaction error counts over a look-back window.
func (c *Client) Errors(ctx context.Context, app string, durationMins int) (json.RawMessage, error) {
	return c.MetricData(ctx, app, "Errors|*|*", durationMins)
}

// Anomalies fetches detected anomalies over a look-back window.
func (c *Client) Anomalies(ctx context.Context, app string, durationMins int) (json.RawMessage, error) {
	return c.get(ctx, "/controller/rest/applications/"+url.PathEscape(app)+"/anomalies", lookbackParams(durationMins))
}
