package appd

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
)

// violationLookbackMins is the fixed look-back window for the violation feed.
const violationLookbackMins = 24 * 60

// fetchConcurrency bounds parallel per-application feed fetches.
const fetchConcurrency = 4

// ViolationsForApp fetches the current health-rule violations of one
// application. It tries the problems endpoint first and falls back to the
// flat endpoint when the controller reports not-found; both 404ing means the
// application has no violation feed configured and yields ErrNotFound.
func (c *Client) ViolationsForApp(ctx context.Context, app string) ([]Violation, error) {
	base := "/controller/rest/applications/" + url.PathEscape(app)

	raw, err := c.get(ctx, base+"/problems/healthrule-violations", lookbackParams(violationLookbackMins))
	if errors.Is(err, ErrNotFound) {
		raw, err = c.get(ctx, base+"/healthrule-violations", lookbackParams(violationLookbackMins))
	}
	if err != nil {
		return nil, err
	}
	return normalizeViolations(raw)
}

// ListActiveViolations fetches the violation feed for every application.
// Per-application failures are logged and contribute an empty slice; an
// application without a feed is skipped silently. Only the application list
// fetch itself can fail the call.
func (c *Client) ListActiveViolations(ctx context.Context) ([]AppViolations, error) {
	apps, err := c.ListApplications(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]Violation, len(apps))
	sem := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup

	for i, app := range apps {
		wg.Add(1)
		go func(i int, app Application) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			vs, err := c.ViolationsForApp(ctx, app.Name)
			switch {
			case errors.Is(err, ErrNotFound):
				// no violation feed configured for this application
			case err != nil:
				c.logger.Error(ctx, err, "violation fetch failed", "application", app.Name)
			default:
				results[i] = vs
			}
		}(i, app)
	}
	wg.Wait()

	out := make([]AppViolations, 0, len(apps))
	for i, app := range apps {
		out = append(out, AppViolations{Application: app, Violations: results[i]})
	}
	return out, nil
}

// shapeMatcher tries to read one known feed shape out of a raw response.
// Matchers are tried in order and the first hit wins; new controller shapes
// are added to the list, existing matchers never change.
type shapeMatcher func(raw json.RawMessage) ([]Violation, bool)

var violationShapes = []shapeMatcher{
	matchDirectArray,
	matchNamedWrapper,
	matchDataWrapper,
	matchProblemsWrapper,
}

// normalizeViolations flattens any of the controller's known response shapes
// into a plain violation slice.
func normalizeViolations(raw json.RawMessage) ([]Violation, error) {
	for _, match := range violationShapes {
		if vs, ok := match(raw); ok {
			return vs, nil
		}
	}
	return nil, errors.New("unrecognized violation feed shape")
}

// matchDirectArray: the feed is a bare array of violations.
func matchDirectArray(raw json.RawMessage) ([]Violation, bool) {
	var vs []Violation
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, false
	}
	return vs, true
}

// matchNamedWrapper: the feed is wrapped under "healthRuleViolations".
func matchNamedWrapper(raw json.RawMessage) ([]Violation, bool) {
	var wrapped struct {
		HealthRuleViolations []Violation `json:"healthRuleViolations"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.HealthRuleViolations == nil {
		return nil, false
	}
	return wrapped.HealthRuleViolations, true
}

// matchDataWrapper: the feed is wrapped under a generic "data" field.
func matchDataWrapper(raw json.RawMessage) ([]Violation, bool) {
	var wrapped struct {
		Data []Violation `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Data == nil {
		return nil, false
	}
	return wrapped.Data, true
}

// matchProblemsWrapper: the feed is a generic "problems" array mixing entry
// kinds; only health-rule entries are extracted.
func matchProblemsWrapper(raw json.RawMessage) ([]Violation, bool) {
	var wrapped struct {
		Problems []json.RawMessage `json:"problems"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Problems == nil {
		return nil, false
	}

	vs := make([]Violation, 0, len(wrapped.Problems))
	for _, entry := range wrapped.Problems {
		var kind struct {
			Type string `json:"type"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(entry, &kind); err != nil {
			continue
		}
		if !isHealthRuleKind(kind.Type) && !isHealthRuleKind(kind.Name) {
			continue
		}
		var v Violation
		if err := json.Unmarshal(entry, &v); err != nil {
			continue
		}
		vs = append(vs, v)
	}
	return vs, true
}

func isHealthRuleKind(s string) bool {
	return strings.Contains(strings.ToLower(s), "healthrule")
}
