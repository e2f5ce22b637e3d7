// Package appd is a read-only client for the APM controller REST API.
// It owns controller authentication and the normalization of the
// health-rule-violation feed; everything else is thin request/response
// translation used by the tool surface.
package appd

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const httpTimeout = 30 * time.Second

// IncidentID is an upstream incident identifier. The controller emits it as
// either a JSON number or a string depending on endpoint; it is always
// compared as a string.
type IncidentID string

// UnmarshalJSON accepts both number and string forms.
func (id *IncidentID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = IncidentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = IncidentID(n.String())
	return nil
}

// Application is one monitored application registered on the controller.
type Application struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EntityDefinition names the entity a violation fired against.
type EntityDefinition struct {
	EntityType string `json:"entityType,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Violation is one health-rule violation as reported by the controller.
// IncidentStatus is OPEN while firing and CANCELLED once resolved; any other
// value is passed through untouched.
type Violation struct {
	ID               IncidentID       `json:"id"`
	Name             string           `json:"name,omitempty"`
	Severity         string           `json:"severity,omitempty"`
	IncidentStatus   string           `json:"incidentStatus,omitempty"`
	AffectedEntity   EntityDefinition `json:"affectedEntityDefinition,omitempty"`
	DeepLinkURL      string           `json:"deepLinkUrl,omitempty"`
	DetectedAtMillis int64            `json:"startTimeInMillis,omitempty"`
}

// AppViolations pairs an application with its currently reported violations.
type AppViolations struct {
	Application Application
	Violations  []Violation
}

// Client talks to a single APM controller. The zero value is not usable;
// construct with New.
type Client struct {
	baseURL    string
	clientName string
	secret     string
	account    string
	logger     log.Logger
	httpClient *http.Client

	tokenCache tokenCache
}

// New creates a controller client. clientSecret may be empty, in which case
// clientName is used literally as a bearer value (API-key fallback mode).
func New(baseURL, clientName, clientSecret, account string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		baseURL:    baseURL,
		clientName: clientName,
		secret:     clientSecret,
		account:    account,
		logger:     logger,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}
