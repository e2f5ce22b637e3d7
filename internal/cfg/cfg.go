package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// Config adds beacon-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	ControllerURL         string
	ControllerClientName  string
	ControllerSecret      string
	ControllerAccount     string
	JiraURL               string
	JiraUsername          string
	JiraAPIToken          string
	JiraProject           string
	PollIntervalMillis    int
	StateFile             string
	DatabaseURL           string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on the tool API (empty = unauthenticated)")
	fs.StringVar(&c.ControllerURL, "controller-url", "", "base URL of the APM controller")
	fs.StringVar(&c.ControllerClientName, "controller-client-name", "", "controller API client name (doubles as the API key in key-only mode)")
	fs.StringVar(&c.ControllerSecret, "controller-client-secret", "", "controller OAuth client secret (empty = API-key fallback mode)")
	fs.StringVar(&c.ControllerAccount, "controller-account", "", "controller account name (client id becomes name@account)")
	fs.StringVar(&c.JiraURL, "jira-url", "", "base URL of the Jira instance tickets are raised in")
	fs.StringVar(&c.JiraUsername, "jira-username", "", "Jira username for basic auth")
	fs.StringVar(&c.JiraAPIToken, "jira-api-token", "", "Jira API token for basic auth")
	fs.StringVar(&c.JiraProject, "jira-project", "", "Jira project key new tickets are created under")
	fs.IntVar(&c.PollIntervalMillis, "poll-interval-ms", 60000, "milliseconds between reconciliation ticks")
	fs.StringVar(&c.StateFile, "state-file", "beacon-state.json", "path of the JSON file tracking ticketed violations")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for violation tracking (empty = state file)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Controller URL is required for everything this process does
	if c.ControllerURL == "" {
		errs = append(errs, errors.New("CONTROLLER_URL is required"))
	} else if _, err := url.Parse(c.ControllerURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid CONTROLLER_URL %q: %w", c.ControllerURL, err))
	}

	// Client name is required in both OAuth and API-key fallback modes
	if c.ControllerClientName == "" {
		errs = append(errs, errors.New("CONTROLLER_CLIENT_NAME is required"))
	}

	// Jira settings are all-or-nothing: the monitor cannot run half-configured
	if c.JiraURL == "" {
		errs = append(errs, errors.New("JIRA_URL is required"))
	}
	if c.JiraUsername == "" {
		errs = append(errs, errors.New("JIRA_USERNAME is required"))
	}
	if c.JiraAPIToken == "" {
		errs = append(errs, errors.New("JIRA_API_TOKEN is required"))
	}
	if c.JiraProject == "" {
		errs = append(errs, errors.New("JIRA_PROJECT is required"))
	}

	// Poll interval below 1s would hammer the controller, above 1h is almost
	// certainly a unit mistake (the flag is milliseconds)
	if c.PollIntervalMillis < 1000 || c.PollIntervalMillis > 3600000 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_MS %d (must be 1000..3600000)", c.PollIntervalMillis))
	}

	if c.StateFile == "" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("STATE_FILE is required when DATABASE_URL is not set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
