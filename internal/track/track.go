// Package track is beacon's local memory of which incidents have tickets.
// The persisted store is the sole source of truth for "have we already
// ticketed this incident"; records are never deleted, they form the audit
// trail of everything the monitor has acted on.
package track

import "context"

// Violation lifecycle statuses as reported upstream. Other values occur and
// are stored verbatim.
const (
	StatusOpen      = "OPEN"
	StatusCancelled = "CANCELLED"
)

// Violation is one tracked incident.
type Violation struct {
	// TicketKey is the tracker issue raised for this incident. Immutable
	// once set.
	TicketKey string `json:"jiraKey"`

	// Status is the last lifecycle status observed upstream.
	Status string `json:"status"`

	// LastChecked is the epoch-millis timestamp of the last observation.
	// Non-decreasing for a given record.
	LastChecked int64 `json:"lastChecked"`
}

// Store persists tracked violations keyed by incident id.
//
// Load returns the full mapping and must be called before the first
// reconciliation tick. Put persists a single record; implementations flush
// durably before returning. Flush forces any buffered state out, used on
// shutdown.
type Store interface {
	Load(ctx context.Context) (map[string]Violation, error)
	Put(ctx context.Context, incidentID string, v Violation) error
	Flush(ctx context.Context) error
	Close()
}
