// Package monitor drives the violation reconciliation loop: on each tick it
// fetches the controller's active violations, diffs them against the tracked
// state, and raises or closes Jira tickets to match.
package monitor

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/appd"
	"github.com/linnemanlabs/beacon/internal/track"
	"github.com/linnemanlabs/go-core/log"
)

// UpstreamClient fetches the current violation feed.
type UpstreamClient interface {
	ListActiveViolations(ctx context.Context) ([]appd.AppViolations, error)
}

// TicketGateway raises and closes tracker issues. Both calls absorb their
// own failures: CreateTicket returns an empty key, CloseTicket returns false.
type TicketGateway interface {
	CreateTicket(ctx context.Context, v *appd.Violation, appName string) string
	CloseTicket(ctx context.Context, ticketKey string) bool
}

// Engine is the reconciliation core. It is not safe for concurrent use; the
// scheduler guarantees one tick at a time.
type Engine struct {
	client  UpstreamClient
	gateway TicketGateway
	store   track.Store
	logger  log.Logger
	metrics *Metrics

	// state mirrors the store. Loaded once before the first tick, then
	// kept in lockstep by put.
	state map[string]track.Violation
}

// NewEngine creates a reconciliation engine with the given dependencies.
func NewEngine(client UpstreamClient, gateway TicketGateway, store track.Store, logger log.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		client:  client,
		gateway: gateway,
		store:   store,
		logger:  logger,
		metrics: metrics,
		state:   make(map[string]track.Violation),
	}
}

// Load pulls the full tracked state from the store. Must run before the
// first tick; the persisted state is the sole source of truth for which
// incidents already have tickets.
func (e *Engine) Load(ctx context.Context) error {
	state, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	e.state = state
	e.metrics.TrackedViolations.Set(float64(len(state)))
	e.logger.Info(ctx, "tracked state loaded", "records", len(state))
	return nil
}

// Run executes ticks until ctx is cancelled, then flushes the store. The
// next tick is armed only after the previous one completes, so a tick that
// outlasts the interval delays its successor instead of overlapping it.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(0) // first tick immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-timer.C:
		}

		e.Tick(ctx)

		select {
		case <-ctx.Done():
			e.shutdown()
			return
		default:
		}
		timer.Reset(interval)
	}
}

func (e *Engine) shutdown() {
	// Fresh context: the run context is already cancelled and the flush
	// must still happen.
	ctx := context.Background()
	_ = e.store.Flush(ctx)
	e.logger.Info(ctx, "monitor stopped", "records", len(e.state))
}

// Tick runs one reconciliation pass. A failure fetching the feed aborts the
// whole tick; everything else is isolated per incident.
func (e *Engine) Tick(ctx context.Context) {
	tickID := ulid.Make().String()
	L := e.logger.With("tick_id", tickID)
	start := time.Now()

	feed, err := e.client.ListActiveViolations(ctx)
	if err != nil {
		L.Error(ctx, err, "violation fetch failed, aborting tick")
		e.metrics.TicksTotal.WithLabelValues("fetch_failed").Inc()
		return
	}

	var stats tickStats

	// Pass one: everything currently reported, in feed order.
	seen := make(map[string]bool)
	for _, av := range feed {
		for i := range av.Violations {
			v := &av.Violations[i]
			id := string(v.ID)
			if id == "" {
				L.Warn(ctx, "violation without incident id skipped", "application", av.Application.Name)
				continue
			}
			seen[id] = true
			e.reconcileObserved(ctx, L, v, av.Application.Name, &stats)
		}
	}

	// Pass two: stored-open incidents that vanished from the merged feed
	// are implicitly resolved. This runs only after the full fetch so a
	// partial feed cannot close live tickets.
	for id, tv := range e.state {
		if tv.Status != track.StatusOpen || seen[id] {
			continue
		}
		e.closeTicket(ctx, L, id, tv, "disappeared", &stats)
	}

	dur := time.Since(start)
	e.metrics.TicksTotal.WithLabelValues("ok").Inc()
	e.metrics.TickDuration.Observe(dur.Seconds())
	e.metrics.TrackedViolations.Set(float64(len(e.state)))

	L.Info(ctx, "tick complete",
		"duration", dur.Seconds(),
		"observed", len(seen),
		"tracked", len(e.state),
		"created", stats.created,
		"closed", stats.closed,
		"refreshed", stats.refreshed,
		"failed", stats.failed,
	)
}

type tickStats struct {
	created   int
	closed    int
	refreshed int
	failed    int
}

// reconcileObserved applies the lifecycle transition for one violation
// present in the current feed.
func (e *Engine) reconcileObserved(ctx context.Context, L log.Logger, v *appd.Violation, appName string, stats *tickStats) {
	id := string(v.ID)
	observed := v.IncidentStatus

	tv, tracked := e.state[id]
	if !tracked {
		// First sighting. No record is written unless the ticket was
		// actually raised, so a failed creation retries from scratch
		// next tick and a successful one is never repeated.
		key := e.gateway.CreateTicket(ctx, v, appName)
		if key == "" {
			stats.failed++
			e.metrics.TicketFailures.WithLabelValues("create").Inc()
			return
		}
		e.put(ctx, L, id, track.Violation{
			TicketKey:   key,
			Status:      observed,
			LastChecked: time.Now().UnixMilli(),
		})
		stats.created++
		e.metrics.TicketsCreated.Inc()
		L.Info(ctx, "ticket created",
			"incident", id,
			"ticket", key,
			"application", appName,
			"severity", v.Severity,
			"status", observed,
		)
		return
	}

	switch {
	case tv.Status == track.StatusCancelled:
		// Closed incidents are terminal for gateway actions. A closed
		// incident reappearing as OPEN gets only the literal status
		// overwrite; no new ticket, no reopen.
		if observed != tv.Status {
			L.Warn(ctx, "closed incident reappeared, tracking status only",
				"incident", id, "ticket", tv.TicketKey, "status", observed)
		}
		tv.Status = observed
		tv.LastChecked = time.Now().UnixMilli()
		e.put(ctx, L, id, tv)
		stats.refreshed++

	case observed == track.StatusCancelled:
		e.closeTicket(ctx, L, id, tv, "cancelled", stats)

	case observed == tv.Status:
		tv.LastChecked = time.Now().UnixMilli()
		e.put(ctx, L, id, tv)
		stats.refreshed++

	default:
		// Some other lifecycle value: not open, not terminal. Record it
		// verbatim, no gateway call.
		tv.Status = observed
		tv.LastChecked = time.Now().UnixMilli()
		e.put(ctx, L, id, tv)
		stats.refreshed++
	}
}

// closeTicket drives the one-directional open -> cancelled transition. The
// local record is marked cancelled even when the gateway call fails: a
// ticket left non-Done is preferred over retrying the transition forever.
func (e *Engine) closeTicket(ctx context.Context, L log.Logger, id string, tv track.Violation, reason string, stats *tickStats) {
	ok := e.gateway.CloseTicket(ctx, tv.TicketKey)
	if !ok {
		e.metrics.TicketFailures.WithLabelValues("close").Inc()
	}

	tv.Status = track.StatusCancelled
	tv.LastChecked = time.Now().UnixMilli()
	e.put(ctx, L, id, tv)

	stats.closed++
	e.metrics.TicketsClosed.WithLabelValues(reason).Inc()
	L.Info(ctx, "ticket closed",
		"incident", id,
		"ticket", tv.TicketKey,
		"reason", reason,
		"transitioned", ok,
	)
}

// put updates the in-memory record and persists it immediately, so a crash
// mid-tick loses at most the in-flight mutation. Persistence failures are
// logged; the in-memory state stays authoritative.
func (e *Engine) put(ctx context.Context, L log.Logger, id string, tv track.Violation) {
	e.state[id] = tv
	if err := e.store.Put(ctx, id, tv); err != nil {
		e.metrics.StoreFailures.Inc()
		L.Error(ctx, err, "state persistence failed", "incident", id)
	}
}
