package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/beacon/internal/appd"
	"github.com/linnemanlabs/beacon/internal/track"
	"github.com/linnemanlabs/beacon/internal/track/memstore"
)

// feedClient serves a fixed violation feed, or an error.
type feedClient struct {
	feed []appd.AppViolations
	err  error
}

func (c *feedClient) ListActiveViolations(context.Context) ([]appd.AppViolations, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.feed, nil
}

// mockGateway records ticket operations and hands out sequential keys.
type mockGateway struct {
	failCreate bool
	failClose  bool

	created []string // incident ids passed to CreateTicket
	closed  []string // ticket keys passed to CloseTicket
}

func (g *mockGateway) CreateTicket(_ context.Context, v *appd.Violation, _ string) string {
	g.created = append(g.created, string(v.ID))
	if g.failCreate {
		return ""
	}
	return fmt.Sprintf("OPS-%d", len(g.created))
}

func (g *mockGateway) CloseTicket(_ context.Context, ticketKey string) bool {
	g.closed = append(g.closed, ticketKey)
	return !g.failClose
}

func newTestEngine(t *testing.T, client UpstreamClient, gateway TicketGateway, store track.Store) *Engine {
	t.Helper()
	e := NewEngine(client, gateway, store, nil, NewMetrics(prometheus.NewRegistry()))
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func violationFeed(app string, violations ...appd.Violation) []appd.AppViolations {
	return []appd.AppViolations{{
		Application: appd.Application{ID: 1, Name: app},
		Violations:  violations,
	}}
}

func openViolation(id string) appd.Violation {
	return appd.Violation{
		ID:             appd.IncidentID(id),
		Name:           "CPU too high",
		Severity:       "CRITICAL",
		IncidentStatus: track.StatusOpen,
	}
}

func TestTick_CreatesTicketOnFirstSighting(t *testing.T) {
	t.Parallel()

	client := &feedClient{feed: violationFeed("shop", openViolation("7001"))}
	gateway := &mockGateway{}
	store := memstore.New()
	e := newTestEngine(t, client, gateway, store)

	e.Tick(context.Background())

	if len(gateway.created) != 1 || gateway.created[0] != "7001" {
		t.Fatalf("created = %v, want [7001]", gateway.created)
	}
	state, _ := store.Load(context.Background())
	rec, ok := state["7001"]
	if !ok {
		t.Fatal("incident 7001 not persisted")
	}
	if rec.TicketKey != "OPS-1" || rec.Status != track.StatusOpen {
		t.Errorf("record = %+v", rec)
	}
	if rec.LastChecked == 0 {
		t.Error("LastChecked not set")
	}
}

func TestTick_NeverDuplicatesTickets(t *testing.T) {
	t.Parallel()

	client := &feedClient{feed: violationFeed("shop", openViolation("7001"))}
	gateway := &mockGateway{}
	e := newTestEngine(t, client, gateway, memstore.New())

	for i := 0; i < 5; i++ {
		e.Tick(context.Background())
	}

	if len(gateway.created) != 1 {
		t.Fatalf("CreateTicket called %d times for one incident, want 1", len(gateway.created))
	}
}

func TestTick_FailedCreationRetriesNextTick(t *testing.T) {
	t.Parallel()

	client := &feedClient{feed: violationFeed("shop", openViolation("7001"))}
	gateway := &mockGateway{failCreate: true}
	store := memstore.New()
	e := newTestEngine(t, client, gateway, store)

	e.Tick(context.Background())

	state, _ := store.Load(context.Background())
	if len(state) != 0 {
		t.Fatalf("state = %v, want empty after failed creation", state)
	}

	// Next tick the creation succeeds and the record appears once.
	gateway.failCreate = false
	e.Tick(context.Background())

	if len(gateway.created) != 2 {
		t.Fatalf("CreateTicket called %d times, want 2 (one failure, one retry)", len(gateway.created))
	}
	state, _ = store.Load(context.Background())
	if rec := state["7001"]; rec.TicketKey != "OPS-2" {
		t.Errorf("record = %+v, want key from the retry", rec)
	}
}

func TestTick_RefreshesLastCheckedOnReobservation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memstore.New()
	stale := track.Violation{TicketKey: "OPS-1", Status: track.StatusOpen, LastChecked: 1}
	if err := store.Put(ctx, "7001", stale); err != nil {
		t.Fatal(err)
	}

	client := &feedClient{feed: violationFeed("shop", openViolation("7001"))}
	gateway := &mockGateway{}
	e := newTestEngine(t, client, gateway, store)

	e.Tick(ctx)

	if len(gateway.created) != 0 || len(gateway.closed) != 0 {
		t.Fatalf("gateway touched for a steady-state incident: created=%v closed=%v",
			gateway.created, gateway.closed)
	}
	state, _ := store.Load(ctx)
	rec := state["7001"]
	if rec.LastChecked <= stale.LastChecked {
		t.Errorf("LastChecked = %d, want refreshed past %d", rec.LastChecked, stale.LastChecked)
	}
	if rec.TicketKey != "OPS-1" || rec.Status != track.StatusOpen {
		t.Errorf("record = %+v", rec)
	}
}

func TestTick_ClosesTicketWhenCancelled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memstore.New()
	if err := store.Put(ctx, "7001", track.Violation{TicketKey: "OPS-1", Status: track.StatusOpen, LastChecked: 1}); err != nil {
		t.Fatal(err)
	}

	cancelled := openViolation("7001")
	cancelled.IncidentStatus = track.StatusCancelled
	client := &feedClient{feed: violationFeed("shop", cancelled)}
	gateway := &mockGateway{}
	e := newTestEngine(t, client, gateway, store)

	e.Tick(ctx)

	if len(gateway.closed) != 1 || gateway.closed[0] != "OPS-1" {
		t.Fatalf("closed = %v, want [OPS-1]", gateway.closed)
	}
	state, _ := store.Load(ctx)
	if rec := state["7001"]; rec.Status != track.StatusCancelled {
		t.Errorf("record = %+v, want cancelled", rec)
	}
}

func TestTick_ClosesTicketWhenViolationDisappears(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memstore.New()
	if err := store.Put(ctx, "7001", track.Violation{TicketKey: "OPS-1", Status: track.StatusOpen, LastChecked: 1}); err != nil {
		t.Fatal(err)
	}

	client := &feedClient{feed: nil} // empty feed, incident gone
	gateway := &mockGateway{}
	e := newTestEngine(t, client, gateway, store)

	e.Tick(ctx)

	if len(gateway.closed) != 1 || gateway.closed[0] != "OPS-1" {
		t.Fatalf("closed = %v, want [OPS-1]", gateway.closed)
	}
	state, _ := store.Load(ctx)
	if rec := state["7001"]; rec.Status != track.StatusCancelled {
		t.Errorf("record = %+v, want cancelled after disappearance", rec)
	}
}

func TestTick_ClosureIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memstore.New()
	if err := store.Put(ctx, "7001", track.Violation{TicketKey: "OPS-1", Status: track.StatusOpen, LastChecked: 1}); err != nil {
		t.Fatal(err)
	}

	// Gateway refuses the transition; the record is still marked cancelled
	// and the close is never retried.
	client := &feedClient{feed: nil}
	gateway := &mockGateway{failClose: true}
	e := newTestEngine(t, client, gateway, store)

	e.Tick(ctx)
	e.Tick(ctx)
	e.Tick(ctx)

	if len(gateway.closed) != 1 {
		t.Fatalf("CloseTicket called %d times, want 1", len(gateway.closed))
	}
	state, _ := store.Load(ctx)
	if rec := state["7001"]; rec.Status != track.StatusCancelled {
		t.Errorf("record = %+v, want cancelled despite gateway failure", rec)
	}
}

func TestTick_CancelledIncidentStaysTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memstore.New()
	if err := store.Put(ctx, "7001", track.Violation{TicketKey: "OPS-1", Status: track.StatusCancelled, LastChecked: 1}); err != nil {
		t.Fatal(err)
	}

	// The same incident id resurfaces as OPEN. The status is recorded
	// verbatim but no ticket is created or closed.
	client := &feedClient{feed: violationFeed("shop", openViolation("7001"))}
	gateway := &mockGateway{}
	e := newTestEngine(t, client, gateway, store)

	e.Tick(ctx)

	if len(gateway.created) != 0 || len(gateway.closed) != 0 {
		t.Fatalf("gateway touched for a terminal incident: created=%v closed=%v",
			gateway.created, gateway.closed)
	}
	state, _ := store.Load(ctx)
	rec := state["7001"]
	if rec.Status != track.StatusOpen {
		t.Errorf("Status = %q, want literal overwrite to OPEN", rec.Status)
	}
	if rec.TicketKey != "OPS-1" {
		t.Errorf("TicketKey = %q, want unchanged", rec.TicketKey)
	}
}

func TestTick_FetchFailureAbortsTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memstore.New()
	if err := store.Put(ctx, "7001", track.Violation{TicketKey: "OPS-1", Status: track.StatusOpen, LastChecked: 1}); err != nil {
		t.Fatal(err)
	}

	client := &feedClient{err: errors.New("controller unreachable")}
	gateway := &mockGateway{}
	e := newTestEngine(t, client, gateway, store)

	e.Tick(ctx)

	// An empty feed would have closed 7001; a failed fetch must not.
	if len(gateway.closed) != 0 || len(gateway.created) != 0 {
		t.Fatalf("gateway touched on aborted tick: created=%v closed=%v",
			gateway.created, gateway.closed)
	}
	state, _ := store.Load(ctx)
	if rec := state["7001"]; rec.Status != track.StatusOpen {
		t.Errorf("record = %+v, want untouched", rec)
	}
}

func TestTick_SkipsViolationsWithoutIncidentID(t *testing.T) {
	t.Parallel()

	anon := openViolation("")
	client := &feedClient{feed: violationFeed("shop", anon, openViolation("7001"))}
	gateway := &mockGateway{}
	e := newTestEngine(t, client, gateway, memstore.New())

	e.Tick(context.Background())

	if len(gateway.created) != 1 || gateway.created[0] != "7001" {
		t.Fatalf("created = %v, want only 7001", gateway.created)
	}
}

func TestRestart_DoesNotRecreateTickets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memstore.New()
	client := &feedClient{feed: violationFeed("shop", openViolation("7001"))}

	first := &mockGateway{}
	e1 := newTestEngine(t, client, first, store)
	e1.Tick(ctx)
	if len(first.created) != 1 {
		t.Fatalf("first run created = %v", first.created)
	}

	// A fresh engine over the same store sees the persisted record and
	// treats the still-open violation as steady state.
	second := &mockGateway{}
	e2 := newTestEngine(t, client, second, store)
	e2.Tick(ctx)

	if len(second.created) != 0 {
		t.Fatalf("restart re-created tickets: %v", second.created)
	}
}

func TestTick_MultipleApplications(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	feed := []appd.AppViolations{
		{Application: appd.Application{ID: 1, Name: "shop"}, Violations: []appd.Violation{openViolation("7001")}},
		{Application: appd.Application{ID: 2, Name: "billing"}, Violations: []appd.Violation{openViolation("7002"), openViolation("7003")}},
	}
	client := &feedClient{feed: feed}
	gateway := &mockGateway{}
	store := memstore.New()
	e := newTestEngine(t, client, gateway, store)

	e.Tick(ctx)

	if len(gateway.created) != 3 {
		t.Fatalf("created = %v, want all three incidents", gateway.created)
	}
	state, _ := store.Load(ctx)
	if len(state) != 3 {
		t.Fatalf("state = %v, want 3 records", state)
	}

	// billing's incidents vanish; shop's survives.
	client.feed = feed[:1]
	e.Tick(ctx)

	if len(gateway.closed) != 2 {
		t.Fatalf("closed = %v, want billing's two tickets", gateway.closed)
	}
	state, _ = store.Load(ctx)
	if state["7001"].Status != track.StatusOpen {
		t.Errorf("shop incident = %+v, want still open", state["7001"])
	}
}

// flushStore wraps memstore to observe the shutdown flush.
type flushStore struct {
	*memstore.Store
	flushed chan struct{}
}

func (f *flushStore) Flush(ctx context.Context) error {
	close(f.flushed)
	return f.Store.Flush(ctx)
}

func TestRun_FlushesOnCancellation(t *testing.T) {
	t.Parallel()

	store := &flushStore{Store: memstore.New(), flushed: make(chan struct{})}
	client := &feedClient{feed: violationFeed("shop", openViolation("7001"))}
	e := newTestEngine(t, client, &mockGateway{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	select {
	case <-store.flushed:
	case <-time.After(time.Second):
		t.Fatal("store was not flushed on shutdown")
	}
}
