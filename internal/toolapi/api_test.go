package toolapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/beacon/internal/appd"
	"github.com/linnemanlabs/beacon/internal/tools"
)

// stubTool is a canned tool for handler tests.
type stubTool struct {
	name   string
	output json.RawMessage
	err    error

	gotParams json.RawMessage
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub tool " + s.name }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (s *stubTool) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	s.gotParams = params
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

func newTestServer(t *testing.T, toolset ...tools.Tool) *httptest.Server {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tl := range toolset {
		registry.Register(tl)
	}
	api := New(nil, registry)

	r := chi.NewRouter()
	api.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestListTools(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t,
		&stubTool{name: "list_applications"},
		&stubTool{name: "query_metrics"},
	)

	resp, err := http.Get(srv.URL + "/api/v1/tools")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var listing struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"input_schema"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(listing.Tools))
	}
	// Registration order is preserved.
	if listing.Tools[0].Name != "list_applications" || listing.Tools[1].Name != "query_metrics" {
		t.Errorf("tool order = %v", listing.Tools)
	}
	if len(listing.Tools[0].InputSchema) == 0 {
		t.Error("input_schema missing")
	}
}

func TestCallTool_Success(t *testing.T) {
	t.Parallel()

	tool := &stubTool{name: "list_applications", output: json.RawMessage(`[{"id":1,"name":"shop"}]`)}
	srv := newTestServer(t, tool)

	resp, err := http.Post(srv.URL+"/api/v1/tools/list_applications", "application/json",
		strings.NewReader(`{"application":"shop"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var result struct {
		Content string `json:"content"`
		IsError bool   `json:"is_error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.IsError {
		t.Fatal("is_error = true, want false")
	}
	if !strings.Contains(result.Content, `"shop"`) {
		t.Errorf("content = %q", result.Content)
	}
	if string(tool.gotParams) != `{"application":"shop"}` {
		t.Errorf("params = %s", tool.gotParams)
	}
}

func TestCallTool_EmptyBodyBecomesEmptyObject(t *testing.T) {
	t.Parallel()

	tool := &stubTool{name: "list_applications", output: json.RawMessage(`[]`)}
	srv := newTestServer(t, tool)

	resp, err := http.Post(srv.URL+"/api/v1/tools/list_applications", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(tool.gotParams) != `{}` {
		t.Errorf("params = %s, want {}", tool.gotParams)
	}
}

func TestCallTool_UnknownTool(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubTool{name: "list_applications"})

	resp, err := http.Post(srv.URL+"/api/v1/tools/no_such_tool", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCallTool_InvalidJSON(t *testing.T) {
	t.Parallel()

	tool := &stubTool{name: "list_applications"}
	srv := newTestServer(t, tool)

	resp, err := http.Post(srv.URL+"/api/v1/tools/list_applications", "application/json",
		strings.NewReader(`{not json`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if tool.gotParams != nil {
		t.Error("tool executed despite invalid arguments")
	}
}

func TestCallTool_ToolErrorIsResultNotHTTPError(t *testing.T) {
	t.Parallel()

	tool := &stubTool{name: "query_metrics", err: errors.New("metric path is required")}
	srv := newTestServer(t, tool)

	resp, err := http.Post(srv.URL+"/api/v1/tools/query_metrics", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (tool failures are results)", resp.StatusCode)
	}

	var result struct {
		Error   string `json:"error"`
		IsError bool   `json:"is_error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.IsError || result.Error != "metric path is required" {
		t.Errorf("result = %+v", result)
	}
}

func TestCallTool_NotFoundUpstream(t *testing.T) {
	t.Parallel()

	tool := &stubTool{name: "list_violations", err: fmt.Errorf("application gone: %w", appd.ErrNotFound)}
	srv := newTestServer(t, tool)

	resp, err := http.Post(srv.URL+"/api/v1/tools/list_violations", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"is_error":true`) {
		t.Errorf("body = %s", body)
	}
}

func TestCallTool_SpanAttributes(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	registry := tools.NewRegistry()
	registry.Register(&stubTool{name: "list_applications", output: json.RawMessage(`[]`)})
	api := New(nil, registry)

	r := chi.NewRouter()
	// Stand-in for the otelhttp handler the server wraps routes with.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx, span := tp.Tracer("test").Start(req.Context(), "http.request")
			defer span.End()
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	api.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/tools/list_applications", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	attrs := make(map[string]any)
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	if attrs["beacon.tool.name"] != "list_applications" {
		t.Errorf("beacon.tool.name = %v", attrs["beacon.tool.name"])
	}
	if attrs["beacon.tool.outcome"] != "ok" {
		t.Errorf("beacon.tool.outcome = %v", attrs["beacon.tool.outcome"])
	}
}

func TestNew_NilRegistryPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("New(nil registry) did not panic")
		}
	}()
	New(nil, nil)
}
