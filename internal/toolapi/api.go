// Package toolapi serves the tool-call surface over HTTP: named read-only
// controller queries an external agent can list and invoke.
package toolapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/beacon/internal/appd"
	"github.com/linnemanlabs/beacon/internal/tools"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// maxArgsBytes caps a tool argument object.
const maxArgsBytes = 64 * 1024

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	registry *tools.Registry
}

// New creates a new API handler.
func New(logger log.Logger, registry *tools.Registry) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if registry == nil {
		panic(xerrors.New("tool registry is required"))
	}
	return &API{
		logger:   logger,
		registry: registry,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tools", a.handleListTools)
		r.Post("/tools/{name}", a.handleCallTool)
	})
}

// callResult is the wire form of a tool invocation outcome. Tool failures
// are results, not HTTP errors: the agent decides what to do with them.
type callResult struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

func (a *API) handleListTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"tools": a.registry.Defs(),
	})
}

func (a *API) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.tool.name", name))

	tool, ok := a.registry.Get(name)
	if !ok {
		http.Error(w, `{"error":"unknown tool"}`, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxArgsBytes))
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	if !json.Valid(body) {
		http.Error(w, `{"error":"invalid json arguments"}`, http.StatusBadRequest)
		return
	}

	output, err := tool.Execute(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		status := "error"
		if errors.Is(err, appd.ErrNotFound) {
			status = "not_found"
		}
		span.SetAttributes(attribute.String("beacon.tool.outcome", status))
		a.logger.Error(r.Context(), err, "tool call failed", "tool", name)
		_ = json.NewEncoder(w).Encode(callResult{Error: err.Error(), IsError: true})
		return
	}

	span.SetAttributes(attribute.String("beacon.tool.outcome", "ok"))
	_ = json.NewEncoder(w).Encode(callResult{Content: string(output)})
}
