// Package panel serves a JSON and Server-Sent Events API for inspecting and
// driving workflow instances over HTTP.
package panel

import (
	"log/slog"
	"net/http"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/streaming"
)

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Store    store.Store
	Executor engine.Executor
	Catalog  *definition.Catalog
	// Hub is optional; SSE routes answer 503 without it.
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// PanelServer serves the HTTP API.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/definitions", s.handleListDefinitions)
	mux.HandleFunc("POST /api/definitions", s.handleDefine)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleStart)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/workflows/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/workflows/{id}/replay", s.handleReplay)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("POST /api/workflows/{id}/process", s.handleProcess)
	mux.HandleFunc("POST /api/workflows/{id}/data", s.handleMergeData)
	mux.HandleFunc("POST /api/workflows/{id}/signal/{signal}", s.handleSignal)

	mux.HandleFunc("GET /api/commands", s.handleCommands)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)

	return mux
}
