package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/diagram"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// maxDocumentBytes bounds a definition upload. Larger bodies are rejected
// whole rather than truncated.
const maxDocumentBytes = 1 << 20

// handleListDefinitions lists stored definition documents.
func (s *PanelServer) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Store.ListDefinitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list definitions: %v", err))
		return
	}

	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]any{
			"id":         d.ID,
			"version":    d.Version,
			"format":     d.Format,
			"created_at": d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDefine registers the raw definition document in the request body.
func (s *PanelServer) handleDefine(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "definition catalog not configured")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = definition.FormatYAML
	}
	if format != definition.FormatYAML && format != definition.FormatJSON {
		writeError(w, http.StatusBadRequest, "format must be yaml or json")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("definition exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "definition body is required")
		return
	}

	wf, err := s.deps.Catalog.Define(r.Context(), body, format)
	if err != nil {
		writeCascadeError(w, err)
		return
	}
	s.deps.Logger.Info("definition registered via panel", "definition_id", wf.ID, "version", wf.Version)

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      wf.ID,
		"version": wf.Version,
		"steps":   len(wf.Steps),
	})
}

// handleListWorkflows lists instances filtered by status and definition.
func (s *PanelServer) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wfs, err := s.deps.Store.ListWorkflows(r.Context(), store.WorkflowFilter{
		Status:       q.Get("status"),
		DefinitionID: q.Get("definition_id"),
		Limit:        queryInt(r, "limit", 50),
		Offset:       queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list workflows: %v", err))
		return
	}
	if wfs == nil {
		wfs = []*schema.WorkflowInstance{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

// handleStart starts an instance of a registered definition.
func (s *PanelServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DefinitionID string         `json:"definition_id"`
		Version      int            `json:"version"`
		Data         map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.DefinitionID == "" {
		writeError(w, http.StatusBadRequest, "definition_id is required")
		return
	}

	wf, err := s.deps.Executor.Start(r.Context(), body.DefinitionID, body.Version, body.Data)
	if err != nil {
		writeCascadeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *PanelServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Executor.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCascadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleEvents returns the event log of an instance after ?since.
func (s *PanelServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.GetEvents(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get events: %v", err))
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleReplay rebuilds pointer state from the event log alone, for
// comparison with the stored snapshot.
func (s *PanelServer) handleReplay(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	events, err := s.deps.Store.GetEvents(r.Context(), workflowID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get events: %v", err))
		return
	}
	states, err := store.FoldPointers(workflowID, events)
	if err != nil {
		writeCascadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

// handleDiagram renders the definition of an instance with its pointer state.
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "definition catalog not configured")
		return
	}
	ctx := r.Context()

	inst, err := s.deps.Store.GetWorkflow(ctx, r.PathValue("id"))
	if err != nil {
		writeCascadeError(w, err)
		return
	}
	wf, err := s.deps.Catalog.Get(ctx, inst.DefinitionID, inst.Version)
	if err != nil {
		writeCascadeError(w, err)
		return
	}
	model, err := diagram.Build(wf, inst.ExecutionPointers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("build diagram: %v", err))
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, diagram.RenderMermaid(model))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, diagram.RenderASCII(model))
	case "png":
		png, renderErr := diagram.RenderImage(ctx, model)
		if renderErr != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("render diagram: %v", renderErr))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format: %s", format))
	}
}

// handleProcess runs one processing cycle.
func (s *PanelServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Executor.Process(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCascadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleMergeData merges the JSON object body into instance data and runs a
// cycle, which is what lets a data change fire a cancel condition.
func (s *PanelServer) handleMergeData(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(patch) == 0 {
		writeError(w, http.StatusBadRequest, "patch must not be empty")
		return
	}

	res, err := s.deps.Executor.MergeData(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeCascadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSignal suspends, resumes or terminates an instance.
func (s *PanelServer) handleSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := r.PathValue("id")
	signal := r.PathValue("signal")

	var err error
	switch signal {
	case "suspend":
		err = s.deps.Executor.Suspend(ctx, workflowID)
	case "resume":
		err = s.deps.Executor.Resume(ctx, workflowID)
	case "terminate":
		err = s.deps.Executor.Terminate(ctx, workflowID)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown signal: %s", signal))
		return
	}
	if err != nil {
		writeCascadeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ok":          "true",
		"workflow_id": workflowID,
		"signal":      signal,
	})
}

// handleCommands lists pending scheduled commands.
func (s *PanelServer) handleCommands(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Store.SupportsScheduledCommands() {
		writeError(w, http.StatusNotImplemented, "store does not support scheduled commands")
		return
	}
	q := r.URL.Query()
	cmds, err := s.deps.Store.ListCommands(r.Context(), store.CommandFilter{
		CommandName: q.Get("command_name"),
		Data:        q.Get("workflow_id"),
		Limit:       queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list commands: %v", err))
		return
	}
	if cmds == nil {
		cmds = []*schema.ScheduledCommand{}
	}
	writeJSON(w, http.StatusOK, cmds)
}
