package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// Result kinds accepted by cascade.report.
const (
	resultNext    = "next"
	resultOutcome = "outcome"
	resultBranch  = "branch"
	resultSleep   = "sleep"
)

// Signals accepted by cascade.signal.
const (
	signalSuspend   = "suspend"
	signalResume    = "resume"
	signalTerminate = "terminate"
)

// definitionSummary is the tool-facing view of a loaded definition.
type definitionSummary struct {
	ID          string   `json:"id"`
	Version     int      `json:"version"`
	Description string   `json:"description,omitempty"`
	Steps       []string `json:"steps"`
	Cancellable []string `json:"cancellable,omitempty"`
}

// documentSummary is the tool-facing view of a stored definition document.
type documentSummary struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
}

// handleDefine compiles and registers a definition document.
func (s *CascadeServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError("body is required"), nil
	}
	if s.catalog == nil {
		return mcp.NewToolResultError("definition catalog not configured"), nil
	}
	format := req.GetString("format", definition.FormatYAML)
	if format != definition.FormatYAML && format != definition.FormatJSON {
		return mcp.NewToolResultError("format must be yaml or json"), nil
	}

	wf, defErr := s.catalog.Define(ctx, []byte(body), format)
	if defErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("define failed: %v", defErr)), nil
	}
	s.logger.Info("definition registered", "definition_id", wf.ID, "version", wf.Version)

	return marshalResult(summarize(wf))
}

// handleStart creates a workflow instance.
func (s *CascadeServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	definitionID, err := req.RequireString("definition_id")
	if err != nil {
		return mcp.NewToolResultError("definition_id is required"), nil
	}
	version := req.GetInt("version", 0)
	data := mcp.ParseStringMap(req, "data", nil)

	wf, startErr := s.executor.Start(ctx, definitionID, version, data)
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", startErr)), nil
	}
	return marshalResult(wf)
}

// handleProcess runs one processing cycle.
func (s *CascadeServer) handleProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	res, procErr := s.executor.Process(ctx, workflowID)
	if procErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("process failed: %v", procErr)), nil
	}
	return marshalResult(res)
}

// handleReport hands a step result to a pointer and runs a cycle.
func (s *CascadeServer) handleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	pointerID, err := req.RequireString("pointer_id")
	if err != nil {
		return mcp.NewToolResultError("pointer_id is required"), nil
	}
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}

	result, parseErr := parseResult(kind, req.GetArguments())
	if parseErr != nil {
		return mcp.NewToolResultError(parseErr.Error()), nil
	}

	res, repErr := s.executor.Report(ctx, workflowID, pointerID, result)
	if repErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report failed: %v", repErr)), nil
	}
	return marshalResult(res)
}

// handleUpdateData merges a patch into instance data and runs a cycle.
func (s *CascadeServer) handleUpdateData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	patch := mcp.ParseStringMap(req, "patch", nil)
	if len(patch) == 0 {
		return mcp.NewToolResultError("patch is required"), nil
	}

	res, mergeErr := s.executor.MergeData(ctx, workflowID, patch)
	if mergeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", mergeErr)), nil
	}
	return marshalResult(res)
}

// handleSignal suspends, resumes or terminates an instance.
func (s *CascadeServer) handleSignal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	signal, err := req.RequireString("signal")
	if err != nil {
		return mcp.NewToolResultError("signal is required"), nil
	}

	var sigErr error
	switch signal {
	case signalSuspend:
		sigErr = s.executor.Suspend(ctx, workflowID)
	case signalResume:
		sigErr = s.executor.Resume(ctx, workflowID)
	case signalTerminate:
		sigErr = s.executor.Terminate(ctx, workflowID)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown signal: %s", signal)), nil
	}
	if sigErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("signal failed: %v", sigErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":          true,
		"workflow_id": workflowID,
		"signal":      signal,
	})
}

// handleSchedule enqueues a processing cycle for later.
func (s *CascadeServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler not configured"), nil
	}
	at := req.GetString("at", "")
	cronExpr := req.GetString("cron", "")
	if (at == "") == (cronExpr == "") {
		return mcp.NewToolResultError("exactly one of at or cron is required"), nil
	}

	var when time.Time
	if at != "" {
		parsed, parseErr := time.Parse(time.RFC3339, at)
		if parseErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid at: %v", parseErr)), nil
		}
		when = parsed.UTC()
		if schedErr := s.scheduler.ScheduleAt(ctx, workflowID, when); schedErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", schedErr)), nil
		}
	} else {
		next, schedErr := s.scheduler.ScheduleCron(ctx, workflowID, cronExpr, time.Now().UTC())
		if schedErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", schedErr)), nil
		}
		when = next
	}

	return marshalResult(map[string]any{
		"ok":           true,
		"workflow_id":  workflowID,
		"execute_time": when,
	})
}

// handleStatus returns the current state of an instance.
func (s *CascadeServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	status, statusErr := s.executor.Status(ctx, workflowID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(status)
}

// handleQuery lists workflows, events, commands or definitions.
func (s *CascadeServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "commands":
		return s.queryCommands(ctx, filter)
	case "definitions":
		return s.queryDefinitions(ctx)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource: %s", resource)), nil
	}
}

func (s *CascadeServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wfs, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		Status:       extractString(filter, "status"),
		DefinitionID: extractString(filter, "definition_id"),
		Limit:        extractInt(filter, "limit", 0),
		Offset:       extractInt(filter, "offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(wfs)
}

func (s *CascadeServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	workflowID := extractString(filter, "workflow_id")
	if workflowID == "" {
		return mcp.NewToolResultError("filter.workflow_id is required for events"), nil
	}
	events, err := s.store.GetEvents(ctx, workflowID, int64(extractInt(filter, "since", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if limit := extractInt(filter, "limit", 0); limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return marshalResult(events)
}

func (s *CascadeServer) queryCommands(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if !s.store.SupportsScheduledCommands() {
		return mcp.NewToolResultError("store does not support scheduled commands"), nil
	}
	cmds, err := s.store.ListCommands(ctx, store.CommandFilter{
		CommandName: extractString(filter, "command_name"),
		Data:        extractString(filter, "workflow_id"),
		Limit:       extractInt(filter, "limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(cmds)
}

// queryDefinitions lists persisted documents, or the in-memory registry
// when no store is configured.
func (s *CascadeServer) queryDefinitions(ctx context.Context) (*mcp.CallToolResult, error) {
	if s.store == nil {
		if s.catalog == nil {
			return marshalResult([]definitionSummary{})
		}
		loaded := s.catalog.Registry().List()
		out := make([]definitionSummary, 0, len(loaded))
		for _, wf := range loaded {
			out = append(out, summarize(wf))
		}
		return marshalResult(out)
	}

	docs, err := s.store.ListDefinitions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	out := make([]documentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentSummary{ID: d.ID, Version: d.Version, Format: d.Format, CreatedAt: d.CreatedAt})
	}
	return marshalResult(out)
}

// parseResult builds an ExecutionResult from report arguments.
func parseResult(kind string, args map[string]any) (schema.ExecutionResult, error) {
	switch kind {
	case resultNext:
		return schema.Next(), nil
	case resultOutcome:
		v, ok := args["outcome"]
		if !ok {
			return schema.ExecutionResult{}, fmt.Errorf("outcome is required for kind outcome")
		}
		return schema.Outcome(v), nil
	case resultBranch:
		values, ok := args["values"].([]any)
		if !ok || len(values) == 0 {
			return schema.ExecutionResult{}, fmt.Errorf("values is required for kind branch")
		}
		return schema.Branch(values...), nil
	case resultSleep:
		raw, _ := args["sleep_for"].(string)
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return schema.ExecutionResult{}, fmt.Errorf("sleep_for must be a positive duration")
		}
		return schema.Sleep(d), nil
	default:
		return schema.ExecutionResult{}, fmt.Errorf("unknown result kind: %s", kind)
	}
}

func summarize(wf *definition.Workflow) definitionSummary {
	sum := definitionSummary{ID: wf.ID, Version: wf.Version, Description: wf.Description}
	for _, st := range wf.Steps {
		sum.Steps = append(sum.Steps, st.ID)
	}
	for _, st := range wf.Cancellable() {
		sum.Cancellable = append(sum.Cancellable, st.ID)
	}
	return sum
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func extractString(filter map[string]any, key string) string {
	if filter == nil {
		return ""
	}
	v, _ := filter[key].(string)
	return v
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
