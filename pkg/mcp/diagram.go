package mcp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/diagram"
	"github.com/rendis/cascade/pkg/schema"
)

// handleDiagram renders a definition or an instance in the requested format.
func (s *CascadeServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}
	if s.catalog == nil {
		return mcp.NewToolResultError("definition catalog not configured"), nil
	}

	definitionID := req.GetString("definition_id", "")
	workflowID := req.GetString("workflow_id", "")
	if definitionID == "" && workflowID == "" {
		return mcp.NewToolResultError("at least one of definition_id or workflow_id is required"), nil
	}

	var (
		wf       *definition.Workflow
		pointers schema.PointerCollection
	)
	if workflowID != "" {
		inst, getErr := s.store.GetWorkflow(ctx, workflowID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", getErr)), nil
		}
		wf, err = s.catalog.Get(ctx, inst.DefinitionID, inst.Version)
		if req.GetString("include_status", "true") != "false" {
			pointers = inst.ExecutionPointers
		}
	} else {
		wf, err = s.catalog.Get(ctx, definitionID, req.GetInt("version", 0))
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition lookup failed: %v", err)), nil
	}

	model, buildErr := diagram.Build(wf, pointers)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("cascade.diagram",
		mcp.WithDescription("Render a workflow definition, optionally with the pointer state of an instance"),
		mcp.WithString("definition_id", mcp.Description("Definition ID (use with version for a specific version)")),
		mcp.WithNumber("version", mcp.Description("Definition version (default: latest)")),
		mcp.WithString("workflow_id", mcp.Description("Workflow instance ID (includes pointer status by default)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (PNG)"),
		),
		mcp.WithString("include_status", mcp.Description("Overlay pointer status when workflow_id is given (default: true)")),
	)
}
