package kbtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
)

// AddStepTool handles the kb_add_step MCP tool.
type AddStepTool struct {
	store *knowledge.Store
}

// NewAddStepTool creates an AddStepTool.
func NewAddStepTool(store *knowledge.Store) *AddStepTool {
	return &AddStepTool{store: store}
}

// Definition returns the MCP tool definition for kb_add_step.
func (t *AddStepTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_add_step",
		mcp.WithDescription(
			"Append a step to the end of a plan. Use kb_reorder_steps to move it somewhere else.",
		),
		mcp.WithString("plan_id",
			mcp.Required(),
			mcp.Description("The plan ID"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Step title"),
		),
		mcp.WithString("description",
			mcp.Description("Step details"),
		),
	)
}

// Handle processes the kb_add_step tool call.
func (t *AddStepTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := req.GetString("plan_id", "")
	title := req.GetString("title", "")

	if planID == "" {
		return mcp.NewToolResultError("'plan_id' is required"), nil
	}
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}

	step, err := t.store.AddStep(planID, knowledge.StepInput{
		Title:       title,
		Description: req.GetString("description", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add step: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Step added at position %d: %q\nID: %s", step.Position, step.Title, step.ID)), nil
}

// ─── UpdateStepTool ─────────────────────────────────────────────────────────

// UpdateStepTool handles the kb_update_step MCP tool.
type UpdateStepTool struct {
	store *knowledge.Store
}

// NewUpdateStepTool creates an UpdateStepTool.
func NewUpdateStepTool(store *knowledge.Store) *UpdateStepTool {
	return &UpdateStepTool{store: store}
}

// Definition returns the MCP tool definition for kb_update_step.
func (t *UpdateStepTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_update_step",
		mcp.WithDescription(
			"Update one plan step: retitle it, move it through its lifecycle "+
				"(pending, in_progress, completed, skipped, failed) or record what happened in 'result'.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The step ID"),
		),
		mcp.WithString("title",
			mcp.Description("New title"),
		),
		mcp.WithString("description",
			mcp.Description("New description"),
		),
		mcp.WithString("status",
			mcp.Description("New status: pending, in_progress, completed, skipped or failed"),
		),
		mcp.WithString("result",
			mcp.Description("Outcome text (what was done, what went wrong)"),
		),
	)
}

// Handle processes the kb_update_step tool call.
func (t *UpdateStepTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	params := knowledge.UpdateStepParams{}
	hasUpdates := false

	if title := req.GetString("title", ""); title != "" {
		params.Title = &title
		hasUpdates = true
	}
	if description := req.GetString("description", ""); description != "" {
		params.Description = &description
		hasUpdates = true
	}
	if status := req.GetString("status", ""); status != "" {
		params.Status = &status
		hasUpdates = true
	}
	if result := req.GetString("result", ""); result != "" {
		params.Result = &result
		hasUpdates = true
	}

	if !hasUpdates {
		return mcp.NewToolResultError("at least one field to update is required (title, description, status, result)"), nil
	}

	step, err := t.store.UpdateStep(id, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update step: %v", err)), nil
	}

	response := fmt.Sprintf("Step %d updated: %s %q (%s)", step.Position, stepMark(step.Status), step.Title, step.Status)
	if step.Result != "" {
		response += fmt.Sprintf("\nResult: %s", step.Result)
	}

	return mcp.NewToolResultText(response), nil
}

// ─── RemoveStepTool ─────────────────────────────────────────────────────────

// RemoveStepTool handles the kb_remove_step MCP tool.
type RemoveStepTool struct {
	store *knowledge.Store
}

// NewRemoveStepTool creates a RemoveStepTool.
func NewRemoveStepTool(store *knowledge.Store) *RemoveStepTool {
	return &RemoveStepTool{store: store}
}

// Definition returns the MCP tool definition for kb_remove_step.
func (t *RemoveStepTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_remove_step",
		mcp.WithDescription(
			"Remove a step from its plan. Later steps shift up so positions stay dense.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The step ID"),
		),
	)
}

// Handle processes the kb_remove_step tool call.
func (t *RemoveStepTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	if err := t.store.RemoveStep(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to remove step: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Step removed: %s", id)), nil
}

// ─── ReorderStepsTool ───────────────────────────────────────────────────────

// ReorderStepsTool handles the kb_reorder_steps MCP tool.
type ReorderStepsTool struct {
	store *knowledge.Store
}

// NewReorderStepsTool creates a ReorderStepsTool.
func NewReorderStepsTool(store *knowledge.Store) *ReorderStepsTool {
	return &ReorderStepsTool{store: store}
}

// Definition returns the MCP tool definition for kb_reorder_steps.
func (t *ReorderStepsTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_reorder_steps",
		mcp.WithDescription(
			"Reorder a plan's steps. step_ids must list every step of the plan exactly once, in the new order.",
		),
		mcp.WithString("plan_id",
			mcp.Required(),
			mcp.Description("The plan ID"),
		),
		mcp.WithString("step_ids",
			mcp.Required(),
			mcp.Description(`JSON array of all step IDs in the new order, e.g. ["id3", "id1", "id2"]`),
		),
	)
}

// Handle processes the kb_reorder_steps tool call.
func (t *ReorderStepsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := req.GetString("plan_id", "")
	if planID == "" {
		return mcp.NewToolResultError("'plan_id' is required"), nil
	}
	raw := req.GetString("step_ids", "")
	if raw == "" {
		return mcp.NewToolResultError("'step_ids' is required"), nil
	}

	var stepIDs []string
	if err := json.Unmarshal([]byte(raw), &stepIDs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf(
			`'step_ids' must be a valid JSON array of step IDs, e.g. ["id1", "id2"]. Parse error: %v`, err,
		)), nil
	}

	plan, err := t.store.ReorderSteps(planID, stepIDs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reorder steps: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Steps reordered for %q:\n", plan.Title)
	for _, st := range plan.Steps {
		fmt.Fprintf(&b, "  %d. %s %s\n", st.Position, stepMark(st.Status), st.Title)
	}

	return mcp.NewToolResultText(b.String()), nil
}
