package kbtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
)

// CreatePlanTool handles the kb_create_plan MCP tool.
type CreatePlanTool struct {
	store *knowledge.Store
}

// NewCreatePlanTool creates a CreatePlanTool.
func NewCreatePlanTool(store *knowledge.Store) *CreatePlanTool {
	return &CreatePlanTool{store: store}
}

// Definition returns the MCP tool definition for kb_create_plan.
func (t *CreatePlanTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_create_plan",
		mcp.WithDescription(
			"Create a plan with ordered steps. Plans attach to the active session and can be instantiated "+
				"from a saved prompt. Track step progress with kb_update_step, then close with kb_complete_plan.",
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Plan title (e.g. 'Failover drill')"),
		),
		mcp.WithString("description",
			mcp.Description("What the plan is about"),
		),
		mcp.WithString("steps",
			mcp.Description(`JSON array of steps, each a title string or {"title": ..., "description": ...}, e.g. ["Verify replica lag", {"title": "Promote standby", "description": "us-east-1 first"}]`),
		),
		mcp.WithString("status",
			mcp.Description("Initial status: draft (default) or active"),
		),
		mcp.WithString("source_prompt",
			mcp.Description("Trigger, name or ID of the saved prompt this plan was instantiated from"),
		),
		mcp.WithString("category",
			mcp.Description("Free-form category"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags"),
		),
	)
}

// Handle processes the kb_create_plan tool call.
func (t *CreatePlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}

	params := knowledge.CreatePlanParams{
		Title:       title,
		Description: req.GetString("description", ""),
		Status:      knowledge.PlanStatus(req.GetString("status", "")),
		Category:    req.GetString("category", ""),
	}
	if raw := req.GetString("steps", ""); raw != "" {
		steps, err := parseSteps(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf(
				`'steps' must be a JSON array of titles or {"title", "description"} objects: %v`, err,
			)), nil
		}
		params.Steps = steps
	}
	if src := req.GetString("source_prompt", ""); src != "" {
		prompt, err := t.resolvePrompt(src)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to resolve source prompt: %v", err)), nil
		}
		params.SourcePromptID = &prompt.ID
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		params.Tags = tags
	}

	plan, err := t.store.CreatePlan(params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create plan: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan created: %q (%s, %d steps)\nID: %s\n", plan.Title, plan.Status, len(plan.Steps), plan.ID)
	for _, st := range plan.Steps {
		fmt.Fprintf(&b, "  %d. %s\n", st.Position, st.Title)
	}

	return mcp.NewToolResultText(b.String()), nil
}

// resolvePrompt accepts a trigger, a name or a raw prompt ID.
func (t *CreatePlanTool) resolvePrompt(key string) (knowledge.SavedPrompt, error) {
	prompt, err := t.store.FindPrompt(key)
	if errors.Is(err, knowledge.ErrNotFound) {
		return t.store.GetPrompt(key)
	}
	return prompt, err
}

// parseSteps decodes the steps argument: a JSON array whose elements are
// either step titles or {"title": ..., "description": ...} objects.
func parseSteps(raw string) ([]knowledge.StepInput, error) {
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	steps := make([]knowledge.StepInput, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			steps = append(steps, knowledge.StepInput{Title: v})
		case map[string]any:
			title, _ := v["title"].(string)
			if title == "" {
				return nil, fmt.Errorf("step %d has no title", i+1)
			}
			description, _ := v["description"].(string)
			steps = append(steps, knowledge.StepInput{Title: title, Description: description})
		default:
			return nil, fmt.Errorf("step %d is neither a string nor an object", i+1)
		}
	}
	return steps, nil
}

// ─── GetPlanTool ────────────────────────────────────────────────────────────

// GetPlanTool handles the kb_get_plan MCP tool.
type GetPlanTool struct {
	store *knowledge.Store
}

// NewGetPlanTool creates a GetPlanTool.
func NewGetPlanTool(store *knowledge.Store) *GetPlanTool {
	return &GetPlanTool{store: store}
}

// Definition returns the MCP tool definition for kb_get_plan.
func (t *GetPlanTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_get_plan",
		mcp.WithDescription(
			"Read one plan in full: status, every step with its state and result, tags and lineage.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The plan ID"),
		),
	)
}

// Handle processes the kb_get_plan tool call.
func (t *GetPlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	plan, err := t.store.GetPlan(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get plan: %v", err)), nil
	}

	return mcp.NewToolResultText(renderPlan(plan)), nil
}

// renderPlan writes the full single-plan view shared by get and complete.
func renderPlan(plan knowledge.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", plan.Title)
	fmt.Fprintf(&b, "**ID:** %s\n", plan.ID)
	fmt.Fprintf(&b, "**Status:** %s", plan.Status)
	if plan.CompletedAt != nil {
		fmt.Fprintf(&b, " (completed %s)", *plan.CompletedAt)
	}
	b.WriteString("\n")
	if plan.Description != "" {
		fmt.Fprintf(&b, "**Description:** %s\n", plan.Description)
	}
	if plan.Category != "" {
		fmt.Fprintf(&b, "**Category:** %s\n", plan.Category)
	}
	if plan.SessionID != nil {
		fmt.Fprintf(&b, "**Session:** %s\n", *plan.SessionID)
	}
	if plan.SourcePromptID != nil {
		fmt.Fprintf(&b, "**Source prompt:** %s\n", *plan.SourcePromptID)
	}
	fmt.Fprintf(&b, "**Tags:** %s\n", joinOrNone(plan.Tags))

	if len(plan.Steps) == 0 {
		b.WriteString("\nNo steps yet. Add some with kb_add_step.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nSteps (%d/%d resolved):\n", resolvedSteps(plan.Steps), len(plan.Steps))
	for _, st := range plan.Steps {
		fmt.Fprintf(&b, "  %d. %s %s (%s)", st.Position, stepMark(st.Status), st.Title, st.Status)
		if st.Result != "" {
			fmt.Fprintf(&b, " - %s", truncate(st.Result, 120))
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "     id: %s\n", st.ID)
	}
	return b.String()
}

// stepMark maps a step status onto a one-character checklist marker.
func stepMark(status knowledge.StepStatus) string {
	switch status {
	case knowledge.StepCompleted:
		return "[x]"
	case knowledge.StepSkipped:
		return "[-]"
	case knowledge.StepFailed:
		return "[!]"
	case knowledge.StepInProgress:
		return "[~]"
	default:
		return "[ ]"
	}
}

// resolvedSteps counts steps in a terminal state (completed, skipped, failed).
func resolvedSteps(steps []knowledge.PlanStep) int {
	n := 0
	for _, st := range steps {
		switch st.Status {
		case knowledge.StepCompleted, knowledge.StepSkipped, knowledge.StepFailed:
			n++
		}
	}
	return n
}

// ─── UpdatePlanTool ─────────────────────────────────────────────────────────

// UpdatePlanTool handles the kb_update_plan MCP tool.
type UpdatePlanTool struct {
	store *knowledge.Store
}

// NewUpdatePlanTool creates an UpdatePlanTool.
func NewUpdatePlanTool(store *knowledge.Store) *UpdatePlanTool {
	return &UpdatePlanTool{store: store}
}

// Definition returns the MCP tool definition for kb_update_plan.
func (t *UpdatePlanTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_update_plan",
		mcp.WithDescription(
			"Update fields of a plan. Setting status to completed requires every step resolved "+
				"(same gate as kb_complete_plan); moving it away from completed clears the completion timestamp.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The plan ID"),
		),
		mcp.WithString("title",
			mcp.Description("New title"),
		),
		mcp.WithString("description",
			mcp.Description("New description"),
		),
		mcp.WithString("status",
			mcp.Description("New status: draft, active, completed or abandoned"),
		),
		mcp.WithString("category",
			mcp.Description("New category"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags, replaces the existing set. Empty string clears all tags."),
		),
	)
}

// Handle processes the kb_update_plan tool call.
func (t *UpdatePlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	params := knowledge.UpdatePlanParams{}
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
	if category := req.GetString("category", ""); category != "" {
		params.Category = &category
		hasUpdates = true
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		params.Tags = tags
		hasUpdates = true
	}

	if !hasUpdates {
		return mcp.NewToolResultError("at least one field to update is required (title, description, status, category, tags)"), nil
	}

	plan, err := t.store.UpdatePlan(id, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update plan: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Plan updated: %q (%s, %d/%d steps resolved)",
		plan.Title, plan.Status, resolvedSteps(plan.Steps), len(plan.Steps))), nil
}

// ─── DeletePlanTool ─────────────────────────────────────────────────────────

// DeletePlanTool handles the kb_delete_plan MCP tool.
type DeletePlanTool struct {
	store *knowledge.Store
}

// NewDeletePlanTool creates a DeletePlanTool.
func NewDeletePlanTool(store *knowledge.Store) *DeletePlanTool {
	return &DeletePlanTool{store: store}
}

// Definition returns the MCP tool definition for kb_delete_plan.
func (t *DeletePlanTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_delete_plan",
		mcp.WithDescription(
			"Permanently delete a plan and all of its steps. This cannot be undone.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The plan ID"),
		),
	)
}

// Handle processes the kb_delete_plan tool call.
func (t *DeletePlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	if err := t.store.DeletePlan(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete plan: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Plan deleted: %s (steps included)", id)), nil
}

// ─── ListPlansTool ──────────────────────────────────────────────────────────

// ListPlansTool handles the kb_list_plans MCP tool.
type ListPlansTool struct {
	store *knowledge.Store
}

// NewListPlansTool creates a ListPlansTool.
func NewListPlansTool(store *knowledge.Store) *ListPlansTool {
	return &ListPlansTool{store: store}
}

// Definition returns the MCP tool definition for kb_list_plans.
func (t *ListPlansTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_list_plans",
		mcp.WithDescription(
			"List plans newest-updated first with step progress, optionally filtered by status, session or source prompt.",
		),
		mcp.WithString("status",
			mcp.Description("Filter by status: draft, active, completed or abandoned"),
		),
		mcp.WithString("category",
			mcp.Description("Filter by category"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags; plans must carry ALL of them"),
		),
		mcp.WithString("session_id",
			mcp.Description("Only plans created in this session"),
		),
		mcp.WithString("source_prompt_id",
			mcp.Description("Only plans instantiated from this prompt"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max plans (default: 20)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Skip this many plans (for paging)"),
		),
	)
}

// Handle processes the kb_list_plans tool call.
func (t *ListPlansTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 20)
	opts := knowledge.ListPlansOptions{
		Status:         req.GetString("status", ""),
		Category:       req.GetString("category", ""),
		SessionID:      req.GetString("session_id", ""),
		SourcePromptID: req.GetString("source_prompt_id", ""),
		Limit:          limit,
		Offset:         intArg(req, "offset", 0),
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		opts.Tags = tags
	}

	plans, err := t.store.ListPlans(opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list plans: %v", err)), nil
	}

	if len(plans) == 0 {
		return mcp.NewToolResultText("No plans found. Create one with kb_create_plan."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d plans:\n\n", len(plans))
	for i, p := range plans {
		category := ""
		if p.Category != "" {
			category = fmt.Sprintf(" [%s]", p.Category)
		}
		fmt.Fprintf(&b, "[%d] %s - %s%s\n    status: %s | steps: %d/%d resolved | tags: %s\n\n",
			i+1, p.ID, p.Title, category,
			p.Status, resolvedSteps(p.Steps), len(p.Steps), joinOrNone(p.Tags),
		)
	}
	b.WriteString(pagingHint(len(plans), limit))

	return mcp.NewToolResultText(b.String()), nil
}

// ─── CompletePlanTool ───────────────────────────────────────────────────────

// CompletePlanTool handles the kb_complete_plan MCP tool.
type CompletePlanTool struct {
	store *knowledge.Store
}

// NewCompletePlanTool creates a CompletePlanTool.
func NewCompletePlanTool(store *knowledge.Store) *CompletePlanTool {
	return &CompletePlanTool{store: store}
}

// Definition returns the MCP tool definition for kb_complete_plan.
func (t *CompletePlanTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_complete_plan",
		mcp.WithDescription(
			"Mark a plan completed. Refused while any step is still pending or in progress; "+
				"resolve each step first with kb_update_step (completed, skipped or failed).",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The plan ID"),
		),
	)
}

// Handle processes the kb_complete_plan tool call.
func (t *CompletePlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	plan, err := t.store.CompletePlan(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to complete plan: %v", err)), nil
	}

	completedAt := ""
	if plan.CompletedAt != nil {
		completedAt = " at " + *plan.CompletedAt
	}
	return mcp.NewToolResultText(fmt.Sprintf("Plan completed: %q (%d steps)%s", plan.Title, len(plan.Steps), completedAt)), nil
}
