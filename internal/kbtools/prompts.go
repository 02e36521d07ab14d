package kbtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
)

// SavePromptTool handles the kb_save_prompt MCP tool.
type SavePromptTool struct {
	store *knowledge.Store
}

// NewSavePromptTool creates a SavePromptTool.
func NewSavePromptTool(store *knowledge.Store) *SavePromptTool {
	return &SavePromptTool{store: store}
}

// Definition returns the MCP tool definition for kb_save_prompt.
func (t *SavePromptTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_save_prompt",
		mcp.WithDescription(
			"Save a reusable prompt template. Placeholders like {{environment}} become variables filled in at recall time. "+
				"Recall it later by name or slash trigger with kb_recall_prompt.",
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Unique prompt name (e.g. 'Payments Deploy')"),
		),
		mcp.WithString("template",
			mcp.Required(),
			mcp.Description("Template text. {{variable}} placeholders are extracted automatically."),
		),
		mcp.WithString("trigger",
			mcp.Description("Slash trigger (e.g. '/deploy'). Omit to derive one from the name; pass an empty string for no trigger at all."),
		),
		mcp.WithString("description",
			mcp.Description("What the prompt is for"),
		),
		mcp.WithString("category",
			mcp.Description("Free-form category"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags"),
		),
	)
}

// Handle processes the kb_save_prompt tool call.
func (t *SavePromptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	template := req.GetString("template", "")

	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	if template == "" {
		return mcp.NewToolResultError("'template' is required"), nil
	}

	params := knowledge.SavePromptParams{
		Name:        name,
		Template:    template,
		Description: req.GetString("description", ""),
		Category:    req.GetString("category", ""),
	}
	if trigger, ok := req.GetArguments()["trigger"].(string); ok {
		params.Trigger = &trigger
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		params.Tags = tags
	}

	prompt, err := t.store.SavePrompt(params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save prompt: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Prompt saved: %q", prompt.Name)
	if prompt.Trigger != nil {
		fmt.Fprintf(&b, " (trigger: %s)", *prompt.Trigger)
	}
	if len(prompt.Variables) > 0 {
		fmt.Fprintf(&b, "\nVariables: %s", strings.Join(prompt.Variables, ", "))
	}
	fmt.Fprintf(&b, "\nID: %s", prompt.ID)

	return mcp.NewToolResultText(b.String()), nil
}

// ─── RecallPromptTool ───────────────────────────────────────────────────────

// RecallPromptTool handles the kb_recall_prompt MCP tool.
type RecallPromptTool struct {
	store *knowledge.Store
}

// NewRecallPromptTool creates a RecallPromptTool.
func NewRecallPromptTool(store *knowledge.Store) *RecallPromptTool {
	return &RecallPromptTool{store: store}
}

// Definition returns the MCP tool definition for kb_recall_prompt.
func (t *RecallPromptTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_recall_prompt",
		mcp.WithDescription(
			"Render a saved prompt template by trigger or name, filling {{variable}} placeholders from 'variables'. "+
				"Unfilled placeholders stay verbatim unless strict is set.",
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Slash trigger (with or without the slash) or prompt name"),
		),
		mcp.WithString("variables",
			mcp.Description(`JSON object of variable values, e.g. {"environment": "staging"}`),
		),
		mcp.WithBoolean("strict",
			mcp.Description("Fail instead of rendering when any variable is missing (default: false)"),
		),
	)
}

// Handle processes the kb_recall_prompt tool call.
func (t *RecallPromptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("prompt", "")
	if key == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}

	var vars map[string]string
	if raw := req.GetString("variables", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &vars); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf(
				`'variables' must be a valid JSON object of string values, e.g. {"environment": "staging"}. Parse error: %v`, err,
			)), nil
		}
	}
	strict := boolArg(req, "strict", false)

	recalled, err := t.store.RecallPrompt(key, vars, strict)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to recall prompt: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s", recalled.Prompt.Name)
	if recalled.Prompt.Trigger != nil {
		fmt.Fprintf(&b, " (%s)", *recalled.Prompt.Trigger)
	}
	fmt.Fprintf(&b, "\n\n%s\n", recalled.Text)
	if len(recalled.Missing) > 0 {
		fmt.Fprintf(&b, "\nMissing variables left as-is: %s\n", strings.Join(recalled.Missing, ", "))
	}
	fmt.Fprintf(&b, "\nUsed %d times.", recalled.Prompt.UsageCount)

	return mcp.NewToolResultText(b.String()), nil
}

// ─── UpdatePromptTool ───────────────────────────────────────────────────────

// UpdatePromptTool handles the kb_update_prompt MCP tool.
type UpdatePromptTool struct {
	store *knowledge.Store
}

// NewUpdatePromptTool creates an UpdatePromptTool.
func NewUpdatePromptTool(store *knowledge.Store) *UpdatePromptTool {
	return &UpdatePromptTool{store: store}
}

// Definition returns the MCP tool definition for kb_update_prompt.
func (t *UpdatePromptTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_update_prompt",
		mcp.WithDescription(
			"Update fields of a saved prompt. Changing the template re-extracts its variables. "+
				"Pass an empty trigger to remove the trigger.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The prompt ID"),
		),
		mcp.WithString("name",
			mcp.Description("New name (must stay unique)"),
		),
		mcp.WithString("template",
			mcp.Description("New template text"),
		),
		mcp.WithString("trigger",
			mcp.Description("New slash trigger; empty string removes it"),
		),
		mcp.WithString("description",
			mcp.Description("New description"),
		),
		mcp.WithString("category",
			mcp.Description("New category"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags, replaces the existing set. Empty string clears all tags."),
		),
	)
}

// Handle processes the kb_update_prompt tool call.
func (t *UpdatePromptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	params := knowledge.UpdatePromptParams{}
	hasUpdates := false

	if name := req.GetString("name", ""); name != "" {
		params.Name = &name
		hasUpdates = true
	}
	if template := req.GetString("template", ""); template != "" {
		params.Template = &template
		hasUpdates = true
	}
	if trigger, ok := req.GetArguments()["trigger"].(string); ok {
		params.Trigger = &trigger
		hasUpdates = true
	}
	if description := req.GetString("description", ""); description != "" {
		params.Description = &description
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
		return mcp.NewToolResultError("at least one field to update is required (name, template, trigger, description, category, tags)"), nil
	}

	prompt, err := t.store.UpdatePrompt(id, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update prompt: %v", err)), nil
	}

	response := fmt.Sprintf("Prompt updated: %q", prompt.Name)
	if prompt.Trigger != nil {
		response += fmt.Sprintf(" (trigger: %s)", *prompt.Trigger)
	} else {
		response += " (no trigger)"
	}
	if len(prompt.Variables) > 0 {
		response += fmt.Sprintf("\nVariables: %s", strings.Join(prompt.Variables, ", "))
	}

	return mcp.NewToolResultText(response), nil
}

// ─── DeletePromptTool ───────────────────────────────────────────────────────

// DeletePromptTool handles the kb_delete_prompt MCP tool.
type DeletePromptTool struct {
	store *knowledge.Store
}

// NewDeletePromptTool creates a DeletePromptTool.
func NewDeletePromptTool(store *knowledge.Store) *DeletePromptTool {
	return &DeletePromptTool{store: store}
}

// Definition returns the MCP tool definition for kb_delete_prompt.
func (t *DeletePromptTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_delete_prompt",
		mcp.WithDescription(
			"Permanently delete a saved prompt. Plans created from it keep existing with their source reference cleared.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The prompt ID"),
		),
	)
}

// Handle processes the kb_delete_prompt tool call.
func (t *DeletePromptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	if err := t.store.DeletePrompt(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete prompt: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Prompt deleted: %s", id)), nil
}

// ─── ListPromptsTool ────────────────────────────────────────────────────────

// ListPromptsTool handles the kb_list_prompts MCP tool.
type ListPromptsTool struct {
	store *knowledge.Store
}

// NewListPromptsTool creates a ListPromptsTool.
func NewListPromptsTool(store *knowledge.Store) *ListPromptsTool {
	return &ListPromptsTool{store: store}
}

// Definition returns the MCP tool definition for kb_list_prompts.
func (t *ListPromptsTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_list_prompts",
		mcp.WithDescription(
			"List saved prompts ordered by name, with their triggers, variables and usage counts.",
		),
		mcp.WithString("category",
			mcp.Description("Filter by category"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags; prompts must carry ALL of them"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max prompts (default: 20)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Skip this many prompts (for paging)"),
		),
	)
}

// Handle processes the kb_list_prompts tool call.
func (t *ListPromptsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 20)
	opts := knowledge.ListPromptsOptions{
		Category: req.GetString("category", ""),
		Limit:    limit,
		Offset:   intArg(req, "offset", 0),
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		opts.Tags = tags
	}

	prompts, err := t.store.ListPrompts(opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list prompts: %v", err)), nil
	}

	if len(prompts) == 0 {
		return mcp.NewToolResultText("No saved prompts. Save one with kb_save_prompt."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d prompts:\n\n", len(prompts))
	for i, p := range prompts {
		trigger := "no trigger"
		if p.Trigger != nil {
			trigger = *p.Trigger
		}
		fmt.Fprintf(&b, "[%d] %s - %s (%s)\n", i+1, p.ID, p.Name, trigger)
		if p.Description != "" {
			fmt.Fprintf(&b, "    %s\n", truncate(p.Description, 120))
		}
		fmt.Fprintf(&b, "    variables: %s | used %d times\n\n", joinOrNone(p.Variables), p.UsageCount)
	}
	b.WriteString(pagingHint(len(prompts), limit))

	return mcp.NewToolResultText(b.String()), nil
}
