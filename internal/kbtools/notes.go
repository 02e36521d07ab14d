package kbtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
)

// SaveNoteTool handles the kb_save_note MCP tool.
type SaveNoteTool struct {
	store *knowledge.Store
}

// NewSaveNoteTool creates a SaveNoteTool with the given knowledge store.
func NewSaveNoteTool(store *knowledge.Store) *SaveNoteTool {
	return &SaveNoteTool{store: store}
}

// Definition returns the MCP tool definition for kb_save_note.
func (t *SaveNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_save_note",
		mcp.WithDescription(
			"Save a note to the knowledge base. Call this PROACTIVELY after learning something worth keeping: "+
				"decisions, gotchas, environment quirks, how-tos. Notes are full-text searchable via kb_search and kb_recall.",
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short, searchable title (e.g. 'Postgres failover quirks')"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The note body. Markdown is fine."),
		),
		mcp.WithString("category",
			mcp.Description("Free-form category (e.g. 'infra', 'decisions')"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags (e.g. 'deploy,payments')"),
		),
		mcp.WithString("status",
			mcp.Description("Note status: active (default) or archived"),
		),
		mcp.WithNumber("relevance",
			mcp.Description("Search ranking weight in [0,1]. Default 1.0; exactly 0 hides the note from search."),
		),
	)
}

// Handle processes the kb_save_note tool call.
func (t *SaveNoteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	content := req.GetString("content", "")

	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}
	if content == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}

	params := knowledge.CreateNoteParams{
		Title:    title,
		Content:  content,
		Category: req.GetString("category", ""),
		Status:   req.GetString("status", ""),
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		params.Tags = tags
	}
	if rel, ok := floatArg(req, "relevance"); ok {
		params.Relevance = &rel
	}

	note, err := t.store.CreateNote(params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save note: %v", err)), nil
	}

	response := fmt.Sprintf("Note saved: %q", note.Title)
	if note.Category != "" {
		response += fmt.Sprintf(" [%s]", note.Category)
	}
	if len(note.Tags) > 0 {
		response += fmt.Sprintf("\nTags: %s", strings.Join(note.Tags, ", "))
	}
	response += fmt.Sprintf("\nID: %s", note.ID)

	return mcp.NewToolResultText(response), nil
}

// ─── GetNoteTool ────────────────────────────────────────────────────────────

// GetNoteTool handles the kb_get_note MCP tool.
type GetNoteTool struct {
	store *knowledge.Store
}

// NewGetNoteTool creates a GetNoteTool.
func NewGetNoteTool(store *knowledge.Store) *GetNoteTool {
	return &GetNoteTool{store: store}
}

// Definition returns the MCP tool definition for kb_get_note.
func (t *GetNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_get_note",
		mcp.WithDescription(
			"Read one note in full, untruncated. Use after kb_search or kb_list_notes when you need the complete content.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The note ID"),
		),
	)
}

// Handle processes the kb_get_note tool call.
func (t *GetNoteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	note, err := t.store.GetNote(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get note: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", note.Title)
	fmt.Fprintf(&b, "**ID:** %s\n", note.ID)
	fmt.Fprintf(&b, "**Status:** %s | **Relevance:** %.1f\n", note.Status, note.Relevance)
	if note.Category != "" {
		fmt.Fprintf(&b, "**Category:** %s\n", note.Category)
	}
	fmt.Fprintf(&b, "**Tags:** %s\n", joinOrNone(note.Tags))
	fmt.Fprintf(&b, "**Created:** %s | **Updated:** %s\n", note.CreatedAt, note.UpdatedAt)
	fmt.Fprintf(&b, "\n%s\n", note.Content)

	return mcp.NewToolResultText(b.String()), nil
}

// ─── UpdateNoteTool ─────────────────────────────────────────────────────────

// UpdateNoteTool handles the kb_update_note MCP tool.
type UpdateNoteTool struct {
	store *knowledge.Store
}

// NewUpdateNoteTool creates an UpdateNoteTool.
func NewUpdateNoteTool(store *knowledge.Store) *UpdateNoteTool {
	return &UpdateNoteTool{store: store}
}

// Definition returns the MCP tool definition for kb_update_note.
func (t *UpdateNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_update_note",
		mcp.WithDescription(
			"Update fields of an existing note. Only the fields you pass change; "+
				"tags replace the whole set (pass an empty string to clear them).",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The note ID"),
		),
		mcp.WithString("title",
			mcp.Description("New title"),
		),
		mcp.WithString("content",
			mcp.Description("New content (full replacement)"),
		),
		mcp.WithString("category",
			mcp.Description("New category"),
		),
		mcp.WithString("status",
			mcp.Description("New status: active or archived"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags, replaces the existing set. Empty string clears all tags."),
		),
		mcp.WithNumber("relevance",
			mcp.Description("New relevance in [0,1]. 0 hides the note from search, any positive value restores it."),
		),
	)
}

// Handle processes the kb_update_note tool call.
func (t *UpdateNoteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	params := knowledge.UpdateNoteParams{}
	hasUpdates := false

	if title := req.GetString("title", ""); title != "" {
		params.Title = &title
		hasUpdates = true
	}
	if content := req.GetString("content", ""); content != "" {
		params.Content = &content
		hasUpdates = true
	}
	if category := req.GetString("category", ""); category != "" {
		params.Category = &category
		hasUpdates = true
	}
	if status := req.GetString("status", ""); status != "" {
		params.Status = &status
		hasUpdates = true
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		params.Tags = tags
		hasUpdates = true
	}
	rel, hasRelevance := floatArg(req, "relevance")

	if !hasUpdates && !hasRelevance {
		return mcp.NewToolResultError("at least one field to update is required (title, content, category, status, tags, relevance)"), nil
	}

	var note knowledge.Note
	var err error
	if hasUpdates {
		note, err = t.store.UpdateNote(id, params)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to update note: %v", err)), nil
		}
	}
	if hasRelevance {
		note, err = t.store.SetRelevance(id, rel)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to update note relevance: %v", err)), nil
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf("Note updated: %q (relevance %.1f)", note.Title, note.Relevance)), nil
}

// ─── DeleteNoteTool ─────────────────────────────────────────────────────────

// DeleteNoteTool handles the kb_delete_note MCP tool.
type DeleteNoteTool struct {
	store *knowledge.Store
}

// NewDeleteNoteTool creates a DeleteNoteTool.
func NewDeleteNoteTool(store *knowledge.Store) *DeleteNoteTool {
	return &DeleteNoteTool{store: store}
}

// Definition returns the MCP tool definition for kb_delete_note.
func (t *DeleteNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_delete_note",
		mcp.WithDescription(
			"Permanently delete a note. This cannot be undone; prefer kb_forget to hide a note but keep it.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The note ID"),
		),
	)
}

// Handle processes the kb_delete_note tool call.
func (t *DeleteNoteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	if err := t.store.DeleteNote(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete note: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Note deleted: %s", id)), nil
}

// ─── ListNotesTool ──────────────────────────────────────────────────────────

// ListNotesTool handles the kb_list_notes MCP tool.
type ListNotesTool struct {
	store *knowledge.Store
}

// NewListNotesTool creates a ListNotesTool.
func NewListNotesTool(store *knowledge.Store) *ListNotesTool {
	return &ListNotesTool{store: store}
}

// Definition returns the MCP tool definition for kb_list_notes.
func (t *ListNotesTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_list_notes",
		mcp.WithDescription(
			"List notes newest-updated first, with optional filters. Hidden (relevance 0) notes are excluded unless include_hidden is set.",
		),
		mcp.WithString("status",
			mcp.Description("Filter by status: active or archived"),
		),
		mcp.WithString("category",
			mcp.Description("Filter by category"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags; notes must carry ALL of them"),
		),
		mcp.WithBoolean("include_hidden",
			mcp.Description("Also list notes hidden from search (relevance 0)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max notes (default: 20)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Skip this many notes (for paging)"),
		),
	)
}

// Handle processes the kb_list_notes tool call.
func (t *ListNotesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 20)
	opts := knowledge.ListNotesOptions{
		Status:        req.GetString("status", ""),
		Category:      req.GetString("category", ""),
		IncludeHidden: boolArg(req, "include_hidden", false),
		Limit:         limit,
		Offset:        intArg(req, "offset", 0),
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		opts.Tags = tags
	}

	notes, err := t.store.ListNotes(opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list notes: %v", err)), nil
	}

	if len(notes) == 0 {
		return mcp.NewToolResultText("No notes found. Save one with kb_save_note."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d notes:\n\n", len(notes))
	for i, n := range notes {
		category := ""
		if n.Category != "" {
			category = fmt.Sprintf(" [%s]", n.Category)
		}
		fmt.Fprintf(&b, "[%d] %s - %s%s\n    status: %s | relevance: %.1f | tags: %s\n    %s\n\n",
			i+1, n.ID, n.Title, category,
			n.Status, n.Relevance, joinOrNone(n.Tags),
			truncate(n.Content, 200),
		)
	}
	b.WriteString(pagingHint(len(notes), limit))

	return mcp.NewToolResultText(b.String()), nil
}

// ─── ForgetTool ─────────────────────────────────────────────────────────────

// ForgetTool handles the kb_forget MCP tool.
type ForgetTool struct {
	store *knowledge.Store
}

// NewForgetTool creates a ForgetTool.
func NewForgetTool(store *knowledge.Store) *ForgetTool {
	return &ForgetTool{store: store}
}

// Definition returns the MCP tool definition for kb_forget.
func (t *ForgetTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_forget",
		mcp.WithDescription(
			"Hide a note from search and listings without deleting it. "+
				"Sets relevance to 0; restore later with kb_update_note (relevance > 0).",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The note ID"),
		),
	)
}

// Handle processes the kb_forget tool call.
func (t *ForgetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	note, err := t.store.Forget(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to forget note: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Note forgotten: %q\nIt is hidden from search but still stored. Restore it with kb_update_note (relevance > 0).",
		note.Title,
	)), nil
}
