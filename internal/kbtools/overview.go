package kbtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
)

// StatusTool handles the kb_status MCP tool.
type StatusTool struct {
	store *knowledge.Store
}

// NewStatusTool creates a StatusTool with the given knowledge store.
func NewStatusTool(store *knowledge.Store) *StatusTool {
	return &StatusTool{store: store}
}

// Definition returns the MCP tool definition for kb_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_status",
		mcp.WithDescription(
			"Show knowledge base statistics: entity counts, open plans, the active session and database size.",
		),
	)
}

// Handle processes the kb_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.store.Status()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get status: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("## Knowledge Base Status\n\n")
	sb.WriteString(fmt.Sprintf("- **Notes**: %d (%d hidden)\n", stats.Notes, stats.HiddenNotes))
	sb.WriteString(fmt.Sprintf("- **Prompts**: %d\n", stats.Prompts))
	sb.WriteString(fmt.Sprintf("- **Plans**: %d (%d open)\n", stats.Plans, stats.OpenPlans))
	sb.WriteString(fmt.Sprintf("- **Sessions**: %d\n", stats.Sessions))
	sb.WriteString(fmt.Sprintf("- **Events**: %d\n", stats.Events))
	sb.WriteString(fmt.Sprintf("- **Tags**: %d | **Categories**: %d\n", stats.Tags, stats.Categories))

	if stats.ActiveSession != nil {
		sb.WriteString(fmt.Sprintf("- **Active session**: %s (%s)\n", sessionTitle(*stats.ActiveSession), stats.ActiveSession.ID))
	} else {
		sb.WriteString("- **Active session**: none\n")
	}
	sb.WriteString(fmt.Sprintf("- **Database**: %s (%s)\n", stats.DatabasePath, formatBytes(stats.DatabaseBytes)))

	return mcp.NewToolResultText(sb.String()), nil
}

// formatBytes renders a byte count in the nearest binary unit.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// ─── ListTagsTool ───────────────────────────────────────────────────────────

// ListTagsTool handles the kb_list_tags MCP tool.
type ListTagsTool struct {
	store *knowledge.Store
}

// NewListTagsTool creates a ListTagsTool.
func NewListTagsTool(store *knowledge.Store) *ListTagsTool {
	return &ListTagsTool{store: store}
}

// Definition returns the MCP tool definition for kb_list_tags.
func (t *ListTagsTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_list_tags",
		mcp.WithDescription(
			"List every tag in use with its count, most-used first. Helps keep tagging consistent.",
		),
		mcp.WithString("kind",
			mcp.Description("Narrow to one family: note, prompt, plan or session (default: all)"),
		),
	)
}

// Handle processes the kb_list_tags tool call.
func (t *ListTagsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := t.store.ListTags(req.GetString("kind", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tags: %v", err)), nil
	}

	if len(tags) == 0 {
		return mcp.NewToolResultText("No tags in use yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tags:\n\n", len(tags))
	for _, tag := range tags {
		fmt.Fprintf(&b, "- %s (%d)\n", tag.Label, tag.Count)
	}

	return mcp.NewToolResultText(b.String()), nil
}

// ─── ListCategoriesTool ─────────────────────────────────────────────────────

// ListCategoriesTool handles the kb_list_categories MCP tool.
type ListCategoriesTool struct {
	store *knowledge.Store
}

// NewListCategoriesTool creates a ListCategoriesTool.
func NewListCategoriesTool(store *knowledge.Store) *ListCategoriesTool {
	return &ListCategoriesTool{store: store}
}

// Definition returns the MCP tool definition for kb_list_categories.
func (t *ListCategoriesTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_list_categories",
		mcp.WithDescription(
			"List every category in use with its count, most-used first.",
		),
		mcp.WithString("kind",
			mcp.Description("Narrow to one family: note, prompt or plan (default: all)"),
		),
	)
}

// Handle processes the kb_list_categories tool call.
func (t *ListCategoriesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	categories, err := t.store.ListCategories(req.GetString("kind", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list categories: %v", err)), nil
	}

	if len(categories) == 0 {
		return mcp.NewToolResultText("No categories in use yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d categories:\n\n", len(categories))
	for _, c := range categories {
		fmt.Fprintf(&b, "- %s (%d)\n", c.Label, c.Count)
	}

	return mcp.NewToolResultText(b.String()), nil
}

// ─── StaleNotesTool ─────────────────────────────────────────────────────────

// StaleNotesTool handles the kb_stale_notes MCP tool.
type StaleNotesTool struct {
	store *knowledge.Store
}

// NewStaleNotesTool creates a StaleNotesTool.
func NewStaleNotesTool(store *knowledge.Store) *StaleNotesTool {
	return &StaleNotesTool{store: store}
}

// Definition returns the MCP tool definition for kb_stale_notes.
func (t *StaleNotesTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_stale_notes",
		mcp.WithDescription(
			"List notes untouched for a while, oldest first. Review them periodically: "+
				"update what drifted, kb_forget what no longer matters.",
		),
		mcp.WithNumber("days",
			mcp.Description("Staleness threshold in days (default: 30)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max notes (default: 50)"),
		),
	)
}

// Handle processes the kb_stale_notes tool call.
func (t *StaleNotesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := intArg(req, "days", 0)
	stale, err := t.store.StaleNotes(days, intArg(req, "limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list stale notes: %v", err)), nil
	}

	if len(stale) == 0 {
		return mcp.NewToolResultText("No stale notes. Everything has been touched recently."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d stale notes:\n\n", len(stale))
	for i, sn := range stale {
		fmt.Fprintf(&b, "[%d] %s - %s (untouched for %d days)\n", i+1, sn.Note.ID, sn.Note.Title, sn.DaysSinceUpdate)
	}
	b.WriteString("\n💡 Update what drifted, or hide dead notes with kb_forget.")

	return mcp.NewToolResultText(b.String()), nil
}

// ─── DailyDigestTool ────────────────────────────────────────────────────────

// DailyDigestTool handles the kb_daily_digest MCP tool.
type DailyDigestTool struct {
	store *knowledge.Store
}

// NewDailyDigestTool creates a DailyDigestTool.
func NewDailyDigestTool(store *knowledge.Store) *DailyDigestTool {
	return &DailyDigestTool{store: store}
}

// Definition returns the MCP tool definition for kb_daily_digest.
func (t *DailyDigestTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_daily_digest",
		mcp.WithDescription(
			"Summarize the last 24 hours: new notes grouped by category, top tags and the stale note count.",
		),
	)
}

// Handle processes the kb_daily_digest tool call.
func (t *DailyDigestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	digest, err := t.store.DailyDigest()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build digest: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Daily Digest - %s\n\n", digest.Date)
	fmt.Fprintf(&b, "- **Total notes**: %d\n", digest.TotalNotes)
	fmt.Fprintf(&b, "- **Stale notes**: %d\n", digest.StaleCount)

	if len(digest.Recent) == 0 {
		b.WriteString("\nNo notes created in the last 24 hours.\n")
	} else {
		b.WriteString("\n### Created in the last 24 hours\n")
		for _, group := range digest.Recent {
			category := group.Category
			if category == "" {
				category = "(uncategorized)"
			}
			fmt.Fprintf(&b, "\n**%s**\n", category)
			for _, n := range group.Notes {
				fmt.Fprintf(&b, "- %s (%s)\n", n.Title, n.ID)
			}
		}
	}

	if len(digest.TopTags) > 0 {
		parts := make([]string, len(digest.TopTags))
		for i, tag := range digest.TopTags {
			parts[i] = fmt.Sprintf("%s (%d)", tag.Label, tag.Count)
		}
		fmt.Fprintf(&b, "\nTop tags: %s\n", strings.Join(parts, ", "))
	}

	return mcp.NewToolResultText(b.String()), nil
}

// ─── RelatedTool ────────────────────────────────────────────────────────────

// RelatedTool handles the kb_related MCP tool.
type RelatedTool struct {
	store *knowledge.Store
}

// NewRelatedTool creates a RelatedTool.
func NewRelatedTool(store *knowledge.Store) *RelatedTool {
	return &RelatedTool{store: store}
}

// Definition returns the MCP tool definition for kb_related.
func (t *RelatedTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_related",
		mcp.WithDescription(
			"Find notes related to a given note by shared title words and tags. "+
				"Use it to surface prior knowledge before writing something new.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The note ID to find neighbors for"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max related notes (default: 5)"),
		),
	)
}

// Handle processes the kb_related tool call.
func (t *RelatedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	hits, err := t.store.RelatedNotes(id, intArg(req, "limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to find related notes: %v", err)), nil
	}

	if len(hits) == 0 {
		return mcp.NewToolResultText("No related notes found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d related notes:\n\n", len(hits))
	for i, h := range hits {
		writeHit(&b, i+1, string(h.Kind), h.ID, h.Title, h.Snippet, h.Score)
	}
	b.WriteString("💡 Open one with kb_get_note for the full content.")

	return mcp.NewToolResultText(b.String()), nil
}
