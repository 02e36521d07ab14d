package kbtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
)

// SearchTool handles the kb_search MCP tool.
type SearchTool struct {
	store *knowledge.Store
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(store *knowledge.Store) *SearchTool {
	return &SearchTool{store: store}
}

// Definition returns the MCP tool definition for kb_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_search",
		mcp.WithDescription(
			"Full-text search within one entity kind. Queries support quoted phrases and inline tag:x filters; "+
				"an empty query lists recent entries instead. For a cross-kind answer use kb_recall.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query. Words are ANDed; \"quoted phrases\" match exactly; tag:deploy filters by tag."),
		),
		mcp.WithString("kind",
			mcp.Description("Entity kind to search: note (default), prompt, plan or event"),
		),
		mcp.WithString("status",
			mcp.Description("Filter by status (notes and plans)"),
		),
		mcp.WithString("category",
			mcp.Description("Filter by category"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags; results must carry ALL of them"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 20)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Skip this many results (for paging)"),
		),
	)
}

// Handle processes the kb_search tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, ok := req.GetArguments()["query"].(string)
	if !ok {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	kind := knowledge.Kind(req.GetString("kind", string(knowledge.KindNote)))
	limit := intArg(req, "limit", 0)
	opts := knowledge.SearchOptions{
		Status:   req.GetString("status", ""),
		Category: req.GetString("category", ""),
		Limit:    limit,
		Offset:   intArg(req, "offset", 0),
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		opts.Tags = tags
	}

	hits, err := t.store.Search(kind, query, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(hits) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No %ss found matching your query.", kind)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %ss:\n\n", len(hits), kind)
	for i, h := range hits {
		writeHit(&b, i+1, string(h.Kind), h.ID, h.Title, h.Snippet, h.Score)
	}
	b.WriteString(followUpHint(kind))

	return mcp.NewToolResultText(b.String()), nil
}

// writeHit renders one search result entry. Snippets carry >>> <<< markers
// around the matched terms.
func writeHit(b *strings.Builder, n int, kind, id, title, snippet string, score float64) {
	fmt.Fprintf(b, "[%d] (%s) %s - %s (score %.2f)\n", n, kind, id, title, score)
	if snippet != "" && snippet != title {
		fmt.Fprintf(b, "    %s\n", snippet)
	}
	b.WriteString("\n")
}

// followUpHint names the tool that opens one result of the given kind.
func followUpHint(kind knowledge.Kind) string {
	switch kind {
	case knowledge.KindNote:
		return "💡 Open a result with kb_get_note for the full content."
	case knowledge.KindPrompt:
		return "💡 Render a result with kb_recall_prompt."
	case knowledge.KindPlan:
		return "💡 Open a result with kb_get_plan for steps and progress."
	default:
		return "💡 See the surrounding session with kb_timeline."
	}
}

// ─── RecallTool ─────────────────────────────────────────────────────────────

// RecallTool handles the kb_recall MCP tool.
type RecallTool struct {
	store *knowledge.Store
}

// NewRecallTool creates a RecallTool.
func NewRecallTool(store *knowledge.Store) *RecallTool {
	return &RecallTool{store: store}
}

// Definition returns the MCP tool definition for kb_recall.
func (t *RecallTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_recall",
		mcp.WithDescription(
			"Search notes, prompts, plans and session events together, ranked in one list. "+
				"The fastest way to answer \"what do we know about X?\". Use at the start of a session to recover context.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query. Words are ANDed; \"quoted phrases\" match exactly."),
		),
		mcp.WithNumber("per_kind_limit",
			mcp.Description("Max results contributed by each kind before merging (default: 10)"),
		),
	)
}

// Handle processes the kb_recall tool call.
func (t *RecallTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	results, err := t.store.SearchAll(query, intArg(req, "per_kind_limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("Nothing in the knowledge base matches your query."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d results for %q:\n\n", len(results), query)
	for i, r := range results {
		writeHit(&b, i+1, string(r.Kind), r.ID, r.Title, r.Snippet, r.Score)
	}
	b.WriteString("💡 Open results with kb_get_note, kb_recall_prompt, kb_get_plan or kb_timeline.")

	return mcp.NewToolResultText(b.String()), nil
}
