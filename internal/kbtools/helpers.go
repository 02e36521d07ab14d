// Package kbtools provides the MCP tool handlers for the knowledge store.
//
// Each tool handler follows the same pattern:
// - A struct with dependencies (knowledge.Store) injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Tools are storage tools: they receive AI-generated content and persist it.
// Responses are human-readable text, never raw JSON.
package kbtools

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// floatArg extracts a float argument, reporting whether it was present.
// Callers that treat absence differently from zero need the second return.
func floatArg(req mcp.CallToolRequest, key string) (float64, bool) {
	v, ok := req.GetArguments()[key].(float64)
	return v, ok
}

// tagsArg extracts a comma-separated tag list, reporting whether the key
// was present at all. Present-but-empty means "clear the tags", which is
// different from absent ("leave them alone") on update tools.
func tagsArg(req mcp.CallToolRequest, key string) ([]string, bool) {
	raw, ok := req.GetArguments()[key].(string)
	if !ok {
		return nil, false
	}
	return splitTags(raw), true
}

// splitTags turns "deploy, payments" into []string{"deploy", "payments"}.
// The result is non-nil even when empty so it can clear a tag set.
func splitTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// navigationHint returns a one-line footer when results are capped by a limit.
// Returns an empty string when all results fit (showing >= total) or total is 0.
// The hint parameter provides tool-specific guidance.
func navigationHint(showing, total int, hint string) string {
	if total <= 0 || showing >= total {
		return ""
	}
	if hint != "" {
		return fmt.Sprintf("\n📊 Showing %d of %d. %s", showing, total, hint)
	}
	return fmt.Sprintf("\n📊 Showing %d of %d.", showing, total)
}

// pagingHint nudges toward offset paging when a listing fills its limit.
// List queries cap results without counting the rest, so the true total
// is unknown here.
func pagingHint(shown, limit int) string {
	if limit <= 0 || shown < limit {
		return ""
	}
	return fmt.Sprintf("\n📊 Showing %d (limit reached). Pass 'offset' to page further.", shown)
}

// truncate shortens a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// joinOrNone renders a tag list for display.
func joinOrNone(tags []string) string {
	if len(tags) == 0 {
		return "none"
	}
	return strings.Join(tags, ", ")
}
