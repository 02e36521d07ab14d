package kbtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
)

// StartSessionTool handles the kb_start_session MCP tool.
type StartSessionTool struct {
	store *knowledge.Store
}

// NewStartSessionTool creates a StartSessionTool.
func NewStartSessionTool(store *knowledge.Store) *StartSessionTool {
	return &StartSessionTool{store: store}
}

// Definition returns the MCP tool definition for kb_start_session.
func (t *StartSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_start_session",
		mcp.WithDescription(
			"Start a work session. At most one session is active at a time; starting a new one ends the previous. "+
				"Notes, prompts and plans created while it is active land on its timeline.",
		),
		mcp.WithString("title",
			mcp.Description("What this session is about (e.g. 'Payments staging rollout')"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags"),
		),
	)
}

// Handle processes the kb_start_session tool call.
func (t *StartSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	previous, err := t.store.ActiveSession()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to check active session: %v", err)), nil
	}

	var tags []string
	if parsed, ok := tagsArg(req, "tags"); ok {
		tags = parsed
	}

	session, err := t.store.StartSession(req.GetString("title", ""), tags)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start session: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session started: %s\nID: %s", sessionTitle(session), session.ID)
	if previous != nil {
		fmt.Fprintf(&b, "\nEnded previous session: %s", sessionTitle(*previous))
	}

	return mcp.NewToolResultText(b.String()), nil
}

// sessionTitle renders a session's title, falling back for untitled ones.
func sessionTitle(sess knowledge.Session) string {
	if sess.Title == "" {
		return "(untitled)"
	}
	return fmt.Sprintf("%q", sess.Title)
}

// ─── EndSessionTool ─────────────────────────────────────────────────────────

// EndSessionTool handles the kb_end_session MCP tool.
type EndSessionTool struct {
	store *knowledge.Store
}

// NewEndSessionTool creates an EndSessionTool.
func NewEndSessionTool(store *knowledge.Store) *EndSessionTool {
	return &EndSessionTool{store: store}
}

// Definition returns the MCP tool definition for kb_end_session.
func (t *EndSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_end_session",
		mcp.WithDescription(
			"End a session. Without a session_id the active session ends; ending an already-ended session is a harmless no-op.",
		),
		mcp.WithString("session_id",
			mcp.Description("Session to end (default: the active one)"),
		),
	)
}

// Handle processes the kb_end_session tool call.
func (t *EndSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := t.store.EndSession(req.GetString("session_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to end session: %v", err)), nil
	}
	if session == nil {
		return mcp.NewToolResultText("No session to end."), nil
	}

	response := fmt.Sprintf("Session ended: %s (%d events)", sessionTitle(*session), session.EventCount)
	if session.EndedAt != nil {
		response += fmt.Sprintf("\nEnded at: %s", *session.EndedAt)
	}

	return mcp.NewToolResultText(response), nil
}

// ─── TimelineTool ───────────────────────────────────────────────────────────

// TimelineTool handles the kb_timeline MCP tool.
type TimelineTool struct {
	store *knowledge.Store
}

// NewTimelineTool creates a TimelineTool.
func NewTimelineTool(store *knowledge.Store) *TimelineTool {
	return &TimelineTool{store: store}
}

// Definition returns the MCP tool definition for kb_timeline.
func (t *TimelineTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_timeline",
		mcp.WithDescription(
			"Show what happened in a session, in order: notes saved, prompts saved, plans created and completed. "+
				"Use at the start of a session to recover context from the previous one.",
		),
		mcp.WithString("session_id",
			mcp.Description("Session to inspect (default: the active one)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max events, keeping the most recent (default: 50)"),
		),
	)
}

// Handle processes the kb_timeline tool call.
func (t *TimelineTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		active, err := t.store.ActiveSession()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to check active session: %v", err)), nil
		}
		if active == nil {
			return mcp.NewToolResultText("No active session. Pass a session_id or start one with kb_start_session."), nil
		}
	}

	result, err := t.store.Timeline(sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load timeline: %v", err)), nil
	}

	sess := result.Session
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", sessionTitle(sess))
	fmt.Fprintf(&b, "**ID:** %s | **Status:** %s\n", sess.ID, sess.Status)
	fmt.Fprintf(&b, "**Started:** %s", sess.StartedAt)
	if sess.EndedAt != nil {
		fmt.Fprintf(&b, " | **Ended:** %s", *sess.EndedAt)
	}
	b.WriteString("\n")
	if len(sess.Tags) > 0 {
		fmt.Fprintf(&b, "**Tags:** %s\n", strings.Join(sess.Tags, ", "))
	}

	events := result.Events
	if len(events) == 0 {
		b.WriteString("\nNo events yet. Milestones appear here as notes, prompts and plans are created.")
		return mcp.NewToolResultText(b.String()), nil
	}

	total := len(events)
	limit := intArg(req, "limit", 50)
	if limit > 0 && total > limit {
		events = events[total-limit:]
	}

	fmt.Fprintf(&b, "\n%d events:\n\n", total)
	for i, ev := range events {
		fmt.Fprintf(&b, "[%d] %s %s", i+1, ev.CreatedAt, ev.EventType)
		if ev.Summary != "" {
			fmt.Fprintf(&b, " - %s", ev.Summary)
		}
		if ev.EntityID != "" {
			fmt.Fprintf(&b, " (%s %s)", ev.EntityType, ev.EntityID)
		}
		b.WriteString("\n")
	}
	b.WriteString(navigationHint(len(events), total, "Raise 'limit' to see earlier events."))

	return mcp.NewToolResultText(b.String()), nil
}

// ─── ListSessionsTool ───────────────────────────────────────────────────────

// ListSessionsTool handles the kb_list_sessions MCP tool.
type ListSessionsTool struct {
	store *knowledge.Store
}

// NewListSessionsTool creates a ListSessionsTool.
func NewListSessionsTool(store *knowledge.Store) *ListSessionsTool {
	return &ListSessionsTool{store: store}
}

// Definition returns the MCP tool definition for kb_list_sessions.
func (t *ListSessionsTool) Definition() mcp.Tool {
	return mcp.NewTool("kb_list_sessions",
		mcp.WithDescription(
			"List sessions newest-started first with their event counts.",
		),
		mcp.WithString("status",
			mcp.Description("Filter by status: active or ended"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max sessions (default: 20)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Skip this many sessions (for paging)"),
		),
	)
}

// Handle processes the kb_list_sessions tool call.
func (t *ListSessionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 20)
	sessions, err := t.store.ListSessions(knowledge.ListSessionsOptions{
		Status: knowledge.SessionStatus(req.GetString("status", "")),
		Limit:  limit,
		Offset: intArg(req, "offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	if len(sessions) == 0 {
		return mcp.NewToolResultText("No sessions yet. Start one with kb_start_session."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d sessions:\n\n", len(sessions))
	for i, sess := range sessions {
		fmt.Fprintf(&b, "[%d] %s - %s\n    status: %s | started: %s | %d events\n\n",
			i+1, sess.ID, sessionTitle(sess),
			sess.Status, sess.StartedAt, sess.EventCount,
		)
	}
	b.WriteString(pagingHint(len(sessions), limit))

	return mcp.NewToolResultText(b.String()), nil
}
