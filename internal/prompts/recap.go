package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// RecapPrompt handles the session-recap MCP prompt.
// It instructs the AI to walk a session's timeline and summarize what
// happened in it.
type RecapPrompt struct{}

// NewRecapPrompt creates a RecapPrompt.
func NewRecapPrompt() *RecapPrompt {
	return &RecapPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *RecapPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("session-recap",
		mcp.WithPromptDescription(
			"Recap a work session. Walks the session timeline, summarizes "+
				"what was created, and surfaces open plans that still need "+
				"attention.",
		),
		mcp.WithArgument("session_id",
			mcp.ArgumentDescription("Session to recap (default: the active session)"),
		),
	)
}

// Handle processes the session-recap prompt request.
func (p *RecapPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	timelineCall := "`kb_timeline`"
	if args := req.Params.Arguments; args != nil {
		if id, ok := args["session_id"]; ok && id != "" {
			timelineCall = "`kb_timeline` with session_id='" + id + "'"
		}
	}

	return &mcp.GetPromptResult{
		Description: "Session recap",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run " + timelineCall + " to pull up the session's timeline.\n\n" +
						"Then:\n" +
						"1. Summarize what the session produced, in chronological order (notes saved, prompts added, plans created or completed)\n" +
						"2. Check `kb_list_plans` with status='active' for plans that still have unresolved steps\n" +
						"3. Tell me what is worth picking up next\n" +
						"4. If this session is done, offer to close it with `kb_end_session`",
				),
			},
		},
	}, nil
}
