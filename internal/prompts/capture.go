// Package prompts implements MCP prompt handlers for the knowledge store.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// CapturePrompt handles the knowledge-capture MCP prompt.
// It guides the AI to mine the current conversation for durable knowledge
// and persist it through the kb_ tools.
type CapturePrompt struct{}

// NewCapturePrompt creates a CapturePrompt.
func NewCapturePrompt() *CapturePrompt {
	return &CapturePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *CapturePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("knowledge-capture",
		mcp.WithPromptDescription(
			"Capture what this conversation produced before it scrolls away. "+
				"Reviews the discussion for decisions, gotchas and reusable "+
				"instructions, then saves each one to the knowledge base.",
		),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("Only capture knowledge about this topic (default: everything worth keeping)"),
		),
	)
}

// Handle processes the knowledge-capture prompt request.
func (p *CapturePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	scope := "this conversation"
	if args := req.Params.Arguments; args != nil {
		if t, ok := args["topic"]; ok && t != "" {
			scope = fmt.Sprintf("what this conversation covered about '%s'", t)
		}
	}

	return &mcp.GetPromptResult{
		Description: "Capture conversation knowledge",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Review %s and save anything worth keeping for future sessions.\n\n"+
						"Please:\n"+
						"1. List the durable findings: decisions made, gotchas discovered, commands or configs that worked, things that failed and why\n"+
						"2. Save each finding with `kb_save_note` (descriptive title, full context in the content, a category and tags so it can be found later)\n"+
						"3. If we wrote instructions worth reusing verbatim, save them with `kb_save_prompt` using {{variable}} placeholders for the parts that change\n"+
						"4. If there is unfinished multi-step work, capture it with `kb_create_plan` so the next session can pick it up\n"+
						"5. Finish with `kb_status` and tell me what was saved\n\n"+
						"Skip anything trivial or already in the knowledge base (check with `kb_recall` when unsure).",
					scope,
				)),
			},
		},
	}, nil
}
