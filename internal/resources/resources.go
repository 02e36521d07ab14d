// Package resources implements MCP resource handlers for the knowledge store.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (kb://..., note://...) following MCP
// conventions.
package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handler manages knowledge base resource endpoints.
type Handler struct {
	store *knowledge.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store *knowledge.Store) *Handler {
	return &Handler{store: store}
}

// StatusResource returns the MCP resource definition for the store overview.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		"kb://status",
		"Knowledge Base Status",
		mcp.WithResourceDescription("Entity counts, active session and database location"),
		mcp.WithMIMEType("text/markdown"),
	)
}

// HandleStatus renders the current store overview as markdown.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := h.store.Status()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("## Knowledge Base Status\n\n")
	fmt.Fprintf(&b, "- **Notes**: %d (%d hidden)\n", stats.Notes, stats.HiddenNotes)
	fmt.Fprintf(&b, "- **Prompts**: %d\n", stats.Prompts)
	fmt.Fprintf(&b, "- **Plans**: %d (%d open)\n", stats.Plans, stats.OpenPlans)
	fmt.Fprintf(&b, "- **Sessions**: %d\n", stats.Sessions)
	fmt.Fprintf(&b, "- **Events**: %d\n", stats.Events)
	if stats.ActiveSession != nil {
		title := stats.ActiveSession.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "- **Active session**: %s (%s)\n", title, stats.ActiveSession.ID)
	} else {
		b.WriteString("- **Active session**: none\n")
	}
	fmt.Fprintf(&b, "- **Database**: %s (%d bytes)\n", stats.DatabasePath, stats.DatabaseBytes)

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     b.String(),
		},
	}, nil
}

// NoteTemplate returns the MCP resource template for reading single notes
// by note://{id} URIs.
func (h *Handler) NoteTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		"note://{id}",
		"Note",
		mcp.WithTemplateDescription("One note rendered as markdown"),
		mcp.WithTemplateMIMEType("text/markdown"),
	)
}

// HandleNote renders one note as markdown. The note ID comes from the
// URI path, so note://abc resolves the note with ID "abc".
func (h *Handler) HandleNote(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(req.Params.URI, "note://")
	id = strings.Trim(id, "/")
	if id == "" {
		return errorResource(req.Params.URI, "note URI is missing an ID"), nil
	}

	note, err := h.store.GetNote(id)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", note.Title)
	fmt.Fprintf(&b, "**Status:** %s | **Relevance:** %.1f\n", note.Status, note.Relevance)
	if note.Category != "" {
		fmt.Fprintf(&b, "**Category:** %s\n", note.Category)
	}
	if len(note.Tags) > 0 {
		fmt.Fprintf(&b, "**Tags:** %s\n", strings.Join(note.Tags, ", "))
	}
	fmt.Fprintf(&b, "\n%s\n", note.Content)

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     b.String(),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
