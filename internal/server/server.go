// Package server wires all MCP components and creates the server instance.
//
// This is the composition root (DIP): it creates concrete implementations
// and injects them into the tools/prompts/resources that depend on abstractions.
// No business logic lives here — only wiring.
package server

import (
	"fmt"
	"log"

	"github.com/HendryAvila/cortex/internal/config"
	"github.com/HendryAvila/cortex/internal/kbtools"
	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/HendryAvila/cortex/internal/prompts"
	"github.com/HendryAvila/cortex/internal/resources"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function closes the knowledge store's database
// connection and must be called on shutdown (typically via defer).
// It is always non-nil and safe to call even if initialization failed.
func New(cfg *config.Config) (*server.MCPServer, func(), error) {
	// --- Open the knowledge store ---
	//
	// Unlike auxiliary subsystems, the store is the whole point of this
	// server: if it cannot open, there is nothing to serve.

	store, err := knowledge.New(cfg.StoreConfig())
	if err != nil {
		return nil, noop, fmt.Errorf("opening knowledge store: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Printf("WARNING: knowledge store close: %v", err)
		}
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"cortex",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerKnowledgeTools(s, store)

	// --- Register prompts ---

	capturePrompt := prompts.NewCapturePrompt()
	s.AddPrompt(capturePrompt.Definition(), capturePrompt.Handle)

	recapPrompt := prompts.NewRecapPrompt()
	s.AddPrompt(recapPrompt.Definition(), recapPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(store)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)
	s.AddResourceTemplate(resourceHandler.NoteTemplate(), resourceHandler.HandleNote)

	return s, cleanup, nil
}

// noop is a no-op cleanup function used as the default before the store
// has been opened.
func noop() {}

// registerKnowledgeTools registers all 33 knowledge base MCP tools with
// the server.
func registerKnowledgeTools(s *server.MCPServer, store *knowledge.Store) {
	// --- Notes ---
	saveNote := kbtools.NewSaveNoteTool(store)
	s.AddTool(saveNote.Definition(), saveNote.Handle)

	getNote := kbtools.NewGetNoteTool(store)
	s.AddTool(getNote.Definition(), getNote.Handle)

	updateNote := kbtools.NewUpdateNoteTool(store)
	s.AddTool(updateNote.Definition(), updateNote.Handle)

	deleteNote := kbtools.NewDeleteNoteTool(store)
	s.AddTool(deleteNote.Definition(), deleteNote.Handle)

	listNotes := kbtools.NewListNotesTool(store)
	s.AddTool(listNotes.Definition(), listNotes.Handle)

	forget := kbtools.NewForgetTool(store)
	s.AddTool(forget.Definition(), forget.Handle)

	// --- Saved prompts ---
	savePrompt := kbtools.NewSavePromptTool(store)
	s.AddTool(savePrompt.Definition(), savePrompt.Handle)

	recallPrompt := kbtools.NewRecallPromptTool(store)
	s.AddTool(recallPrompt.Definition(), recallPrompt.Handle)

	updatePrompt := kbtools.NewUpdatePromptTool(store)
	s.AddTool(updatePrompt.Definition(), updatePrompt.Handle)

	deletePrompt := kbtools.NewDeletePromptTool(store)
	s.AddTool(deletePrompt.Definition(), deletePrompt.Handle)

	listPrompts := kbtools.NewListPromptsTool(store)
	s.AddTool(listPrompts.Definition(), listPrompts.Handle)

	// --- Plans ---
	createPlan := kbtools.NewCreatePlanTool(store)
	s.AddTool(createPlan.Definition(), createPlan.Handle)

	getPlan := kbtools.NewGetPlanTool(store)
	s.AddTool(getPlan.Definition(), getPlan.Handle)

	updatePlan := kbtools.NewUpdatePlanTool(store)
	s.AddTool(updatePlan.Definition(), updatePlan.Handle)

	deletePlan := kbtools.NewDeletePlanTool(store)
	s.AddTool(deletePlan.Definition(), deletePlan.Handle)

	listPlans := kbtools.NewListPlansTool(store)
	s.AddTool(listPlans.Definition(), listPlans.Handle)

	completePlan := kbtools.NewCompletePlanTool(store)
	s.AddTool(completePlan.Definition(), completePlan.Handle)

	// --- Plan steps ---
	addStep := kbtools.NewAddStepTool(store)
	s.AddTool(addStep.Definition(), addStep.Handle)

	updateStep := kbtools.NewUpdateStepTool(store)
	s.AddTool(updateStep.Definition(), updateStep.Handle)

	removeStep := kbtools.NewRemoveStepTool(store)
	s.AddTool(removeStep.Definition(), removeStep.Handle)

	reorderSteps := kbtools.NewReorderStepsTool(store)
	s.AddTool(reorderSteps.Definition(), reorderSteps.Handle)

	// --- Sessions ---
	startSession := kbtools.NewStartSessionTool(store)
	s.AddTool(startSession.Definition(), startSession.Handle)

	endSession := kbtools.NewEndSessionTool(store)
	s.AddTool(endSession.Definition(), endSession.Handle)

	timeline := kbtools.NewTimelineTool(store)
	s.AddTool(timeline.Definition(), timeline.Handle)

	listSessions := kbtools.NewListSessionsTool(store)
	s.AddTool(listSessions.Definition(), listSessions.Handle)

	// --- Search ---
	search := kbtools.NewSearchTool(store)
	s.AddTool(search.Definition(), search.Handle)

	recall := kbtools.NewRecallTool(store)
	s.AddTool(recall.Definition(), recall.Handle)

	// --- Overview & housekeeping ---
	status := kbtools.NewStatusTool(store)
	s.AddTool(status.Definition(), status.Handle)

	listTags := kbtools.NewListTagsTool(store)
	s.AddTool(listTags.Definition(), listTags.Handle)

	listCategories := kbtools.NewListCategoriesTool(store)
	s.AddTool(listCategories.Definition(), listCategories.Handle)

	staleNotes := kbtools.NewStaleNotesTool(store)
	s.AddTool(staleNotes.Definition(), staleNotes.Handle)

	dailyDigest := kbtools.NewDailyDigestTool(store)
	s.AddTool(dailyDigest.Definition(), dailyDigest.Handle)

	related := kbtools.NewRelatedTool(store)
	s.AddTool(related.Definition(), related.Handle)
}

// serverInstructions returns the system instructions that tell the AI
// how to use cortex effectively.
func serverInstructions() string {
	return `You have access to cortex, a persistent knowledge base MCP server.

cortex remembers what you and the user build together: notes about the
codebase, reusable prompts, multi-step plans, and a timeline of each work
session. Everything survives between conversations — use it to stop
re-discovering the same things every session.

## CRITICAL: How Tools Work

cortex tools are STORAGE tools, not AI tools. They save content YOU generate.
The workflow is always:

1. TALK to the user — understand what happened or what they need
2. GENERATE the content yourself (the note body, the prompt template, the plan steps)
3. CALL the tool with the ACTUAL content as parameters
4. The tool persists it and returns a confirmation

NEVER call a tool with placeholder text like "TBD" or "to be defined".
ALWAYS pass real, substantive content.

## WHEN TO SAVE NOTES (call kb_save_note PROACTIVELY after each of these)

- Architectural decisions or tradeoffs made
- Bug fixes: what was wrong, why, how it was fixed
- New patterns or conventions established
- Configuration changes or environment setup
- Important discoveries, gotchas, or edge cases
- Anything the user says they "always forget"

### Note Guidelines
- Title: short and searchable — "JWT auth middleware", "Fixed N+1 in user list"
- Content: full context, enough that a future session needs no other source
- Category: one broad bucket ("infra", "auth", "decisions") — reuse existing
  categories (kb_list_categories shows what is in use)
- Tags: lowercase keywords for cross-cutting retrieval ("postgres", "deploy")
- Relevance: leave at the default 1.0; lower it as a note ages, set it to 0
  (or call kb_forget) to hide a note without deleting it

## WHEN TO SEARCH

- At the start of a session: kb_recall with the topic you are working on
- Before making a decision: check whether a prior session already decided it
- When an error looks familiar: search for the message or subsystem
- When the user references past work: find it instead of asking them to repeat

### Search Syntax
- kb_search searches ONE kind (note by default); kb_recall searches everything
- Multiple words are ANDed: "kafka rebalance" finds entries with both
- Inline tag filters narrow by tag: "deploy tag:payments" (repeatable)
- OR / NOT work: "cache OR redis", "deploy NOT staging"
- An empty kb_search query lists recent entries of that kind instead
- Results include >>>highlighted<<< snippet markers and a relevance score
- Open a hit with its kind's tool: kb_get_note, kb_recall_prompt, kb_get_plan

## SAVED PROMPTS (reusable instructions)

When the user writes instructions they will want again — a deploy runbook,
a review checklist, a commit-message format — save them as a prompt:

1. Call kb_save_prompt with a name and the template text
2. Use {{variable}} placeholders for the parts that change per use
3. Every prompt can have a slash trigger (like "/deploy"); one is derived
   from the name automatically unless you pass your own (or pass an empty
   trigger for none)
4. Later, kb_recall_prompt with the trigger, name or ID renders the template;
   pass variables as a JSON object to fill placeholders
5. Unfilled placeholders stay verbatim and are reported — use strict=true
   when a partial render would be dangerous to act on

Recalling a prompt counts a use, so kb_list_prompts surfaces the most-used
prompts first.

## PLANS (multi-step work that outlives a session)

When work spans multiple steps or sessions, capture it as a plan:

1. kb_create_plan with a title and the step list (steps can come from a
   saved prompt — pass source_prompt to link them)
2. As you work, mark steps with kb_update_step: in_progress when started,
   completed with a result note when done, skipped or failed when not
3. kb_complete_plan closes the plan — it refuses while any step is still
   pending or in progress, so resolve every step first
4. At session start, kb_list_plans with status='active' shows what is
   in flight

## SESSIONS (the work timeline)

- Saving a note, prompt or plan automatically attaches it to the active
  session, starting an untitled one if none exists — you never need a
  session to start saving
- Prefer kb_start_session with a descriptive title at the start of real
  work; it also closes the previous active session
- kb_timeline shows what a session produced, in order — use it to recap
  before continuing old work
- kb_end_session when the work is done

## HOUSEKEEPING

- kb_status: entity counts and the active session — call it when unsure
  what is in the knowledge base
- kb_stale_notes: notes untouched for 30+ days — suggest updating or
  forgetting them when the user is tidying up
- kb_daily_digest: what the last 24 hours produced, grouped by category
- kb_related: sibling notes sharing tags/category with one note — offer
  these when the user opens a topic
- kb_forget hides a note from search without deleting it; kb_update_note
  with relevance > 0 restores it; kb_delete_note is permanent

## Important Rules

- Save proactively — do not wait for the user to say "remember this"
- Search before asking the user to re-explain past work
- Keep notes atomic: one finding per note, linked by shared tags
- NEVER pass placeholder text to tools — generate REAL content
- Check kb_list_tags / kb_list_categories before inventing new labels
- When a conversation produced a lot, finish with the knowledge-capture
  prompt workflow: save the durable findings, then kb_status to confirm`
}
