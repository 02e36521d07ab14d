package knowledge

import "fmt"

// ─── Entity kinds ────────────────────────────────────────────────────────────

// Kind identifies one searchable entity family.
type Kind string

const (
	KindNote   Kind = "note"
	KindPrompt Kind = "prompt"
	KindPlan   Kind = "plan"
	KindEvent  Kind = "event"
)

var validKinds = map[Kind]bool{
	KindNote:   true,
	KindPrompt: true,
	KindPlan:   true,
	KindEvent:  true,
}

// ValidateKind rejects kinds outside the searchable families.
func ValidateKind(k Kind) error {
	if !validKinds[k] {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("invalid kind %q: must be one of: note, prompt, plan, event", k)}
	}
	return nil
}

// kindPriority breaks exact ties in merged search results. Lower ranks
// first.
var kindPriority = map[Kind]int{
	KindNote:   0,
	KindPrompt: 1,
	KindPlan:   2,
	KindEvent:  3,
}

// ─── Statuses ────────────────────────────────────────────────────────────────

// Note status is an open set; these are the conventional values.
const (
	NoteActive   = "active"
	NoteArchived = "archived"
)

// PlanStatus is the closed plan lifecycle.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanAbandoned PlanStatus = "abandoned"
)

var validPlanStatuses = map[PlanStatus]bool{
	PlanDraft:     true,
	PlanActive:    true,
	PlanCompleted: true,
	PlanAbandoned: true,
}

// ValidatePlanStatus rejects values outside the plan lifecycle.
func ValidatePlanStatus(s PlanStatus) error {
	if !validPlanStatuses[s] {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid plan status %q: must be one of: draft, active, completed, abandoned", s)}
	}
	return nil
}

// StepStatus is the closed step lifecycle.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

var validStepStatuses = map[StepStatus]bool{
	StepPending:    true,
	StepInProgress: true,
	StepCompleted:  true,
	StepSkipped:    true,
	StepFailed:     true,
}

// terminalStepStatuses are the resolutions that allow a plan to complete.
var terminalStepStatuses = map[StepStatus]bool{
	StepCompleted: true,
	StepSkipped:   true,
	StepFailed:    true,
}

// ValidateStepStatus rejects values outside the step lifecycle.
func ValidateStepStatus(s StepStatus) error {
	if !validStepStatuses[s] {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid step status %q: must be one of: pending, in_progress, completed, skipped, failed", s)}
	}
	return nil
}

// SessionStatus is the two-state session lifecycle.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session event types. Only entity lifecycle milestones are recorded,
// never per-call activity.
const (
	EventNoteCreated   = "note_created"
	EventPromptSaved   = "prompt_saved"
	EventPlanCreated   = "plan_created"
	EventPlanCompleted = "plan_completed"
)

// ─── Entities ────────────────────────────────────────────────────────────────

// Note is a unit of stored knowledge. Relevance in [0,1] weights search
// ranking; exactly 0 hides the note from default search results.
type Note struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Category  string            `json:"category,omitempty"`
	Status    string            `json:"status"`
	Relevance float64           `json:"relevance"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

// SavedPrompt is a reusable parameterized template, recalled by name or
// by its slash trigger. Variables are always derived from Template.
type SavedPrompt struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Trigger     *string           `json:"trigger,omitempty"`
	Template    string            `json:"template"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Variables   []string          `json:"variables,omitempty"`
	UsageCount  int               `json:"usage_count"`
	LastUsedAt  *string           `json:"last_used_at,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// Plan is an ordered unit of work, optionally instantiated from a saved
// prompt and attached to the session that created it.
type Plan struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Status         PlanStatus        `json:"status"`
	SourcePromptID *string           `json:"source_prompt_id,omitempty"`
	SessionID      *string           `json:"session_id,omitempty"`
	Category       string            `json:"category,omitempty"`
	CompletedAt    *string           `json:"completed_at,omitempty"`
	Steps          []PlanStep        `json:"steps,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
}

// PlanStep is one positioned step of a plan. Positions are 1-based and
// dense within their plan.
type PlanStep struct {
	ID          string            `json:"id"`
	PlanID      string            `json:"plan_id"`
	Position    int               `json:"position"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      StepStatus        `json:"status"`
	Result      string            `json:"result,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// Session is a bounded unit of work. At most one session is active per
// store at a time.
type Session struct {
	ID         string            `json:"id"`
	Title      string            `json:"title,omitempty"`
	Status     SessionStatus     `json:"status"`
	StartedAt  string            `json:"started_at"`
	EndedAt    *string           `json:"ended_at,omitempty"`
	EventCount int               `json:"event_count,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

// SessionEvent is one append-only lifecycle milestone within a session.
type SessionEvent struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	EventType  string            `json:"event_type"`
	EntityID   string            `json:"entity_id,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

// ─── Operation payloads ──────────────────────────────────────────────────────

// CreateNoteParams creates a note. Relevance defaults to 1.0 when nil.
type CreateNoteParams struct {
	Title     string
	Content   string
	Category  string
	Status    string
	Relevance *float64
	Tags      []string
	Metadata  map[string]string
}

// UpdateNoteParams is a partial update: nil fields stay untouched. A
// non-nil empty Tags slice clears the tag set; nil leaves it alone.
// Relevance changes go through SetRelevance, not here.
type UpdateNoteParams struct {
	Title    *string
	Content  *string
	Category *string
	Status   *string
	Tags     []string
	Metadata map[string]string
}

// SavePromptParams creates a saved prompt. A nil Trigger asks for
// derivation from Name; a pointer to "" stores no trigger at all.
type SavePromptParams struct {
	Name        string
	Trigger     *string
	Template    string
	Description string
	Category    string
	Tags        []string
	Metadata    map[string]string
}

// UpdatePromptParams is a partial update. Trigger semantics: nil leaves
// the trigger untouched, pointer to "" clears it, anything else is
// validated and set.
type UpdatePromptParams struct {
	Name        *string
	Trigger     *string
	Template    *string
	Description *string
	Category    *string
	Tags        []string
	Metadata    map[string]string
}

// StepInput describes one step at plan creation time.
type StepInput struct {
	Title       string
	Description string
}

// CreatePlanParams creates a plan, optionally with initial steps. Status
// defaults to draft.
type CreatePlanParams struct {
	Title          string
	Description    string
	Status         PlanStatus
	SourcePromptID *string
	Category       string
	Steps          []StepInput
	Tags           []string
	Metadata       map[string]string
}

// UpdatePlanParams is a partial update. Setting Status to "completed"
// runs the same all-steps-resolved gate as CompletePlan.
type UpdatePlanParams struct {
	Title       *string
	Description *string
	Status      *string
	Category    *string
	Tags        []string
	Metadata    map[string]string
}

// UpdateStepParams is a partial update of one plan step.
type UpdateStepParams struct {
	Title       *string
	Description *string
	Status      *string
	Result      *string
}

// ─── List options ────────────────────────────────────────────────────────────

// ListNotesOptions filters and pages ListNotes. Tags are ANDed: a note
// must carry every listed tag. IncludeHidden also returns relevance-0
// notes.
type ListNotesOptions struct {
	Status        string
	Category      string
	Tags          []string
	IncludeHidden bool
	Limit         int
	Offset        int
}

// ListPromptsOptions filters and pages ListPrompts.
type ListPromptsOptions struct {
	Category string
	Tags     []string
	Limit    int
	Offset   int
}

// ListPlansOptions filters and pages ListPlans.
type ListPlansOptions struct {
	Status         string
	Category       string
	Tags           []string
	SessionID      string
	SourcePromptID string
	Limit          int
	Offset         int
}

// ListSessionsOptions filters and pages ListSessions.
type ListSessionsOptions struct {
	Status SessionStatus
	Limit  int
	Offset int
}

// ─── Search ──────────────────────────────────────────────────────────────────

// SearchOptions filters a kind-scoped search.
type SearchOptions struct {
	Status   string
	Category string
	Tags     []string
	Limit    int
	Offset   int
}

// SearchHit is one ranked match from a single-kind search. Score is
// positive, higher is more relevant.
type SearchHit struct {
	Kind      Kind    `json:"kind"`
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet,omitempty"`
	Score     float64 `json:"score"`
	CreatedAt string  `json:"created_at"`
}

// UnifiedResult is one row of a merged cross-kind search. Score is
// normalized into [0,1] within its kind before merging.
type UnifiedResult struct {
	Kind      Kind    `json:"kind"`
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet,omitempty"`
	Score     float64 `json:"score"`
	CreatedAt string  `json:"created_at"`
}

// RecalledPrompt is the outcome of rendering a saved prompt. Missing
// lists placeholders left verbatim in Text by a non-strict render.
type RecalledPrompt struct {
	Prompt  SavedPrompt `json:"prompt"`
	Text    string      `json:"text"`
	Missing []string    `json:"missing_variables,omitempty"`
}

// ─── Overview ────────────────────────────────────────────────────────────────

// LabelCount pairs a tag or category with its usage count.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// StaleNote is a note that has not been touched in a while.
type StaleNote struct {
	Note            Note `json:"note"`
	DaysSinceUpdate int  `json:"days_since_update"`
}

// DigestGroup is the notes of one category created in the digest window.
type DigestGroup struct {
	Category string `json:"category"`
	Notes    []Note `json:"notes"`
}

// DailyDigest summarizes recent activity across the store.
type DailyDigest struct {
	Date       string        `json:"date"`
	TotalNotes int           `json:"total_notes"`
	Recent     []DigestGroup `json:"recent,omitempty"`
	TopTags    []LabelCount  `json:"top_tags,omitempty"`
	StaleCount int           `json:"stale_count"`
}

// Stats is the store-wide overview.
type Stats struct {
	Notes         int      `json:"notes"`
	HiddenNotes   int      `json:"hidden_notes"`
	Prompts       int      `json:"prompts"`
	Plans         int      `json:"plans"`
	OpenPlans     int      `json:"open_plans"`
	Sessions      int      `json:"sessions"`
	Events        int      `json:"events"`
	Tags          int      `json:"tags"`
	Categories    int      `json:"categories"`
	ActiveSession *Session `json:"active_session,omitempty"`
	DatabasePath  string   `json:"database_path"`
	DatabaseBytes int64    `json:"database_bytes"`
}

// TimelineResult is one session plus its ordered events.
type TimelineResult struct {
	Session Session        `json:"session"`
	Events  []SessionEvent `json:"events"`
}

// ─── Export / import ─────────────────────────────────────────────────────────

// ExportData is the full-store dump format.
type ExportData struct {
	Version    string         `json:"version"`
	ExportedAt string         `json:"exported_at"`
	Notes      []Note         `json:"notes"`
	Prompts    []SavedPrompt  `json:"prompts"`
	Plans      []Plan         `json:"plans"`
	Sessions   []Session      `json:"sessions"`
	Events     []SessionEvent `json:"events"`
}

// ImportResult counts what an import actually wrote.
type ImportResult struct {
	Notes    int `json:"notes"`
	Prompts  int `json:"prompts"`
	Plans    int `json:"plans"`
	Steps    int `json:"steps"`
	Sessions int `json:"sessions"`
	Events   int `json:"events"`
	Skipped  int `json:"skipped"`
}
