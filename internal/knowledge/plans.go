package knowledge

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const planColumns = "id, title, description, status, source_prompt_id, session_id, category, completed_at, metadata, created_at, updated_at"

const stepColumns = "id, plan_id, position, title, description, status, result, metadata, created_at, updated_at"

func scanPlan(sc rowScanner) (Plan, error) {
	var p Plan
	var status string
	var sourcePrompt, sessionID, completedAt sql.NullString
	var meta string
	if err := sc.Scan(&p.ID, &p.Title, &p.Description, &status, &sourcePrompt, &sessionID, &p.Category, &completedAt, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Plan{}, err
	}
	p.Status = PlanStatus(status)
	if sourcePrompt.Valid {
		p.SourcePromptID = &sourcePrompt.String
	}
	if sessionID.Valid {
		p.SessionID = &sessionID.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	p.Metadata = unmarshalMetadata(meta)
	return p, nil
}

func scanStep(sc rowScanner) (PlanStep, error) {
	var st PlanStep
	var status, meta string
	if err := sc.Scan(&st.ID, &st.PlanID, &st.Position, &st.Title, &st.Description, &status, &st.Result, &meta, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return PlanStep{}, err
	}
	st.Status = StepStatus(status)
	st.Metadata = unmarshalMetadata(meta)
	return st, nil
}

// CreatePlan stores a new plan, its initial steps at positions 1..N, and
// a plan_created event, attaching the plan to the active session. A plan
// created directly as completed must have no unresolved steps.
func (s *Store) CreatePlan(params CreatePlanParams) (Plan, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Plan{}, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	status := params.Status
	if status == "" {
		status = PlanDraft
	}
	if err := ValidatePlanStatus(status); err != nil {
		return Plan{}, err
	}
	if status == PlanCompleted && len(params.Steps) > 0 {
		return Plan{}, &ValidationError{Field: "status", Reason: "cannot create a completed plan with unresolved steps"}
	}
	for i, in := range params.Steps {
		if strings.TrimSpace(in.Title) == "" {
			return Plan{}, &ValidationError{Field: "steps", Reason: fmt.Sprintf("step %d title must not be empty", i+1)}
		}
	}
	if params.SourcePromptID != nil && *params.SourcePromptID != "" {
		existing, err := s.promptIDBy("id", *params.SourcePromptID)
		if err != nil {
			return Plan{}, err
		}
		if existing == "" {
			return Plan{}, notFoundErr("prompt", *params.SourcePromptID)
		}
	}
	meta, err := marshalMetadata(params.Metadata)
	if err != nil {
		return Plan{}, err
	}

	ts := now()
	plan := Plan{
		ID:             newID(),
		Title:          title,
		Description:    strings.TrimSpace(params.Description),
		Status:         status,
		SourcePromptID: params.SourcePromptID,
		Category:       strings.TrimSpace(params.Category),
		Tags:           dedupeTags(params.Tags),
		Metadata:       params.Metadata,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if status == PlanCompleted {
		plan.CompletedAt = &ts
	}
	for i, in := range params.Steps {
		plan.Steps = append(plan.Steps, PlanStep{
			ID:          newID(),
			PlanID:      plan.ID,
			Position:    i + 1,
			Title:       strings.TrimSpace(in.Title),
			Description: strings.TrimSpace(in.Description),
			Status:      StepPending,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		})
	}

	err = s.withWrite(func(tx *sql.Tx) error {
		sessionID, err := s.ensureActiveSessionTx(tx)
		if err != nil {
			return err
		}
		plan.SessionID = &sessionID

		if _, err := s.txExecHook(tx, `INSERT INTO plans
			(id, title, description, status, source_prompt_id, session_id, category, steps_text, completed_at, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			plan.ID, plan.Title, plan.Description, string(plan.Status), plan.SourcePromptID, plan.SessionID,
			plan.Category, stepsSearchText(plan.Steps), plan.CompletedAt, meta, plan.CreatedAt, plan.UpdatedAt); err != nil {
			return err
		}
		for _, step := range plan.Steps {
			if _, err := s.txExecHook(tx, `INSERT INTO plan_steps
				(id, plan_id, position, title, description, status, result, metadata, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, '', '{}', ?, ?)`,
				step.ID, step.PlanID, step.Position, step.Title, step.Description, string(step.Status), step.CreatedAt, step.UpdatedAt); err != nil {
				return err
			}
		}
		if err := s.replaceTagsTx(tx, "plan_tags", "plan_id", plan.ID, plan.Tags); err != nil {
			return err
		}
		if err := s.appendEventTx(tx, sessionID, EventPlanCreated, plan.ID, string(KindPlan), plan.Title); err != nil {
			return err
		}
		if plan.Status == PlanCompleted {
			return s.appendEventTx(tx, sessionID, EventPlanCompleted, plan.ID, string(KindPlan), plan.Title)
		}
		return nil
	})
	if err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// GetPlan fetches one plan with its steps in position order and its tags.
func (s *Store) GetPlan(id string) (Plan, error) {
	plan, err := scanPlan(s.queryRowHook("SELECT "+planColumns+" FROM plans WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Plan{}, notFoundErr("plan", id)
	}
	if err != nil {
		return Plan{}, err
	}
	steps, err := s.planSteps(id)
	if err != nil {
		return Plan{}, err
	}
	plan.Steps = steps
	tags, err := s.loadTags("plan_tags", "plan_id", id)
	if err != nil {
		return Plan{}, err
	}
	plan.Tags = tags
	return plan, nil
}

func (s *Store) planSteps(planID string) ([]PlanStep, error) {
	rows, err := s.queryHook("SELECT "+stepColumns+" FROM plan_steps WHERE plan_id = ? ORDER BY position", planID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var steps []PlanStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// UpdatePlan applies a partial update. A status change to completed runs
// the same all-steps-resolved gate as CompletePlan and records the
// completion event; leaving completed clears completed_at.
func (s *Store) UpdatePlan(id string, params UpdatePlanParams) (Plan, error) {
	plan, err := s.GetPlan(id)
	if err != nil {
		return Plan{}, err
	}

	completing := false
	if params.Status != nil {
		status := PlanStatus(*params.Status)
		if err := ValidatePlanStatus(status); err != nil {
			return Plan{}, err
		}
		if status == PlanCompleted && plan.Status != PlanCompleted {
			if unresolved := unresolvedStepIDs(plan.Steps); len(unresolved) > 0 {
				return Plan{}, &ValidationError{Field: "steps", Reason: "all steps must be resolved before completion", StepIDs: unresolved}
			}
			completing = true
		}
		if status != PlanCompleted && plan.Status == PlanCompleted {
			plan.CompletedAt = nil
		}
		plan.Status = status
	}
	if params.Title != nil {
		t := strings.TrimSpace(*params.Title)
		if t == "" {
			return Plan{}, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		plan.Title = t
	}
	if params.Description != nil {
		plan.Description = strings.TrimSpace(*params.Description)
	}
	if params.Category != nil {
		plan.Category = strings.TrimSpace(*params.Category)
	}
	if params.Tags != nil {
		plan.Tags = dedupeTags(params.Tags)
	}
	if params.Metadata != nil {
		plan.Metadata = params.Metadata
	}
	meta, err := marshalMetadata(plan.Metadata)
	if err != nil {
		return Plan{}, err
	}
	ts := now()
	plan.UpdatedAt = ts
	if completing {
		plan.CompletedAt = &ts
	}

	err = s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, `UPDATE plans
			SET title = ?, description = ?, status = ?, category = ?, completed_at = ?, metadata = ?, updated_at = ?
			WHERE id = ?`,
			plan.Title, plan.Description, string(plan.Status), plan.Category, plan.CompletedAt, meta, ts, id); err != nil {
			return err
		}
		if params.Tags != nil {
			if err := s.replaceTagsTx(tx, "plan_tags", "plan_id", id, plan.Tags); err != nil {
				return err
			}
		}
		if completing {
			return s.recordMilestoneTx(tx, EventPlanCompleted, id, string(KindPlan), plan.Title)
		}
		return nil
	})
	if err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// CompletePlan transitions a plan to completed. It succeeds only when
// every owned step is resolved (completed, skipped, or failed);
// otherwise it fails listing the unresolved step IDs and changes
// nothing. Completing an already-completed plan is a no-op.
func (s *Store) CompletePlan(id string) (Plan, error) {
	plan, err := s.GetPlan(id)
	if err != nil {
		return Plan{}, err
	}
	if plan.Status == PlanCompleted {
		return plan, nil
	}
	if unresolved := unresolvedStepIDs(plan.Steps); len(unresolved) > 0 {
		return Plan{}, &ValidationError{Field: "steps", Reason: "all steps must be resolved before completion", StepIDs: unresolved}
	}

	ts := now()
	err = s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, "UPDATE plans SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?",
			string(PlanCompleted), ts, ts, id); err != nil {
			return err
		}
		return s.recordMilestoneTx(tx, EventPlanCompleted, id, string(KindPlan), plan.Title)
	})
	if err != nil {
		return Plan{}, err
	}
	plan.Status = PlanCompleted
	plan.CompletedAt = &ts
	plan.UpdatedAt = ts
	return plan, nil
}

func unresolvedStepIDs(steps []PlanStep) []string {
	var out []string
	for _, st := range steps {
		if !terminalStepStatuses[st.Status] {
			out = append(out, st.ID)
		}
	}
	return out
}

// DeletePlan removes a plan, its steps, its tags, and its index rows.
func (s *Store) DeletePlan(id string) error {
	return s.deleteByID("plans", "plan", id)
}

// ListPlans returns plans newest-updated first, steps included.
func (s *Store) ListPlans(opts ListPlansOptions) ([]Plan, error) {
	query := "SELECT " + planColumns + " FROM plans WHERE 1=1"
	var args []any
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Category != "" {
		query += " AND category = ?"
		args = append(args, opts.Category)
	}
	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.SourcePromptID != "" {
		query += " AND source_prompt_id = ?"
		args = append(args, opts.SourcePromptID)
	}
	if clause, cargs := tagFilter("plans.id", "plan_tags", "plan_id", opts.Tags); clause != "" {
		query += clause
		args = append(args, cargs...)
	}
	query += " ORDER BY updated_at DESC" + limitOffset(&args, opts.Limit, opts.Offset)

	rows, err := s.queryHook(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachPlanSteps(plans); err != nil {
		return nil, err
	}
	return plans, s.attachPlanTags(plans)
}

func (s *Store) attachPlanSteps(plans []Plan) error {
	if len(plans) == 0 {
		return nil
	}
	args := make([]any, len(plans))
	index := make(map[string]int, len(plans))
	for i := range plans {
		args[i] = plans[i].ID
		index[plans[i].ID] = i
	}
	rows, err := s.queryHook("SELECT "+stepColumns+" FROM plan_steps WHERE plan_id IN ("+placeholders(len(args))+") ORDER BY plan_id, position", args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return err
		}
		if i, ok := index[st.PlanID]; ok {
			plans[i].Steps = append(plans[i].Steps, st)
		}
	}
	return rows.Err()
}

func (s *Store) attachPlanTags(plans []Plan) error {
	if len(plans) == 0 {
		return nil
	}
	ids := make([]string, len(plans))
	for i := range plans {
		ids[i] = plans[i].ID
	}
	tags, err := s.loadTagsFor("plan_tags", "plan_id", ids)
	if err != nil {
		return err
	}
	for i := range plans {
		plans[i].Tags = tags[plans[i].ID]
	}
	return nil
}

// AddStep appends a step at the next free position of a plan.
func (s *Store) AddStep(planID string, input StepInput) (PlanStep, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return PlanStep{}, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	var exists string
	if err := s.queryRowHook("SELECT id FROM plans WHERE id = ?", planID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlanStep{}, notFoundErr("plan", planID)
		}
		return PlanStep{}, err
	}

	ts := now()
	step := PlanStep{
		ID:          newID(),
		PlanID:      planID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      StepPending,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	err := s.withWrite(func(tx *sql.Tx) error {
		if err := tx.QueryRow("SELECT COALESCE(MAX(position), 0) + 1 FROM plan_steps WHERE plan_id = ?", planID).Scan(&step.Position); err != nil {
			return err
		}
		if _, err := s.txExecHook(tx, `INSERT INTO plan_steps
			(id, plan_id, position, title, description, status, result, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, '', '{}', ?, ?)`,
			step.ID, step.PlanID, step.Position, step.Title, step.Description, string(step.Status), step.CreatedAt, step.UpdatedAt); err != nil {
			return err
		}
		return s.refreshPlanStepsTx(tx, planID, ts)
	})
	if err != nil {
		return PlanStep{}, err
	}
	return step, nil
}

// GetStep fetches one step by ID.
func (s *Store) GetStep(stepID string) (PlanStep, error) {
	st, err := scanStep(s.queryRowHook("SELECT "+stepColumns+" FROM plan_steps WHERE id = ?", stepID))
	if errors.Is(err, sql.ErrNoRows) {
		return PlanStep{}, notFoundErr("step", stepID)
	}
	return st, err
}

// UpdateStep applies a partial update to one step and refreshes its
// plan's search text.
func (s *Store) UpdateStep(stepID string, params UpdateStepParams) (PlanStep, error) {
	step, err := s.GetStep(stepID)
	if err != nil {
		return PlanStep{}, err
	}
	if params.Title != nil {
		t := strings.TrimSpace(*params.Title)
		if t == "" {
			return PlanStep{}, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		step.Title = t
	}
	if params.Description != nil {
		step.Description = strings.TrimSpace(*params.Description)
	}
	if params.Status != nil {
		status := StepStatus(*params.Status)
		if err := ValidateStepStatus(status); err != nil {
			return PlanStep{}, err
		}
		step.Status = status
	}
	if params.Result != nil {
		step.Result = strings.TrimSpace(*params.Result)
	}
	ts := now()
	step.UpdatedAt = ts

	err = s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, `UPDATE plan_steps
			SET title = ?, description = ?, status = ?, result = ?, updated_at = ?
			WHERE id = ?`,
			step.Title, step.Description, string(step.Status), step.Result, ts, stepID); err != nil {
			return err
		}
		return s.refreshPlanStepsTx(tx, step.PlanID, ts)
	})
	if err != nil {
		return PlanStep{}, err
	}
	return step, nil
}

// RemoveStep deletes a step and closes the position gap so the remaining
// steps stay dense at 1..N in their current order.
func (s *Store) RemoveStep(stepID string) error {
	step, err := s.GetStep(stepID)
	if err != nil {
		return err
	}
	ts := now()
	return s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, "DELETE FROM plan_steps WHERE id = ?", stepID); err != nil {
			return err
		}
		// Two phases through negative scratch positions so the unique
		// (plan_id, position) index never sees a transient collision.
		if _, err := s.txExecHook(tx, "UPDATE plan_steps SET position = -position WHERE plan_id = ? AND position > ?", step.PlanID, step.Position); err != nil {
			return err
		}
		if _, err := s.txExecHook(tx, "UPDATE plan_steps SET position = -position - 1, updated_at = ? WHERE plan_id = ? AND position < 0", ts, step.PlanID); err != nil {
			return err
		}
		return s.refreshPlanStepsTx(tx, step.PlanID, ts)
	})
}

// ReorderSteps rewrites a plan's step order. stepIDs must list every
// step of the plan exactly once; afterwards positions are exactly 1..N
// in the given order.
func (s *Store) ReorderSteps(planID string, stepIDs []string) (Plan, error) {
	plan, err := s.GetPlan(planID)
	if err != nil {
		return Plan{}, err
	}
	if len(stepIDs) != len(plan.Steps) {
		return Plan{}, &ValidationError{Field: "step_ids", Reason: fmt.Sprintf("must list all %d steps exactly once", len(plan.Steps))}
	}
	owned := make(map[string]bool, len(plan.Steps))
	for _, st := range plan.Steps {
		owned[st.ID] = true
	}
	seen := make(map[string]bool, len(stepIDs))
	for _, id := range stepIDs {
		if !owned[id] {
			return Plan{}, &ValidationError{Field: "step_ids", Reason: fmt.Sprintf("step %s does not belong to plan %s", id, planID)}
		}
		if seen[id] {
			return Plan{}, &ValidationError{Field: "step_ids", Reason: fmt.Sprintf("step %s listed more than once", id)}
		}
		seen[id] = true
	}

	ts := now()
	err = s.withWrite(func(tx *sql.Tx) error {
		for i, id := range stepIDs {
			if _, err := s.txExecHook(tx, "UPDATE plan_steps SET position = ? WHERE id = ?", -(i + 1), id); err != nil {
				return err
			}
		}
		if _, err := s.txExecHook(tx, "UPDATE plan_steps SET position = -position, updated_at = ? WHERE plan_id = ? AND position < 0", ts, planID); err != nil {
			return err
		}
		return s.refreshPlanStepsTx(tx, planID, ts)
	})
	if err != nil {
		return Plan{}, err
	}
	return s.GetPlan(planID)
}

// stepsSearchText flattens step titles and descriptions into the plan's
// searchable step text.
func stepsSearchText(steps []PlanStep) string {
	var parts []string
	for _, st := range steps {
		parts = append(parts, st.Title)
		if st.Description != "" {
			parts = append(parts, st.Description)
		}
	}
	return strings.Join(parts, "\n")
}

// refreshPlanStepsTx rebuilds the plan's denormalized step text and bumps
// updated_at, so the plan index always reflects its current steps.
func (s *Store) refreshPlanStepsTx(tx *sql.Tx, planID, ts string) error {
	rows, err := s.hooks.query(tx, "SELECT title, description FROM plan_steps WHERE plan_id = ? ORDER BY position", planID)
	if err != nil {
		return err
	}
	var parts []string
	for rows.Next() {
		var title, desc string
		if err := rows.Scan(&title, &desc); err != nil {
			_ = rows.Close()
			return err
		}
		parts = append(parts, title)
		if desc != "" {
			parts = append(parts, desc)
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.txExecHook(tx, "UPDATE plans SET steps_text = ?, updated_at = ? WHERE id = ?", strings.Join(parts, "\n"), ts, planID)
	return err
}
