package knowledge

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/HendryAvila/cortex/internal/templates"
)

const promptColumns = "id, name, trigger, template, description, category, variables, usage_count, last_used_at, metadata, created_at, updated_at"

func scanPrompt(sc rowScanner) (SavedPrompt, error) {
	var p SavedPrompt
	var trigger, lastUsed sql.NullString
	var variables, meta string
	if err := sc.Scan(&p.ID, &p.Name, &trigger, &p.Template, &p.Description, &p.Category, &variables, &p.UsageCount, &lastUsed, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return SavedPrompt{}, err
	}
	if trigger.Valid {
		p.Trigger = &trigger.String
	}
	if lastUsed.Valid {
		p.LastUsedAt = &lastUsed.String
	}
	_ = json.Unmarshal([]byte(variables), &p.Variables)
	p.Metadata = unmarshalMetadata(meta)
	return p, nil
}

// SavePrompt stores a new prompt and records a prompt_saved event.
//
// Trigger handling follows the derivation rules: a nil Trigger derives a
// candidate from the name and adopts it only when it is valid and
// unclaimed (otherwise the prompt is saved without a trigger); a pointer
// to "" stores no trigger; anything else must validate and be unique.
// Variables are always extracted from the template, never caller-set.
func (s *Store) SavePrompt(params SavePromptParams) (SavedPrompt, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return SavedPrompt{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(params.Template) == "" {
		return SavedPrompt{}, &ValidationError{Field: "template", Reason: "must not be empty"}
	}

	if existing, err := s.promptIDBy("name", name); err != nil {
		return SavedPrompt{}, err
	} else if existing != "" {
		return SavedPrompt{}, &ConflictError{Field: "name", Value: name, ExistingID: existing}
	}

	var trigger *string
	switch {
	case params.Trigger == nil:
		candidate := templates.DeriveTrigger(name)
		if templates.ValidateTrigger(candidate, s.cfg.ReservedTriggers) == nil {
			existing, err := s.promptIDBy("trigger", candidate)
			if err != nil {
				return SavedPrompt{}, err
			}
			if existing == "" {
				trigger = &candidate
			}
		}
	case *params.Trigger == "":
		// Explicitly no trigger.
	default:
		t := strings.TrimSpace(*params.Trigger)
		if err := templates.ValidateTrigger(t, s.cfg.ReservedTriggers); err != nil {
			return SavedPrompt{}, &ValidationError{Field: "trigger", Reason: err.Error()}
		}
		existing, err := s.promptIDBy("trigger", t)
		if err != nil {
			return SavedPrompt{}, err
		}
		if existing != "" {
			return SavedPrompt{}, &ConflictError{Field: "trigger", Value: t, ExistingID: existing}
		}
		trigger = &t
	}

	variables := templates.ExtractVariables(params.Template)
	varsJSON, err := marshalVariables(variables)
	if err != nil {
		return SavedPrompt{}, err
	}
	meta, err := marshalMetadata(params.Metadata)
	if err != nil {
		return SavedPrompt{}, err
	}

	prompt := SavedPrompt{
		ID:          newID(),
		Name:        name,
		Trigger:     trigger,
		Template:    params.Template,
		Description: strings.TrimSpace(params.Description),
		Category:    strings.TrimSpace(params.Category),
		Variables:   variables,
		Tags:        dedupeTags(params.Tags),
		Metadata:    params.Metadata,
		CreatedAt:   now(),
	}
	prompt.UpdatedAt = prompt.CreatedAt

	err = s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, `INSERT INTO prompts
			(id, name, trigger, template, description, category, variables, usage_count, last_used_at, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`,
			prompt.ID, prompt.Name, prompt.Trigger, prompt.Template, prompt.Description, prompt.Category,
			varsJSON, meta, prompt.CreatedAt, prompt.UpdatedAt); err != nil {
			return err
		}
		if err := s.replaceTagsTx(tx, "prompt_tags", "prompt_id", prompt.ID, prompt.Tags); err != nil {
			return err
		}
		return s.recordMilestoneTx(tx, EventPromptSaved, prompt.ID, string(KindPrompt), prompt.Name)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return SavedPrompt{}, promptConflict(err, name, trigger)
		}
		return SavedPrompt{}, err
	}
	return prompt, nil
}

// promptConflict maps a UNIQUE violation that slipped past the
// pre-checks onto the offending field.
func promptConflict(err error, name string, trigger *string) error {
	if strings.Contains(err.Error(), "prompts.trigger") && trigger != nil {
		return &ConflictError{Field: "trigger", Value: *trigger}
	}
	return &ConflictError{Field: "name", Value: name}
}

func (s *Store) promptIDBy(column, value string) (string, error) {
	var id string
	err := s.queryRowHook("SELECT id FROM prompts WHERE "+column+" = ?", value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetPrompt fetches one prompt by ID, including its tags.
func (s *Store) GetPrompt(id string) (SavedPrompt, error) {
	return s.promptBy("id", id)
}

func (s *Store) promptBy(column, value string) (SavedPrompt, error) {
	p, err := scanPrompt(s.queryRowHook("SELECT "+promptColumns+" FROM prompts WHERE "+column+" = ?", value))
	if errors.Is(err, sql.ErrNoRows) {
		return SavedPrompt{}, notFoundErr("prompt", value)
	}
	if err != nil {
		return SavedPrompt{}, err
	}
	tags, err := s.loadTags("prompt_tags", "prompt_id", p.ID)
	if err != nil {
		return SavedPrompt{}, err
	}
	p.Tags = tags
	return p, nil
}

// FindPrompt resolves a prompt by trigger or name. The leading slash is
// optional for trigger lookups; triggers win over names.
func (s *Store) FindPrompt(triggerOrName string) (SavedPrompt, error) {
	key := strings.TrimSpace(triggerOrName)
	if key == "" {
		return SavedPrompt{}, &ValidationError{Field: "prompt", Reason: "trigger or name must not be empty"}
	}

	triggers := []string{key}
	if !strings.HasPrefix(key, "/") {
		triggers = append(triggers, "/"+key)
	}
	for _, t := range triggers {
		p, err := s.promptBy("trigger", t)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return SavedPrompt{}, err
		}
	}

	p, err := s.promptBy("name", key)
	if errors.Is(err, ErrNotFound) {
		return SavedPrompt{}, notFoundErr("prompt", key)
	}
	return p, err
}

// UpdatePrompt applies a partial update. Changing the template recomputes
// the derived variables. Trigger semantics: nil leaves an existing
// trigger untouched (deriving one from the name only when none is
// stored), a pointer to "" clears it, anything else is validated and must
// be unique.
func (s *Store) UpdatePrompt(id string, params UpdatePromptParams) (SavedPrompt, error) {
	p, err := s.GetPrompt(id)
	if err != nil {
		return SavedPrompt{}, err
	}

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return SavedPrompt{}, &ValidationError{Field: "name", Reason: "must not be empty"}
		}
		if name != p.Name {
			existing, err := s.promptIDBy("name", name)
			if err != nil {
				return SavedPrompt{}, err
			}
			if existing != "" && existing != id {
				return SavedPrompt{}, &ConflictError{Field: "name", Value: name, ExistingID: existing}
			}
		}
		p.Name = name
	}
	if params.Template != nil {
		if strings.TrimSpace(*params.Template) == "" {
			return SavedPrompt{}, &ValidationError{Field: "template", Reason: "must not be empty"}
		}
		p.Template = *params.Template
		p.Variables = templates.ExtractVariables(p.Template)
	}
	if params.Description != nil {
		p.Description = strings.TrimSpace(*params.Description)
	}
	if params.Category != nil {
		p.Category = strings.TrimSpace(*params.Category)
	}

	switch {
	case params.Trigger == nil:
		if p.Trigger == nil {
			candidate := templates.DeriveTrigger(p.Name)
			if templates.ValidateTrigger(candidate, s.cfg.ReservedTriggers) == nil {
				existing, err := s.promptIDBy("trigger", candidate)
				if err != nil {
					return SavedPrompt{}, err
				}
				if existing == "" || existing == id {
					p.Trigger = &candidate
				}
			}
		}
	case *params.Trigger == "":
		p.Trigger = nil
	default:
		t := strings.TrimSpace(*params.Trigger)
		if err := templates.ValidateTrigger(t, s.cfg.ReservedTriggers); err != nil {
			return SavedPrompt{}, &ValidationError{Field: "trigger", Reason: err.Error()}
		}
		existing, err := s.promptIDBy("trigger", t)
		if err != nil {
			return SavedPrompt{}, err
		}
		if existing != "" && existing != id {
			return SavedPrompt{}, &ConflictError{Field: "trigger", Value: t, ExistingID: existing}
		}
		p.Trigger = &t
	}

	if params.Tags != nil {
		p.Tags = dedupeTags(params.Tags)
	}
	if params.Metadata != nil {
		p.Metadata = params.Metadata
	}

	varsJSON, err := marshalVariables(p.Variables)
	if err != nil {
		return SavedPrompt{}, err
	}
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return SavedPrompt{}, err
	}
	p.UpdatedAt = now()

	err = s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, `UPDATE prompts
			SET name = ?, trigger = ?, template = ?, description = ?, category = ?, variables = ?, metadata = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.Trigger, p.Template, p.Description, p.Category, varsJSON, meta, p.UpdatedAt, id); err != nil {
			return err
		}
		if params.Tags != nil {
			return s.replaceTagsTx(tx, "prompt_tags", "prompt_id", id, p.Tags)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return SavedPrompt{}, promptConflict(err, p.Name, p.Trigger)
		}
		return SavedPrompt{}, err
	}
	return p, nil
}

// DeletePrompt removes a prompt. Plans created from it keep existing
// with their source reference cleared.
func (s *Store) DeletePrompt(id string) error {
	return s.deleteByID("prompts", "prompt", id)
}

// ListPrompts returns prompts ordered by name.
func (s *Store) ListPrompts(opts ListPromptsOptions) ([]SavedPrompt, error) {
	query := "SELECT " + promptColumns + " FROM prompts WHERE 1=1"
	var args []any
	if opts.Category != "" {
		query += " AND category = ?"
		args = append(args, opts.Category)
	}
	if clause, cargs := tagFilter("prompts.id", "prompt_tags", "prompt_id", opts.Tags); clause != "" {
		query += clause
		args = append(args, cargs...)
	}
	query += " ORDER BY name ASC" + limitOffset(&args, opts.Limit, opts.Offset)

	rows, err := s.queryHook(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var prompts []SavedPrompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(prompts) > 0 {
		ids := make([]string, len(prompts))
		for i := range prompts {
			ids[i] = prompts[i].ID
		}
		tags, err := s.loadTagsFor("prompt_tags", "prompt_id", ids)
		if err != nil {
			return nil, err
		}
		for i := range prompts {
			prompts[i].Tags = tags[prompts[i].ID]
		}
	}
	return prompts, nil
}

// RecallPrompt resolves a prompt by trigger or name and renders it with
// vars. Non-strict mode leaves unfilled placeholders verbatim and lists
// them; strict mode fails with MissingVariablesError instead. Usage is
// tracked on every render that returns text, including partial fills.
func (s *Store) RecallPrompt(triggerOrName string, vars map[string]string, strict bool) (RecalledPrompt, error) {
	p, err := s.FindPrompt(triggerOrName)
	if err != nil {
		return RecalledPrompt{}, err
	}

	text, missing := templates.Render(p.Template, vars)
	if strict && len(missing) > 0 {
		return RecalledPrompt{}, &templates.MissingVariablesError{Missing: missing}
	}

	usedAt := now()
	err = s.withWrite(func(tx *sql.Tx) error {
		_, err := s.txExecHook(tx, "UPDATE prompts SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?", usedAt, p.ID)
		return err
	})
	if err != nil {
		return RecalledPrompt{}, err
	}
	p.UsageCount++
	p.LastUsedAt = &usedAt

	return RecalledPrompt{Prompt: p, Text: text, Missing: missing}, nil
}

// PlansFromPrompt returns the plans instantiated from one prompt.
func (s *Store) PlansFromPrompt(promptID string) ([]Plan, error) {
	return s.ListPlans(ListPlansOptions{SourcePromptID: promptID})
}

func marshalVariables(variables []string) (string, error) {
	if len(variables) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(variables)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
