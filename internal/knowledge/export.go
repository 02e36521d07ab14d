package knowledge

import (
	"database/sql"
	"errors"
)

const exportVersion = "1"

// Export dumps the entire store, hidden notes and ended sessions
// included, with original IDs and timestamps preserved.
func (s *Store) Export() (ExportData, error) {
	data := ExportData{Version: exportVersion, ExportedAt: now()}

	rows, err := s.queryHook("SELECT " + noteColumns + " FROM notes ORDER BY created_at, id")
	if err != nil {
		return ExportData{}, err
	}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			_ = rows.Close()
			return ExportData{}, err
		}
		data.Notes = append(data.Notes, n)
	}
	if err := closeRows(rows); err != nil {
		return ExportData{}, err
	}
	if err := s.attachNoteTags(data.Notes); err != nil {
		return ExportData{}, err
	}

	rows, err = s.queryHook("SELECT " + promptColumns + " FROM prompts ORDER BY created_at, id")
	if err != nil {
		return ExportData{}, err
	}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			_ = rows.Close()
			return ExportData{}, err
		}
		data.Prompts = append(data.Prompts, p)
	}
	if err := closeRows(rows); err != nil {
		return ExportData{}, err
	}
	for i := range data.Prompts {
		tags, err := s.loadTags("prompt_tags", "prompt_id", data.Prompts[i].ID)
		if err != nil {
			return ExportData{}, err
		}
		data.Prompts[i].Tags = tags
	}

	rows, err = s.queryHook("SELECT " + planColumns + " FROM plans ORDER BY created_at, id")
	if err != nil {
		return ExportData{}, err
	}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			_ = rows.Close()
			return ExportData{}, err
		}
		data.Plans = append(data.Plans, p)
	}
	if err := closeRows(rows); err != nil {
		return ExportData{}, err
	}
	if err := s.attachPlanSteps(data.Plans); err != nil {
		return ExportData{}, err
	}
	if err := s.attachPlanTags(data.Plans); err != nil {
		return ExportData{}, err
	}

	rows, err = s.queryHook("SELECT " + sessionColumns + " FROM sessions ORDER BY created_at, id")
	if err != nil {
		return ExportData{}, err
	}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return ExportData{}, err
		}
		data.Sessions = append(data.Sessions, sess)
	}
	if err := closeRows(rows); err != nil {
		return ExportData{}, err
	}
	for i := range data.Sessions {
		tags, err := s.loadTags("session_tags", "session_id", data.Sessions[i].ID)
		if err != nil {
			return ExportData{}, err
		}
		data.Sessions[i].Tags = tags
	}

	rows, err = s.queryHook("SELECT " + eventColumns + " FROM session_events ORDER BY created_at, rowid")
	if err != nil {
		return ExportData{}, err
	}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			_ = rows.Close()
			return ExportData{}, err
		}
		data.Events = append(data.Events, ev)
	}
	if err := closeRows(rows); err != nil {
		return ExportData{}, err
	}
	return data, nil
}

func closeRows(rows *sql.Rows) error {
	closeErr := rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	return closeErr
}

// Import merges a dump into the store inside one transaction. Rows whose
// ID (or, for prompts, name) already exists are skipped; a colliding
// trigger is dropped rather than imported; dangling plan references are
// nulled; events of unknown sessions are skipped. Import never records
// lifecycle events of its own.
func (s *Store) Import(data ExportData) (ImportResult, error) {
	var res ImportResult
	err := s.withWrite(func(tx *sql.Tx) error {
		res = ImportResult{}

		for _, sess := range data.Sessions {
			ok, err := existsTx(tx, "sessions", "id", sess.ID)
			if err != nil {
				return err
			}
			if ok {
				res.Skipped++
				continue
			}
			meta, err := marshalMetadata(sess.Metadata)
			if err != nil {
				return err
			}
			if _, err := s.txExecHook(tx, `INSERT INTO sessions
				(id, title, status, started_at, ended_at, metadata, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				sess.ID, sess.Title, string(sess.Status), sess.StartedAt, sess.EndedAt, meta, sess.CreatedAt, sess.UpdatedAt); err != nil {
				return err
			}
			if err := s.replaceTagsTx(tx, "session_tags", "session_id", sess.ID, sess.Tags); err != nil {
				return err
			}
			res.Sessions++
		}

		for _, p := range data.Prompts {
			ok, err := existsTx(tx, "prompts", "id", p.ID)
			if err != nil {
				return err
			}
			if !ok {
				ok, err = existsTx(tx, "prompts", "name", p.Name)
				if err != nil {
					return err
				}
			}
			if ok {
				res.Skipped++
				continue
			}
			if p.Trigger != nil {
				taken, err := existsTx(tx, "prompts", "trigger", *p.Trigger)
				if err != nil {
					return err
				}
				if taken {
					p.Trigger = nil
				}
			}
			varsJSON, err := marshalVariables(p.Variables)
			if err != nil {
				return err
			}
			meta, err := marshalMetadata(p.Metadata)
			if err != nil {
				return err
			}
			if _, err := s.txExecHook(tx, `INSERT INTO prompts
				(id, name, trigger, template, description, category, variables, usage_count, last_used_at, metadata, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, p.Name, p.Trigger, p.Template, p.Description, p.Category, varsJSON, p.UsageCount, p.LastUsedAt, meta, p.CreatedAt, p.UpdatedAt); err != nil {
				return err
			}
			if err := s.replaceTagsTx(tx, "prompt_tags", "prompt_id", p.ID, p.Tags); err != nil {
				return err
			}
			res.Prompts++
		}

		for _, n := range data.Notes {
			ok, err := existsTx(tx, "notes", "id", n.ID)
			if err != nil {
				return err
			}
			if ok {
				res.Skipped++
				continue
			}
			meta, err := marshalMetadata(n.Metadata)
			if err != nil {
				return err
			}
			if _, err := s.txExecHook(tx, `INSERT INTO notes
				(id, title, content, category, status, relevance, tags_text, metadata, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				n.ID, n.Title, n.Content, n.Category, n.Status, n.Relevance, tagsText(n.Tags), meta, n.CreatedAt, n.UpdatedAt); err != nil {
				return err
			}
			if err := s.replaceTagsTx(tx, "note_tags", "note_id", n.ID, n.Tags); err != nil {
				return err
			}
			res.Notes++
		}

		for _, plan := range data.Plans {
			ok, err := existsTx(tx, "plans", "id", plan.ID)
			if err != nil {
				return err
			}
			if ok {
				res.Skipped++
				continue
			}
			if plan.SourcePromptID != nil {
				ok, err := existsTx(tx, "prompts", "id", *plan.SourcePromptID)
				if err != nil {
					return err
				}
				if !ok {
					plan.SourcePromptID = nil
				}
			}
			if plan.SessionID != nil {
				ok, err := existsTx(tx, "sessions", "id", *plan.SessionID)
				if err != nil {
					return err
				}
				if !ok {
					plan.SessionID = nil
				}
			}
			meta, err := marshalMetadata(plan.Metadata)
			if err != nil {
				return err
			}
			if _, err := s.txExecHook(tx, `INSERT INTO plans
				(id, title, description, status, source_prompt_id, session_id, category, steps_text, completed_at, metadata, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				plan.ID, plan.Title, plan.Description, string(plan.Status), plan.SourcePromptID, plan.SessionID,
				plan.Category, stepsSearchText(plan.Steps), plan.CompletedAt, meta, plan.CreatedAt, plan.UpdatedAt); err != nil {
				return err
			}
			for _, st := range plan.Steps {
				ok, err := existsTx(tx, "plan_steps", "id", st.ID)
				if err != nil {
					return err
				}
				if ok {
					res.Skipped++
					continue
				}
				stepMeta, err := marshalMetadata(st.Metadata)
				if err != nil {
					return err
				}
				if _, err := s.txExecHook(tx, `INSERT INTO plan_steps
					(id, plan_id, position, title, description, status, result, metadata, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					st.ID, plan.ID, st.Position, st.Title, st.Description, string(st.Status), st.Result, stepMeta, st.CreatedAt, st.UpdatedAt); err != nil {
					return err
				}
				res.Steps++
			}
			if err := s.replaceTagsTx(tx, "plan_tags", "plan_id", plan.ID, plan.Tags); err != nil {
				return err
			}
			res.Plans++
		}

		for _, ev := range data.Events {
			ok, err := existsTx(tx, "session_events", "id", ev.ID)
			if err != nil {
				return err
			}
			if ok {
				res.Skipped++
				continue
			}
			ok, err = existsTx(tx, "sessions", "id", ev.SessionID)
			if err != nil {
				return err
			}
			if !ok {
				res.Skipped++
				continue
			}
			meta, err := marshalMetadata(ev.Metadata)
			if err != nil {
				return err
			}
			if _, err := s.txExecHook(tx, `INSERT INTO session_events
				(id, session_id, event_type, entity_id, entity_type, summary, metadata, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				ev.ID, ev.SessionID, ev.EventType, ev.EntityID, ev.EntityType, ev.Summary, meta, ev.CreatedAt); err != nil {
				return err
			}
			res.Events++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

func existsTx(tx *sql.Tx, table, column, value string) (bool, error) {
	var one int
	err := tx.QueryRow("SELECT 1 FROM "+table+" WHERE "+column+" = ? LIMIT 1", value).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
