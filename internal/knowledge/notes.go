package knowledge

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

const noteColumns = "id, title, content, category, status, relevance, metadata, created_at, updated_at"

func scanNote(sc rowScanner) (Note, error) {
	var n Note
	var meta string
	if err := sc.Scan(&n.ID, &n.Title, &n.Content, &n.Category, &n.Status, &n.Relevance, &meta, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return Note{}, err
	}
	n.Metadata = unmarshalMetadata(meta)
	return n, nil
}

// CreateNote stores a new note and records a note_created event on the
// active session, starting one if needed. The entity row, its tag rows,
// the search index, and the session event commit together or not at all.
func (s *Store) CreateNote(params CreateNoteParams) (Note, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Note{}, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return Note{}, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	relevance := 1.0
	if params.Relevance != nil {
		relevance = *params.Relevance
		if relevance < 0.0 || relevance > 1.0 {
			return Note{}, &ValidationError{Field: "relevance", Reason: "must be between 0.0 and 1.0"}
		}
	}
	status := params.Status
	if status == "" {
		status = NoteActive
	}
	meta, err := marshalMetadata(params.Metadata)
	if err != nil {
		return Note{}, err
	}

	note := Note{
		ID:        newID(),
		Title:     title,
		Content:   content,
		Category:  strings.TrimSpace(params.Category),
		Status:    status,
		Relevance: relevance,
		Tags:      dedupeTags(params.Tags),
		Metadata:  params.Metadata,
		CreatedAt: now(),
	}
	note.UpdatedAt = note.CreatedAt

	err = s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, `INSERT INTO notes
			(id, title, content, category, status, relevance, tags_text, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			note.ID, note.Title, note.Content, note.Category, note.Status, note.Relevance,
			tagsText(note.Tags), meta, note.CreatedAt, note.UpdatedAt); err != nil {
			return err
		}
		if err := s.replaceTagsTx(tx, "note_tags", "note_id", note.ID, note.Tags); err != nil {
			return err
		}
		return s.recordMilestoneTx(tx, EventNoteCreated, note.ID, string(KindNote), note.Title)
	})
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

// GetNote fetches one note by ID, including its tags.
func (s *Store) GetNote(id string) (Note, error) {
	note, err := scanNote(s.queryRowHook("SELECT "+noteColumns+" FROM notes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, notFoundErr("note", id)
	}
	if err != nil {
		return Note{}, err
	}
	tags, err := s.loadTags("note_tags", "note_id", note.ID)
	if err != nil {
		return Note{}, err
	}
	note.Tags = tags
	return note, nil
}

// UpdateNote applies a partial update. Nil fields stay untouched; a
// non-nil empty tag slice clears the tags. Relevance moves only through
// SetRelevance.
func (s *Store) UpdateNote(id string, params UpdateNoteParams) (Note, error) {
	note, err := s.GetNote(id)
	if err != nil {
		return Note{}, err
	}
	if params.Title != nil {
		t := strings.TrimSpace(*params.Title)
		if t == "" {
			return Note{}, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		note.Title = t
	}
	if params.Content != nil {
		c := strings.TrimSpace(*params.Content)
		if c == "" {
			return Note{}, &ValidationError{Field: "content", Reason: "must not be empty"}
		}
		note.Content = c
	}
	if params.Category != nil {
		note.Category = strings.TrimSpace(*params.Category)
	}
	if params.Status != nil {
		note.Status = *params.Status
	}
	if params.Tags != nil {
		note.Tags = dedupeTags(params.Tags)
	}
	if params.Metadata != nil {
		note.Metadata = params.Metadata
	}
	meta, err := marshalMetadata(note.Metadata)
	if err != nil {
		return Note{}, err
	}
	note.UpdatedAt = now()

	err = s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, `UPDATE notes
			SET title = ?, content = ?, category = ?, status = ?, tags_text = ?, metadata = ?, updated_at = ?
			WHERE id = ?`,
			note.Title, note.Content, note.Category, note.Status, tagsText(note.Tags), meta, note.UpdatedAt, id); err != nil {
			return err
		}
		if params.Tags != nil {
			return s.replaceTagsTx(tx, "note_tags", "note_id", id, note.Tags)
		}
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

// DeleteNote removes a note, its tags, and its search index rows.
func (s *Store) DeleteNote(id string) error {
	return s.deleteByID("notes", "note", id)
}

// ListNotes returns notes newest-updated first. Hidden notes (relevance
// 0.0) are excluded unless IncludeHidden is set. Tag filters require
// every listed tag.
func (s *Store) ListNotes(opts ListNotesOptions) ([]Note, error) {
	query := "SELECT " + noteColumns + " FROM notes WHERE 1=1"
	var args []any
	if !opts.IncludeHidden {
		query += " AND relevance > 0.0"
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Category != "" {
		query += " AND category = ?"
		args = append(args, opts.Category)
	}
	if clause, cargs := tagFilter("notes.id", "note_tags", "note_id", opts.Tags); clause != "" {
		query += clause
		args = append(args, cargs...)
	}
	query += " ORDER BY updated_at DESC" + limitOffset(&args, opts.Limit, opts.Offset)

	rows, err := s.queryHook(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notes, s.attachNoteTags(notes)
}

func (s *Store) attachNoteTags(notes []Note) error {
	if len(notes) == 0 {
		return nil
	}
	ids := make([]string, len(notes))
	for i := range notes {
		ids[i] = notes[i].ID
	}
	tags, err := s.loadTagsFor("note_tags", "note_id", ids)
	if err != nil {
		return err
	}
	for i := range notes {
		notes[i].Tags = tags[notes[i].ID]
	}
	return nil
}

// SetRelevance moves a note's search weight within [0, 1]. 0.0 hides the
// note from search and default listings without deleting it; anything
// above scales its ranking.
func (s *Store) SetRelevance(id string, relevance float64) (Note, error) {
	if relevance < 0.0 || relevance > 1.0 {
		return Note{}, &ValidationError{Field: "relevance", Reason: "must be between 0.0 and 1.0"}
	}
	err := s.withWrite(func(tx *sql.Tx) error {
		res, err := s.txExecHook(tx, "UPDATE notes SET relevance = ?, updated_at = ? WHERE id = ?", relevance, now(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return notFoundErr("note", id)
		}
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	return s.GetNote(id)
}

// Forget hides a note from search and listings by zeroing its relevance.
// The note and its history stay in the store.
func (s *Store) Forget(id string) (Note, error) {
	return s.SetRelevance(id, 0.0)
}

// StaleNotes returns visible notes untouched for more than the given
// number of days, oldest first. days <= 0 uses the configured default.
func (s *Store) StaleNotes(days, limit int) ([]StaleNote, error) {
	if days <= 0 {
		days = s.cfg.StaleAfterDays
	}
	if limit <= 0 {
		limit = 50
	}
	nowT := timeNow().UTC()
	cutoff := nowT.AddDate(0, 0, -days).Format(timeLayout)

	rows, err := s.queryHook("SELECT "+noteColumns+" FROM notes WHERE relevance > 0.0 AND updated_at < ? ORDER BY updated_at ASC LIMIT ?", cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stale []StaleNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		sn := StaleNote{Note: n}
		if updated, err := parseTime(n.UpdatedAt); err == nil {
			sn.DaysSinceUpdate = int(nowT.Sub(updated).Hours() / 24)
		}
		stale = append(stale, sn)
	}
	return stale, rows.Err()
}

// DailyDigest summarizes the store: notes captured in the last 24 hours
// grouped by category, the heaviest tags, and how much is going stale.
func (s *Store) DailyDigest() (DailyDigest, error) {
	nowT := timeNow().UTC()
	d := DailyDigest{Date: nowT.Format("2006-01-02")}

	if err := s.queryRowHook("SELECT COUNT(*) FROM notes").Scan(&d.TotalNotes); err != nil {
		return DailyDigest{}, err
	}

	cutoff := nowT.Add(-24 * time.Hour).Format(timeLayout)
	rows, err := s.queryHook("SELECT "+noteColumns+" FROM notes WHERE relevance > 0.0 AND created_at >= ? ORDER BY category, created_at DESC", cutoff)
	if err != nil {
		return DailyDigest{}, err
	}
	defer func() { _ = rows.Close() }()

	var recent []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return DailyDigest{}, err
		}
		recent = append(recent, n)
	}
	if err := rows.Err(); err != nil {
		return DailyDigest{}, err
	}
	if err := s.attachNoteTags(recent); err != nil {
		return DailyDigest{}, err
	}
	for _, n := range recent {
		category := n.Category
		if category == "" {
			category = "uncategorized"
		}
		if len(d.Recent) == 0 || d.Recent[len(d.Recent)-1].Category != category {
			d.Recent = append(d.Recent, DigestGroup{Category: category})
		}
		group := &d.Recent[len(d.Recent)-1]
		group.Notes = append(group.Notes, n)
	}

	d.TopTags, err = s.labelCounts("SELECT tag, COUNT(*) AS n FROM note_tags GROUP BY tag ORDER BY n DESC, tag LIMIT 20")
	if err != nil {
		return DailyDigest{}, err
	}

	staleCutoff := nowT.AddDate(0, 0, -s.cfg.StaleAfterDays).Format(timeLayout)
	if err := s.queryRowHook("SELECT COUNT(*) FROM notes WHERE relevance > 0.0 AND updated_at < ?", staleCutoff).Scan(&d.StaleCount); err != nil {
		return DailyDigest{}, err
	}
	return d, nil
}
