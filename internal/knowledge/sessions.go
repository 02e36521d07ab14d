package knowledge

import (
	"database/sql"
	"errors"
	"strings"
)

const sessionColumns = "id, title, status, started_at, ended_at, metadata, created_at, updated_at"

const eventColumns = "id, session_id, event_type, entity_id, entity_type, summary, metadata, created_at"

// eventSummaryMax bounds how much entity title is copied into a timeline
// event.
const eventSummaryMax = 200

func scanSession(sc rowScanner) (Session, error) {
	var sess Session
	var status, meta string
	var ended sql.NullString
	if err := sc.Scan(&sess.ID, &sess.Title, &status, &sess.StartedAt, &ended, &meta, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return Session{}, err
	}
	sess.Status = SessionStatus(status)
	if ended.Valid {
		sess.EndedAt = &ended.String
	}
	sess.Metadata = unmarshalMetadata(meta)
	return sess, nil
}

func scanEvent(sc rowScanner) (SessionEvent, error) {
	var ev SessionEvent
	var meta string
	if err := sc.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.EntityID, &ev.EntityType, &ev.Summary, &meta, &ev.CreatedAt); err != nil {
		return SessionEvent{}, err
	}
	ev.Metadata = unmarshalMetadata(meta)
	return ev, nil
}

// StartSession opens a new active session, ending whichever session was
// active before it. At most one session is active at a time.
func (s *Store) StartSession(title string, tags []string) (Session, error) {
	ts := now()
	session := Session{
		ID:        newID(),
		Title:     strings.TrimSpace(title),
		Status:    SessionActive,
		StartedAt: ts,
		Tags:      dedupeTags(tags),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	err := s.withWrite(func(tx *sql.Tx) error {
		if _, err := s.txExecHook(tx, "UPDATE sessions SET status = ?, ended_at = ?, updated_at = ? WHERE status = ?",
			string(SessionEnded), ts, ts, string(SessionActive)); err != nil {
			return err
		}
		if _, err := s.txExecHook(tx, `INSERT INTO sessions
			(id, title, status, started_at, ended_at, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, NULL, '{}', ?, ?)`,
			session.ID, session.Title, string(session.Status), session.StartedAt, session.CreatedAt, session.UpdatedAt); err != nil {
			return err
		}
		return s.replaceTagsTx(tx, "session_tags", "session_id", session.ID, session.Tags)
	})
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// EndSession ends a session. An empty id means the current active one.
// Ending an already-ended or nonexistent session is a no-op reported as
// success, with a nil session when there was nothing to end.
func (s *Store) EndSession(id string) (*Session, error) {
	var sess Session
	if id == "" {
		active, err := s.ActiveSession()
		if err != nil {
			return nil, err
		}
		if active == nil {
			return nil, nil
		}
		sess = *active
	} else {
		found, err := s.GetSession(id)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		sess = found
	}
	if sess.Status == SessionEnded {
		return &sess, nil
	}

	ts := now()
	err := s.withWrite(func(tx *sql.Tx) error {
		_, err := s.txExecHook(tx, "UPDATE sessions SET status = ?, ended_at = ?, updated_at = ? WHERE id = ?",
			string(SessionEnded), ts, ts, sess.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sess.Status = SessionEnded
	sess.EndedAt = &ts
	sess.UpdatedAt = ts
	return &sess, nil
}

// ActiveSession returns the currently active session, or nil when none.
func (s *Store) ActiveSession() (*Session, error) {
	sess, err := scanSession(s.queryRowHook("SELECT "+sessionColumns+" FROM sessions WHERE status = ? ORDER BY started_at DESC LIMIT 1", string(SessionActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.decorateSession(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession fetches one session by ID with its tags and event count.
func (s *Store) GetSession(id string) (Session, error) {
	sess, err := scanSession(s.queryRowHook("SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, notFoundErr("session", id)
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.decorateSession(&sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Store) decorateSession(sess *Session) error {
	tags, err := s.loadTags("session_tags", "session_id", sess.ID)
	if err != nil {
		return err
	}
	sess.Tags = tags
	return s.queryRowHook("SELECT COUNT(*) FROM session_events WHERE session_id = ?", sess.ID).Scan(&sess.EventCount)
}

// ListSessions returns sessions newest-started first.
func (s *Store) ListSessions(opts ListSessionsOptions) ([]Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE 1=1"
	var args []any
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY started_at DESC" + limitOffset(&args, opts.Limit, opts.Offset)

	rows, err := s.queryHook(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	ids := make([]string, len(sessions))
	index := make(map[string]int, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
		index[sessions[i].ID] = i
	}
	tags, err := s.loadTagsFor("session_tags", "session_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Tags = tags[sessions[i].ID]
	}

	args = make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	counts, err := s.queryHook("SELECT session_id, COUNT(*) FROM session_events WHERE session_id IN ("+placeholders(len(args))+") GROUP BY session_id", args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = counts.Close() }()
	for counts.Next() {
		var id string
		var n int
		if err := counts.Scan(&id, &n); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			sessions[i].EventCount = n
		}
	}
	return sessions, counts.Err()
}

// Timeline returns one session and its events in append order. An empty
// sessionID means the current active session.
func (s *Store) Timeline(sessionID string) (TimelineResult, error) {
	var sess Session
	if sessionID == "" {
		active, err := s.ActiveSession()
		if err != nil {
			return TimelineResult{}, err
		}
		if active == nil {
			return TimelineResult{}, notFoundErr("session", "active")
		}
		sess = *active
	} else {
		found, err := s.GetSession(sessionID)
		if err != nil {
			return TimelineResult{}, err
		}
		sess = found
	}

	rows, err := s.queryHook("SELECT "+eventColumns+" FROM session_events WHERE session_id = ? ORDER BY created_at, rowid", sess.ID)
	if err != nil {
		return TimelineResult{}, err
	}
	defer func() { _ = rows.Close() }()

	var events []SessionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return TimelineResult{}, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return TimelineResult{}, err
	}
	return TimelineResult{Session: sess, Events: events}, nil
}

// ─── Lifecycle plumbing ──────────────────────────────────────────────────────

// ensureActiveSessionTx returns the active session's ID, starting one
// when none exists. An active session past the staleness threshold is
// ended here and replaced with a fresh one.
func (s *Store) ensureActiveSessionTx(tx *sql.Tx) (string, error) {
	var id, startedAt string
	err := tx.QueryRow("SELECT id, started_at FROM sessions WHERE status = ? ORDER BY started_at DESC LIMIT 1", string(SessionActive)).Scan(&id, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.startSessionTx(tx)
	}
	if err != nil {
		return "", err
	}

	if started, perr := parseTime(startedAt); perr == nil && timeNow().UTC().Sub(started) > s.cfg.SessionStaleAfter {
		ts := now()
		if _, err := s.txExecHook(tx, "UPDATE sessions SET status = ?, ended_at = ?, updated_at = ? WHERE id = ?",
			string(SessionEnded), ts, ts, id); err != nil {
			return "", err
		}
		return s.startSessionTx(tx)
	}
	return id, nil
}

func (s *Store) startSessionTx(tx *sql.Tx) (string, error) {
	ts := now()
	id := newID()
	_, err := s.txExecHook(tx, `INSERT INTO sessions
		(id, title, status, started_at, ended_at, metadata, created_at, updated_at)
		VALUES (?, '', ?, ?, NULL, '{}', ?, ?)`,
		id, string(SessionActive), ts, ts, ts)
	if err != nil {
		return "", err
	}
	return id, nil
}

// appendEventTx records one lifecycle milestone on a session and touches
// the session's updated_at.
func (s *Store) appendEventTx(tx *sql.Tx, sessionID, eventType, entityID, entityType, summary string) error {
	ts := now()
	if _, err := s.txExecHook(tx, `INSERT INTO session_events
		(id, session_id, event_type, entity_id, entity_type, summary, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '{}', ?)`,
		newID(), sessionID, eventType, entityID, entityType, Truncate(summary, eventSummaryMax), ts); err != nil {
		return err
	}
	_, err := s.txExecHook(tx, "UPDATE sessions SET updated_at = ? WHERE id = ?", ts, sessionID)
	return err
}

// recordMilestoneTx appends an entity lifecycle event to the active
// session, starting or rolling the session as needed.
func (s *Store) recordMilestoneTx(tx *sql.Tx, eventType, entityID, entityType, summary string) error {
	sessionID, err := s.ensureActiveSessionTx(tx)
	if err != nil {
		return err
	}
	return s.appendEventTx(tx, sessionID, eventType, entityID, entityType, summary)
}
