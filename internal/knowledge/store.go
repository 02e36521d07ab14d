// Package knowledge implements the storage-and-search engine behind
// cortex: notes, saved prompts, plans, and sessions in one SQLite
// database, each family with a synchronized FTS5 index, plus the
// relevance model and the cross-kind search merge.
//
// Every mutation runs inside a single transaction covering the entity
// row, its FTS rows, its tag rows, and any session event, so the indexes
// can never drift from the relational state.
package knowledge

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is swappable in tests to inject connection failures.
var openDB = sql.Open

// timeNow is swappable in tests to pin timestamps and session staleness.
var timeNow = time.Now

// ─── Config ──────────────────────────────────────────────────────────────────

// DefaultSessionStaleAfter bounds how old an active session may grow
// before the next write retires it and starts a fresh one.
const DefaultSessionStaleAfter = 24 * time.Hour

// DefaultReservedTriggers returns the built-in reserved trigger bodies
// (without the leading slash).
func DefaultReservedTriggers() []string {
	return []string{"help", "start", "stop", "new", "clear", "exit", "quit", "settings", "config", "debug"}
}

// Config controls store behavior. Zero values fall back to defaults.
type Config struct {
	// DataDir holds the database unless DatabasePath overrides it.
	DataDir string

	// DatabasePath is the SQLite file. Default <DataDir>/cortex.db.
	DatabasePath string

	// SessionStaleAfter is the active-session expiry threshold.
	SessionStaleAfter time.Duration

	// ReservedTriggers are rejected trigger bodies.
	ReservedTriggers []string

	// SearchLimit clamps kind-scoped search result counts.
	SearchLimit int

	// PerKindLimit clamps each kind's contribution to a unified search.
	PerKindLimit int

	// StaleAfterDays is the default window for StaleNotes.
	StaleAfterDays int
}

// DefaultConfig returns the standard configuration rooted at ~/.cortex.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataDir:           filepath.Join(home, ".cortex"),
		SessionStaleAfter: DefaultSessionStaleAfter,
		ReservedTriggers:  DefaultReservedTriggers(),
		SearchLimit:       20,
		PerKindLimit:      10,
		StaleAfterDays:    30,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// storeHooks intercept database calls so tests can inject failures at
// precise points of a transaction.
type storeHooks struct {
	exec    func(db execer, query string, args ...any) (sql.Result, error)
	query   func(db queryer, query string, args ...any) (*sql.Rows, error)
	queryIt func(db *sql.DB, query string, args ...any) rowScanner
	beginTx func(db *sql.DB) (*sql.Tx, error)
	txExec  func(tx *sql.Tx, query string, args ...any) (sql.Result, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(db execer, query string, args ...any) (sql.Result, error) {
			return db.Exec(query, args...)
		},
		query: func(db queryer, query string, args ...any) (*sql.Rows, error) {
			return db.Query(query, args...)
		},
		queryIt: func(db *sql.DB, query string, args ...any) rowScanner {
			return db.QueryRow(query, args...)
		},
		beginTx: func(db *sql.DB) (*sql.Tx, error) {
			return db.Begin()
		},
		txExec: func(tx *sql.Tx, query string, args ...any) (sql.Result, error) {
			return tx.Exec(query, args...)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

// Store is the SQLite-backed knowledge store. One instance owns one
// database file; writes are serialized by SQLite itself.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

// New opens (creating if needed) the database for cfg and applies schema
// migrations. The returned store must be closed by the caller.
func New(cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "cortex.db")
	}
	if cfg.SessionStaleAfter <= 0 {
		cfg.SessionStaleAfter = def.SessionStaleAfter
	}
	if cfg.ReservedTriggers == nil {
		cfg.ReservedTriggers = def.ReservedTriggers
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = def.SearchLimit
	}
	if cfg.PerKindLimit <= 0 {
		cfg.PerKindLimit = def.PerKindLimit
	}
	if cfg.StaleAfterDays <= 0 {
		cfg.StaleAfterDays = def.StaleAfterDays
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o700); err != nil {
		return nil, fmt.Errorf("knowledge: create data dir: %w", err)
	}

	db, err := openDB("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open database: %w", err)
	}
	// SQLite allows one writer at a time, and the pragmas below are
	// per-connection; a single pooled connection covers both.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, cfg: cfg, hooks: defaultStoreHooks()}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.execHook(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("knowledge: %s: %w", pragma, err)
		}
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("knowledge: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Config returns the effective (default-filled) configuration.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) execHook(query string, args ...any) (sql.Result, error) {
	return s.hooks.exec(s.db, query, args...)
}

func (s *Store) queryHook(query string, args ...any) (*sql.Rows, error) {
	return s.hooks.query(s.db, query, args...)
}

func (s *Store) queryRowHook(query string, args ...any) rowScanner {
	return s.hooks.queryIt(s.db, query, args...)
}

func (s *Store) txExecHook(tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return s.hooks.txExec(tx, query, args...)
}

// busyRetries is how many times a write transaction is re-attempted on
// lock contention before surfacing ErrBusy.
const busyRetries = 3

// withWrite runs fn inside one transaction. The whole unit retries on
// lock contention; any other failure rolls back and propagates as-is.
func (s *Store) withWrite(fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		tx, err := s.hooks.beginTx(s.db)
		if err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := s.hooks.commit(tx); err != nil {
			_ = tx.Rollback()
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBusy, lastErr)
}

// ─── Migrations ──────────────────────────────────────────────────────────────

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'active',
	relevance  REAL NOT NULL DEFAULT 1.0,
	tags_text  TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_category ON notes(category);
CREATE INDEX IF NOT EXISTS idx_notes_status ON notes(status);
CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at);
CREATE INDEX IF NOT EXISTS idx_notes_relevance ON notes(relevance);

CREATE TABLE IF NOT EXISTS note_tags (
	note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	tag     TEXT NOT NULL,
	UNIQUE (note_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag);

CREATE TABLE IF NOT EXISTS prompts (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	trigger      TEXT UNIQUE,
	template     TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	variables    TEXT NOT NULL DEFAULT '[]',
	usage_count  INTEGER NOT NULL DEFAULT 0,
	last_used_at TEXT,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompts_category ON prompts(category);

CREATE TABLE IF NOT EXISTS prompt_tags (
	prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
	tag       TEXT NOT NULL,
	UNIQUE (prompt_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_prompt_tags_tag ON prompt_tags(tag);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'active',
	started_at TEXT NOT NULL,
	ended_at   TEXT,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

CREATE TABLE IF NOT EXISTS session_tags (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	tag        TEXT NOT NULL,
	UNIQUE (session_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_session_tags_tag ON session_tags(tag);

CREATE TABLE IF NOT EXISTS plans (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'draft',
	source_prompt_id TEXT REFERENCES prompts(id) ON DELETE SET NULL,
	session_id       TEXT REFERENCES sessions(id) ON DELETE SET NULL,
	category         TEXT NOT NULL DEFAULT '',
	steps_text       TEXT NOT NULL DEFAULT '',
	completed_at     TEXT,
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
CREATE INDEX IF NOT EXISTS idx_plans_session ON plans(session_id);
CREATE INDEX IF NOT EXISTS idx_plans_prompt ON plans(source_prompt_id);

CREATE TABLE IF NOT EXISTS plan_tags (
	plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	tag     TEXT NOT NULL,
	UNIQUE (plan_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_plan_tags_tag ON plan_tags(tag);

CREATE TABLE IF NOT EXISTS plan_steps (
	id          TEXT PRIMARY KEY,
	plan_id     TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	result      TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	UNIQUE (plan_id, position)
);

CREATE TABLE IF NOT EXISTS session_events (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	event_type  TEXT NOT NULL,
	entity_id   TEXT NOT NULL DEFAULT '',
	entity_type TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(session_id, created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
	title, content, tags_text,
	content=notes, content_rowid=rowid,
	tokenize='porter unicode61'
);

CREATE VIRTUAL TABLE IF NOT EXISTS prompts_fts USING fts5(
	name, description, template,
	content=prompts, content_rowid=rowid,
	tokenize='porter unicode61'
);

CREATE VIRTUAL TABLE IF NOT EXISTS plans_fts USING fts5(
	title, description, steps_text,
	content=plans, content_rowid=rowid,
	tokenize='porter unicode61'
);

CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
	summary, event_type, entity_type,
	content=session_events, content_rowid=rowid,
	tokenize='porter unicode61'
);
`

// ftsTrigger pairs a trigger name with its DDL for idempotent creation.
type ftsTrigger struct {
	name string
	ddl  string
}

var ftsTriggers = []ftsTrigger{
	{"notes_ai", `CREATE TRIGGER notes_ai AFTER INSERT ON notes BEGIN
		INSERT INTO notes_fts(rowid, title, content, tags_text)
		VALUES (NEW.rowid, NEW.title, NEW.content, NEW.tags_text);
	END`},
	{"notes_ad", `CREATE TRIGGER notes_ad AFTER DELETE ON notes BEGIN
		INSERT INTO notes_fts(notes_fts, rowid, title, content, tags_text)
		VALUES ('delete', OLD.rowid, OLD.title, OLD.content, OLD.tags_text);
	END`},
	{"notes_au", `CREATE TRIGGER notes_au AFTER UPDATE ON notes BEGIN
		INSERT INTO notes_fts(notes_fts, rowid, title, content, tags_text)
		VALUES ('delete', OLD.rowid, OLD.title, OLD.content, OLD.tags_text);
		INSERT INTO notes_fts(rowid, title, content, tags_text)
		VALUES (NEW.rowid, NEW.title, NEW.content, NEW.tags_text);
	END`},
	{"prompts_ai", `CREATE TRIGGER prompts_ai AFTER INSERT ON prompts BEGIN
		INSERT INTO prompts_fts(rowid, name, description, template)
		VALUES (NEW.rowid, NEW.name, NEW.description, NEW.template);
	END`},
	{"prompts_ad", `CREATE TRIGGER prompts_ad AFTER DELETE ON prompts BEGIN
		INSERT INTO prompts_fts(prompts_fts, rowid, name, description, template)
		VALUES ('delete', OLD.rowid, OLD.name, OLD.description, OLD.template);
	END`},
	{"prompts_au", `CREATE TRIGGER prompts_au AFTER UPDATE ON prompts BEGIN
		INSERT INTO prompts_fts(prompts_fts, rowid, name, description, template)
		VALUES ('delete', OLD.rowid, OLD.name, OLD.description, OLD.template);
		INSERT INTO prompts_fts(rowid, name, description, template)
		VALUES (NEW.rowid, NEW.name, NEW.description, NEW.template);
	END`},
	{"plans_ai", `CREATE TRIGGER plans_ai AFTER INSERT ON plans BEGIN
		INSERT INTO plans_fts(rowid, title, description, steps_text)
		VALUES (NEW.rowid, NEW.title, NEW.description, NEW.steps_text);
	END`},
	{"plans_ad", `CREATE TRIGGER plans_ad AFTER DELETE ON plans BEGIN
		INSERT INTO plans_fts(plans_fts, rowid, title, description, steps_text)
		VALUES ('delete', OLD.rowid, OLD.title, OLD.description, OLD.steps_text);
	END`},
	{"plans_au", `CREATE TRIGGER plans_au AFTER UPDATE ON plans BEGIN
		INSERT INTO plans_fts(plans_fts, rowid, title, description, steps_text)
		VALUES ('delete', OLD.rowid, OLD.title, OLD.description, OLD.steps_text);
		INSERT INTO plans_fts(rowid, title, description, steps_text)
		VALUES (NEW.rowid, NEW.title, NEW.description, NEW.steps_text);
	END`},
	{"events_ai", `CREATE TRIGGER events_ai AFTER INSERT ON session_events BEGIN
		INSERT INTO events_fts(rowid, summary, event_type, entity_type)
		VALUES (NEW.rowid, NEW.summary, NEW.event_type, NEW.entity_type);
	END`},
	{"events_ad", `CREATE TRIGGER events_ad AFTER DELETE ON session_events BEGIN
		INSERT INTO events_fts(events_fts, rowid, summary, event_type, entity_type)
		VALUES ('delete', OLD.rowid, OLD.summary, OLD.event_type, OLD.entity_type);
	END`},
	{"events_au", `CREATE TRIGGER events_au AFTER UPDATE ON session_events BEGIN
		INSERT INTO events_fts(events_fts, rowid, summary, event_type, entity_type)
		VALUES ('delete', OLD.rowid, OLD.summary, OLD.event_type, OLD.entity_type);
		INSERT INTO events_fts(rowid, summary, event_type, entity_type)
		VALUES (NEW.rowid, NEW.summary, NEW.event_type, NEW.entity_type);
	END`},
}

func (s *Store) migrate() error {
	if _, err := s.execHook(schema); err != nil {
		return err
	}
	for _, t := range ftsTriggers {
		if err := s.ensureTrigger(t.name, t.ddl); err != nil {
			return fmt.Errorf("create trigger %s: %w", t.name, err)
		}
	}
	return nil
}

func (s *Store) ensureTrigger(name, ddl string) error {
	var found string
	err := s.queryRowHook("SELECT name FROM sqlite_master WHERE type = 'trigger' AND name = ?", name).Scan(&found)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = s.execHook(ddl)
	return err
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// Status returns the store-wide overview. Count failures degrade to zero
// rather than failing the whole call.
func (s *Store) Status() (Stats, error) {
	st := Stats{DatabasePath: s.cfg.DatabasePath}

	counts := []struct {
		dest  *int
		query string
	}{
		{&st.Notes, "SELECT COUNT(*) FROM notes"},
		{&st.HiddenNotes, "SELECT COUNT(*) FROM notes WHERE relevance = 0.0"},
		{&st.Prompts, "SELECT COUNT(*) FROM prompts"},
		{&st.Plans, "SELECT COUNT(*) FROM plans"},
		{&st.OpenPlans, "SELECT COUNT(*) FROM plans WHERE status IN ('draft', 'active')"},
		{&st.Sessions, "SELECT COUNT(*) FROM sessions"},
		{&st.Events, "SELECT COUNT(*) FROM session_events"},
		{&st.Tags, `SELECT COUNT(DISTINCT tag) FROM (
			SELECT tag FROM note_tags
			UNION ALL SELECT tag FROM prompt_tags
			UNION ALL SELECT tag FROM plan_tags
			UNION ALL SELECT tag FROM session_tags
		)`},
		{&st.Categories, `SELECT COUNT(DISTINCT category) FROM (
			SELECT category FROM notes WHERE category != ''
			UNION ALL SELECT category FROM prompts WHERE category != ''
			UNION ALL SELECT category FROM plans WHERE category != ''
		)`},
	}
	for _, c := range counts {
		_ = s.queryRowHook(c.query).Scan(c.dest)
	}

	if active, err := s.ActiveSession(); err == nil && active != nil {
		st.ActiveSession = active
	}

	if info, err := os.Stat(s.cfg.DatabasePath); err == nil {
		st.DatabaseBytes = info.Size()
	}
	return st, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

const timeLayout = "2006-01-02 15:04:05"

// now returns the canonical UTC timestamp string stored everywhere.
func now() string {
	return timeNow().UTC().Format(timeLayout)
}

// parseTime reads a stored timestamp back as UTC.
func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

// newID returns a fresh 12-character hex identifier.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// nullableString maps "" to NULL for optional text columns.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Truncate shortens s to at most max runes, appending an ellipsis when it
// cuts anything.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// marshalMetadata serializes a metadata map, defaulting to an empty
// object.
func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(raw), nil
}

// unmarshalMetadata tolerates malformed stored metadata by returning nil.
func unmarshalMetadata(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// dedupeTags normalizes a tag set: trimmed, lowercased, deduplicated,
// sorted.
func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// tagsText renders a tag set into the denormalized searchable column.
func tagsText(tags []string) string {
	return strings.Join(dedupeTags(tags), " ")
}

// replaceTagsTx rewrites one entity's tag rows inside tx.
func (s *Store) replaceTagsTx(tx *sql.Tx, table, idCol, id string, tags []string) error {
	if _, err := s.txExecHook(tx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, idCol), id); err != nil {
		return err
	}
	for _, tag := range dedupeTags(tags) {
		if _, err := s.txExecHook(tx, fmt.Sprintf("INSERT INTO %s (%s, tag) VALUES (?, ?)", table, idCol), id, tag); err != nil {
			return err
		}
	}
	return nil
}

// loadTagsFor batch-loads tags for a page of entity IDs.
func (s *Store) loadTagsFor(table, idCol string, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.queryHook(fmt.Sprintf("SELECT %s, tag FROM %s WHERE %s IN (%s) ORDER BY tag", idCol, table, idCol, placeholders(len(ids))), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string, len(ids))
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

// loadTags fetches one entity's tags, sorted for stable output.
func (s *Store) loadTags(table, idCol, id string) ([]string, error) {
	rows, err := s.queryHook(fmt.Sprintf("SELECT tag FROM %s WHERE %s = ? ORDER BY tag", table, idCol), id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// labelCounts runs a GROUP BY count query and collects ordered results.
func (s *Store) labelCounts(query string, args ...any) ([]LabelCount, error) {
	rows, err := s.queryHook(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

// placeholders renders n comma-separated SQL parameter markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// tagFilter builds an AND-semantics subquery clause: the outer row
// matches only when it carries every requested tag.
func tagFilter(outerID, table, idCol string, tags []string) (string, []any) {
	tags = dedupeTags(tags)
	if len(tags) == 0 {
		return "", nil
	}
	args := make([]any, 0, len(tags)+1)
	for _, t := range tags {
		args = append(args, t)
	}
	args = append(args, len(tags))
	clause := fmt.Sprintf(
		" AND %s IN (SELECT %s FROM %s WHERE tag IN (%s) GROUP BY %s HAVING COUNT(DISTINCT tag) = ?)",
		outerID, idCol, table, placeholders(len(tags)), idCol,
	)
	return clause, args
}

// limitOffset appends the standard LIMIT/OFFSET tail for list queries.
func limitOffset(args *[]any, limit, offset int) string {
	if limit <= 0 {
		limit = 50
	}
	*args = append(*args, limit)
	clause := " LIMIT ?"
	if offset > 0 {
		clause += " OFFSET ?"
		*args = append(*args, offset)
	}
	return clause
}

// deleteByID removes one row, reporting ErrNotFound when nothing matched.
func (s *Store) deleteByID(table, what, id string) error {
	return s.withWrite(func(tx *sql.Tx) error {
		res, err := s.txExecHook(tx, "DELETE FROM "+table+" WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return notFoundErr(what, id)
		}
		return nil
	})
}
