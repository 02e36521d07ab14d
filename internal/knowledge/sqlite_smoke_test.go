package knowledge_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestSQLiteSmokeTest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "smoke.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	// Pragmas bind to the connection that ran them; pin the pool to one
	// connection so the checks below see the same state the Exec set.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("failed to enable WAL mode: %v", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected WAL mode, got %q", mode)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("failed to query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fk)
	}
}

func TestFTS5SmokeTest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fts5.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	// Same shape the store uses: TEXT primary keys, with the FTS index
	// keyed on the table's implicit rowid.
	_, err = db.Exec(`CREATE TABLE notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("failed to create notes table: %v", err)
	}

	_, err = db.Exec(`CREATE VIRTUAL TABLE notes_fts USING fts5(
		title, content, content=notes, content_rowid=rowid,
		tokenize='porter unicode61'
	)`)
	if err != nil {
		t.Fatalf("failed to create FTS5 table: %v", err)
	}

	_, err = db.Exec(`
		CREATE TRIGGER notes_ai AFTER INSERT ON notes BEGIN
			INSERT INTO notes_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END;
		CREATE TRIGGER notes_ad AFTER DELETE ON notes BEGIN
			INSERT INTO notes_fts(notes_fts, rowid, title, content) VALUES('delete', old.rowid, old.title, old.content);
		END;
		CREATE TRIGGER notes_au AFTER UPDATE ON notes BEGIN
			INSERT INTO notes_fts(notes_fts, rowid, title, content) VALUES('delete', old.rowid, old.title, old.content);
			INSERT INTO notes_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END;
	`)
	if err != nil {
		t.Fatalf("failed to create FTS5 triggers: %v", err)
	}

	notes := []struct {
		id, title, content string
	}{
		{"n1", "JWT auth notes", "Refresh tokens rotate hourly on the gateway"},
		{"n2", "Deploying the search service", "Rollouts run through the staging pipeline first"},
		{"n3", "Plan step conventions", "Steps stay terse and start with a verb"},
		{"n4", "Session recap format", "Recaps list milestones oldest first"},
	}
	for _, n := range notes {
		if _, err := db.Exec("INSERT INTO notes (id, title, content) VALUES (?, ?, ?)", n.id, n.title, n.content); err != nil {
			t.Fatalf("failed to insert note %q: %v", n.id, err)
		}
	}

	tests := []struct {
		name    string
		query   string
		wantMin int // minimum expected results
	}{
		{"single word", `"JWT"`, 1},
		{"porter stem", `"deploy"`, 1}, // matches "Deploying" via the stemmer
		{"phrase", `"staging pipeline"`, 1},
		{"boolean", `"milestones" OR "verb"`, 2},
		{"no match", `"kubernetes"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := db.Query(
				"SELECT n.id, n.title FROM notes n JOIN notes_fts f ON n.rowid = f.rowid WHERE notes_fts MATCH ? ORDER BY rank",
				tt.query,
			)
			if err != nil {
				t.Fatalf("FTS5 search failed for %q: %v", tt.query, err)
			}
			defer rows.Close()

			var count int
			for rows.Next() {
				var id, title string
				if err := rows.Scan(&id, &title); err != nil {
					t.Fatalf("failed to scan result: %v", err)
				}
				count++
			}
			if err := rows.Err(); err != nil {
				t.Fatalf("rows iteration error: %v", err)
			}

			if count < tt.wantMin {
				t.Errorf("query %q: got %d results, want at least %d", tt.query, count, tt.wantMin)
			}
		})
	}

	// The update and delete triggers must keep the external-content
	// index honest.
	ftsCount := func(q string) int {
		var c int
		if err := db.QueryRow("SELECT count(*) FROM notes_fts WHERE notes_fts MATCH ?", q).Scan(&c); err != nil {
			t.Fatalf("count for %q failed: %v", q, err)
		}
		return c
	}
	if _, err := db.Exec("UPDATE notes SET content = ? WHERE id = ?", "Rollouts now go straight to production", "n2"); err != nil {
		t.Fatalf("failed to update note: %v", err)
	}
	if got := ftsCount(`"staging"`); got != 0 {
		t.Errorf("after update: %d matches for old content, want 0", got)
	}
	if got := ftsCount(`"production"`); got != 1 {
		t.Errorf("after update: %d matches for new content, want 1", got)
	}
	if _, err := db.Exec("DELETE FROM notes WHERE id = ?", "n2"); err != nil {
		t.Fatalf("failed to delete note: %v", err)
	}
	if got := ftsCount(`"production"`); got != 0 {
		t.Errorf("after delete: %d matches, want 0", got)
	}
}

func TestFTS5SpecialCharsSanitization(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fts5_special.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE notes (id TEXT PRIMARY KEY, content TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	_, err = db.Exec(`CREATE VIRTUAL TABLE notes_fts USING fts5(content, content=notes, content_rowid=rowid, tokenize='porter unicode61')`)
	if err != nil {
		t.Fatalf("failed to create FTS5 table: %v", err)
	}

	_, err = db.Exec(`
		CREATE TRIGGER notes_ai AFTER INSERT ON notes BEGIN
			INSERT INTO notes_fts(rowid, content) VALUES (new.rowid, new.content);
		END;
	`)
	if err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	if _, err := db.Exec("INSERT INTO notes (id, content) VALUES (?, ?)", "n1", "hello world test data"); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	// Raw MATCH strings as a user might type them. Some are allowed to
	// error; none may take the driver down.
	rawQueries := []string{
		`fix auth bug`,
		`hello*`,
		`"hello world"`,
		`hello OR world`,
		`hello AND world`,
	}

	for _, q := range rawQueries {
		t.Run(q, func(t *testing.T) {
			rows, err := db.Query("SELECT content FROM notes_fts WHERE notes_fts MATCH ?", q)
			if err != nil {
				t.Logf("query %q rejected: %v", q, err)
				return
			}
			defer rows.Close()
			for rows.Next() {
				var content string
				_ = rows.Scan(&content)
			}
		})
	}
}

func TestSQLiteBusyTimeout(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "busy.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		t.Fatalf("failed to set busy_timeout: %v", err)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("failed to query busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", timeout)
	}
}
