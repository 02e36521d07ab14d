package knowledge

import (
	"database/sql"
	"time"
)

// DB exposes the internal *sql.DB for test helpers in knowledge_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetTxExecHook replaces the in-transaction exec hook so tests can fail
// one precise statement and observe the rollback. Passing nil restores
// the default.
func (s *Store) SetTxExecHook(fn func(tx *sql.Tx, query string, args ...any) (sql.Result, error)) {
	if fn == nil {
		s.hooks.txExec = defaultStoreHooks().txExec
		return
	}
	s.hooks.txExec = fn
}

// DefaultTxExec is the unhooked in-transaction exec, for hooks that pass
// most statements through.
func DefaultTxExec(tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return tx.Exec(query, args...)
}

// SetTimeNow pins the store clock. Passing nil restores the wall clock.
func SetTimeNow(fn func() time.Time) {
	if fn == nil {
		timeNow = time.Now
		return
	}
	timeNow = fn
}

// BuildFTSQuery exposes the match-expression builder for direct tests.
func BuildFTSQuery(query string) string {
	return buildFTSQuery(query)
}
