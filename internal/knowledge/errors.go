package knowledge

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel conditions, matched with errors.Is.
var (
	// ErrNotFound reports an operation against an ID that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBusy reports lock contention that persisted through the retry
	// budget. Callers may retry the whole operation.
	ErrBusy = errors.New("database busy")
)

// ConflictError reports a unique-field collision. Field names the
// attribute, Value the rejected input, and ExistingID the entity already
// holding it when known.
type ConflictError struct {
	Field      string
	Value      string
	ExistingID string
}

func (e *ConflictError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("%s %q already in use by %s", e.Field, e.Value, e.ExistingID)
	}
	return fmt.Sprintf("%s %q already in use", e.Field, e.Value)
}

// ValidationError reports input that breaks a store rule before any write
// takes effect. StepIDs carries the unresolved steps when a plan
// completion is refused.
type ValidationError struct {
	Field   string
	Reason  string
	StepIDs []string
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if len(e.StepIDs) > 0 {
		msg += " (unresolved steps: " + strings.Join(e.StepIDs, ", ") + ")"
	}
	return msg
}

// notFoundErr wraps ErrNotFound with the entity kind and ID so callers can
// both match and report.
func notFoundErr(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure
// from the driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isBusy reports whether err looks like transient lock contention worth
// retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
