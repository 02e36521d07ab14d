// Package templates implements the placeholder engine behind saved
// prompts: variable extraction, partial and strict rendering, and the
// slash-trigger rules (derivation, format, reserved words).
//
// Templates use {{name}} placeholders. Anything that does not parse as a
// placeholder is literal text; there is no escaping and no error path in
// extraction or non-strict rendering.
package templates

import (
	"fmt"
	"regexp"
	"strings"
)

// varPattern matches a well-formed placeholder. The identifier rule is
// letter-or-underscore first, then letters, digits, underscores.
var varPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// triggerPattern is the full trigger shape: a slash, one alphanumeric,
// then 1-49 more of lowercase alphanumerics and hyphens.
var triggerPattern = regexp.MustCompile(`^/[a-z0-9][a-z0-9-]{1,49}$`)

// MissingVariablesError reports a strict render that found unfilled
// placeholders. Missing preserves first-appearance order.
type MissingVariablesError struct {
	Missing []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("templates: missing variables: %s", strings.Join(e.Missing, ", "))
}

// ExtractVariables returns the placeholder names in template,
// deduplicated, in order of first appearance. Malformed braces are
// skipped silently.
func ExtractVariables(template string) []string {
	matches := varPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	return names
}

// Render substitutes vars into template. Values are inserted as-is.
// Placeholders with no supplied value stay verbatim in the output and are
// reported in the returned missing list (deduplicated, first-appearance
// order).
func Render(template string, vars map[string]string) (string, []string) {
	var missing []string
	seen := map[string]bool{}
	out := varPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return m
	})
	return out, missing
}

// RenderStrict is Render that fails with MissingVariablesError when any
// placeholder is unfilled.
func RenderStrict(template string, vars map[string]string) (string, error) {
	out, missing := Render(template, vars)
	if len(missing) > 0 {
		return "", &MissingVariablesError{Missing: missing}
	}
	return out, nil
}

// DeriveTrigger builds a candidate trigger from a prompt name: lowercase,
// spaces to hyphens, slash prefix. The candidate is not guaranteed valid;
// callers adopt it only when ValidateTrigger passes and the trigger is
// unclaimed, and otherwise leave the trigger unset rather than mangle the
// name further.
func DeriveTrigger(name string) string {
	return "/" + strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// ValidateTrigger checks the format, length, and reserved-word rules.
// Uniqueness is the store's check, not ours. Reserved entries are bare
// bodies without the leading slash. The returned error names the rule
// that failed.
func ValidateTrigger(trigger string, reserved []string) error {
	if !strings.HasPrefix(trigger, "/") {
		return fmt.Errorf("trigger %q must start with /", trigger)
	}
	body := trigger[1:]
	if len(body) < 2 || len(body) > 50 {
		return fmt.Errorf("trigger %q must be 2-50 characters after the /", trigger)
	}
	if !triggerPattern.MatchString(trigger) {
		return fmt.Errorf("trigger %q may only contain lowercase letters, digits, and hyphens, starting with a letter or digit", trigger)
	}
	for _, r := range reserved {
		if body == r {
			return fmt.Errorf("trigger %q is reserved", trigger)
		}
	}
	return nil
}
