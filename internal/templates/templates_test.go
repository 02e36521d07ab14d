package templates

import (
	"errors"
	"strings"
	"testing"
)

// --- ExtractVariables ---

func TestExtractVariables_Basic(t *testing.T) {
	vars := ExtractVariables("Review {{service}} for {{issue}} before {{deadline}}")
	want := []string{"service", "issue", "deadline"}
	if len(vars) != len(want) {
		t.Fatalf("ExtractVariables returned %v, want %v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("vars[%d] = %q, want %q", i, vars[i], want[i])
		}
	}
}

func TestExtractVariables_DedupesInFirstAppearanceOrder(t *testing.T) {
	vars := ExtractVariables("{{b}} {{a}} {{b}} {{a}} {{c}}")
	want := []string{"b", "a", "c"}
	if len(vars) != 3 {
		t.Fatalf("got %v, want %v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("vars[%d] = %q, want %q", i, vars[i], want[i])
		}
	}
}

func TestExtractVariables_MalformedBracesAreLiteral(t *testing.T) {
	cases := []struct {
		name     string
		template string
	}{
		{"single braces", "hello {name}"},
		{"unclosed", "hello {{name"},
		{"unopened", "hello name}}"},
		{"empty", "hello {{}}"},
		{"leading digit", "hello {{1st}}"},
		{"space inside", "hello {{first name}}"},
		{"hyphen inside", "hello {{first-name}}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if vars := ExtractVariables(tc.template); len(vars) != 0 {
				t.Errorf("ExtractVariables(%q) = %v, want none", tc.template, vars)
			}
		})
	}
}

func TestExtractVariables_IdentifierRules(t *testing.T) {
	vars := ExtractVariables("{{_private}} {{camelCase}} {{snake_case_2}}")
	want := []string{"_private", "camelCase", "snake_case_2"}
	if len(vars) != len(want) {
		t.Fatalf("got %v, want %v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("vars[%d] = %q, want %q", i, vars[i], want[i])
		}
	}
}

func TestExtractVariables_Empty(t *testing.T) {
	if vars := ExtractVariables(""); len(vars) != 0 {
		t.Errorf("ExtractVariables(\"\") = %v, want none", vars)
	}
	if vars := ExtractVariables("no placeholders here"); len(vars) != 0 {
		t.Errorf("got %v, want none", vars)
	}
}

// --- Render ---

func TestRender_FullFill(t *testing.T) {
	out, missing := Render("Check {{service}} on {{host}}", map[string]string{
		"service": "auth",
		"host":    "prod-1",
	})
	if out != "Check auth on prod-1" {
		t.Errorf("out = %q", out)
	}
	if len(missing) != 0 {
		t.Errorf("missing = %v, want none", missing)
	}
	// Rendered output should contain nothing left to extract.
	if vars := ExtractVariables(out); len(vars) != 0 {
		t.Errorf("rendered output still has variables: %v", vars)
	}
}

func TestRender_PartialFillKeepsPlaceholders(t *testing.T) {
	out, missing := Render("{{greeting}}, run {{checklist}} twice", map[string]string{
		"greeting": "Morning",
	})
	if !strings.Contains(out, "{{checklist}}") {
		t.Errorf("output lost the unfilled placeholder: %q", out)
	}
	if strings.Contains(out, "{{greeting}}") {
		t.Errorf("output kept a filled placeholder: %q", out)
	}
	if len(missing) != 1 || missing[0] != "checklist" {
		t.Errorf("missing = %v, want [checklist]", missing)
	}
}

func TestRender_RepeatedMissingListedOnce(t *testing.T) {
	_, missing := Render("{{x}} and {{x}} and {{y}}", nil)
	if len(missing) != 2 || missing[0] != "x" || missing[1] != "y" {
		t.Errorf("missing = %v, want [x y]", missing)
	}
}

func TestRender_ValuesInsertedVerbatim(t *testing.T) {
	out, _ := Render("{{body}}", map[string]string{"body": `<b>"raw" & unescaped</b>`})
	if out != `<b>"raw" & unescaped</b>` {
		t.Errorf("value was altered: %q", out)
	}
}

func TestRender_ValueContainingPlaceholderIsNotReexpanded(t *testing.T) {
	out, missing := Render("{{a}}", map[string]string{"a": "{{b}}"})
	if out != "{{b}}" {
		t.Errorf("out = %q, want the literal value", out)
	}
	if len(missing) != 0 {
		t.Errorf("missing = %v, want none", missing)
	}
}

// --- RenderStrict ---

func TestRenderStrict_Succeeds(t *testing.T) {
	out, err := RenderStrict("hi {{name}}", map[string]string{"name": "there"})
	if err != nil {
		t.Fatalf("RenderStrict failed: %v", err)
	}
	if out != "hi there" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderStrict_FailsWithMissingNames(t *testing.T) {
	_, err := RenderStrict("{{a}} {{b}} {{a}}", map[string]string{"b": "ok"})
	if err == nil {
		t.Fatal("expected an error for unfilled placeholders")
	}
	var missingErr *MissingVariablesError
	if !errors.As(err, &missingErr) {
		t.Fatalf("error type = %T, want *MissingVariablesError", err)
	}
	if len(missingErr.Missing) != 1 || missingErr.Missing[0] != "a" {
		t.Errorf("Missing = %v, want [a]", missingErr.Missing)
	}
	if !strings.Contains(err.Error(), "a") {
		t.Errorf("error message should name the variable: %q", err.Error())
	}
}

// --- DeriveTrigger ---

func TestDeriveTrigger(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"sec-review", "/sec-review"},
		{"Security Review", "/security-review"},
		{"DEPLOY", "/deploy"},
		{"a b c", "/a-b-c"},
		// Derivation never mangles the name beyond case and spaces;
		// invalid candidates are simply not adopted by callers.
		{"Q&A time", "/q&a-time"},
	}
	for _, tc := range cases {
		if got := DeriveTrigger(tc.name); got != tc.want {
			t.Errorf("DeriveTrigger(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

// --- ValidateTrigger ---

func TestValidateTrigger_Valid(t *testing.T) {
	reserved := []string{"help", "quit"}
	for _, trigger := range []string{"/ab", "/sec-review", "/x2", "/a" + strings.Repeat("b", 49)} {
		if err := ValidateTrigger(trigger, reserved); err != nil {
			t.Errorf("ValidateTrigger(%q) failed: %v", trigger, err)
		}
	}
}

func TestValidateTrigger_Rejections(t *testing.T) {
	reserved := []string{"help", "quit"}
	cases := []struct {
		name    string
		trigger string
		wantIn  string
	}{
		{"no slash", "review", "must start with /"},
		{"too short", "/a", "2-50"},
		{"too long", "/a" + strings.Repeat("b", 50), "2-50"},
		{"uppercase", "/Review", "lowercase"},
		{"leading hyphen", "/-review", "starting with a letter or digit"},
		{"bad chars", "/sec_review", "lowercase letters, digits, and hyphens"},
		{"reserved", "/help", "reserved"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTrigger(tc.trigger, reserved)
			if err == nil {
				t.Fatalf("ValidateTrigger(%q) should fail", tc.trigger)
			}
			if !strings.Contains(err.Error(), tc.wantIn) {
				t.Errorf("error %q should mention %q", err.Error(), tc.wantIn)
			}
		})
	}
}
