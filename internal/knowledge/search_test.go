package knowledge_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/cortex/internal/knowledge"
)

// ─── Query building ──────────────────────────────────────────────────────────

func TestBuildFTSQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"docker compose", `"docker" "compose"`},
		{"redis OR postgres", `"redis" OR "postgres"`},
		{"alpha NOT beta", `"alpha" NOT "beta"`},
		{`"connection pool" timeout`, `"connection pool" "timeout"`},
		{`broken "quote`, `"broken" "quote"`},
		{"c++ (hack) [x]", `"c++" "hack" "x"`},
		{"^caret:colon*star", `"caret" "colon" "star"`},
		{"***", ""},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := knowledge.BuildFTSQuery(tc.in); got != tc.want {
			t.Errorf("BuildFTSQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractTagFilters(t *testing.T) {
	tags, remaining := knowledge.ExtractTagFilters("deploy tag:Infra tag:k8s pipeline")
	if len(tags) != 2 || tags[0] != "infra" || tags[1] != "k8s" {
		t.Errorf("tags = %v, want [infra k8s] lowercased", tags)
	}
	if got := strings.Join(strings.Fields(remaining), " "); got != "deploy pipeline" {
		t.Errorf("remaining = %q, want %q", got, "deploy pipeline")
	}
}

// ─── Note search ─────────────────────────────────────────────────────────────

func TestSearchNotes_MatchesWithSnippet(t *testing.T) {
	s := newTestStore(t)
	n := seedNote(t, s, "postgres vacuum tuning", "raise autovacuum thresholds for large tables")

	hits, err := s.SearchNotes("autovacuum", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchNotes error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	h := hits[0]
	if h.Kind != knowledge.KindNote || h.ID != n.ID {
		t.Errorf("hit = %+v, want the note", h)
	}
	if h.Score <= 0 {
		t.Errorf("Score = %v, want > 0", h.Score)
	}
	if !strings.Contains(h.Snippet, ">>>autovacuum<<<") {
		t.Errorf("Snippet = %q, want the match marked", h.Snippet)
	}
}

func TestSearchNotes_TitleOutranksContent(t *testing.T) {
	s := newTestStore(t)
	inTitle := seedNote(t, s, "docker tips", "miscellaneous advice")
	seedNote(t, s, "misc notes", "docker is useful for local dev")

	hits, err := s.SearchNotes("docker", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchNotes error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != inTitle.ID {
		t.Errorf("first hit = %q, want the title match", hits[0].Title)
	}
}

func TestSearchNotes_RelevanceScalesRanking(t *testing.T) {
	s := newTestStore(t)
	strong := seedNote(t, s, "kafka alpha", "notes")
	weak := seedNote(t, s, "kafka bravo", "notes")
	if _, err := s.SetRelevance(weak.ID, 0.2); err != nil {
		t.Fatalf("SetRelevance error: %v", err)
	}

	hits, err := s.SearchNotes("kafka", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchNotes error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != strong.ID {
		t.Errorf("first hit = %q, want the full-relevance note", hits[0].Title)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores = %v/%v, want the down-weighted note scored lower", hits[0].Score, hits[1].Score)
	}
}

func TestSearchNotes_PhraseQuery(t *testing.T) {
	s := newTestStore(t)
	exact := seedNote(t, s, "db incident", "saw connection pool exhaustion at peak")
	seedNote(t, s, "db reading", "a pool of connection objects avoids exhaustion")

	hits, err := s.SearchNotes(`"connection pool"`, knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchNotes error: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != exact.ID {
		t.Errorf("phrase hits = %v, want only the adjacent match", hits)
	}
}

func TestSearchNotes_BooleanOperators(t *testing.T) {
	s := newTestStore(t)
	only := seedNote(t, s, "grafana dashboards", "alerting and panels")
	seedNote(t, s, "grafana loki setup", "log aggregation")

	hits, err := s.SearchNotes("grafana NOT loki", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchNotes error: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != only.ID {
		t.Errorf("NOT hits = %v, want the loki-free note", hits)
	}
}

func TestSearchNotes_InlineTagToken(t *testing.T) {
	s := newTestStore(t)
	tagged := seedNote(t, s, "deploy pipeline", "ci config", "infra")
	seedNote(t, s, "deploy script", "bash helper", "tools")

	hits, err := s.SearchNotes("deploy tag:INFRA", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchNotes error: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != tagged.ID {
		t.Errorf("tag-filtered hits = %v, want only the infra note", hits)
	}
}

func TestSearchNotes_SpecialCharactersSafe(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "plain note", "plain content")

	queries := []string{
		"(unbalanced",
		`stray "quote inside`,
		"{braces} and [brackets]",
		"^caret * star : colon",
		"what? the?",
	}
	for _, q := range queries {
		if _, err := s.SearchNotes(q, knowledge.SearchOptions{}); err != nil {
			t.Errorf("SearchNotes(%q) error: %v", q, err)
		}
	}
}

func TestSearchNotes_MisplacedOperatorsMeanNoMatches(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "alpha note", "alpha content")

	// AND/OR/NOT pass through as operators, so these reach FTS5 in
	// positions its grammar rejects. The whole query reads as no
	// matches rather than an error.
	for _, q := range []string{"OR alpha", "alpha AND", "NOT", "alpha OR OR beta"} {
		hits, err := s.SearchNotes(q, knowledge.SearchOptions{})
		if err != nil {
			t.Fatalf("SearchNotes(%q) error: %v", q, err)
		}
		if len(hits) != 0 {
			t.Errorf("SearchNotes(%q) = %d hits, want none", q, len(hits))
		}
	}
}

func TestSearchNotes_EmptyQueryListsRecent(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	advance := fakeClock(t, start)

	seedNote(t, s, "older", "body")
	advance(start.Add(1 * time.Minute))
	newer := seedNote(t, s, "newer", "body")

	for _, q := range []string{"", "   ", "***"} {
		hits, err := s.SearchNotes(q, knowledge.SearchOptions{})
		if err != nil {
			t.Fatalf("SearchNotes(%q) error: %v", q, err)
		}
		if len(hits) != 2 {
			t.Fatalf("SearchNotes(%q) = %d hits, want 2", q, len(hits))
		}
		if hits[0].ID != newer.ID {
			t.Errorf("SearchNotes(%q) first = %q, want newest updated", q, hits[0].Title)
		}
		if hits[0].Score != 0 || hits[1].Score != 0 {
			t.Errorf("SearchNotes(%q) scores = %v/%v, want 0 for recency listing", q, hits[0].Score, hits[1].Score)
		}
	}
}

func TestSearchNotes_FiltersApply(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateNote(knowledge.CreateNoteParams{
		Title: "nginx tls", Content: "cert rotation", Category: "infra",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateNote(knowledge.CreateNoteParams{
		Title: "nginx caching", Content: "proxy cache", Category: "performance",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	hits, err := s.SearchNotes("nginx", knowledge.SearchOptions{Category: "infra"})
	if err != nil {
		t.Fatalf("SearchNotes error: %v", err)
	}
	if len(hits) != 1 || hits[0].Title != "nginx tls" {
		t.Errorf("category-scoped hits = %v, want only the infra note", hits)
	}
}

// ─── Prompt / plan / event search ────────────────────────────────────────────

func TestSearchPrompts_MatchesAndUsageFallback(t *testing.T) {
	s := newTestStore(t)
	seedPrompt(t, s, "incident-runbook", "check pagerduty escalations for {{service}}")
	seedPrompt(t, s, "retro-agenda", "what went well in {{sprint}}")

	hits, err := s.SearchPrompts("pagerduty", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchPrompts error: %v", err)
	}
	if len(hits) != 1 || hits[0].Title != "incident-runbook" {
		t.Errorf("hits = %v, want the runbook", hits)
	}
	if hits[0].Kind != knowledge.KindPrompt {
		t.Errorf("Kind = %q, want prompt", hits[0].Kind)
	}

	// Empty query lists by usage
	if _, err := s.RecallPrompt("retro-agenda", map[string]string{"sprint": "14"}, false); err != nil {
		t.Fatalf("RecallPrompt error: %v", err)
	}
	recent, err := s.SearchPrompts("", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchPrompts error: %v", err)
	}
	if len(recent) != 2 || recent[0].Title != "retro-agenda" {
		t.Errorf("usage fallback = %v, want the recalled prompt first", recent)
	}
}

func TestSearchPlans_IndexesStepText(t *testing.T) {
	s := newTestStore(t)
	p := seedPlan(t, s, "release train", "bump changelog", "tag docker image")

	hits, err := s.SearchPlans("changelog", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchPlans error: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != p.ID {
		t.Errorf("hits = %v, want the plan via its step title", hits)
	}

	// Renaming the step moves the index with it
	if _, err := s.UpdateStep(p.Steps[0].ID, knowledge.UpdateStepParams{Title: strPtr("write blog post")}); err != nil {
		t.Fatalf("UpdateStep error: %v", err)
	}
	hits, err = s.SearchPlans("changelog", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchPlans error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("stale step text still indexed: %v", hits)
	}
	hits, err = s.SearchPlans("blog", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchPlans error: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("renamed step not searchable: %v", hits)
	}
}

func TestSearchEvents_MatchesSummaries(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "kafka consumer lag fix", "raise fetch size")

	hits, err := s.SearchEvents("kafka", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchEvents error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Kind != knowledge.KindEvent {
		t.Errorf("Kind = %q, want event", hits[0].Kind)
	}
	if !strings.Contains(hits[0].Snippet, ">>>kafka<<<") {
		t.Errorf("Snippet = %q, want the match marked", hits[0].Snippet)
	}
}

func TestSearch_DispatchesByKind(t *testing.T) {
	s := newTestStore(t)
	seedPrompt(t, s, "ansible-check", "lint {{playbook}}")

	hits, err := s.Search(knowledge.KindPrompt, "ansible", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(hits) != 1 || hits[0].Kind != knowledge.KindPrompt {
		t.Errorf("hits = %v, want one prompt", hits)
	}

	var ve *knowledge.ValidationError
	if _, err := s.Search(knowledge.Kind("widget"), "x", knowledge.SearchOptions{}); !errors.As(err, &ve) {
		t.Errorf("got %v, want ValidationError for unknown kind", err)
	}
}

// ─── Unified search ──────────────────────────────────────────────────────────

func TestSearchAll_MergesAcrossKinds(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "terraform drift detection", "schedule plan runs nightly")
	seedPrompt(t, s, "terraform-review", "review the terraform diff for {{env}}")
	seedPlan(t, s, "terraform module upgrade", "pin providers")

	results, err := s.SearchAll("terraform", 0)
	if err != nil {
		t.Fatalf("SearchAll error: %v", err)
	}

	kinds := map[knowledge.Kind]bool{}
	for _, r := range results {
		kinds[r.Kind] = true
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("result %q score = %v, want within [0,1]", r.Title, r.Score)
		}
	}
	for _, want := range []knowledge.Kind{knowledge.KindNote, knowledge.KindPrompt, knowledge.KindPlan, knowledge.KindEvent} {
		if !kinds[want] {
			t.Errorf("no %s result in unified search", want)
		}
	}
}

func TestSearchAll_Deterministic(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "vault secrets rotation", "rotate monthly")
	seedNote(t, s, "vault policies", "least privilege")
	seedPrompt(t, s, "vault-audit", "audit {{path}} access")
	seedPlan(t, s, "vault migration", "inventory secrets", "cut over")

	first, err := s.SearchAll("vault", 0)
	if err != nil {
		t.Fatalf("SearchAll error: %v", err)
	}
	second, err := s.SearchAll("vault", 0)
	if err != nil {
		t.Fatalf("SearchAll error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical queries returned different orders:\n%v\n%v", first, second)
	}
	if len(first) == 0 {
		t.Fatal("no results for seeded query")
	}
}

func TestSearchAll_ExcludesHiddenNotes(t *testing.T) {
	s := newTestStore(t)
	n := seedNote(t, s, "obsolete consul setup", "old cluster layout")
	if _, err := s.Forget(n.ID); err != nil {
		t.Fatalf("Forget error: %v", err)
	}

	results, err := s.SearchAll("consul", 0)
	if err != nil {
		t.Fatalf("SearchAll error: %v", err)
	}
	for _, r := range results {
		if r.Kind == knowledge.KindNote {
			t.Errorf("hidden note surfaced in unified search: %+v", r)
		}
	}
}

func TestSearchAll_PerKindLimit(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "widget one", "body")
	seedNote(t, s, "widget two", "body")
	seedNote(t, s, "widget three", "body")

	results, err := s.SearchAll("widget", 2)
	if err != nil {
		t.Fatalf("SearchAll error: %v", err)
	}
	noteHits := 0
	for _, r := range results {
		if r.Kind == knowledge.KindNote {
			noteHits++
		}
	}
	if noteHits != 2 {
		t.Errorf("note results = %d, want clamped to 2", noteHits)
	}
}

// ─── Related notes ───────────────────────────────────────────────────────────

func TestRelatedNotes(t *testing.T) {
	s := newTestStore(t)
	a := seedNote(t, s, "docker compose networking", "bridge networks", "containers")
	b := seedNote(t, s, "docker volume mounts", "bind vs named", "containers")
	seedNote(t, s, "postgres tuning", "work_mem sizing")

	related, err := s.RelatedNotes(a.ID, 0)
	if err != nil {
		t.Fatalf("RelatedNotes error: %v", err)
	}
	if len(related) != 1 {
		t.Fatalf("got %d related, want 1: %v", len(related), related)
	}
	if related[0].ID != b.ID {
		t.Errorf("related = %q, want the sibling docker note", related[0].Title)
	}
	for _, h := range related {
		if h.ID == a.ID {
			t.Error("note related to itself")
		}
	}
}

func TestRelatedNotes_NoMeaningfulTerms(t *testing.T) {
	s := newTestStore(t)
	n := seedNote(t, s, "of the it", "stopword-only title")

	related, err := s.RelatedNotes(n.ID, 0)
	if err != nil {
		t.Fatalf("RelatedNotes error: %v", err)
	}
	if len(related) != 0 {
		t.Errorf("related = %v, want none", related)
	}
}

// ─── Label overviews ─────────────────────────────────────────────────────────

func TestListTags(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "note", "body", "go")
	if _, err := s.SavePrompt(knowledge.SavePromptParams{
		Name: "helper", Template: "t", Tags: []string{"go", "mcp"},
	}); err != nil {
		t.Fatalf("SavePrompt error: %v", err)
	}
	if _, err := s.StartSession("focus time", []string{"focus"}); err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	all, err := s.ListTags("")
	if err != nil {
		t.Fatalf("ListTags error: %v", err)
	}
	if len(all) != 3 || all[0].Label != "go" || all[0].Count != 2 {
		t.Errorf("union tags = %+v, want go x2 first of 3", all)
	}

	prompts, err := s.ListTags("prompt")
	if err != nil {
		t.Fatalf("ListTags error: %v", err)
	}
	if len(prompts) != 2 {
		t.Errorf("prompt tags = %+v, want [go mcp]", prompts)
	}

	var ve *knowledge.ValidationError
	if _, err := s.ListTags("widget"); !errors.As(err, &ve) {
		t.Errorf("got %v, want ValidationError", err)
	}
}

func TestListCategories(t *testing.T) {
	s := newTestStore(t)
	for _, title := range []string{"one", "two"} {
		if _, err := s.CreateNote(knowledge.CreateNoteParams{
			Title: title, Content: "c", Category: "infra",
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.SavePrompt(knowledge.SavePromptParams{
		Name: "ritual", Template: "t", Category: "process",
	}); err != nil {
		t.Fatalf("SavePrompt error: %v", err)
	}

	all, err := s.ListCategories("")
	if err != nil {
		t.Fatalf("ListCategories error: %v", err)
	}
	if len(all) != 2 || all[0].Label != "infra" || all[0].Count != 2 {
		t.Errorf("union categories = %+v, want infra x2 first", all)
	}

	notes, err := s.ListCategories("note")
	if err != nil {
		t.Fatalf("ListCategories error: %v", err)
	}
	if len(notes) != 1 || notes[0].Label != "infra" {
		t.Errorf("note categories = %+v, want [infra]", notes)
	}

	var ve *knowledge.ValidationError
	if _, err := s.ListCategories("session"); !errors.As(err, &ve) {
		t.Errorf("got %v, want ValidationError for sessions", err)
	}
}
