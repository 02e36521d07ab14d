package knowledge_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/HendryAvila/cortex/internal/knowledge"
)

// ─── Full Session Lifecycle ──────────────────────────────────────────────────

func TestIntegration_FullSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	// 1. Start a session for the day's work.
	sess, err := s.StartSession("Payments staging rollout", []string{"payments"})
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	// 2. Save a reusable prompt; the trigger derives from the name.
	prompt, err := s.SavePrompt(knowledge.SavePromptParams{
		Name:     "Payments Deploy",
		Template: "Deploy the payments service to {{environment}} and watch the dashboards.",
		Category: "ops",
	})
	if err != nil {
		t.Fatalf("SavePrompt error: %v", err)
	}
	if prompt.Trigger == nil || *prompt.Trigger != "/payments-deploy" {
		t.Fatalf("Trigger = %v, want /payments-deploy", prompt.Trigger)
	}

	// 3. Recall it with the variable filled in.
	rec, err := s.RecallPrompt("/payments-deploy", map[string]string{"environment": "staging"}, false)
	if err != nil {
		t.Fatalf("RecallPrompt error: %v", err)
	}
	want := "Deploy the payments service to staging and watch the dashboards."
	if rec.Text != want {
		t.Errorf("Text = %q, want %q", rec.Text, want)
	}
	if rec.Prompt.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", rec.Prompt.UsageCount)
	}

	// 4. Plan the rollout from that prompt.
	plan, err := s.CreatePlan(knowledge.CreatePlanParams{
		Title:          "Payments staging rollout",
		SourcePromptID: &prompt.ID,
		Steps: []knowledge.StepInput{
			{Title: "Run database migrations"},
			{Title: "Deploy payments to staging"},
			{Title: "Verify dashboards stay green"},
		},
	})
	if err != nil {
		t.Fatalf("CreatePlan error: %v", err)
	}
	if plan.SessionID == nil || *plan.SessionID != sess.ID {
		t.Errorf("plan SessionID = %v, want %q", plan.SessionID, sess.ID)
	}

	// 5. Capture what was learned along the way.
	if _, err := s.CreateNote(knowledge.CreateNoteParams{
		Title:   "Migration 0042 locks the ledger table",
		Content: "Run it during the low-traffic window and vacuum afterwards.",
		Tags:    []string{"payments", "migrations"},
	}); err != nil {
		t.Fatalf("CreateNote error: %v", err)
	}
	if _, err := s.CreateNote(knowledge.CreateNoteParams{
		Title:   "Staging dashboards",
		Content: "Grafana board 12 tracks payment latency and error rates.",
		Tags:    []string{"payments", "observability"},
	}); err != nil {
		t.Fatalf("CreateNote error: %v", err)
	}

	// 6. Resolve every step, then complete the plan.
	if _, err := s.UpdateStep(plan.Steps[0].ID, knowledge.UpdateStepParams{
		Status: strPtr("completed"),
		Result: strPtr("migrations ran clean"),
	}); err != nil {
		t.Fatalf("UpdateStep error: %v", err)
	}
	if _, err := s.UpdateStep(plan.Steps[1].ID, knowledge.UpdateStepParams{Status: strPtr("completed")}); err != nil {
		t.Fatalf("UpdateStep error: %v", err)
	}
	if _, err := s.UpdateStep(plan.Steps[2].ID, knowledge.UpdateStepParams{Status: strPtr("skipped")}); err != nil {
		t.Fatalf("UpdateStep error: %v", err)
	}
	done, err := s.CompletePlan(plan.ID)
	if err != nil {
		t.Fatalf("CompletePlan error: %v", err)
	}
	if done.Status != knowledge.PlanCompleted || done.CompletedAt == nil {
		t.Errorf("plan = %s/%v, want completed with timestamp", done.Status, done.CompletedAt)
	}

	// 7. One search reaches notes, prompts, plans, and history.
	results, err := s.SearchAll("payments", 0)
	if err != nil {
		t.Fatalf("SearchAll error: %v", err)
	}
	seen := map[knowledge.Kind]bool{}
	for _, r := range results {
		seen[r.Kind] = true
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score %f for %s %q outside [0,1]", r.Score, r.Kind, r.Title)
		}
	}
	for _, k := range []knowledge.Kind{knowledge.KindNote, knowledge.KindPrompt, knowledge.KindPlan, knowledge.KindEvent} {
		if !seen[k] {
			t.Errorf("SearchAll missing kind %s", k)
		}
	}
	if len(results) > 0 && results[0].Score != 1.0 {
		t.Errorf("top score = %f, want 1.0 after normalization", results[0].Score)
	}

	// 8. The timeline holds every milestone in order.
	tl, err := s.Timeline("")
	if err != nil {
		t.Fatalf("Timeline error: %v", err)
	}
	wantTypes := []string{
		knowledge.EventPromptSaved,
		knowledge.EventPlanCreated,
		knowledge.EventNoteCreated,
		knowledge.EventNoteCreated,
		knowledge.EventPlanCompleted,
	}
	if len(tl.Events) != len(wantTypes) {
		t.Fatalf("timeline has %d events, want %d", len(tl.Events), len(wantTypes))
	}
	for i, ev := range tl.Events {
		if ev.EventType != wantTypes[i] {
			t.Errorf("event %d = %s, want %s", i, ev.EventType, wantTypes[i])
		}
	}

	// 9. End the session.
	ended, err := s.EndSession("")
	if err != nil {
		t.Fatalf("EndSession error: %v", err)
	}
	if ended == nil || ended.EndedAt == nil || ended.Status != knowledge.SessionEnded {
		t.Fatalf("EndSession = %+v, want ended with timestamp", ended)
	}

	// 10. The numbers line up.
	stats, err := s.Status()
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if stats.Notes != 2 || stats.Prompts != 1 || stats.Plans != 1 {
		t.Errorf("counts = %d/%d/%d, want 2 notes, 1 prompt, 1 plan", stats.Notes, stats.Prompts, stats.Plans)
	}
	if stats.OpenPlans != 0 {
		t.Errorf("OpenPlans = %d, want 0", stats.OpenPlans)
	}
	if stats.Sessions != 1 || stats.Events != 5 {
		t.Errorf("sessions/events = %d/%d, want 1/5", stats.Sessions, stats.Events)
	}
	if stats.ActiveSession != nil {
		t.Errorf("ActiveSession = %+v, want nil after ending", stats.ActiveSession)
	}
}

// ─── FTS5 Edge Cases ─────────────────────────────────────────────────────────

func TestSearch_UnicodeContent(t *testing.T) {
	s := newTestStore(t)

	cases := []struct {
		name    string
		title   string
		content string
	}{
		{"japanese", "デプロイ手順", "ステージング環境へデプロイする手順のメモ"},
		{"accented", "Café config résumé", "Configuración del clúster en producción"},
		{"cyrillic", "Развертывание кластера", "Заметки о настройке кластера"},
		{"emoji", "Deploy 🚀 checklist", "Ship it 🎉 then watch the graphs 📈"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.CreateNote(knowledge.CreateNoteParams{Title: tc.title, Content: tc.content}); err != nil {
				t.Fatalf("CreateNote error: %v", err)
			}
			// Tokenizer coverage of non-ASCII text varies, so no result
			// counts here; indexing and querying must simply not error.
			if _, err := s.SearchNotes(tc.title, knowledge.SearchOptions{}); err != nil {
				t.Errorf("SearchNotes(%q) error: %v", tc.title, err)
			}
			if _, err := s.SearchAll(tc.content, 0); err != nil {
				t.Errorf("SearchAll(%q) error: %v", tc.content, err)
			}
		})
	}
}

func TestSearch_WhitespaceOnlyQuery(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "only note", "the only content")

	for _, q := range []string{"   ", "\t", "\n", "  \t  \n  "} {
		hits, err := s.SearchNotes(q, knowledge.SearchOptions{})
		if err != nil {
			t.Fatalf("SearchNotes(%q) error: %v", q, err)
		}
		if len(hits) != 1 {
			t.Errorf("SearchNotes(%q) = %d hits, want the recency fallback", q, len(hits))
		}
	}
}

func TestSearch_VeryLongQuery(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "short note", "short content")

	long := strings.Repeat("search term ", 500)
	if _, err := s.SearchNotes(long, knowledge.SearchOptions{}); err != nil {
		t.Errorf("SearchNotes(long query) error: %v", err)
	}
	if _, err := s.SearchAll(long, 0); err != nil {
		t.Errorf("SearchAll(long query) error: %v", err)
	}
}

func TestSearch_SQLInjectionAttempt(t *testing.T) {
	s := newTestStore(t)
	seedNote(t, s, "still standing", "tables intact")

	queries := []string{
		"'; DROP TABLE notes; --",
		`" OR 1=1 --`,
		"1; DELETE FROM sessions",
		"UNION SELECT * FROM plans",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			if _, err := s.SearchNotes(q, knowledge.SearchOptions{}); err != nil {
				t.Errorf("SearchNotes(%q) error: %v", q, err)
			}
			if _, err := s.SearchAll(q, 0); err != nil {
				t.Errorf("SearchAll(%q) error: %v", q, err)
			}
		})
	}

	// The store still works afterwards.
	notes, err := s.ListNotes(knowledge.ListNotesOptions{})
	if err != nil {
		t.Fatalf("ListNotes error: %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("ListNotes = %d notes, want 1", len(notes))
	}
}

// ─── Export / Import Consistency ─────────────────────────────────────────────

func TestIntegration_ExportImportPreservesData(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.StartSession("Fixture work", []string{"fixture"})
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}
	prompt, err := s.SavePrompt(knowledge.SavePromptParams{
		Name:     "Incident Retro",
		Template: "Walk through {{incident}} impact and follow-ups.",
		Category: "ops",
	})
	if err != nil {
		t.Fatalf("SavePrompt error: %v", err)
	}
	if _, err := s.RecallPrompt("/incident-retro", map[string]string{"incident": "INC-204"}, false); err != nil {
		t.Fatalf("RecallPrompt error: %v", err)
	}
	keep, err := s.CreateNote(knowledge.CreateNoteParams{
		Title:   "Postgres failover quirks",
		Content: "Replica promotion needs the archive command fixed first.",
		Tags:    []string{"postgres", "infra"},
	})
	if err != nil {
		t.Fatalf("CreateNote error: %v", err)
	}
	gone, err := s.CreateNote(knowledge.CreateNoteParams{Title: "Scratch thought", Content: "Probably wrong, keep for now."})
	if err != nil {
		t.Fatalf("CreateNote error: %v", err)
	}
	if _, err := s.Forget(gone.ID); err != nil {
		t.Fatalf("Forget error: %v", err)
	}
	plan, err := s.CreatePlan(knowledge.CreatePlanParams{
		Title: "Failover drill",
		Steps: []knowledge.StepInput{{Title: "Promote replica"}, {Title: "Verify archive catch-up"}},
	})
	if err != nil {
		t.Fatalf("CreatePlan error: %v", err)
	}
	if _, err := s.EndSession(""); err != nil {
		t.Fatalf("EndSession error: %v", err)
	}

	dump, err := s.Export()
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	if dump.Version != "1" {
		t.Errorf("Version = %q, want 1", dump.Version)
	}
	if dump.ExportedAt == "" {
		t.Error("ExportedAt is empty")
	}
	if len(dump.Notes) != 2 {
		t.Errorf("exported %d notes, want 2 (hidden included)", len(dump.Notes))
	}
	if len(dump.Prompts) != 1 || len(dump.Plans) != 1 || len(dump.Sessions) != 1 {
		t.Errorf("exported %d/%d/%d prompts/plans/sessions, want 1 each",
			len(dump.Prompts), len(dump.Plans), len(dump.Sessions))
	}
	if len(dump.Plans[0].Steps) != 2 {
		t.Errorf("exported plan has %d steps, want 2", len(dump.Plans[0].Steps))
	}
	if len(dump.Events) != 4 {
		t.Errorf("exported %d events, want 4", len(dump.Events))
	}

	s2 := newTestStore(t)
	res, err := s2.Import(dump)
	if err != nil {
		t.Fatalf("Import error: %v", err)
	}
	if want := (knowledge.ImportResult{Notes: 2, Prompts: 1, Plans: 1, Steps: 2, Sessions: 1, Events: 4}); res != want {
		t.Errorf("Import = %+v, want %+v", res, want)
	}

	hits, err := s2.SearchNotes("failover", knowledge.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchNotes error: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.ID == keep.ID {
			found = true
		}
	}
	if !found {
		t.Error("imported note is not searchable")
	}

	g, err := s2.GetNote(gone.ID)
	if err != nil {
		t.Fatalf("GetNote error: %v", err)
	}
	if g.Relevance != 0 {
		t.Errorf("hidden note Relevance = %f, want 0", g.Relevance)
	}
	visible, err := s2.ListNotes(knowledge.ListNotesOptions{})
	if err != nil {
		t.Fatalf("ListNotes error: %v", err)
	}
	if len(visible) != 1 {
		t.Errorf("ListNotes = %d notes, want 1 (hidden note stays hidden)", len(visible))
	}

	p2, err := s2.FindPrompt("/incident-retro")
	if err != nil {
		t.Fatalf("FindPrompt error: %v", err)
	}
	if p2.ID != prompt.ID || p2.UsageCount != 1 {
		t.Errorf("imported prompt = %s usage %d, want %s usage 1", p2.ID, p2.UsageCount, prompt.ID)
	}

	plan2, err := s2.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("GetPlan error: %v", err)
	}
	if len(plan2.Steps) != 2 || plan2.Steps[0].Title != "Promote replica" {
		t.Errorf("imported plan steps = %+v, want both in order", plan2.Steps)
	}

	tl, err := s2.Timeline(sess.ID)
	if err != nil {
		t.Fatalf("Timeline error: %v", err)
	}
	if len(tl.Events) != 4 {
		t.Errorf("imported timeline has %d events, want 4", len(tl.Events))
	}
	active, err := s2.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession error: %v", err)
	}
	if active != nil {
		t.Errorf("ActiveSession = %+v, want nil (imported session stays ended)", active)
	}

	// Importing the same dump again only skips rows.
	res2, err := s2.Import(dump)
	if err != nil {
		t.Fatalf("second Import error: %v", err)
	}
	if res2.Notes != 0 || res2.Prompts != 0 || res2.Plans != 0 || res2.Steps != 0 || res2.Sessions != 0 || res2.Events != 0 {
		t.Errorf("second Import added rows: %+v", res2)
	}
	if res2.Skipped != 9 {
		t.Errorf("second Import Skipped = %d, want 9", res2.Skipped)
	}
}

// ─── Sequential Writes ───────────────────────────────────────────────────────

func TestIntegration_SequentialWrites(t *testing.T) {
	s := newTestStore(t)

	// SQLite serializes writers; the store funnels every write through
	// one pooled connection with a busy timeout, so back-to-back writes
	// must all land.
	for i := 0; i < 25; i++ {
		if _, err := s.CreateNote(knowledge.CreateNoteParams{
			Title:   fmt.Sprintf("note %02d", i),
			Content: fmt.Sprintf("body for note %02d", i),
		}); err != nil {
			t.Fatalf("CreateNote #%d error: %v", i, err)
		}
	}

	stats, err := s.Status()
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if stats.Notes != 25 {
		t.Errorf("Notes = %d, want 25", stats.Notes)
	}
	if stats.Sessions != 1 || stats.Events != 25 {
		t.Errorf("sessions/events = %d/%d, want one session with 25 milestones", stats.Sessions, stats.Events)
	}
}

// ─── Forget + FTS Consistency ────────────────────────────────────────────────

func TestIntegration_ForgetRemovesFromSearch(t *testing.T) {
	s := newTestStore(t)

	n := seedNote(t, s, "The xylophone incident", "A xylophone-shaped outage in the metrics pipeline.")

	before, err := s.SearchAll("xylophone", 0)
	if err != nil {
		t.Fatalf("SearchAll error: %v", err)
	}
	noteHits := 0
	for _, r := range before {
		if r.Kind == knowledge.KindNote {
			noteHits++
		}
	}
	if noteHits != 1 {
		t.Fatalf("before Forget: %d note hits, want 1", noteHits)
	}

	if _, err := s.Forget(n.ID); err != nil {
		t.Fatalf("Forget error: %v", err)
	}

	// The note disappears from search; its history does not.
	after, err := s.SearchAll("xylophone", 0)
	if err != nil {
		t.Fatalf("SearchAll error: %v", err)
	}
	for _, r := range after {
		if r.Kind == knowledge.KindNote {
			t.Errorf("forgotten note still in search results: %q", r.Title)
		}
	}

	got, err := s.GetNote(n.ID)
	if err != nil {
		t.Fatalf("GetNote error: %v", err)
	}
	if got.Relevance != 0 {
		t.Errorf("Relevance = %f, want 0", got.Relevance)
	}
}
