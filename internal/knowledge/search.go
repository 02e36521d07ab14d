package knowledge

import (
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	tagTokenPattern = regexp.MustCompile(`(?i)\btag:(\S+)`)
	phrasePattern   = regexp.MustCompile(`"[^"]*"`)
	ftsSpecials     = regexp.MustCompile(`[\^\*\(\)\{\}\[\]:]`)
	stashPattern    = regexp.MustCompile("\x00(\\d+)\x00")
	nonSpacePattern = regexp.MustCompile(`\S+`)
	wordPattern     = regexp.MustCompile(`[A-Za-z0-9]+`)
)

// ExtractTagFilters splits tag:<name> tokens out of a raw query. The
// returned tags are lowercased; the remaining text is what should be
// matched against the index.
func ExtractTagFilters(query string) ([]string, string) {
	var tags []string
	for _, m := range tagTokenPattern.FindAllStringSubmatch(query, -1) {
		tags = append(tags, strings.ToLower(m[1]))
	}
	return tags, tagTokenPattern.ReplaceAllString(query, "")
}

// sanitizeFTSQuery strips FTS5 syntax that users never mean literally.
// Balanced quoted phrases survive; an odd quote count drops all quotes;
// the caret/star/bracket operators are blanked outside phrases.
func sanitizeFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	if strings.Count(query, `"`)%2 == 1 {
		query = strings.ReplaceAll(query, `"`, "")
	}
	var phrases []string
	query = phrasePattern.ReplaceAllStringFunc(query, func(m string) string {
		phrases = append(phrases, m)
		return fmt.Sprintf("\x00%d\x00", len(phrases)-1)
	})
	query = ftsSpecials.ReplaceAllString(query, " ")
	query = stashPattern.ReplaceAllStringFunc(query, func(m string) string {
		i, err := strconv.Atoi(stashPattern.FindStringSubmatch(m)[1])
		if err != nil || i >= len(phrases) {
			return ""
		}
		return phrases[i]
	})
	return strings.Join(strings.Fields(query), " ")
}

type queryToken struct {
	pos  int
	text string
}

// buildFTSQuery turns free text into a safe FTS5 MATCH expression.
// Quoted phrases and the AND/OR/NOT operators pass through verbatim;
// every other token is quoted so stray input can never become syntax.
// An empty result means the caller should fall back to a recency
// listing.
func buildFTSQuery(query string) string {
	query = sanitizeFTSQuery(query)
	if query == "" {
		return ""
	}

	var tokens []queryToken
	for _, loc := range phrasePattern.FindAllStringIndex(query, -1) {
		tokens = append(tokens, queryToken{loc[0], query[loc[0]:loc[1]]})
	}
	blanked := phrasePattern.ReplaceAllStringFunc(query, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
	for _, loc := range nonSpacePattern.FindAllStringIndex(blanked, -1) {
		tokens = append(tokens, queryToken{loc[0], blanked[loc[0]:loc[1]]})
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].pos < tokens[j].pos })

	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch {
		case tok.text == "AND" || tok.text == "OR" || tok.text == "NOT":
			parts = append(parts, tok.text)
		case strings.HasPrefix(tok.text, `"`):
			parts = append(parts, tok.text)
		default:
			parts = append(parts, `"`+tok.text+`"`)
		}
	}
	return strings.Join(parts, " ")
}

// ignoreFTSSyntax nils out FTS5 MATCH syntax errors. buildFTSQuery
// keeps AND/OR/NOT verbatim, so input such as a leading OR still
// reaches the parser malformed; a query FTS5 cannot parse means no
// matches, not a failed search.
func ignoreFTSSyntax(err error) error {
	if err != nil && strings.Contains(err.Error(), "fts5: syntax error") {
		return nil
	}
	return err
}

// ─── Kind-scoped search ──────────────────────────────────────────────────────

// Search runs a ranked full-text search over one entity kind.
func (s *Store) Search(kind Kind, query string, opts SearchOptions) ([]SearchHit, error) {
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}
	switch kind {
	case KindNote:
		return s.SearchNotes(query, opts)
	case KindPrompt:
		return s.SearchPrompts(query, opts)
	case KindPlan:
		return s.SearchPlans(query, opts)
	default:
		return s.SearchEvents(query, opts)
	}
}

// SearchNotes matches notes by title, content, and tags. Ranking weights
// the title over tags over body, scaled by each note's relevance; notes
// at relevance 0.0 never appear. An empty or all-syntax query lists
// recent notes instead.
func (s *Store) SearchNotes(query string, opts SearchOptions) ([]SearchHit, error) {
	inlineTags, remaining := ExtractTagFilters(query)
	tags := append(append([]string{}, opts.Tags...), inlineTags...)
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	match := buildFTSQuery(remaining)
	if match == "" {
		return s.recentNotes(opts, tags, limit)
	}

	q := `SELECT notes.id, notes.title,
		snippet(notes_fts, 1, '>>>', '<<<', '...', 32),
		bm25(notes_fts, 3.0, 1.0, 2.0),
		notes.relevance, notes.created_at
	FROM notes_fts
	JOIN notes ON notes.rowid = notes_fts.rowid
	WHERE notes_fts MATCH ? AND notes.relevance > 0.0`
	args := []any{match}
	if opts.Status != "" {
		q += " AND notes.status = ?"
		args = append(args, opts.Status)
	}
	if opts.Category != "" {
		q += " AND notes.category = ?"
		args = append(args, opts.Category)
	}
	if clause, cargs := tagFilter("notes.id", "note_tags", "note_id", tags); clause != "" {
		q += clause
		args = append(args, cargs...)
	}
	q += " ORDER BY (bm25(notes_fts, 3.0, 1.0, 2.0) * notes.relevance), notes.created_at DESC, notes.id"
	q += " LIMIT ?"
	args = append(args, limit)
	if opts.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.queryHook(q, args...)
	if err != nil {
		return nil, ignoreFTSSyntax(err)
	}
	defer func() { _ = rows.Close() }()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var raw, relevance float64
		if err := rows.Scan(&h.ID, &h.Title, &h.Snippet, &raw, &relevance, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Kind = KindNote
		h.Score = math.Abs(raw) * relevance
		hits = append(hits, h)
	}
	return hits, ignoreFTSSyntax(rows.Err())
}

func (s *Store) recentNotes(opts SearchOptions, tags []string, limit int) ([]SearchHit, error) {
	q := "SELECT id, title, created_at FROM notes WHERE relevance > 0.0"
	var args []any
	if opts.Status != "" {
		q += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Category != "" {
		q += " AND category = ?"
		args = append(args, opts.Category)
	}
	if clause, cargs := tagFilter("notes.id", "note_tags", "note_id", tags); clause != "" {
		q += clause
		args = append(args, cargs...)
	}
	q += " ORDER BY updated_at DESC, id LIMIT ?"
	args = append(args, limit)
	if opts.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return s.scanRecent(q, KindNote, args...)
}

// SearchPrompts matches saved prompts by name, description, and template
// body, the name weighted heaviest.
func (s *Store) SearchPrompts(query string, opts SearchOptions) ([]SearchHit, error) {
	inlineTags, remaining := ExtractTagFilters(query)
	tags := append(append([]string{}, opts.Tags...), inlineTags...)
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	match := buildFTSQuery(remaining)
	if match == "" {
		q := "SELECT id, name, created_at FROM prompts WHERE 1=1"
		var args []any
		if opts.Category != "" {
			q += " AND category = ?"
			args = append(args, opts.Category)
		}
		if clause, cargs := tagFilter("prompts.id", "prompt_tags", "prompt_id", tags); clause != "" {
			q += clause
			args = append(args, cargs...)
		}
		q += " ORDER BY usage_count DESC, name LIMIT ?"
		args = append(args, limit)
		return s.scanRecent(q, KindPrompt, args...)
	}

	q := `SELECT prompts.id, prompts.name,
		snippet(prompts_fts, -1, '>>>', '<<<', '...', 32),
		bm25(prompts_fts, 4.0, 2.0, 1.0),
		prompts.created_at
	FROM prompts_fts
	JOIN prompts ON prompts.rowid = prompts_fts.rowid
	WHERE prompts_fts MATCH ?`
	args := []any{match}
	if opts.Category != "" {
		q += " AND prompts.category = ?"
		args = append(args, opts.Category)
	}
	if clause, cargs := tagFilter("prompts.id", "prompt_tags", "prompt_id", tags); clause != "" {
		q += clause
		args = append(args, cargs...)
	}
	q += " ORDER BY bm25(prompts_fts, 4.0, 2.0, 1.0), prompts.created_at DESC, prompts.id"
	q += " LIMIT ?"
	args = append(args, limit)
	if opts.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return s.scanHits(q, KindPrompt, args...)
}

// SearchPlans matches plans by title, description, and the text of their
// steps, so finishing work is findable by what its steps say.
func (s *Store) SearchPlans(query string, opts SearchOptions) ([]SearchHit, error) {
	inlineTags, remaining := ExtractTagFilters(query)
	tags := append(append([]string{}, opts.Tags...), inlineTags...)
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	match := buildFTSQuery(remaining)
	if match == "" {
		q := "SELECT id, title, created_at FROM plans WHERE 1=1"
		var args []any
		if opts.Status != "" {
			q += " AND status = ?"
			args = append(args, opts.Status)
		}
		if opts.Category != "" {
			q += " AND category = ?"
			args = append(args, opts.Category)
		}
		if clause, cargs := tagFilter("plans.id", "plan_tags", "plan_id", tags); clause != "" {
			q += clause
			args = append(args, cargs...)
		}
		q += " ORDER BY updated_at DESC, id LIMIT ?"
		args = append(args, limit)
		return s.scanRecent(q, KindPlan, args...)
	}

	q := `SELECT plans.id, plans.title,
		snippet(plans_fts, -1, '>>>', '<<<', '...', 32),
		bm25(plans_fts, 3.0, 1.0, 1.0),
		plans.created_at
	FROM plans_fts
	JOIN plans ON plans.rowid = plans_fts.rowid
	WHERE plans_fts MATCH ?`
	args := []any{match}
	if opts.Status != "" {
		q += " AND plans.status = ?"
		args = append(args, opts.Status)
	}
	if opts.Category != "" {
		q += " AND plans.category = ?"
		args = append(args, opts.Category)
	}
	if clause, cargs := tagFilter("plans.id", "plan_tags", "plan_id", tags); clause != "" {
		q += clause
		args = append(args, cargs...)
	}
	q += " ORDER BY bm25(plans_fts, 3.0, 1.0, 1.0), plans.created_at DESC, plans.id"
	q += " LIMIT ?"
	args = append(args, limit)
	if opts.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return s.scanHits(q, KindPlan, args...)
}

// SearchEvents matches session events by summary and type. Status,
// category, and tag filters do not apply to events.
func (s *Store) SearchEvents(query string, opts SearchOptions) ([]SearchHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	match := buildFTSQuery(query)
	if match == "" {
		q := "SELECT id, summary, created_at FROM session_events ORDER BY created_at DESC, rowid DESC LIMIT ?"
		return s.scanRecent(q, KindEvent, limit)
	}

	q := `SELECT session_events.id, session_events.summary,
		snippet(events_fts, 0, '>>>', '<<<', '...', 32),
		bm25(events_fts, 5.0, 3.0, 1.0),
		session_events.created_at
	FROM events_fts
	JOIN session_events ON session_events.rowid = events_fts.rowid
	WHERE events_fts MATCH ?
	ORDER BY bm25(events_fts, 5.0, 3.0, 1.0), session_events.created_at DESC, session_events.id
	LIMIT ?`
	args := []any{match, limit}
	if opts.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return s.scanHits(q, KindEvent, args...)
}

// scanHits collects (id, title, snippet, raw bm25, created_at) rows into
// hits with positive higher-is-better scores.
func (s *Store) scanHits(query string, kind Kind, args ...any) ([]SearchHit, error) {
	rows, err := s.queryHook(query, args...)
	if err != nil {
		return nil, ignoreFTSSyntax(err)
	}
	defer func() { _ = rows.Close() }()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var raw float64
		if err := rows.Scan(&h.ID, &h.Title, &h.Snippet, &raw, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Kind = kind
		h.Score = math.Abs(raw)
		hits = append(hits, h)
	}
	return hits, ignoreFTSSyntax(rows.Err())
}

// scanRecent collects (id, title, created_at) rows into zero-score hits
// for the empty-query fallback.
func (s *Store) scanRecent(query string, kind Kind, args ...any) ([]SearchHit, error) {
	rows, err := s.queryHook(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ID, &h.Title, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Kind = kind
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ─── Unified search ──────────────────────────────────────────────────────────

// SearchAll fans one query out to every kind, takes each kind's top
// perKindLimit hits, normalizes scores within each kind, and merges into
// one deterministic order: descending normalized score, then more recent
// created_at, then kind priority (note, prompt, plan, event). A single
// failing kind degrades the search instead of failing it.
func (s *Store) SearchAll(query string, perKindLimit int) ([]UnifiedResult, error) {
	if perKindLimit <= 0 {
		perKindLimit = s.cfg.PerKindLimit
	}
	searches := []struct {
		kind Kind
		fn   func(string, SearchOptions) ([]SearchHit, error)
	}{
		{KindNote, s.SearchNotes},
		{KindPrompt, s.SearchPrompts},
		{KindPlan, s.SearchPlans},
		{KindEvent, s.SearchEvents},
	}

	var merged []UnifiedResult
	for _, sub := range searches {
		hits, err := sub.fn(query, SearchOptions{Limit: perKindLimit})
		if err != nil {
			log.Printf("WARNING: %s search failed, continuing without it: %v", sub.kind, err)
			continue
		}
		merged = append(merged, normalizeHits(hits)...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return kindPriority[a.Kind] < kindPriority[b.Kind]
	})
	return merged, nil
}

// normalizeHits min-max scales one kind's scores into [0,1] so no kind
// dominates the merge on raw BM25 magnitude. A kind whose scores are all
// equal (including a single hit) normalizes to 1.0.
func normalizeHits(hits []SearchHit) []UnifiedResult {
	if len(hits) == 0 {
		return nil
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}
	out := make([]UnifiedResult, len(hits))
	for i, h := range hits {
		score := 1.0
		if hi > lo {
			score = (h.Score - lo) / (hi - lo)
		}
		out[i] = UnifiedResult{Kind: h.Kind, ID: h.ID, Title: h.Title, Snippet: h.Snippet, Score: score, CreatedAt: h.CreatedAt}
	}
	return out
}

// ─── Related notes ───────────────────────────────────────────────────────────

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "being": true, "but": true, "by": true,
	"can": true, "could": true, "did": true, "do": true, "does": true,
	"for": true, "from": true, "had": true, "has": true, "have": true,
	"how": true, "in": true, "is": true, "it": true, "its": true,
	"may": true, "might": true, "must": true, "of": true, "on": true,
	"or": true, "should": true, "that": true, "the": true, "these": true,
	"this": true, "those": true, "to": true, "was": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"whom": true, "why": true, "will": true, "with": true, "would": true,
}

// relatedTerms builds the query terms for finding neighbors of a note:
// meaningful title words first, then its tags, deduplicated in order.
func relatedTerms(title string, tags []string) []string {
	var terms []string
	seen := map[string]bool{}
	for _, w := range wordPattern.FindAllString(title, -1) {
		w = strings.ToLower(w)
		if len(w) < 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	for _, t := range tags {
		t = strings.ToLower(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return terms
}

// RelatedNotes finds notes that share title words or tags with the given
// note, ranked by match quality, the note itself excluded.
func (s *Store) RelatedNotes(id string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}
	note, err := s.GetNote(id)
	if err != nil {
		return nil, err
	}
	terms := relatedTerms(note.Title, note.Tags)
	if len(terms) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	hits, err := s.SearchNotes(strings.Join(quoted, " OR "), SearchOptions{Limit: limit + 1})
	if err != nil {
		return nil, err
	}
	var out []SearchHit
	for _, h := range hits {
		if h.ID == id {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ─── Label overviews ─────────────────────────────────────────────────────────

// ListTags returns tag usage counts, most-used first. kind narrows to
// one family ("note", "prompt", "plan", "session"); empty means all.
func (s *Store) ListTags(kind string) ([]LabelCount, error) {
	var query string
	switch kind {
	case "note":
		query = "SELECT tag, COUNT(*) AS n FROM note_tags GROUP BY tag ORDER BY n DESC, tag"
	case "prompt":
		query = "SELECT tag, COUNT(*) AS n FROM prompt_tags GROUP BY tag ORDER BY n DESC, tag"
	case "plan":
		query = "SELECT tag, COUNT(*) AS n FROM plan_tags GROUP BY tag ORDER BY n DESC, tag"
	case "session":
		query = "SELECT tag, COUNT(*) AS n FROM session_tags GROUP BY tag ORDER BY n DESC, tag"
	case "":
		query = `SELECT tag, COUNT(*) AS n FROM (
			SELECT tag FROM note_tags
			UNION ALL SELECT tag FROM prompt_tags
			UNION ALL SELECT tag FROM plan_tags
			UNION ALL SELECT tag FROM session_tags
		) GROUP BY tag ORDER BY n DESC, tag`
	default:
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("invalid kind %q: must be note, prompt, plan, or session", kind)}
	}
	return s.labelCounts(query)
}

// ListCategories returns category usage counts, most-used first, for the
// families that carry categories.
func (s *Store) ListCategories(kind string) ([]LabelCount, error) {
	var query string
	switch kind {
	case "note":
		query = "SELECT category, COUNT(*) AS n FROM notes WHERE category != '' GROUP BY category ORDER BY n DESC, category"
	case "prompt":
		query = "SELECT category, COUNT(*) AS n FROM prompts WHERE category != '' GROUP BY category ORDER BY n DESC, category"
	case "plan":
		query = "SELECT category, COUNT(*) AS n FROM plans WHERE category != '' GROUP BY category ORDER BY n DESC, category"
	case "":
		query = `SELECT category, COUNT(*) AS n FROM (
			SELECT category FROM notes WHERE category != ''
			UNION ALL SELECT category FROM prompts WHERE category != ''
			UNION ALL SELECT category FROM plans WHERE category != ''
		) GROUP BY category ORDER BY n DESC, category`
	default:
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("invalid kind %q: must be note, prompt, or plan", kind)}
	}
	return s.labelCounts(query)
}
