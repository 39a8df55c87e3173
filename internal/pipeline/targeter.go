package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
)

// Targeter resolves a needed partition into the concrete sections, fields
// or sessions to fetch (Pass 2). An empty target set is a legitimate
// outcome — it becomes an explicit miss, never a fabricated answer.
type Targeter struct {
	maxSections int
}

func NewTargeter(maxSections int) *Targeter {
	return &Targeter{maxSections: maxSections}
}

// Target inspects the partition outline and produces its target set.
func (t *Targeter) Target(ctx context.Context, outline *knowledge.Outline, nq domain.NormalizedQuery, decision domain.PartitionDecision) (domain.TargetSet, error) {
	switch outline.Partition {
	case domain.PartitionRulebook:
		return t.targetRulebook(outline, nq), nil
	case domain.PartitionCharacter:
		return t.targetCharacter(outline, nq), nil
	case domain.PartitionHistory:
		return t.targetHistory(outline, nq), nil
	}
	return domain.TargetSet{}, fmt.Errorf("no targeting strategy for partition %q", outline.Partition)
}

// targetRulebook scores every section against the query terms: keyword hits
// weigh 1.0, title hits 0.8, summary hits 0.4. Sections with a zero score
// are never selected; ties break on shallower depth, then section ID.
func (t *Targeter) targetRulebook(outline *knowledge.Outline, nq domain.NormalizedQuery) domain.TargetSet {
	terms := queryTerms(nq.Normalized)
	set := domain.TargetSet{Partition: domain.PartitionRulebook}
	if len(terms) == 0 {
		return set
	}

	var refs []domain.SectionRef
	for _, section := range outline.Sections {
		score := 0.0
		title := strings.ToLower(section.Title)
		summary := strings.ToLower(section.Summary)
		for _, term := range terms {
			for _, kw := range section.Keywords {
				if strings.EqualFold(kw, term) {
					score += 1.0
					break
				}
			}
			if strings.Contains(title, term) {
				score += 0.8
			}
			if strings.Contains(summary, term) {
				score += 0.4
			}
		}
		if score > 0 {
			refs = append(refs, domain.SectionRef{
				ID:    section.ID,
				Title: section.Title,
				Depth: section.Depth,
				Score: score,
			})
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		if refs[i].Depth != refs[j].Depth {
			return refs[i].Depth < refs[j].Depth
		}
		return refs[i].ID < refs[j].ID
	})
	if len(refs) > t.maxSections {
		refs = refs[:t.maxSections]
	}
	set.Sections = refs
	return set
}

// fieldCues maps query vocabulary to a character file and the specific
// fields within it. A wildcard fields list selects the whole file.
var fieldCues = []struct {
	terms  []string
	file   string
	fields []string
}{
	{[]string{"armor class", "ac"}, "stats", []string{"armor_class"}},
	{[]string{"hit points", "hp", "health"}, "stats", []string{"hit_points"}},
	{[]string{"stats", "ability", "abilities", "strength", "dexterity"}, "stats", []string{domain.FieldWildcard}},
	{[]string{"inventory", "carrying", "items", "gold", "equipment", "weapon", "weapons"}, "inventory", []string{domain.FieldWildcard}},
	{[]string{"spell", "spells", "prepared", "cantrip", "cantrips"}, "spells", []string{domain.FieldWildcard}},
	{[]string{"background", "backstory", "history", "deity", "family"}, "background", []string{domain.FieldWildcard}},
}

// targetCharacter picks the character from the {CHARACTER} binding (or the
// only character in the library when the query names none), then maps query
// vocabulary to files and fields. No vocabulary match selects everything
// the character has; an unresolvable character is a miss.
func (t *Targeter) targetCharacter(outline *knowledge.Outline, nq domain.NormalizedQuery) domain.TargetSet {
	set := domain.TargetSet{Partition: domain.PartitionCharacter}

	name := ""
	if chars := nq.EntitiesOfType(domain.EntityCharacter); len(chars) > 0 {
		name = chars[0].Name
	} else if only, ok := soleCharacter(outline); ok {
		name = only
	}
	if name == "" {
		return set
	}

	available := make(map[string]bool)
	for key := range outline.Files {
		owner, file, ok := strings.Cut(key, "/")
		if ok && strings.EqualFold(owner, name) {
			available[file] = true
		}
	}
	if len(available) == 0 {
		return set
	}

	text := strings.ToLower(nq.Normalized)
	fields := make(map[string][]string)
	for _, cue := range fieldCues {
		if !available[cue.file] {
			continue
		}
		for _, term := range cue.terms {
			if !containsWord(text, term) {
				continue
			}
			key := name + "/" + cue.file
			fields[key] = mergeFields(fields[key], cue.fields)
			break
		}
	}
	if len(fields) == 0 {
		for file := range available {
			fields[name+"/"+file] = []string{domain.FieldWildcard}
		}
	}
	set.Fields = fields
	return set
}

func soleCharacter(outline *knowledge.Outline) (string, bool) {
	names := make(map[string]bool)
	last := ""
	for key := range outline.Files {
		if owner, _, ok := strings.Cut(key, "/"); ok {
			names[owner] = true
			last = owner
		}
	}
	if len(names) == 1 {
		return last, true
	}
	return "", false
}

func mergeFields(existing, add []string) []string {
	if len(existing) == 1 && existing[0] == domain.FieldWildcard {
		return existing
	}
	if len(add) == 1 && add[0] == domain.FieldWildcard {
		return add
	}
	for _, f := range add {
		found := false
		for _, e := range existing {
			if e == f {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, f)
		}
	}
	return existing
}

var recencyPhrases = []string{"last session", "last time", "previously", "recently", "recap"}

// targetHistory selects sessions by entity mention when the query names
// someone or somewhere; a named entity no session mentions is a miss, even
// if recency phrases also appear. Queries that only reference time get the
// most recent session.
func (t *Targeter) targetHistory(outline *knowledge.Outline, nq domain.NormalizedQuery) domain.TargetSet {
	set := domain.TargetSet{Partition: domain.PartitionHistory}
	if len(outline.Sessions) == 0 {
		return set
	}

	candidates := entityCandidates(nq)
	if len(candidates) > 0 {
		for _, session := range outline.Sessions {
			if sessionMentions(session, candidates) {
				set.SessionIDs = append(set.SessionIDs, session.ID)
			}
		}
		return set
	}

	text := strings.ToLower(nq.Raw)
	for _, phrase := range recencyPhrases {
		if strings.Contains(text, phrase) {
			set.SessionIDs = []string{outline.Sessions[len(outline.Sessions)-1].ID}
			return set
		}
	}

	// No entity and no time anchor: default to the most recent session.
	set.SessionIDs = []string{outline.Sessions[len(outline.Sessions)-1].ID}
	return set
}

// entityCandidates returns the names the query asks about: recognized
// non-character entities first, else capitalized tokens the gazetteer did
// not recognize (an unknown name must produce a miss, not a guess).
func entityCandidates(nq domain.NormalizedQuery) []string {
	var names []string
	for _, e := range nq.Extractions {
		if e.Type != domain.EntityCharacter {
			names = append(names, e.Name)
		}
	}
	if len(names) > 0 {
		return names
	}

	for i, word := range strings.Fields(nq.Normalized) {
		trimmed := strings.Trim(word, ".,!?;:\"'()")
		if trimmed == "" || strings.HasPrefix(trimmed, "{") {
			continue
		}
		if i == 0 {
			// A sentence-initial capital is not evidence of a name.
			continue
		}
		r := rune(trimmed[0])
		if r >= 'A' && r <= 'Z' {
			names = append(names, trimmed)
		}
	}
	return names
}

func sessionMentions(session knowledge.SessionSummary, names []string) bool {
	haystack := strings.ToLower(session.Title + " " + session.Summary)
	for _, name := range names {
		lower := strings.ToLower(name)
		if strings.Contains(haystack, lower) {
			return true
		}
		for _, e := range session.Entities {
			if strings.EqualFold(e.Name, name) {
				return true
			}
		}
	}
	return false
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "do": true,
	"does": true, "how": true, "what": true, "when": true, "where": true,
	"can": true, "i": true, "my": true, "in": true, "on": true, "of": true,
	"to": true, "for": true, "and": true, "or": true, "with": true,
	"it": true, "at": true, "me": true, "work": true, "works": true,
}

func queryTerms(text string) []string {
	var terms []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if len(word) < 2 || stopwords[word] || strings.HasPrefix(word, "{") {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}

func containsWord(text, term string) bool {
	if term == "" {
		return false
	}
	termFirst, _ := utf8.DecodeRuneInString(term)
	termLast, _ := utf8.DecodeLastRuneInString(term)
	idx := 0
	for {
		i := strings.Index(text[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		// Edge checks only matter when the term edge is itself a word rune;
		// "{character}" needs no boundary after the brace.
		before := start == 0 || !isWordRune(termFirst)
		if !before {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			before = !isWordRune(r)
		}
		after := end == len(text) || !isWordRune(termLast)
		if !after {
			r, _ := utf8.DecodeRuneInString(text[end:])
			after = !isWordRune(r)
		}
		if before && after {
			return true
		}
		idx = end
	}
}
