// Package pipeline implements the four-pass query routing flow: source
// selection, targeting, retrieval and synthesis, with entity recognition as
// a sub-step of source selection.
package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
)

// Recognizer replaces known entity mentions with typed placeholders before
// the query text reaches any model prompt. Matching is gazetteer-driven and
// deterministic: longest surface form first, then left to right, spans never
// overlapping.
type Recognizer struct {
	surfaces []surfaceForm
}

type surfaceForm struct {
	text       string
	canonical  string
	entityType domain.EntityType
	confidence float64
}

// NewRecognizer builds a recognizer from the gazetteer. An empty gazetteer
// yields a recognizer that passes queries through untouched.
func NewRecognizer(entries []knowledge.GazetteerEntry) *Recognizer {
	var surfaces []surfaceForm
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		surfaces = append(surfaces, surfaceForm{
			text:       e.Name,
			canonical:  e.Name,
			entityType: e.Type,
			confidence: 1.0,
		})
		for _, alias := range e.Aliases {
			if alias == "" {
				continue
			}
			surfaces = append(surfaces, surfaceForm{
				text:       alias,
				canonical:  e.Name,
				entityType: e.Type,
				confidence: 0.9,
			})
		}
	}
	// Longest first so "Duskryn Nightwarden" wins over "Duskryn"; ties
	// break on higher confidence, then alphabetically for determinism.
	sort.Slice(surfaces, func(i, j int) bool {
		if len(surfaces[i].text) != len(surfaces[j].text) {
			return len(surfaces[i].text) > len(surfaces[j].text)
		}
		if surfaces[i].confidence != surfaces[j].confidence {
			return surfaces[i].confidence > surfaces[j].confidence
		}
		return surfaces[i].text < surfaces[j].text
	})
	return &Recognizer{surfaces: surfaces}
}

type span struct {
	start, end int
	form       surfaceForm
}

// Recognize scans the query text for gazetteer mentions and returns the
// normalized query with a placeholder binding table. Duplicate entity types
// get numbered placeholders ({CHARACTER}, {CHARACTER_2}) so each binding
// stays unambiguous.
func (r *Recognizer) Recognize(text string) domain.NormalizedQuery {
	nq := domain.NormalizedQuery{
		Raw:        text,
		Normalized: text,
		Bindings:   map[string]domain.EntityExtraction{},
	}
	if len(r.surfaces) == 0 || text == "" {
		return nq
	}

	lower := strings.ToLower(text)
	var spans []span
	for _, form := range r.surfaces {
		needle := strings.ToLower(form.text)
		offset := 0
		for {
			idx := strings.Index(lower[offset:], needle)
			if idx < 0 {
				break
			}
			start := offset + idx
			end := start + len(needle)
			offset = end
			if !wordBoundary(lower, start, end) {
				continue
			}
			if overlaps(spans, start, end) {
				continue
			}
			spans = append(spans, span{start: start, end: end, form: form})
		}
	}

	if len(spans) == 0 {
		return nq
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	typeCounts := map[domain.EntityType]int{}
	var b strings.Builder
	prev := 0
	for _, s := range spans {
		extraction := domain.EntityExtraction{
			Name:       s.form.canonical,
			Surface:    text[s.start:s.end],
			Type:       s.form.entityType,
			Confidence: s.form.confidence,
		}
		typeCounts[s.form.entityType]++
		placeholder := s.form.entityType.Placeholder()
		if n := typeCounts[s.form.entityType]; n > 1 {
			placeholder = fmt.Sprintf("%s_%d}", strings.TrimSuffix(placeholder, "}"), n)
		}

		b.WriteString(text[prev:s.start])
		b.WriteString(placeholder)
		prev = s.end

		nq.Extractions = append(nq.Extractions, extraction)
		nq.Bindings[placeholder] = extraction
	}
	b.WriteString(text[prev:])
	nq.Normalized = b.String()
	return nq
}

func wordBoundary(s string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '_'
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}
