// Package domain contains core domain types for the ShadowScribe pipeline.
package domain

// Turn is a single prior exchange in a conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Query is one user submission. It is immutable for the lifetime of a
// pipeline run: every pass reads it, none mutates it.
type Query struct {
	Text      string
	UserID    string
	SessionID string
	History   []Turn
}

// EntityType categorizes a recognized entity mention.
type EntityType string

const (
	EntityCharacter EntityType = "character"
	EntityNPC       EntityType = "npc"
	EntityPlace     EntityType = "place"
	EntityItem      EntityType = "item"
)

// Placeholder returns the token substituted into normalized query text
// for this entity type, e.g. "{CHARACTER}".
func (t EntityType) Placeholder() string {
	switch t {
	case EntityCharacter:
		return "{CHARACTER}"
	case EntityNPC:
		return "{NPC}"
	case EntityPlace:
		return "{PLACE}"
	case EntityItem:
		return "{ITEM}"
	}
	return "{ENTITY}"
}

// EntityExtraction records one recognized entity span.
type EntityExtraction struct {
	Name       string     `json:"name"`    // canonical entity name from the gazetteer
	Surface    string     `json:"surface"` // text as it appeared in the query
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// NormalizedQuery is the query text with recognized entities replaced by
// typed placeholders. Bindings is the explicit side-table that lets later
// passes re-bind a placeholder to the concrete entity; substitution is
// never reversed by string matching.
type NormalizedQuery struct {
	Raw         string
	Normalized  string
	Extractions []EntityExtraction
	Bindings    map[string]EntityExtraction // placeholder token -> extraction
}

// Resolve returns the entity bound to a placeholder token.
func (q NormalizedQuery) Resolve(placeholder string) (EntityExtraction, bool) {
	e, ok := q.Bindings[placeholder]
	return e, ok
}

// EntitiesOfType returns all extractions of the given type.
func (q NormalizedQuery) EntitiesOfType(t EntityType) []EntityExtraction {
	var out []EntityExtraction
	for _, e := range q.Extractions {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
