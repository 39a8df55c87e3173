// Package knowledge provides read-only partition adapters over the
// campaign's structured knowledge: rulebook text, per-character records,
// and session history. Each adapter owns its own representation and exposes
// exactly two operations to the pipeline: a cheap outline for targeting and
// a fetch for retrieval.
package knowledge

import (
	"context"
	"time"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
)

// Partition is one bounded knowledge domain. Implementations are read-only
// from the pipeline's perspective: Fetch has no side effects and never
// mutates knowledge-base state.
type Partition interface {
	// ID returns the partition identifier.
	ID() domain.PartitionID

	// Index returns the partition outline: a small addressing structure
	// (section table of contents, file/field schema, session date index)
	// used by Pass-2 targeting. Never the full partition content.
	Index(ctx context.Context) (*Outline, error)

	// Fetch returns exactly the content addressed by the target set.
	Fetch(ctx context.Context, targets domain.TargetSet) (string, error)
}

// Source supplies partitions and the entity gazetteer to the pipeline.
type Source interface {
	Partitions() []Partition
	Partition(id domain.PartitionID) (Partition, bool)
	Gazetteer() []GazetteerEntry
}

// Outline is a partition's lightweight index. Only the fields matching the
// partition kind are populated.
type Outline struct {
	Partition domain.PartitionID
	Sections  []SectionSummary    // rulebook
	Files     map[string][]string // character: "name/file" -> field names
	Sessions  []SessionSummary    // session history, chronological
}

// SectionSummary is one rulebook section's index entry.
type SectionSummary struct {
	ID       string
	Title    string
	Depth    int
	Summary  string
	Keywords []string
}

// SessionSummary is one session's index entry.
type SessionSummary struct {
	ID       string
	Title    string
	Date     time.Time
	Summary  string
	Entities []SessionEntity
}

// SessionEntity is an entity that appeared in a session.
type SessionEntity struct {
	Name string            `yaml:"name"`
	Type domain.EntityType `yaml:"type"`
}

// GazetteerEntry is one known entity surface form, sourced from the active
// knowledge partitions and fed to the entity recognizer.
type GazetteerEntry struct {
	Name    string
	Type    domain.EntityType
	Aliases []string
}
