package domain

import "time"

// PartitionID identifies one bounded knowledge domain.
type PartitionID string

const (
	PartitionRulebook  PartitionID = "rulebook"
	PartitionCharacter PartitionID = "character"
	PartitionHistory   PartitionID = "session_history"
)

// PartitionDecision is the Pass-1 verdict for one partition.
type PartitionDecision struct {
	Partition  PartitionID `json:"tool"`
	Needed     bool        `json:"needed"`
	Intention  string      `json:"intention,omitempty"`
	Reasoning  string      `json:"reasoning"`
	Confidence float64     `json:"confidence"`
}

// SourceDecision is the full Pass-1 outcome. Decisions preserves the order
// partitions were declared in, which fixes the deterministic assembly order
// for retrieved content downstream.
type SourceDecision struct {
	Decisions []PartitionDecision
	Backend   string // "llm", "local" or "shadow"

	// Shadow holds the secondary strategy's decision when routing runs in
	// comparison mode. Telemetry only; never authoritative.
	Shadow *SourceDecision
}

// Needed returns the decisions marked needed, in declaration order.
func (d SourceDecision) Needed() []PartitionDecision {
	var out []PartitionDecision
	for _, pd := range d.Decisions {
		if pd.Needed {
			out = append(out, pd)
		}
	}
	return out
}

// Validate enforces the decision contract: every partition marked needed
// must carry non-empty reasoning. A violation is fatal, never defaulted.
func (d SourceDecision) Validate() error {
	for _, pd := range d.Decisions {
		if pd.Needed && pd.Reasoning == "" {
			return &ContractViolationError{
				Component: "source selector (" + d.Backend + ")",
				Detail:    "partition " + string(pd.Partition) + " marked needed with empty reasoning",
			}
		}
	}
	return nil
}

// MaxNeededConfidence returns the highest confidence among needed
// partitions, or 0 when nothing was selected.
func (d SourceDecision) MaxNeededConfidence() float64 {
	max := 0.0
	for _, pd := range d.Decisions {
		if pd.Needed && pd.Confidence > max {
			max = pd.Confidence
		}
	}
	return max
}

// FieldWildcard targets every field in a character file.
const FieldWildcard = "*"

// SectionRef addresses one rulebook section, with the relevance score that
// ranked it.
type SectionRef struct {
	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	Depth int     `json:"depth"`
	Score float64 `json:"score"`
}

// TargetSet is the resolved, partition-specific addressing of exactly what
// to fetch. Only the fields matching the partition kind are populated.
// Targeting is the last point at which ambiguity is resolved: every entry
// must be servable by the adapter without further disambiguation.
type TargetSet struct {
	Partition  PartitionID
	Sections   []SectionRef        // rulebook
	Fields     map[string][]string // character: file -> field paths (or FieldWildcard)
	SessionIDs []string            // session history
}

// Empty reports whether the set addresses no content at all.
func (t TargetSet) Empty() bool {
	return len(t.Sections) == 0 && len(t.Fields) == 0 && len(t.SessionIDs) == 0
}

// RetrievedContent is one partition's Pass-3 payload, or an explicit
// miss/degradation marker. Markers are never silently dropped; the
// synthesizer states them in the final answer.
type RetrievedContent struct {
	Partition   PartitionID
	Content     string
	Missing     bool // targeting produced nothing for a needed partition
	Unavailable bool // the adapter fetch failed
	Truncated   bool // trimmed to fit the context budget
	Reason      string
	RetrievedAt time.Time
}

// OK reports whether usable content was retrieved.
func (rc RetrievedContent) OK() bool {
	return !rc.Missing && !rc.Unavailable
}
