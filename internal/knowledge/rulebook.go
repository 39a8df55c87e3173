package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
)

// rulebookPartition adapts the rulebook sections. Targeting addresses it by
// section ID; Fetch returns the full text of each addressed section.
type rulebookPartition struct {
	lib *Library
}

func (p *rulebookPartition) ID() domain.PartitionID {
	return domain.PartitionRulebook
}

func (p *rulebookPartition) Index(ctx context.Context) (*Outline, error) {
	data := p.lib.snapshot()
	outline := &Outline{Partition: domain.PartitionRulebook}
	for _, s := range data.Sections {
		outline.Sections = append(outline.Sections, SectionSummary{
			ID:       s.ID,
			Title:    s.Title,
			Depth:    s.Depth,
			Summary:  s.Summary,
			Keywords: s.Keywords,
		})
	}
	return outline, nil
}

func (p *rulebookPartition) Fetch(ctx context.Context, targets domain.TargetSet) (string, error) {
	data := p.lib.snapshot()
	byID := make(map[string]RulebookSection, len(data.Sections))
	for _, s := range data.Sections {
		byID[s.ID] = s
	}

	var b strings.Builder
	for _, ref := range targets.Sections {
		section, ok := byID[ref.ID]
		if !ok {
			return "", fmt.Errorf("rulebook section %q not found", ref.ID)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", section.Title, section.Text)
	}
	return b.String(), nil
}

var _ Partition = (*rulebookPartition)(nil)
