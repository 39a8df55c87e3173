package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
)

// historyPartition adapts the session logs. Targeting addresses it by
// session ID; Fetch returns the addressed sessions in chronological order.
type historyPartition struct {
	lib *Library
}

func (p *historyPartition) ID() domain.PartitionID {
	return domain.PartitionHistory
}

func (p *historyPartition) Index(ctx context.Context) (*Outline, error) {
	data := p.lib.snapshot()
	outline := &Outline{Partition: domain.PartitionHistory}
	for _, s := range data.Sessions {
		outline.Sessions = append(outline.Sessions, SessionSummary{
			ID:       s.ID,
			Title:    s.Title,
			Date:     s.Date,
			Summary:  s.Summary,
			Entities: s.Entities,
		})
	}
	return outline, nil
}

func (p *historyPartition) Fetch(ctx context.Context, targets domain.TargetSet) (string, error) {
	data := p.lib.snapshot()
	wanted := make(map[string]bool, len(targets.SessionIDs))
	for _, id := range targets.SessionIDs {
		wanted[id] = true
	}

	var b strings.Builder
	found := 0
	// Sessions are already chronological; iterate in that order regardless
	// of the order the targeter listed them.
	for _, s := range data.Sessions {
		if !wanted[s.ID] {
			continue
		}
		found++
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n%s", s.Title, s.Date.Format("2006-01-02"), s.Summary)
		if s.Notes != "" {
			b.WriteString("\n\n")
			b.WriteString(s.Notes)
		}
	}
	if found != len(wanted) {
		return "", fmt.Errorf("session history: %d of %d targeted sessions not found", len(wanted)-found, len(wanted))
	}
	return b.String(), nil
}

var _ Partition = (*historyPartition)(nil)
