package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
)

// RetrievalInput pairs a needed partition's Pass-1 decision with its Pass-2
// target set.
type RetrievalInput struct {
	Decision domain.PartitionDecision
	Targets  domain.TargetSet
}

// Retriever fetches targeted content from every needed partition
// concurrently (Pass 3) and enforces the serialized context budget.
type Retriever struct {
	source knowledge.Source
	budget int
}

func NewRetriever(source knowledge.Source, budget int) *Retriever {
	return &Retriever{source: source, budget: budget}
}

// Retrieve fans out one fetch per input and assembles results in input
// order, regardless of completion order. Per-partition failures become
// explicit Unavailable markers; empty target sets become Missing markers
// without a fetch. Only when every attempted fetch fails does Retrieve
// return ErrRetrievalTotalFailure.
//
// The second return value lists partitions whose content was cut to fit
// the context budget.
func (r *Retriever) Retrieve(ctx context.Context, inputs []RetrievalInput) ([]domain.RetrievedContent, []domain.PartitionID, error) {
	results := make([]domain.RetrievedContent, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i, input := range inputs {
		results[i] = domain.RetrievedContent{
			Partition:   input.Targets.Partition,
			RetrievedAt: time.Now(),
		}
		if input.Targets.Empty() {
			results[i].Missing = true
			results[i].Reason = "targeting found no matching content"
			continue
		}

		part, ok := r.source.Partition(input.Targets.Partition)
		if !ok {
			results[i].Unavailable = true
			results[i].Reason = "partition not active"
			continue
		}

		g.Go(func() error {
			content, err := part.Fetch(gctx, input.Targets)
			if err != nil {
				results[i].Unavailable = true
				results[i].Reason = err.Error()
				return nil
			}
			results[i].Content = content
			results[i].RetrievedAt = time.Now()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	attempted, failed := 0, 0
	for _, rc := range results {
		if rc.Missing {
			continue
		}
		attempted++
		if rc.Unavailable {
			failed++
		}
	}
	if attempted > 0 && failed == attempted {
		return nil, nil, domain.ErrRetrievalTotalFailure
	}

	trimmed := r.enforceBudget(inputs, results)
	return results, trimmed, nil
}

// enforceBudget cuts content from the lowest-confidence partitions first
// until the combined size is strictly under the budget. Cut partitions keep
// a marker so the synthesizer can state the omission.
func (r *Retriever) enforceBudget(inputs []RetrievalInput, results []domain.RetrievedContent) []domain.PartitionID {
	total := 0
	for _, rc := range results {
		total += len(rc.Content)
	}
	if total < r.budget {
		return nil
	}

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return inputs[order[a]].Decision.Confidence < inputs[order[b]].Decision.Confidence
	})

	var trimmed []domain.PartitionID
	for _, i := range order {
		if total < r.budget {
			break
		}
		size := len(results[i].Content)
		if size == 0 {
			continue
		}
		keep := size - (total - r.budget) - 1
		if keep < 0 {
			keep = 0
		}
		// Never cut mid-rune.
		for keep > 0 && !utf8.RuneStart(results[i].Content[keep]) {
			keep--
		}
		results[i].Content = results[i].Content[:keep]
		results[i].Truncated = true
		results[i].Reason = fmt.Sprintf("cut from %d to %d bytes to fit context budget", size, keep)
		total -= size - keep
		trimmed = append(trimmed, results[i].Partition)
	}
	return trimmed
}
