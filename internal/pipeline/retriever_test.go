package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
)

// fakeSource wires canned partitions for retriever and orchestrator tests.
type fakeSource struct {
	parts     []knowledge.Partition
	gazetteer []knowledge.GazetteerEntry
}

func (s *fakeSource) Partitions() []knowledge.Partition { return s.parts }

func (s *fakeSource) Partition(id domain.PartitionID) (knowledge.Partition, bool) {
	for _, p := range s.parts {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

func (s *fakeSource) Gazetteer() []knowledge.GazetteerEntry { return s.gazetteer }

type fakePartition struct {
	id       domain.PartitionID
	outline  *knowledge.Outline
	indexErr error
	content  string
	fetchErr error
	delay    time.Duration

	mu      sync.Mutex
	fetches int
}

func (p *fakePartition) ID() domain.PartitionID { return p.id }

func (p *fakePartition) Index(ctx context.Context) (*knowledge.Outline, error) {
	if p.indexErr != nil {
		return nil, p.indexErr
	}
	if p.outline != nil {
		return p.outline, nil
	}
	return &knowledge.Outline{Partition: p.id}, nil
}

func (p *fakePartition) Fetch(ctx context.Context, targets domain.TargetSet) (string, error) {
	p.mu.Lock()
	p.fetches++
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.fetchErr != nil {
		return "", p.fetchErr
	}
	return p.content, nil
}

func rulebookInput(confidence float64) RetrievalInput {
	return RetrievalInput{
		Decision: domain.PartitionDecision{Partition: domain.PartitionRulebook, Needed: true, Confidence: confidence},
		Targets: domain.TargetSet{
			Partition: domain.PartitionRulebook,
			Sections:  []domain.SectionRef{{ID: "combat.grapple"}},
		},
	}
}

func historyInput(confidence float64) RetrievalInput {
	return RetrievalInput{
		Decision: domain.PartitionDecision{Partition: domain.PartitionHistory, Needed: true, Confidence: confidence},
		Targets: domain.TargetSet{
			Partition:  domain.PartitionHistory,
			SessionIDs: []string{"s1"},
		},
	}
}

func TestRetrieveAssemblesInInputOrder(t *testing.T) {
	src := &fakeSource{parts: []knowledge.Partition{
		// Rulebook answers slowly; order must still follow the inputs.
		&fakePartition{id: domain.PartitionRulebook, content: "grapple rules", delay: 30 * time.Millisecond},
		&fakePartition{id: domain.PartitionHistory, content: "session one"},
	}}
	r := NewRetriever(src, 1<<20)

	results, trimmed, err := r.Retrieve(context.Background(), []RetrievalInput{rulebookInput(0.9), historyInput(0.5)})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(trimmed) != 0 {
		t.Errorf("trimmed = %v, want none", trimmed)
	}
	if results[0].Partition != domain.PartitionRulebook || results[0].Content != "grapple rules" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Partition != domain.PartitionHistory || results[1].Content != "session one" {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestRetrieveEmptyTargetsBecomeMissingWithoutFetch(t *testing.T) {
	part := &fakePartition{id: domain.PartitionHistory, content: "never"}
	src := &fakeSource{parts: []knowledge.Partition{part}}
	r := NewRetriever(src, 1<<20)

	input := RetrievalInput{
		Decision: domain.PartitionDecision{Partition: domain.PartitionHistory, Needed: true},
		Targets:  domain.TargetSet{Partition: domain.PartitionHistory},
	}
	results, _, err := r.Retrieve(context.Background(), []RetrievalInput{input})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !results[0].Missing || results[0].Unavailable {
		t.Errorf("result = %+v, want Missing", results[0])
	}
	if part.fetches != 0 {
		t.Errorf("fetches = %d, want 0 for empty targets", part.fetches)
	}
}

func TestRetrievePartialFailureDegrades(t *testing.T) {
	src := &fakeSource{parts: []knowledge.Partition{
		&fakePartition{id: domain.PartitionRulebook, content: "grapple rules"},
		&fakePartition{id: domain.PartitionHistory, fetchErr: errors.New("disk gone")},
	}}
	r := NewRetriever(src, 1<<20)

	results, _, err := r.Retrieve(context.Background(), []RetrievalInput{rulebookInput(0.9), historyInput(0.5)})
	if err != nil {
		t.Fatalf("partial failure must not be terminal: %v", err)
	}
	if !results[0].OK() {
		t.Errorf("rulebook result = %+v, want OK", results[0])
	}
	if !results[1].Unavailable || !strings.Contains(results[1].Reason, "disk gone") {
		t.Errorf("history result = %+v, want Unavailable with cause", results[1])
	}
}

func TestRetrieveTotalFailureIsTerminal(t *testing.T) {
	src := &fakeSource{parts: []knowledge.Partition{
		&fakePartition{id: domain.PartitionRulebook, fetchErr: errors.New("a")},
		&fakePartition{id: domain.PartitionHistory, fetchErr: errors.New("b")},
	}}
	r := NewRetriever(src, 1<<20)

	_, _, err := r.Retrieve(context.Background(), []RetrievalInput{rulebookInput(0.9), historyInput(0.5)})
	if !errors.Is(err, domain.ErrRetrievalTotalFailure) {
		t.Fatalf("error = %v, want ErrRetrievalTotalFailure", err)
	}
}

func TestRetrieveMissesDoNotCountTowardTotalFailure(t *testing.T) {
	src := &fakeSource{parts: []knowledge.Partition{
		&fakePartition{id: domain.PartitionHistory, fetchErr: errors.New("b")},
	}}
	r := NewRetriever(src, 1<<20)

	missing := RetrievalInput{
		Decision: domain.PartitionDecision{Partition: domain.PartitionRulebook, Needed: true},
		Targets:  domain.TargetSet{Partition: domain.PartitionRulebook},
	}
	_, _, err := r.Retrieve(context.Background(), []RetrievalInput{missing, historyInput(0.5)})
	if !errors.Is(err, domain.ErrRetrievalTotalFailure) {
		t.Fatalf("the only attempted fetch failed, want total failure, got %v", err)
	}
}

func TestRetrieveBudgetTrimsLowestConfidenceFirst(t *testing.T) {
	src := &fakeSource{parts: []knowledge.Partition{
		&fakePartition{id: domain.PartitionRulebook, content: strings.Repeat("r", 100)},
		&fakePartition{id: domain.PartitionHistory, content: strings.Repeat("h", 100)},
	}}
	r := NewRetriever(src, 150)

	results, trimmed, err := r.Retrieve(context.Background(), []RetrievalInput{rulebookInput(0.9), historyInput(0.3)})
	if err != nil {
		t.Fatal(err)
	}
	if len(trimmed) != 1 || trimmed[0] != domain.PartitionHistory {
		t.Fatalf("trimmed = %v, want [session_history]", trimmed)
	}
	if len(results[0].Content) != 100 || results[0].Truncated {
		t.Errorf("high-confidence content touched: %+v", results[0])
	}
	if len(results[1].Content) != 49 || !results[1].Truncated {
		t.Errorf("low-confidence content = %d bytes, truncated=%v, want 49/true", len(results[1].Content), results[1].Truncated)
	}
	if results[1].Reason == "" {
		t.Error("truncation reason missing")
	}
	total := len(results[0].Content) + len(results[1].Content)
	if total >= 150 {
		t.Errorf("trimmed total = %d, want strictly under the budget", total)
	}
}

func TestRetrieveBudgetCutsOnRuneBoundary(t *testing.T) {
	src := &fakeSource{parts: []knowledge.Partition{
		// 100 two-byte runes; a byte-count cut would land mid-rune.
		&fakePartition{id: domain.PartitionRulebook, content: strings.Repeat("é", 100)},
	}}
	r := NewRetriever(src, 150)

	results, trimmed, err := r.Retrieve(context.Background(), []RetrievalInput{rulebookInput(0.9)})
	if err != nil {
		t.Fatal(err)
	}
	if len(trimmed) != 1 {
		t.Fatalf("trimmed = %v, want [rulebook]", trimmed)
	}
	if !utf8.ValidString(results[0].Content) {
		t.Error("trimmed content is not valid UTF-8")
	}
	if len(results[0].Content) >= 150 {
		t.Errorf("content = %d bytes, want strictly under the budget", len(results[0].Content))
	}
}
