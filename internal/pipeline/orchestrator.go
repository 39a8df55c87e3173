package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
)

// RecordWriter persists routing records. The orchestrator only appends;
// reads and feedback updates belong to the API layer.
type RecordWriter interface {
	Create(ctx context.Context, record *domain.RoutingRecord) error
}

// EventSink receives progress events during a run. Called synchronously
// from the pipeline goroutine; implementations must not block.
type EventSink func(domain.ProgressEvent)

// Result is a completed pipeline run.
type Result struct {
	Answer   string
	RecordID string
	Degraded []domain.PartitionID // partitions with missing or unavailable content
	Trimmed  []domain.PartitionID // partitions cut to fit the context budget
}

// Options carries the pipeline's tunable thresholds and timeouts.
type Options struct {
	ConfidenceThreshold float64
	Pass1Timeout        time.Duration
	Pass2Timeout        time.Duration
	Pass3Timeout        time.Duration
	Pass4Timeout        time.Duration
}

// Orchestrator drives a query through the four passes, emitting progress
// events at each pass boundary and tolerating partial failures: a failed
// routing call degrades to selecting everything, a failed partition fetch
// degrades to an explicit gap in the answer. Only total retrieval failure
// or a synthesis failure is terminal.
type Orchestrator struct {
	source      knowledge.Source
	strategy    Strategy
	targeter    *Targeter
	retriever   *Retriever
	synthesizer *Synthesizer
	records     RecordWriter
	opts        Options
	logger      *slog.Logger
}

func NewOrchestrator(
	source knowledge.Source,
	strategy Strategy,
	targeter *Targeter,
	retriever *Retriever,
	synthesizer *Synthesizer,
	records RecordWriter,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		source:      source,
		strategy:    strategy,
		targeter:    targeter,
		retriever:   retriever,
		synthesizer: synthesizer,
		records:     records,
		opts:        opts,
		logger:      logger,
	}
}

// Run executes the pipeline for one query. emit receives pass-boundary
// progress; onToken receives answer tokens as synthesis streams them. Both
// may be nil. Terminal failures come back as *domain.PassError.
func (o *Orchestrator) Run(ctx context.Context, query domain.Query, emit EventSink, onToken func(string)) (*Result, error) {
	if emit == nil {
		emit = func(domain.ProgressEvent) {}
	}
	started := time.Now()
	catalog := Catalog(o.source)
	if len(catalog) == 0 {
		return nil, &domain.PassError{Pass: domain.PassSourceSelection, Err: errors.New("no knowledge partitions loaded")}
	}

	// Pass 1: entity recognition, then source selection.
	emit(domain.ProgressEvent{
		Pass:    domain.PassSourceSelection,
		Status:  domain.StatusStarting,
		Message: "Deciding which sources to consult",
	})

	nq := NewRecognizer(o.source.Gazetteer()).Recognize(query.Text)

	decision, err := o.selectSources(ctx, nq, query.History, catalog)
	if err != nil {
		emit(passErrorEvent(domain.PassSourceSelection, err))
		return nil, &domain.PassError{Pass: domain.PassSourceSelection, Err: err}
	}

	// A confident "nothing needed" verdict is valid (small talk); an
	// unconfident one is not. Either way low confidence triggers exactly one
	// re-selection with everything marked needed, never a refusal.
	if bestConfidence(decision) < o.opts.ConfidenceThreshold {
		emit(domain.ProgressEvent{
			Pass:    domain.PassSourceSelection,
			Status:  domain.StatusActive,
			Message: "Routing confidence low, consulting all sources",
		})
		decision = selectAll(catalog, decision.Backend, "low routing confidence")
	}

	needed := decision.Needed()
	emit(domain.ProgressEvent{
		Pass:    domain.PassSourceSelection,
		Status:  domain.StatusComplete,
		Message: fmt.Sprintf("Consulting %d source(s)", len(needed)),
		Metadata: map[string]any{
			"sources":  partitionIDs(needed),
			"backend":  decision.Backend,
			"entities": len(nq.Extractions),
		},
	})

	// Pass 2: targeting.
	emit(domain.ProgressEvent{
		Pass:    domain.PassTargeting,
		Status:  domain.StatusStarting,
		Message: "Locating relevant content",
	})

	inputs, indexFailures := o.targetAll(ctx, nq, needed)

	emit(domain.ProgressEvent{
		Pass:    domain.PassTargeting,
		Status:  domain.StatusComplete,
		Message: "Targets resolved",
		Metadata: map[string]any{
			"targets": targetSummary(inputs),
		},
	})

	record := o.writeRecord(ctx, query, nq, decision, needed, started)

	// Pass 3: retrieval.
	emit(domain.ProgressEvent{
		Pass:    domain.PassRetrieval,
		Status:  domain.StatusStarting,
		Message: "Fetching content",
	})

	ctx3, cancel3 := context.WithTimeout(ctx, o.opts.Pass3Timeout)
	retrieved, trimmed, err := o.retriever.Retrieve(ctx3, inputs)
	cancel3()
	if err != nil {
		emit(passErrorEvent(domain.PassRetrieval, err))
		return nil, &domain.PassError{Pass: domain.PassRetrieval, Err: err}
	}
	for i := range retrieved {
		if reason, ok := indexFailures[retrieved[i].Partition]; ok {
			retrieved[i].Missing = false
			retrieved[i].Unavailable = true
			retrieved[i].Reason = reason
		}
	}

	var degraded []domain.PartitionID
	for _, rc := range retrieved {
		if !rc.OK() {
			degraded = append(degraded, rc.Partition)
		}
	}
	emit(domain.ProgressEvent{
		Pass:    domain.PassRetrieval,
		Status:  domain.StatusComplete,
		Message: fmt.Sprintf("Retrieved from %d of %d source(s)", len(retrieved)-len(degraded), len(retrieved)),
		Metadata: map[string]any{
			"degraded": degraded,
			"trimmed":  trimmed,
		},
	})

	// Pass 4: synthesis.
	emit(domain.ProgressEvent{
		Pass:    domain.PassSynthesis,
		Status:  domain.StatusStarting,
		Message: "Composing answer",
	})

	ctx4, cancel4 := context.WithTimeout(ctx, o.opts.Pass4Timeout)
	answer, err := o.synthesizer.Synthesize(ctx4, query, retrieved, onToken)
	cancel4()
	if err != nil {
		emit(passErrorEvent(domain.PassSynthesis, err))
		return nil, &domain.PassError{Pass: domain.PassSynthesis, Err: err}
	}

	emit(domain.ProgressEvent{
		Pass:    domain.PassSynthesis,
		Status:  domain.StatusComplete,
		Message: "Answer ready",
	})

	result := &Result{
		Answer:   answer,
		Degraded: degraded,
		Trimmed:  trimmed,
	}
	if record != nil {
		result.RecordID = record.ID
	}
	return result, nil
}

// selectSources runs the strategy under the Pass-1 timeout. Strategy
// failures degrade to selecting every partition; contract violations are
// terminal because a defaulted decision would mask a real bug.
func (o *Orchestrator) selectSources(ctx context.Context, nq domain.NormalizedQuery, history []domain.Turn, catalog []CatalogEntry) (domain.SourceDecision, error) {
	ctx1, cancel := context.WithTimeout(ctx, o.opts.Pass1Timeout)
	defer cancel()

	decision, err := o.strategy.Select(ctx1, nq, history, catalog)
	if err == nil {
		return decision, nil
	}

	var violation *domain.ContractViolationError
	if errors.As(err, &violation) {
		return domain.SourceDecision{}, err
	}
	if ctx.Err() != nil {
		// The request itself was cancelled, not just the pass budget.
		return domain.SourceDecision{}, ctx.Err()
	}

	o.logger.Warn("source selection failed, consulting all sources",
		"strategy", o.strategy.Name(), "error", err)
	return selectAll(catalog, o.strategy.Name(), "selection failed: "+err.Error()), nil
}

// bestConfidence is the confidence the low-routing-confidence gate tests:
// the strongest needed partition, or — when nothing was selected — the
// strongest "not needed" verdict, so confident small talk passes through
// while an unsure empty selection gets re-routed.
func bestConfidence(decision domain.SourceDecision) float64 {
	if len(decision.Needed()) > 0 {
		return decision.MaxNeededConfidence()
	}
	max := 0.0
	for _, pd := range decision.Decisions {
		if pd.Confidence > max {
			max = pd.Confidence
		}
	}
	return max
}

func selectAll(catalog []CatalogEntry, backend, reason string) domain.SourceDecision {
	decisions := make([]domain.PartitionDecision, 0, len(catalog))
	for _, entry := range catalog {
		decisions = append(decisions, domain.PartitionDecision{
			Partition:  entry.Partition,
			Needed:     true,
			Reasoning:  reason,
			Confidence: 0.5,
		})
	}
	return domain.SourceDecision{Decisions: decisions, Backend: backend}
}

// targetAll resolves targets for every needed partition in declaration
// order. Index failures are recorded and surface later as Unavailable
// markers rather than aborting the run.
func (o *Orchestrator) targetAll(ctx context.Context, nq domain.NormalizedQuery, needed []domain.PartitionDecision) ([]RetrievalInput, map[domain.PartitionID]string) {
	ctx2, cancel := context.WithTimeout(ctx, o.opts.Pass2Timeout)
	defer cancel()

	inputs := make([]RetrievalInput, 0, len(needed))
	failures := make(map[domain.PartitionID]string)
	for _, decision := range needed {
		input := RetrievalInput{
			Decision: decision,
			Targets:  domain.TargetSet{Partition: decision.Partition},
		}

		part, ok := o.source.Partition(decision.Partition)
		if !ok {
			failures[decision.Partition] = "partition not active"
			inputs = append(inputs, input)
			continue
		}
		outline, err := part.Index(ctx2)
		if err != nil {
			o.logger.Warn("partition index failed", "partition", decision.Partition, "error", err)
			failures[decision.Partition] = "index failed: " + err.Error()
			inputs = append(inputs, input)
			continue
		}
		targets, err := o.targeter.Target(ctx2, outline, nq, decision)
		if err != nil {
			// The outline is known, so the safe default is fetching all of it
			// rather than declaring the partition unavailable.
			o.logger.Warn("targeting failed, fetching whole partition", "partition", decision.Partition, "error", err)
			targets = targetEverything(outline)
		}
		input.Targets = targets
		inputs = append(inputs, input)
	}
	return inputs, failures
}

// writeRecord appends the routing record once routing is fully decided.
// Store failures are logged, never fatal: losing one training example must
// not cost the user their answer.
func (o *Orchestrator) writeRecord(ctx context.Context, query domain.Query, nq domain.NormalizedQuery, decision domain.SourceDecision, needed []domain.PartitionDecision, started time.Time) *domain.RoutingRecord {
	if o.records == nil {
		return nil
	}

	predictions := make([]domain.Prediction, 0, len(needed))
	for _, d := range needed {
		predictions = append(predictions, domain.Prediction{
			Partition:  d.Partition,
			Intention:  d.Intention,
			Confidence: d.Confidence,
		})
	}
	record := &domain.RoutingRecord{
		ID:          uuid.NewString(),
		QueryText:   query.Text,
		UserID:      query.UserID,
		SessionID:   query.SessionID,
		Predictions: predictions,
		Entities:    nq.Extractions,
		Backend:     decision.Backend,
		LatencyMs:   time.Since(started).Milliseconds(),
		CreatedAt:   time.Now(),
	}
	if err := o.records.Create(ctx, record); err != nil {
		o.logger.Error("routing record write failed", "record_id", record.ID, "error", err)
		return nil
	}
	return record
}

// targetEverything addresses a partition's entire outline.
func targetEverything(outline *knowledge.Outline) domain.TargetSet {
	set := domain.TargetSet{Partition: outline.Partition}
	for _, s := range outline.Sections {
		set.Sections = append(set.Sections, domain.SectionRef{ID: s.ID, Title: s.Title, Depth: s.Depth})
	}
	if len(outline.Files) > 0 {
		set.Fields = make(map[string][]string, len(outline.Files))
		for key := range outline.Files {
			set.Fields[key] = []string{domain.FieldWildcard}
		}
	}
	for _, s := range outline.Sessions {
		set.SessionIDs = append(set.SessionIDs, s.ID)
	}
	return set
}

func passErrorEvent(pass int, err error) domain.ProgressEvent {
	return domain.ProgressEvent{
		Pass:    pass,
		Status:  domain.StatusError,
		Message: err.Error(),
	}
}

func partitionIDs(decisions []domain.PartitionDecision) []domain.PartitionID {
	out := make([]domain.PartitionID, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, d.Partition)
	}
	return out
}

func targetSummary(inputs []RetrievalInput) map[string]int {
	summary := make(map[string]int, len(inputs))
	for _, in := range inputs {
		n := len(in.Targets.Sections) + len(in.Targets.Fields) + len(in.Targets.SessionIDs)
		summary[string(in.Targets.Partition)] = n
	}
	return summary
}
