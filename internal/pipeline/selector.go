package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/llm"
)

// Strategy decides which knowledge partitions a query needs (Pass 1). The
// returned decision must contain exactly one entry per catalog partition,
// in catalog order.
type Strategy interface {
	Name() string
	Select(ctx context.Context, nq domain.NormalizedQuery, history []domain.Turn, catalog []CatalogEntry) (domain.SourceDecision, error)
}

// LLMSelector routes with a model call that returns structured JSON.
type LLMSelector struct {
	client llm.Client
}

func NewLLMSelector(client llm.Client) *LLMSelector {
	return &LLMSelector{client: client}
}

func (s *LLMSelector) Name() string { return "llm" }

const selectorSystemPrompt = `You are a query router for a tabletop campaign assistant.
Decide which knowledge sources are needed to answer the player's question.
Entity mentions have been replaced with typed placeholders like {CHARACTER} or {NPC}.

Respond with ONLY a JSON array, one object per source, in the order listed:
[{"tool": "<source id>", "needed": true|false, "intention": "<one of the source's intentions, or empty>", "reasoning": "<one short sentence>", "confidence": <0.0-1.0>}]

Every object must include a non-empty reasoning when needed is true.`

func (s *LLMSelector) Select(ctx context.Context, nq domain.NormalizedQuery, history []domain.Turn, catalog []CatalogEntry) (domain.SourceDecision, error) {
	var sources strings.Builder
	for _, entry := range catalog {
		fmt.Fprintf(&sources, "- %s: %s Intentions: %s\n",
			entry.Partition, entry.Description, strings.Join(entry.Intentions, ", "))
	}

	var prompt strings.Builder
	prompt.WriteString("Available sources:\n")
	prompt.WriteString(sources.String())
	if len(history) > 0 {
		prompt.WriteString("\nRecent conversation:\n")
		for _, turn := range tail(history, 6) {
			fmt.Fprintf(&prompt, "%s: %s\n", turn.Role, turn.Content)
		}
	}
	fmt.Fprintf(&prompt, "\nQuestion: %s\n", nq.Normalized)

	raw, err := s.client.Complete(ctx, selectorSystemPrompt, prompt.String())
	if err != nil {
		return domain.SourceDecision{}, fmt.Errorf("source selection: %w", err)
	}

	decisions, err := parseDecisions(raw, catalog)
	if err != nil {
		return domain.SourceDecision{}, err
	}
	decision := domain.SourceDecision{Decisions: decisions, Backend: s.Name()}
	if err := decision.Validate(); err != nil {
		return domain.SourceDecision{}, err
	}
	return decision, nil
}

// parseDecisions extracts the decision array from model output, tolerating
// markdown code fences and surrounding prose. The result is normalized to
// exactly one decision per catalog partition, in catalog order; partitions
// the model omitted default to not needed.
func parseDecisions(raw string, catalog []CatalogEntry) ([]domain.PartitionDecision, error) {
	payload := extractJSONArray(raw)
	if payload == "" {
		return nil, fmt.Errorf("source selection: no JSON array in model output")
	}

	var parsed []domain.PartitionDecision
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("source selection: parse model output: %w", err)
	}

	byPartition := make(map[domain.PartitionID]domain.PartitionDecision, len(parsed))
	for _, d := range parsed {
		d.Confidence = clamp01(d.Confidence)
		byPartition[d.Partition] = d
	}

	out := make([]domain.PartitionDecision, 0, len(catalog))
	for _, entry := range catalog {
		if d, ok := byPartition[entry.Partition]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, domain.PartitionDecision{Partition: entry.Partition, Needed: false})
	}
	return out, nil
}

func extractJSONArray(raw string) string {
	raw = strings.TrimSpace(raw)
	if fenced, ok := strings.CutPrefix(raw, "```json"); ok {
		raw = fenced
	} else if fenced, ok := strings.CutPrefix(raw, "```"); ok {
		raw = fenced
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func tail(turns []domain.Turn, n int) []domain.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// LocalSelector routes without a model call, scoring each partition against
// weighted lexical cues in the normalized query. It is fast, deterministic
// and deliberately conservative: when nothing matches, no partition is
// marked needed and the orchestrator's low-confidence fallback takes over.
type LocalSelector struct{}

func NewLocalSelector() *LocalSelector { return &LocalSelector{} }

func (s *LocalSelector) Name() string { return "local" }

type cue struct {
	term      string
	weight    float64
	intention string
}

var partitionCues = map[domain.PartitionID][]cue{
	domain.PartitionRulebook: {
		{"rule", 0.5, "rule_lookup"}, {"rules", 0.5, "rule_lookup"},
		{"how does", 0.4, "mechanic_explanation"}, {"how do", 0.4, "mechanic_explanation"},
		{"spell", 0.4, "spell_details"}, {"cast", 0.3, "spell_details"},
		{"grapple", 0.5, "rule_lookup"}, {"stealth", 0.4, "rule_lookup"},
		{"attack", 0.3, "rule_lookup"}, {"damage", 0.3, "rule_lookup"},
		{"check", 0.3, "rule_lookup"}, {"saving throw", 0.5, "rule_lookup"},
		{"condition", 0.4, "condition_details"}, {"work", 0.2, "mechanic_explanation"},
	},
	domain.PartitionCharacter: {
		{"{character}", 0.6, "stat_check"},
		{"my", 0.4, "stat_check"}, {"i have", 0.4, "inventory_lookup"},
		{"inventory", 0.6, "inventory_lookup"}, {"carrying", 0.5, "inventory_lookup"},
		{"armor class", 0.6, "stat_check"}, {"hit points", 0.6, "stat_check"},
		{"hp", 0.4, "stat_check"}, {"ac", 0.3, "stat_check"},
		{"spells", 0.3, "spell_list"}, {"prepared", 0.4, "spell_list"},
		{"background", 0.5, "background_detail"}, {"backstory", 0.5, "background_detail"},
	},
	domain.PartitionHistory: {
		{"{npc}", 0.6, "npc_interaction"}, {"{place}", 0.5, "event_recall"},
		{"last session", 0.7, "session_summary"}, {"last time", 0.5, "session_summary"},
		{"session", 0.4, "session_summary"}, {"happened", 0.5, "event_recall"},
		{"remember", 0.4, "event_recall"}, {"met", 0.4, "npc_interaction"},
		{"who is", 0.4, "npc_interaction"}, {"who was", 0.4, "npc_interaction"},
		{"recap", 0.6, "session_summary"}, {"previously", 0.5, "event_recall"},
	},
}

const localNeededScore = 0.4

func (s *LocalSelector) Select(ctx context.Context, nq domain.NormalizedQuery, history []domain.Turn, catalog []CatalogEntry) (domain.SourceDecision, error) {
	text := strings.ToLower(nq.Normalized)

	decisions := make([]domain.PartitionDecision, 0, len(catalog))
	for _, entry := range catalog {
		score := 0.0
		intention := ""
		best := 0.0
		var matched []string
		for _, c := range partitionCues[entry.Partition] {
			if !containsWord(text, c.term) {
				continue
			}
			score += c.weight
			matched = append(matched, strings.TrimSpace(c.term))
			if c.weight > best {
				best = c.weight
				intention = c.intention
			}
		}
		score = clamp01(score)

		d := domain.PartitionDecision{Partition: entry.Partition, Confidence: score}
		if score >= localNeededScore {
			d.Needed = true
			d.Intention = intention
			d.Reasoning = "matched cues: " + strings.Join(matched, ", ")
		}
		decisions = append(decisions, d)
	}
	return domain.SourceDecision{Decisions: decisions, Backend: s.Name()}, nil
}

// ShadowSelector runs a primary and a secondary strategy concurrently. The
// primary is authoritative; the secondary's decision rides along in the
// Shadow field for offline comparison, and its failure never fails routing.
type ShadowSelector struct {
	primary   Strategy
	secondary Strategy
	logger    *slog.Logger
}

func NewShadowSelector(primary, secondary Strategy, logger *slog.Logger) *ShadowSelector {
	return &ShadowSelector{primary: primary, secondary: secondary, logger: logger}
}

func (s *ShadowSelector) Name() string { return "shadow" }

func (s *ShadowSelector) Select(ctx context.Context, nq domain.NormalizedQuery, history []domain.Turn, catalog []CatalogEntry) (domain.SourceDecision, error) {
	var primary, secondary domain.SourceDecision
	var secondaryErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primary, err = s.primary.Select(gctx, nq, history, catalog)
		return err
	})
	g.Go(func() error {
		secondary, secondaryErr = s.secondary.Select(gctx, nq, history, catalog)
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.SourceDecision{}, err
	}

	primary.Backend = s.Name()
	if secondaryErr != nil {
		s.logger.Warn("shadow strategy failed",
			"strategy", s.secondary.Name(), "error", secondaryErr)
		return primary, nil
	}
	primary.Shadow = &secondary
	return primary, nil
}

var (
	_ Strategy = (*LLMSelector)(nil)
	_ Strategy = (*LocalSelector)(nil)
	_ Strategy = (*ShadowSelector)(nil)
)
