package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/llm"
)

// Synthesizer produces the final answer from retrieved content (Pass 4).
// Gaps in retrieval are stated in the prompt so the model acknowledges them
// instead of inventing content.
type Synthesizer struct {
	client     llm.Client
	maxRetries int
}

func NewSynthesizer(client llm.Client, maxRetries int) *Synthesizer {
	return &Synthesizer{client: client, maxRetries: maxRetries}
}

const synthesisSystemPrompt = `You are a knowledgeable assistant for a tabletop campaign.
Answer the player's question using ONLY the provided source material.
When a source is marked unavailable or missing, say so plainly and answer
with what remains; never invent rules, items, or events. Be concise and
speak in-world where it fits.`

// buildPrompt assembles the synthesis prompt: recent conversation, the
// per-partition content blocks with explicit gap markers, then the
// original (non-normalized) question.
func (s *Synthesizer) buildPrompt(query domain.Query, retrieved []domain.RetrievedContent) string {
	var b strings.Builder

	if len(query.History) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range tail(query.History, 6) {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Source material:\n\n")
	for _, rc := range retrieved {
		fmt.Fprintf(&b, "=== %s ===\n", rc.Partition)
		switch {
		case rc.Unavailable:
			fmt.Fprintf(&b, "[UNAVAILABLE: this source could not be read (%s). Tell the player this part could not be checked.]\n", rc.Reason)
		case rc.Missing:
			b.WriteString("[NO MATCH: nothing in this source matched the question. Tell the player it holds no record of this.]\n")
		default:
			b.WriteString(rc.Content)
			if rc.Truncated {
				b.WriteString("\n[NOTE: this source was shortened to fit; some detail may be missing.]")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n", query.Text)
	return b.String()
}

// Synthesize streams the answer, invoking onToken per token, and returns
// the assembled text. A transient failure before the first token is
// retried; once tokens have reached the caller the stream cannot be
// restarted without duplicating output, so mid-stream failures are final.
func (s *Synthesizer) Synthesize(ctx context.Context, query domain.Query, retrieved []domain.RetrievedContent, onToken func(string)) (string, error) {
	prompt := s.buildPrompt(query, retrieved)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			}
		}

		var answer strings.Builder
		streamErr := error(nil)
		for token, err := range s.client.Stream(ctx, synthesisSystemPrompt, prompt) {
			if err != nil {
				streamErr = err
				break
			}
			answer.WriteString(token)
			if onToken != nil {
				onToken(token)
			}
		}
		if streamErr == nil {
			return strings.TrimSpace(answer.String()), nil
		}

		if answer.Len() > 0 || !llm.IsTransient(streamErr) {
			return "", fmt.Errorf("synthesis: %w", streamErr)
		}
		lastErr = streamErr
	}
	return "", fmt.Errorf("synthesis: max retries exceeded: %w", lastErr)
}
