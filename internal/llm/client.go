// Package llm provides the language model client used by the routing and
// synthesis passes. The shipped implementation speaks the OpenAI-compatible
// chat completion API, so it can point at Ollama, OpenRouter, or any other
// conforming endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
)

// Client is the interface the pipeline depends on. Both methods are
// suspension points; implementations must honor ctx cancellation.
type Client interface {
	// Complete sends a system+user prompt pair and returns the full completion.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Stream sends a system+user prompt pair and yields completion tokens
	// strictly in generation order. The sequence observes ctx at each token
	// boundary, so cancelling the context stops generation promptly.
	Stream(ctx context.Context, systemPrompt, userPrompt string) iter.Seq2[string, error]
}

// APIError is a non-2xx response from the upstream endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error (status %d, type %q): %s", e.StatusCode, e.Type, e.Message)
}

// IsTransient reports whether an error is worth retrying: rate limits,
// upstream 5xx, and network-level failures. Validation and content-policy
// rejections (other 4xx) are permanent.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Context cancellation is not transient: the caller gave up.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Unrecognized transport errors (connection refused, EOF mid-body) are
	// treated as transient; contract-level errors below wrap APIError.
	return errors.Is(err, errUpstreamTransport)
}

var errUpstreamTransport = errors.New("upstream transport failure")
