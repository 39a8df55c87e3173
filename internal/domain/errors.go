package domain

import (
	"errors"
	"fmt"
)

// ErrRetrievalTotalFailure means every attempted partition fetch failed.
// Unlike a single-partition degradation this is terminal.
var ErrRetrievalTotalFailure = errors.New("all partition fetches failed")

// ErrRecordNotFound is returned by the routing record store for unknown IDs.
var ErrRecordNotFound = errors.New("routing record not found")

// ErrFeedbackAlreadyRecorded guards the update-exactly-once feedback rule.
var ErrFeedbackAlreadyRecorded = errors.New("feedback already recorded for routing record")

// ContractViolationError means a component returned a value violating its
// own documented invariant. Always fatal, always logged loudly — never
// silently patched or defaulted.
type ContractViolationError struct {
	Component string
	Detail    string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation in %s: %s", e.Component, e.Detail)
}

// PassError wraps a terminal failure with the pass it occurred in so the
// presentation layer can render an actionable message.
type PassError struct {
	Pass int
	Err  error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("pass %d: %v", e.Pass, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }
