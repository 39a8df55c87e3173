package domain

import "time"

// Prediction is one predicted tool/intention/confidence triple from the
// routing passes.
type Prediction struct {
	Partition  PartitionID `json:"tool"`
	Intention  string      `json:"intention"`
	Confidence float64     `json:"confidence"`
}

// RoutingRecord is the persisted, append-only log of one routing decision.
// It is created right after the routing passes, before retrieval, and
// updated exactly once when a reviewer submits feedback. The original
// predictions are never overwritten — corrections live alongside them so
// the record stays usable as supervised training data.
type RoutingRecord struct {
	ID          string             `json:"id"`
	QueryText   string             `json:"query_text"`
	UserID      string             `json:"user_id"`
	SessionID   string             `json:"session_id"`
	Predictions []Prediction       `json:"predictions"`
	Entities    []EntityExtraction `json:"entities,omitempty"`
	Backend     string             `json:"backend"`
	LatencyMs   int64              `json:"latency_ms"`
	Correct     *bool              `json:"correct,omitempty"`
	Corrected   []Prediction       `json:"corrected,omitempty"`
	Notes       string             `json:"notes,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	FeedbackAt  *time.Time         `json:"feedback_at,omitempty"`
}

// Reviewed reports whether feedback has been recorded.
func (r RoutingRecord) Reviewed() bool {
	return r.FeedbackAt != nil
}

// Feedback is a reviewer's verdict on a routing record.
type Feedback struct {
	IsCorrect bool         `json:"is_correct"`
	Corrected []Prediction `json:"corrected,omitempty"`
	Notes     string       `json:"notes,omitempty"`
}

// RecordStats summarizes the routing record store.
type RecordStats struct {
	Total         int64 `json:"total"`
	Reviewed      int64 `json:"reviewed"`
	PendingReview int64 `json:"pending_review"`
	Correct       int64 `json:"correct"`
	Incorrect     int64 `json:"incorrect"`
}
