// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
)

// Repository defines the interface for the routing record log. Records are
// append-only: Create inserts, UpdateFeedback amends a record exactly once,
// and nothing ever deletes or rewrites the original predictions.
type Repository interface {
	// Create appends a new routing record.
	Create(ctx context.Context, record *domain.RoutingRecord) error

	// Get retrieves a routing record by ID.
	// Returns domain.ErrRecordNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*domain.RoutingRecord, error)

	// UpdateFeedback records a reviewer verdict on a record. It succeeds at
	// most once per record; a second call returns
	// domain.ErrFeedbackAlreadyRecorded.
	UpdateFeedback(ctx context.Context, id string, fb domain.Feedback) error

	// ListRecent returns the most recently created records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.RoutingRecord, error)

	// ListPendingReview returns records without feedback, oldest first.
	ListPendingReview(ctx context.Context, limit int) ([]*domain.RoutingRecord, error)

	// Stats summarizes the record log.
	Stats(ctx context.Context) (*domain.RecordStats, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
