package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS routing_records (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		predictions_json TEXT NOT NULL,
		entities_json TEXT,
		backend TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		correct INTEGER,
		corrected_json TEXT,
		notes TEXT,
		created_at INTEGER NOT NULL,
		feedback_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_routing_records_created ON routing_records(created_at);
	CREATE INDEX IF NOT EXISTS idx_routing_records_pending ON routing_records(created_at) WHERE feedback_at IS NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create appends a new routing record.
func (s *SQLiteStore) Create(ctx context.Context, record *domain.RoutingRecord) error {
	predictions, err := json.Marshal(record.Predictions)
	if err != nil {
		return fmt.Errorf("marshal predictions: %w", err)
	}
	var entities any
	if len(record.Entities) > 0 {
		raw, err := json.Marshal(record.Entities)
		if err != nil {
			return fmt.Errorf("marshal entities: %w", err)
		}
		entities = string(raw)
	}

	query := `
	INSERT INTO routing_records
		(id, query_text, user_id, session_id, predictions_json, entities_json, backend, latency_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.QueryText, record.UserID, record.SessionID,
		string(predictions), entities, record.Backend, record.LatencyMs,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert routing record: %w", err)
	}
	return nil
}

// Get retrieves a routing record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.RoutingRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM routing_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan routing record: %w", err)
	}
	return record, nil
}

// UpdateFeedback records a reviewer verdict exactly once. The WHERE clause
// guards the append-only contract: a record that already has feedback_at
// set is never touched again.
func (s *SQLiteStore) UpdateFeedback(ctx context.Context, id string, fb domain.Feedback) error {
	var corrected any
	if len(fb.Corrected) > 0 {
		raw, err := json.Marshal(fb.Corrected)
		if err != nil {
			return fmt.Errorf("marshal corrected predictions: %w", err)
		}
		corrected = string(raw)
	}

	query := `
	UPDATE routing_records
	SET correct = ?, corrected_json = ?, notes = ?, feedback_at = ?
	WHERE id = ? AND feedback_at IS NULL`

	result, err := s.db.ExecContext(ctx, query,
		boolToInt(fb.IsCorrect), corrected, fb.Notes, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish "no such record" from "already reviewed".
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM routing_records WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return domain.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("check routing record: %w", err)
		}
		return domain.ErrFeedbackAlreadyRecorded
	}
	return nil
}

// ListRecent returns the most recently created records, newest first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*domain.RoutingRecord, error) {
	query := selectColumns + ` FROM routing_records ORDER BY created_at DESC, id LIMIT ?`
	return s.queryRecords(ctx, query, limit)
}

// ListPendingReview returns records without feedback, oldest first so the
// review queue drains in arrival order.
func (s *SQLiteStore) ListPendingReview(ctx context.Context, limit int) ([]*domain.RoutingRecord, error) {
	query := selectColumns + ` FROM routing_records WHERE feedback_at IS NULL ORDER BY created_at ASC, id LIMIT ?`
	return s.queryRecords(ctx, query, limit)
}

// Stats summarizes the record log.
func (s *SQLiteStore) Stats(ctx context.Context) (*domain.RecordStats, error) {
	query := `
	SELECT
		COUNT(*),
		COUNT(feedback_at),
		COUNT(*) - COUNT(feedback_at),
		COALESCE(SUM(CASE WHEN correct = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN correct = 0 THEN 1 ELSE 0 END), 0)
	FROM routing_records`

	var stats domain.RecordStats
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Total, &stats.Reviewed, &stats.PendingReview,
		&stats.Correct, &stats.Incorrect,
	)
	if err != nil {
		return nil, fmt.Errorf("query record stats: %w", err)
	}
	return &stats, nil
}

const selectColumns = `
	SELECT id, query_text, user_id, session_id, predictions_json, entities_json,
	       backend, latency_ms, correct, corrected_json, notes, created_at, feedback_at`

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]*domain.RoutingRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query routing records: %w", err)
	}
	defer rows.Close()

	var records []*domain.RoutingRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan routing record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routing records: %w", err)
	}
	return records, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*domain.RoutingRecord, error) {
	var record domain.RoutingRecord
	var predictions string
	var entities, corrected, notes sql.NullString
	var correct, feedbackAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&record.ID, &record.QueryText, &record.UserID, &record.SessionID,
		&predictions, &entities, &record.Backend, &record.LatencyMs,
		&correct, &corrected, &notes, &createdAt, &feedbackAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(predictions), &record.Predictions); err != nil {
		return nil, fmt.Errorf("unmarshal predictions: %w", err)
	}
	if entities.Valid && entities.String != "" {
		if err := json.Unmarshal([]byte(entities.String), &record.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
	}
	if corrected.Valid && corrected.String != "" {
		if err := json.Unmarshal([]byte(corrected.String), &record.Corrected); err != nil {
			return nil, fmt.Errorf("unmarshal corrected predictions: %w", err)
		}
	}
	if correct.Valid {
		v := correct.Int64 == 1
		record.Correct = &v
	}
	record.Notes = notes.String
	record.CreatedAt = time.Unix(createdAt, 0)
	if feedbackAt.Valid {
		t := time.Unix(feedbackAt.Int64, 0)
		record.FeedbackAt = &t
	}
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
