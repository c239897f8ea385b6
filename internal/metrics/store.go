package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"dieetplanner/internal/shared"
)

// ExecutionMetric records metadata for a single generation stage.
type ExecutionMetric struct {
	RequestID        string
	StageName        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Timestamp        time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert saves a metric to the database.
func (s *Store) Insert(ctx context.Context, m ExecutionMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_metrics (request_id, stage_name, model, prompt_tokens, completion_tokens, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RequestID, m.StageName, m.Model, m.PromptTokens, m.CompletionTokens, m.LatencyMS, ts)
	if err != nil {
		return fmt.Errorf("failed to insert execution metric: %w", err)
	}
	return nil
}

// Record stores stage metadata for a request. Metrics are advisory, so a
// failed insert is logged and swallowed.
func (s *Store) Record(ctx context.Context, requestID string, meta shared.StageMeta) {
	if meta.Usage.PromptTokens == 0 && meta.Usage.CompletionTokens == 0 {
		return
	}
	if err := s.Insert(ctx, MapUsage(requestID, meta.StageName, meta.Usage, meta.Latency)); err != nil {
		slog.Warn("failed to record metric", "stage", meta.StageName, "error", err)
	}
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string
	TotalPrompt     int
	TotalCompletion int
	TotalExecution  int
}

// GetDailyUsage retrieves usage for the last N days.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02 15:04:05")
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(timestamp) AS day,
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COUNT(*)
		FROM execution_metrics
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.TotalPrompt, &u.TotalCompletion, &u.TotalExecution); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage row: %w", err)
		}
		results = append(results, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read daily usage rows: %w", err)
	}
	return results, nil
}

// Cleanup removes records older than the specified number of days and
// returns the number of deleted rows.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_metrics WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up metrics: %w", err)
	}
	return res.RowsAffected()
}

// MapUsage converts token usage to an ExecutionMetric.
func MapUsage(requestID, stageName string, usage shared.TokenUsage, latency time.Duration) ExecutionMetric {
	return ExecutionMetric{
		RequestID:        requestID,
		StageName:        stageName,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
}
