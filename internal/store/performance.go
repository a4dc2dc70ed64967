package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arclight-ai/dispatch/internal/modelrouter"
)

// Append inserts one model feedback record.
func (s *Store) Append(ctx context.Context, rec *modelrouter.PerformanceRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO model_performance (model_id, task_type, complexity, success, response_time_ms, rating, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ModelID, rec.TaskType, string(rec.Complexity), rec.Success,
		rec.ResponseTimeMs, rec.Rating, nullable(rec.UserID), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append performance record: %w", err)
	}
	return nil
}

// Recent returns up to limit feedback records, newest first. Empty
// userID or taskType match all rows.
func (s *Store) Recent(ctx context.Context, userID, taskType string, limit int) ([]*modelrouter.PerformanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT model_id, task_type, complexity, success, response_time_ms, rating, COALESCE(user_id, ''), created_at
		FROM model_performance
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR task_type = $2)
		ORDER BY created_at DESC
		LIMIT $3`, userID, taskType, limit)
	if err != nil {
		return nil, fmt.Errorf("query performance records: %w", err)
	}
	defer rows.Close()

	var out []*modelrouter.PerformanceRecord
	for rows.Next() {
		var rec modelrouter.PerformanceRecord
		var complexity string
		if err := rows.Scan(&rec.ModelID, &rec.TaskType, &complexity, &rec.Success,
			&rec.ResponseTimeMs, &rec.Rating, &rec.UserID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan performance record: %w", err)
		}
		rec.Complexity = modelrouter.Complexity(complexity)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
