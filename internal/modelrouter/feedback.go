package modelrouter

import (
	"context"
	"sync"
	"time"
)

// PerformanceRecord is one append-only feedback entry about a model call.
// Records are never mutated after insert.
type PerformanceRecord struct {
	ModelID        string     `json:"model_id"`
	TaskType       string     `json:"task_type"`
	Complexity     Complexity `json:"complexity"`
	Success        bool       `json:"success"`
	ResponseTimeMs int64      `json:"response_time_ms"`
	Rating         int        `json:"rating"`
	UserID         string     `json:"user_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// PerformanceStore is the feedback source the router aggregates over.
// Recent returns records newest first; empty userID or taskType match all.
type PerformanceStore interface {
	Append(ctx context.Context, rec *PerformanceRecord) error
	Recent(ctx context.Context, userID, taskType string, limit int) ([]*PerformanceRecord, error)
}

// MemoryStore is an in-process PerformanceStore backed by a bounded ring.
// It is the default when no Postgres archive is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*PerformanceRecord
	cap     int
}

// NewMemoryStore creates a MemoryStore retaining at most capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryStore{cap: capacity}
}

// Append stores one record, evicting the oldest past capacity.
func (s *MemoryStore) Append(ctx context.Context, rec *PerformanceRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > s.cap {
		s.records = s.records[len(s.records)-s.cap:]
	}
	return nil
}

// Recent returns up to limit matching records, newest first.
func (s *MemoryStore) Recent(ctx context.Context, userID, taskType string, limit int) ([]*PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PerformanceRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if userID != "" && r.UserID != userID {
			continue
		}
		if taskType != "" && r.TaskType != taskType {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
