package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arclight-ai/dispatch/internal/orchestrator"
)

// SaveTask upserts a task record. Terminal tasks overwrite their earlier
// processing row.
func (s *Store) SaveTask(ctx context.Context, t *orchestrator.Task) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tasks (id, type, input, priority, status, agent_id, result, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET status = $5, agent_id = $6, result = $7, error = $8, updated_at = $10`,
		t.ID, t.Type, t.Input, string(t.Priority), string(t.Status),
		nullable(t.AgentID), nullable(t.Result), nullable(t.Error),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// SaveExecution upserts an execution with its accumulated context.
func (s *Store) SaveExecution(ctx context.Context, e *orchestrator.Execution) error {
	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("marshal execution context: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, context, triggered_by, status, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET context = $3, status = $5, error = $6, completed_at = $8`,
		e.ID, e.WorkflowID, ctxJSON, e.TriggeredBy, string(e.Status),
		nullable(e.Error), e.StartedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// SaveHandoff stores a completed handoff record.
func (s *Store) SaveHandoff(ctx context.Context, h *orchestrator.Handoff) error {
	ctxJSON, err := json.Marshal(h.Context)
	if err != nil {
		return fmt.Errorf("marshal handoff context: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO handoffs (id, from_agent, to_agent, task_id, context, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		h.ID, h.FromAgent, h.ToAgent, h.TaskID, ctxJSON, h.Reason,
		string(h.Status), h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

// SaveCollaboration stores a collaboration record.
func (s *Store) SaveCollaboration(ctx context.Context, c *orchestrator.Collaboration) error {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("marshal collaboration context: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO collaborations (id, requesting_agent, target_agent, type, description, context, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.RequestingAgent, c.TargetAgent, c.Type, c.Description,
		ctxJSON, c.Status, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save collaboration: %w", err)
	}
	return nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
