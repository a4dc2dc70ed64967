package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arclight-ai/dispatch/internal/modelrouter"
	"github.com/arclight-ai/dispatch/internal/provider"
)

// ErrAgentNotFound is returned when an agent id doesn't exist.
var ErrAgentNotFound = errors.New("agent not found")

// Engine owns the agent registry and runs single-task executions: it
// classifies the task, asks the model router for a model, issues the one
// external model call, and records feedback.
type Engine struct {
	agents    map[string]*Agent
	providers *provider.Registry
	models    *modelrouter.Router
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewEngine creates an agent engine.
func NewEngine(providers *provider.Registry, models *modelrouter.Router, logger *zap.Logger) *Engine {
	return &Engine{
		agents:    make(map[string]*Agent),
		providers: providers,
		models:    models,
		logger:    logger,
	}
}

// Register adds an agent. Re-registering an existing id overwrites the
// previous registration; the caller is trusted to mean it.
func (e *Engine) Register(a *Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Status = StatusIdle
	e.agents[a.ID] = a
	e.logger.Info("registered agent",
		zap.String("id", a.ID),
		zap.String("name", a.Name),
		zap.String("type", a.Type))
}

// Get returns a snapshot of an agent by id. The registry keeps mutating
// its own copy; callers get a value they can encode without holding the
// lock.
func (e *Engine) Get(id string) (*Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[id]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// List returns snapshots of all registered agents.
func (e *Engine) List() []*Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Agent, 0, len(e.agents))
	for _, a := range e.agents {
		out = append(out, a.clone())
	}
	return out
}

// Count returns the registry size.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.agents)
}

// FindForTask resolves the agent responsible for a task type: an enabled
// capability match wins, otherwise any idle agent takes it.
func (e *Engine) FindForTask(taskType string) (*Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, a := range e.agents {
		if a.Status != StatusOffline && a.Can(taskType) {
			return a.clone(), true
		}
	}
	for _, a := range e.agents {
		if a.Status == StatusIdle {
			return a.clone(), true
		}
	}
	return nil, false
}

// ExecuteRequest describes one unit of agent work.
type ExecuteRequest struct {
	TaskType   string
	Input      string
	Complexity string // optional declared class; classified from input when empty
	UserID     string // preference scope for model routing
}

// Result is the outcome of one agent execution.
type Result struct {
	Content    string         `json:"content"`
	Model      string         `json:"model"`
	DurationMs int64          `json:"duration_ms"`
	Usage      provider.Usage `json:"usage"`
}

// Execute runs one task on an agent. The model call is the only
// suspension point; the caller's context deadline bounds it.
func (e *Engine) Execute(ctx context.Context, agentID string, req ExecuteRequest) (*Result, error) {
	a, ok := e.Get(agentID)
	if !ok {
		return nil, ErrAgentNotFound
	}

	complexity := modelrouter.ParseComplexity(req.Complexity)
	if req.Complexity == "" {
		complexity = ClassifyComplexity(req.Input)
	}

	model := e.models.Select(ctx, req.UserID, req.TaskType, complexity)
	if model == modelrouter.AutoModel && a.Model != "" {
		model = a.Model
	}

	e.setStatus(agentID, StatusBusy)
	e.think(agentID, fmt.Sprintf("dispatching %s task (%s)", req.TaskType, complexity), model)
	defer e.setStatus(agentID, StatusIdle)

	start := time.Now()
	resp, err := e.providers.Chat(ctx, &provider.ChatRequest{
		Model: model,
		Messages: []provider.Message{
			{Role: "system", Content: a.SystemPrompt},
			{Role: "user", Content: req.Input},
		},
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		e.recordStats(agentID, false, elapsed)
		e.think(agentID, "model call failed: "+err.Error(), model)
		e.models.RecordAsync(&modelrouter.PerformanceRecord{
			ModelID:        model,
			TaskType:       req.TaskType,
			Complexity:     complexity,
			Success:        false,
			ResponseTimeMs: elapsed,
			Rating:         ratingFor(false, elapsed),
			UserID:         req.UserID,
		})
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}

	e.recordStats(agentID, true, elapsed)
	e.think(agentID, truncate(resp.Content, 200), resp.Model)
	e.models.RecordAsync(&modelrouter.PerformanceRecord{
		ModelID:        model,
		TaskType:       req.TaskType,
		Complexity:     complexity,
		Success:        true,
		ResponseTimeMs: elapsed,
		Rating:         ratingFor(true, elapsed),
		UserID:         req.UserID,
	})

	return &Result{
		Content:    resp.Content,
		Model:      resp.Model,
		DurationMs: elapsed,
		Usage:      resp.Usage,
	}, nil
}

func (e *Engine) setStatus(agentID string, s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.agents[agentID]; ok {
		a.Status = s
		a.UpdatedAt = time.Now()
	}
}

func (e *Engine) recordStats(agentID string, success bool, ms int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[agentID]
	if !ok {
		return
	}
	if success {
		a.Stats.recordSuccess(ms)
	} else {
		a.Stats.recordFailure(ms)
	}
}

func (e *Engine) think(agentID, content, model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.agents[agentID]; ok {
		a.think(content, model)
	}
}

// ratingFor derives an implicit rating when no explicit user rating
// exists: fast successes are strong signal, failures weak.
func ratingFor(success bool, ms int64) int {
	switch {
	case !success:
		return 1
	case ms < 2000:
		return 5
	default:
		return 4
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
