package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// Priority orders tasks in the queue. Urgent drains first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// rank maps a priority to its drain order. Unknown priorities sort last.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// Valid reports whether p is one of the four known bands.
func (p Priority) Valid() bool { return p.rank() >= 0 }

// TaskStatus tracks a task through its lifetime.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is a unit of agent work. Tasks are retained in memory for the
// process lifetime; they are never deleted, only transitioned.
type Task struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Input      string     `json:"input"`
	Priority   Priority   `json:"priority"`
	Status     TaskStatus `json:"status"`
	AgentID    string     `json:"agent_id,omitempty"`
	Complexity string     `json:"complexity,omitempty"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Workflow is an ordered template of steps, each delegated to an agent.
type Workflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Steps     []Step    `json:"steps"`
	Triggers  []string  `json:"triggers,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step is a single unit of work in a workflow.
type Step struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AgentID     string   `json:"agent_id"`
	Type        string   `json:"type"`
	Instruction string   `json:"instruction"`
	Priority    Priority `json:"priority,omitempty"`
}

// ExecutionStatus tracks one workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is one concrete run of a workflow. CompletedAt is set exactly
// once, when the run reaches a terminal status.
type Execution struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Context     map[string]interface{} `json:"context"`
	TriggeredBy string                 `json:"triggered_by"`
	Status      ExecutionStatus        `json:"status"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// validExecutionTransitions defines the execution state machine. Only the
// orchestrator drives transitions.
var validExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending: {ExecutionRunning, ExecutionFailed},
	ExecutionRunning: {ExecutionCompleted, ExecutionFailed},
}

// transitionExecution validates and applies from→to on an execution,
// stamping CompletedAt on the first terminal transition.
func transitionExecution(e *Execution, to ExecutionStatus) error {
	allowed, ok := validExecutionTransitions[e.Status]
	if !ok {
		return fmt.Errorf("no transitions from %q", e.Status)
	}
	for _, s := range allowed {
		if s == to {
			e.Status = to
			if (to == ExecutionCompleted || to == ExecutionFailed) && e.CompletedAt == nil {
				now := time.Now()
				e.CompletedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("invalid transition %q to %q", e.Status, to)
}

// HandoffStatus tracks a task ownership transfer.
type HandoffStatus string

const (
	HandoffCompleted HandoffStatus = "completed"
	HandoffRejected  HandoffStatus = "rejected"
)

// Handoff records a transfer of task ownership between two agents.
type Handoff struct {
	ID        string                 `json:"id"`
	FromAgent string                 `json:"from_agent"`
	ToAgent   string                 `json:"to_agent"`
	TaskID    string                 `json:"task_id"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Reason    string                 `json:"reason"`
	Status    HandoffStatus          `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
}

// Collaboration records a peer request between two agents. Unlike a
// handoff it does not transfer task ownership.
type Collaboration struct {
	ID              string                 `json:"id"`
	RequestingAgent string                 `json:"requesting_agent"`
	TargetAgent     string                 `json:"target_agent"`
	Type            string                 `json:"type"`
	Description     string                 `json:"description"`
	Context         map[string]interface{} `json:"context,omitempty"`
	Status          string                 `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Metrics is a read-only derived view of orchestrator state.
type Metrics struct {
	Running         bool    `json:"running"`
	AgentCount      int     `json:"agent_count"`
	WorkflowCount   int     `json:"workflow_count"`
	ExecutionCount  int     `json:"execution_count"`
	QueuedTasks     int     `json:"queued_tasks"`
	ProcessingTasks int     `json:"processing_tasks"`
	CompletedTasks  int     `json:"completed_tasks"`
	FailedTasks     int     `json:"failed_tasks"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// Sentinel errors for fallible orchestrator operations. Not-found and
// ownership violations are typed errors; the one exception is
// Update/DeleteWorkflow, whose found/not-found boolean is part of the
// public contract.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrNotTaskOwner     = errors.New("agent does not own task")
	ErrTaskTypeRequired = errors.New("task type is required")
	ErrNameRequired     = errors.New("workflow name is required")
	ErrEmptyWorkflow    = errors.New("workflow has no steps")
)
