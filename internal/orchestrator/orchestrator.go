// Package orchestrator coordinates agents, workflows and the task queue.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arclight-ai/dispatch/internal/agent"
)

// Archive is the optional write-behind store for completed records. The
// in-memory maps stay authoritative; archive failures are logged, never
// propagated into dispatch.
type Archive interface {
	SaveTask(ctx context.Context, t *Task) error
	SaveExecution(ctx context.Context, e *Execution) error
	SaveHandoff(ctx context.Context, h *Handoff) error
	SaveCollaboration(ctx context.Context, c *Collaboration) error
}

// Options tunes the drain loop.
type Options struct {
	PoolSize        int           // concurrent dispatches, default 10
	DispatchTimeout time.Duration // deadline per model call, default 2m
	pollInterval    time.Duration
}

// Orchestrator owns the agent registry, workflows, executions, handoffs
// and collaborations, and drains the task queue while running. All state
// lives in this process; a restart loses queued and in-flight tasks.
type Orchestrator struct {
	engine     *agent.Engine
	queue      *TaskQueue
	bus        *EventBus   // nilable
	archive    Archive     // nilable
	collectors *Collectors // nilable
	logger     *zap.Logger

	mu             sync.RWMutex
	tasks          map[string]*Task
	workflows      map[string]*Workflow
	executions     map[string]*Execution
	handoffs       []*Handoff
	collaborations []*Collaboration

	running   bool
	stopCh    chan struct{}
	loopWG    sync.WaitGroup
	inflight  sync.WaitGroup
	pool      chan struct{}
	timeout   time.Duration
	poll      time.Duration
	startedAt time.Time
}

// New creates an orchestrator. bus, archive and collectors may be nil.
func New(engine *agent.Engine, bus *EventBus, archive Archive, collectors *Collectors, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 2 * time.Minute
	}
	if opts.pollInterval <= 0 {
		opts.pollInterval = 50 * time.Millisecond
	}
	return &Orchestrator{
		engine:     engine,
		queue:      NewTaskQueue(),
		bus:        bus,
		archive:    archive,
		collectors: collectors,
		logger:     logger,
		tasks:      make(map[string]*Task),
		workflows:  make(map[string]*Workflow),
		executions: make(map[string]*Execution),
		pool:       make(chan struct{}, opts.PoolSize),
		timeout:    opts.DispatchTimeout,
		poll:       opts.pollInterval,
	}
}

// Queue exposes the task queue for read-only inspection.
func (o *Orchestrator) Queue() *TaskQueue { return o.queue }

// Start launches the drain loop. Starting twice is a no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.startedAt = time.Now()
	stop := o.stopCh
	o.mu.Unlock()

	o.loopWG.Add(1)
	go o.drainLoop(stop)
	o.logger.Info("orchestrator started")
}

// Stop halts new dispatch. In-flight tasks run to completion; stopping
// twice is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.loopWG.Wait()
	o.logger.Info("orchestrator stopped")
}

// Running reports whether the drain loop is consuming the queue.
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// Wait blocks until all in-flight dispatches finish. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) drainLoop(stop <-chan struct{}) {
	defer o.loopWG.Done()
	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for {
				select {
				case <-stop:
					return
				default:
				}
				t, ok := o.queue.DequeueNext()
				if !ok {
					break
				}
				o.collectors.setQueueDepth(o.queue.Len())
				o.inflight.Add(1)
				go func(task *Task) {
					defer o.inflight.Done()
					o.pool <- struct{}{}
					defer func() { <-o.pool }()
					o.runTask(task)
				}(t)
			}
		}
	}
}

// Enqueue adds a task to the queue. The drain loop picks it up once the
// orchestrator is running.
func (o *Orchestrator) Enqueue(t *Task) (string, error) {
	id, err := o.queue.Enqueue(t)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	o.tasks[id] = t
	o.mu.Unlock()

	o.collectors.setQueueDepth(o.queue.Len())
	o.publish(&Event{Kind: EventTaskQueued, TaskID: id, AgentID: t.AgentID})
	return id, nil
}

// GetTask returns a task by id.
func (o *Orchestrator) GetTask(id string) (*Task, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[id]
	return t, ok
}

// Tasks returns all tasks ever seen by this process.
func (o *Orchestrator) Tasks() []*Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t)
	}
	return out
}

// runTask resolves the owning agent and executes one queued task.
func (o *Orchestrator) runTask(t *Task) {
	start := time.Now()

	agentID := t.AgentID
	if agentID != "" {
		if _, ok := o.engine.Get(agentID); !ok {
			agentID = ""
		}
	}
	if agentID == "" {
		a, ok := o.engine.FindForTask(t.Type)
		if !ok {
			o.finishTask(t, "", "", "no agent available for task type "+t.Type, start)
			return
		}
		agentID = a.ID
	}

	o.mu.Lock()
	t.Status = TaskProcessing
	t.AgentID = agentID
	t.UpdatedAt = time.Now()
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	res, err := o.engine.Execute(ctx, agentID, agent.ExecuteRequest{
		TaskType:   t.Type,
		Input:      t.Input,
		Complexity: t.Complexity,
	})
	if err != nil {
		o.finishTask(t, agentID, "", err.Error(), start)
		return
	}
	o.finishTask(t, agentID, res.Content, "", start)
}

// finishTask transitions a task to its terminal status and fans out to
// the archive, the event bus and the collectors.
func (o *Orchestrator) finishTask(t *Task, agentID, result, errMsg string, start time.Time) {
	o.mu.Lock()
	if agentID != "" {
		t.AgentID = agentID
	}
	if errMsg != "" {
		t.Status = TaskFailed
		t.Error = errMsg
	} else {
		t.Status = TaskCompleted
		t.Result = result
	}
	t.UpdatedAt = time.Now()
	status := t.Status
	o.mu.Unlock()

	o.collectors.taskFinished(status, time.Since(start))
	o.archiveTask(t)

	kind := EventTaskCompleted
	if status == TaskFailed {
		kind = EventTaskFailed
		o.logger.Warn("task failed",
			zap.String("task", t.ID),
			zap.String("agent", t.AgentID),
			zap.String("error", errMsg))
	}
	o.publish(&Event{Kind: kind, TaskID: t.ID, AgentID: t.AgentID})
}

// RegisterAgent adds an agent to the registry. Re-registering an id
// overwrites the previous entry.
func (o *Orchestrator) RegisterAgent(a *agent.Agent) {
	o.engine.Register(a)
}

// CreateWorkflow stores a workflow definition and returns its id.
func (o *Orchestrator) CreateWorkflow(w *Workflow) (string, error) {
	if w.Name == "" {
		return "", ErrNameRequired
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	for i := range w.Steps {
		if w.Steps[i].ID == "" {
			w.Steps[i].ID = uuid.New().String()
		}
	}

	o.mu.Lock()
	o.workflows[w.ID] = w
	o.mu.Unlock()

	o.logger.Info("created workflow", zap.String("id", w.ID), zap.String("name", w.Name))
	return w.ID, nil
}

// WorkflowPatch carries the mutable workflow fields; nil means unchanged.
type WorkflowPatch struct {
	Name     *string   `json:"name,omitempty"`
	Steps    *[]Step   `json:"steps,omitempty"`
	Triggers *[]string `json:"triggers,omitempty"`
}

// UpdateWorkflow applies a patch. A missing id is not an error: the
// caller gets false and the workflow map is untouched.
func (o *Orchestrator) UpdateWorkflow(id string, patch WorkflowPatch) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workflows[id]
	if !ok {
		return false
	}
	if patch.Name != nil {
		w.Name = *patch.Name
	}
	if patch.Steps != nil {
		w.Steps = *patch.Steps
		for i := range w.Steps {
			if w.Steps[i].ID == "" {
				w.Steps[i].ID = uuid.New().String()
			}
		}
	}
	if patch.Triggers != nil {
		w.Triggers = *patch.Triggers
	}
	w.UpdatedAt = time.Now()
	return true
}

// DeleteWorkflow removes a workflow, reporting whether it existed.
func (o *Orchestrator) DeleteWorkflow(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.workflows[id]; !ok {
		return false
	}
	delete(o.workflows, id)
	return true
}

// GetWorkflow returns a workflow by id.
func (o *Orchestrator) GetWorkflow(id string) (*Workflow, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	w, ok := o.workflows[id]
	return w, ok
}

// Workflows returns all workflow definitions.
func (o *Orchestrator) Workflows() []*Workflow {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Workflow, 0, len(o.workflows))
	for _, w := range o.workflows {
		out = append(out, w)
	}
	return out
}

// ExecuteWorkflow runs a workflow synchronously: steps execute in order,
// each as a task dispatched to its agent, results accumulate into the
// execution context. A failed step halts the remaining steps and marks
// the execution failed; there is no retry and no rollback. An unknown
// workflow id is the only error return and leaves the execution list
// untouched.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, workflowID string, execCtx map[string]interface{}, triggeredBy string) (*Execution, error) {
	w, ok := o.GetWorkflow(workflowID)
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	if execCtx == nil {
		execCtx = make(map[string]interface{})
	}
	exec := &Execution{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		Context:     execCtx,
		TriggeredBy: triggeredBy,
		Status:      ExecutionPending,
		StartedAt:   time.Now(),
	}
	o.mu.Lock()
	o.executions[exec.ID] = exec
	o.mu.Unlock()

	o.transition(exec, ExecutionRunning)

	for _, step := range w.Steps {
		if err := o.runStep(ctx, exec, step, triggeredBy); err != nil {
			o.mu.Lock()
			exec.Error = err.Error()
			o.mu.Unlock()
			o.transition(exec, ExecutionFailed)
			o.collectors.executionFinished(ExecutionFailed)
			o.archiveExecution(exec)
			o.publish(&Event{Kind: EventExecutionFailed, Payload: exec.ID})
			return exec, nil
		}
	}

	o.transition(exec, ExecutionCompleted)
	o.collectors.executionFinished(ExecutionCompleted)
	o.archiveExecution(exec)
	o.publish(&Event{Kind: EventExecutionCompleted, Payload: exec.ID})
	return exec, nil
}

// runStep dispatches one workflow step as a task and records the result
// into the execution context under the step id.
func (o *Orchestrator) runStep(ctx context.Context, exec *Execution, step Step, triggeredBy string) error {
	agentID := step.AgentID
	if agentID != "" {
		if _, ok := o.engine.Get(agentID); !ok {
			return ErrAgentNotFound
		}
	} else {
		a, ok := o.engine.FindForTask(step.Type)
		if !ok {
			return ErrAgentNotFound
		}
		agentID = a.ID
	}

	taskType := step.Type
	if taskType == "" {
		taskType = "workflow_step"
	}
	task := &Task{
		ID:       uuid.New().String(),
		Type:     taskType,
		Input:    step.Instruction,
		Priority: step.Priority,
		Status:   TaskProcessing,
		AgentID:  agentID,
	}
	if !task.Priority.Valid() {
		task.Priority = PriorityMedium
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	stepCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	res, err := o.engine.Execute(stepCtx, agentID, agent.ExecuteRequest{
		TaskType: taskType,
		Input:    step.Instruction,
		UserID:   triggeredBy,
	})
	if err != nil {
		o.finishTask(task, agentID, "", err.Error(), start)
		return err
	}

	o.finishTask(task, agentID, res.Content, "", start)
	o.mu.Lock()
	exec.Context[step.ID] = res.Content
	o.mu.Unlock()
	return nil
}

// Executions returns all executions.
func (o *Orchestrator) Executions() []*Execution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Execution, 0, len(o.executions))
	for _, e := range o.executions {
		out = append(out, e)
	}
	return out
}

// WorkflowReport is the result of a dry validation of a workflow.
type WorkflowReport struct {
	WorkflowID string   `json:"workflow_id"`
	Valid      bool     `json:"valid"`
	Issues     []string `json:"issues,omitempty"`
}

// TestWorkflow validates a workflow without dispatching any model calls:
// it checks for steps, instructions and resolvable agents.
func (o *Orchestrator) TestWorkflow(id string) (*WorkflowReport, error) {
	w, ok := o.GetWorkflow(id)
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	report := &WorkflowReport{WorkflowID: id}
	if len(w.Steps) == 0 {
		report.Issues = append(report.Issues, ErrEmptyWorkflow.Error())
	}
	for _, step := range w.Steps {
		if step.Instruction == "" {
			report.Issues = append(report.Issues, "step "+step.ID+": missing instruction")
		}
		if step.AgentID != "" {
			if _, ok := o.engine.Get(step.AgentID); !ok {
				report.Issues = append(report.Issues, "step "+step.ID+": unknown agent "+step.AgentID)
			}
		} else if _, ok := o.engine.FindForTask(step.Type); !ok {
			report.Issues = append(report.Issues, "step "+step.ID+": no agent can serve type "+step.Type)
		}
	}
	report.Valid = len(report.Issues) == 0
	return report, nil
}

// RequestHandoff transfers ownership of a task between agents. The
// requesting agent must currently own the task, so a second handoff
// attempt from a stale owner fails.
func (o *Orchestrator) RequestHandoff(fromAgent, toAgent, taskID string, hctx map[string]interface{}, reason string) (*Handoff, error) {
	if _, ok := o.engine.Get(toAgent); !ok {
		return nil, ErrAgentNotFound
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if t.Status == TaskQueued || t.AgentID != fromAgent {
		return nil, ErrNotTaskOwner
	}

	h := &Handoff{
		ID:        uuid.New().String(),
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		TaskID:    taskID,
		Context:   hctx,
		Reason:    reason,
		Status:    HandoffCompleted,
		CreatedAt: time.Now(),
	}
	t.AgentID = toAgent
	t.UpdatedAt = time.Now()
	o.handoffs = append(o.handoffs, h)

	go func() {
		o.archiveHandoff(h)
		o.publish(&Event{Kind: EventHandoff, TaskID: taskID, AgentID: toAgent, Payload: h.ID})
	}()

	o.logger.Info("task handed off",
		zap.String("task", taskID),
		zap.String("from", fromAgent),
		zap.String("to", toAgent),
		zap.String("reason", reason))
	return h, nil
}

// Handoffs returns all recorded handoffs.
func (o *Orchestrator) Handoffs() []*Handoff {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Handoff, len(o.handoffs))
	copy(out, o.handoffs)
	return out
}

// RequestCollaboration records a peer request between two agents. Task
// ownership does not move; both agents must be registered.
func (o *Orchestrator) RequestCollaboration(requestingAgent, targetAgent, collabType, description string, cctx map[string]interface{}) (*Collaboration, error) {
	if _, ok := o.engine.Get(requestingAgent); !ok {
		return nil, ErrAgentNotFound
	}
	if _, ok := o.engine.Get(targetAgent); !ok {
		return nil, ErrAgentNotFound
	}

	c := &Collaboration{
		ID:              uuid.New().String(),
		RequestingAgent: requestingAgent,
		TargetAgent:     targetAgent,
		Type:            collabType,
		Description:     description,
		Context:         cctx,
		Status:          "accepted",
		CreatedAt:       time.Now(),
	}
	o.mu.Lock()
	o.collaborations = append(o.collaborations, c)
	o.mu.Unlock()

	go func() {
		o.archiveCollaboration(c)
		o.publish(&Event{Kind: EventCollaboration, AgentID: targetAgent, Payload: c.ID})
	}()
	return c, nil
}

// Collaborations returns all recorded collaborations.
func (o *Orchestrator) Collaborations() []*Collaboration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Collaboration, len(o.collaborations))
	copy(out, o.collaborations)
	return out
}

// Metrics derives the aggregate view.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	m := Metrics{
		Running:        o.running,
		AgentCount:     o.engine.Count(),
		WorkflowCount:  len(o.workflows),
		ExecutionCount: len(o.executions),
	}
	for _, t := range o.tasks {
		switch t.Status {
		case TaskQueued:
			m.QueuedTasks++
		case TaskProcessing:
			m.ProcessingTasks++
		case TaskCompleted:
			m.CompletedTasks++
		case TaskFailed:
			m.FailedTasks++
		}
	}
	if o.running {
		m.UptimeSeconds = time.Since(o.startedAt).Seconds()
	}
	return m
}

// transition applies an execution state change under the lock and logs
// the impossible case instead of panicking.
func (o *Orchestrator) transition(e *Execution, to ExecutionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := transitionExecution(e, to); err != nil {
		o.logger.Error("execution transition rejected",
			zap.String("execution", e.ID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ev *Event) {
	if o.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.bus.Publish(ctx, ev); err != nil {
		o.logger.Warn("event publish failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

func (o *Orchestrator) archiveTask(t *Task) {
	if o.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.archive.SaveTask(ctx, t); err != nil {
		o.logger.Warn("archive task failed", zap.String("task", t.ID), zap.Error(err))
	}
}

func (o *Orchestrator) archiveExecution(e *Execution) {
	if o.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.archive.SaveExecution(ctx, e); err != nil {
		o.logger.Warn("archive execution failed", zap.String("execution", e.ID), zap.Error(err))
	}
}

func (o *Orchestrator) archiveHandoff(h *Handoff) {
	if o.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.archive.SaveHandoff(ctx, h); err != nil {
		o.logger.Warn("archive handoff failed", zap.String("handoff", h.ID), zap.Error(err))
	}
}

func (o *Orchestrator) archiveCollaboration(c *Collaboration) {
	if o.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.archive.SaveCollaboration(ctx, c); err != nil {
		o.logger.Warn("archive collaboration failed", zap.String("collaboration", c.ID), zap.Error(err))
	}
}
