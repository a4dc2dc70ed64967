package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskQueue holds pending tasks and yields them in priority order,
// FIFO within a priority band. Enqueue and DequeueNext are atomic with
// respect to each other, so two callers can never drain the same task.
// State is in-memory only; a process restart loses queued tasks.
type TaskQueue struct {
	mu      sync.Mutex
	pending []*Task
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Enqueue assigns an id if absent, marks the task queued and appends it.
// A task type is the only required field; a missing or unknown priority
// defaults to medium.
func (q *TaskQueue) Enqueue(t *Task) (string, error) {
	if t.Type == "" {
		return "", ErrTaskTypeRequired
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if !t.Priority.Valid() {
		t.Priority = PriorityMedium
	}
	now := time.Now()
	t.Status = TaskQueued
	t.CreatedAt = now
	t.UpdatedAt = now

	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	return t.ID, nil
}

// DequeueNext removes and returns the highest-priority oldest-enqueued
// task, or false when the queue is empty.
func (q *TaskQueue) DequeueNext() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i, t := range q.pending {
		if best < 0 || t.Priority.rank() > q.pending[best].Priority.rank() {
			best = i
		}
	}
	if best < 0 {
		return nil, false
	}
	t := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	return t, true
}

// List returns a snapshot of the queued tasks in enqueue order.
func (q *TaskQueue) List() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, len(q.pending))
	copy(out, q.pending)
	return out
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
