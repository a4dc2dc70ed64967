package agent

import (
	"time"
)

// Status tracks whether an agent can accept work.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Capability is a named, toggleable skill an agent advertises. Task
// types are matched against enabled capability ids.
type Capability struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Stats accumulates per-agent counters.
type Stats struct {
	TasksCompleted int64     `json:"tasks_completed"`
	TasksFailed    int64     `json:"tasks_failed"`
	TotalTimeMs    int64     `json:"total_time_ms"`
	LastActive     time.Time `json:"last_active,omitempty"`
}

// Thought is one entry in an agent's reasoning trace.
type Thought struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
}

// maxThoughts bounds the per-agent reasoning trace.
const maxThoughts = 100

// Agent is a named unit of capability that can be dispatched a task and
// returns a result via a model call.
type Agent struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Status       Status       `json:"status"`
	Stats        Stats        `json:"stats"`
	Thoughts     []Thought    `json:"thoughts,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	Model        string       `json:"model,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Can reports whether the agent has an enabled capability for taskType.
func (a *Agent) Can(taskType string) bool {
	for _, c := range a.Capabilities {
		if c.Enabled && c.ID == taskType {
			return true
		}
	}
	return false
}

// think appends to the bounded reasoning trace. Callers hold the engine lock.
func (a *Agent) think(content, model string) {
	a.Thoughts = append(a.Thoughts, Thought{
		Timestamp: time.Now(),
		Content:   content,
		Model:     model,
	})
	if len(a.Thoughts) > maxThoughts {
		a.Thoughts = a.Thoughts[len(a.Thoughts)-maxThoughts:]
	}
}

// recordSuccess and recordFailure mutate counters; callers hold the
// engine lock.
func (s *Stats) recordSuccess(ms int64) {
	s.TasksCompleted++
	s.TotalTimeMs += ms
	s.LastActive = time.Now()
}

func (s *Stats) recordFailure(ms int64) {
	s.TasksFailed++
	s.TotalTimeMs += ms
	s.LastActive = time.Now()
}

// clone returns a snapshot safe to read and encode outside the engine
// lock.
func (a *Agent) clone() *Agent {
	c := *a
	c.Capabilities = append([]Capability(nil), a.Capabilities...)
	c.Thoughts = append([]Thought(nil), a.Thoughts...)
	return &c
}
