package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/arclight-ai/dispatch/internal/modelrouter"
	"github.com/arclight-ai/dispatch/internal/provider"
)

type fakeProvider struct {
	fail  bool
	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) ID() string   { return "fake" }
func (f *fakeProvider) Name() string { return "Fake" }

func (f *fakeProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("backend down")
	}
	return &provider.ChatResponse{Model: req.Model, Content: "done"}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func newTestEngine(t *testing.T, fake *fakeProvider) *Engine {
	t.Helper()
	logger := zap.NewNop()
	registry := provider.NewRegistry(logger)
	registry.Register(fake, []string{"fake-model"})
	router := modelrouter.New(modelrouter.NewMemoryStore(0), modelrouter.Config{
		DefaultModel: "fake-model",
	}, nil, logger)
	return NewEngine(registry, router, logger)
}

func TestRegisterAssignsID(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{})
	a := &Agent{Name: "worker"}
	e.Register(a)
	if a.ID == "" {
		t.Fatal("expected generated id")
	}
	if a.Status != StatusIdle {
		t.Errorf("expected idle status, got %q", a.Status)
	}
	if e.Count() != 1 {
		t.Errorf("expected 1 agent, got %d", e.Count())
	}
}

func TestRegisterOverwrites(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{})
	e.Register(&Agent{ID: "a1", Name: "old"})
	e.Register(&Agent{ID: "a1", Name: "new"})
	if e.Count() != 1 {
		t.Fatalf("expected 1 agent after re-register, got %d", e.Count())
	}
	a, _ := e.Get("a1")
	if a.Name != "new" {
		t.Errorf("expected overwritten agent, got %q", a.Name)
	}
}

func TestFindForTaskPrefersCapability(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{})
	e.Register(&Agent{ID: "generic", Name: "generic"})
	e.Register(&Agent{
		ID:   "specialist",
		Name: "specialist",
		Capabilities: []Capability{
			{ID: "translate", Name: "translate", Enabled: true},
		},
	})

	a, ok := e.FindForTask("translate")
	if !ok || a.ID != "specialist" {
		t.Errorf("expected specialist, got %v", a)
	}

	// Unknown type falls back to any idle agent.
	if _, ok := e.FindForTask("unknown"); !ok {
		t.Error("expected an idle agent for unknown type")
	}
}

func TestFindForTaskIgnoresDisabledCapability(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{})
	e.Register(&Agent{
		ID:     "off",
		Status: StatusOffline,
		Capabilities: []Capability{
			{ID: "translate", Enabled: true},
		},
	})
	// Register resets status to idle, push it offline after.
	e.setStatus("off", StatusOffline)

	if _, ok := e.FindForTask("translate"); ok {
		t.Error("expected no agent when the only capable one is offline")
	}
}

func TestExecuteUnknownAgent(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{})
	if _, err := e.Execute(context.Background(), "ghost", ExecuteRequest{TaskType: "t"}); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestExecuteRecordsStats(t *testing.T) {
	fake := &fakeProvider{}
	e := newTestEngine(t, fake)
	e.Register(&Agent{ID: "a1", Name: "worker"})

	res, err := e.Execute(context.Background(), "a1", ExecuteRequest{
		TaskType: "research",
		Input:    "look this up",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Content != "done" {
		t.Errorf("expected done, got %q", res.Content)
	}
	if fake.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", fake.calls)
	}

	a, _ := e.Get("a1")
	if got := a.Stats.TasksCompleted; got != 1 {
		t.Errorf("expected 1 completed, got %d", got)
	}
	if a.Status != StatusIdle {
		t.Errorf("expected idle after execute, got %q", a.Status)
	}
	if len(a.Thoughts) == 0 {
		t.Error("expected thought trail")
	}
}

func TestExecuteFailureRecorded(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{fail: true})
	e.Register(&Agent{ID: "a1", Name: "worker"})

	if _, err := e.Execute(context.Background(), "a1", ExecuteRequest{TaskType: "t", Input: "x"}); err == nil {
		t.Fatal("expected error from failing provider")
	}
	a, _ := e.Get("a1")
	if got := a.Stats.TasksFailed; got != 1 {
		t.Errorf("expected 1 failed, got %d", got)
	}
	if a.Status != StatusIdle {
		t.Errorf("expected idle after failure, got %q", a.Status)
	}
}

func TestThoughtsBounded(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{})
	e.Register(&Agent{ID: "a1", Name: "worker"})

	for i := 0; i < maxThoughts; i++ {
		e.think("a1", fmt.Sprintf("thought %d", i), "m")
	}
	a, _ := e.Get("a1")
	if len(a.Thoughts) != maxThoughts {
		t.Fatalf("expected %d thoughts, got %d", maxThoughts, len(a.Thoughts))
	}

	e.think("a1", "one more", "m")
	a, _ = e.Get("a1")
	if len(a.Thoughts) != maxThoughts {
		t.Errorf("expected trail capped at %d, got %d", maxThoughts, len(a.Thoughts))
	}
	last := a.Thoughts[len(a.Thoughts)-1]
	if last.Content != "one more" {
		t.Errorf("expected newest thought kept, got %q", last.Content)
	}
}

func TestExecuteConcurrentStats(t *testing.T) {
	fake := &fakeProvider{}
	e := newTestEngine(t, fake)
	e.Register(&Agent{ID: "a1", Name: "worker"})

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Execute(context.Background(), "a1", ExecuteRequest{TaskType: "t", Input: "x"})
		}()
	}
	wg.Wait()

	a, _ := e.Get("a1")
	if a.Stats.TasksCompleted != workers {
		t.Errorf("expected %d completed, got %d", workers, a.Stats.TasksCompleted)
	}
	if a.Stats.LastActive.IsZero() {
		t.Error("expected last active to be stamped")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{})
	e.Register(&Agent{ID: "a1", Name: "worker"})

	a, _ := e.Get("a1")
	a.Name = "mutated"
	a.Status = StatusOffline

	fresh, _ := e.Get("a1")
	if fresh.Name != "worker" || fresh.Status != StatusIdle {
		t.Errorf("registry copy changed through snapshot: %+v", fresh)
	}
}

func TestAgentModelOverridesAuto(t *testing.T) {
	fake := &fakeProvider{}
	logger := zap.NewNop()
	registry := provider.NewRegistry(logger)
	registry.Register(fake, []string{"agent-model"})
	// Router with no tiers and auto default resolves to the agent's model.
	router := modelrouter.New(modelrouter.NewMemoryStore(0), modelrouter.Config{}, nil, logger)
	e := NewEngine(registry, router, logger)
	e.Register(&Agent{ID: "a1", Name: "worker", Model: "agent-model"})

	res, err := e.Execute(context.Background(), "a1", ExecuteRequest{TaskType: "t", Input: "x"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Model != "agent-model" {
		t.Errorf("expected agent-model, got %q", res.Model)
	}
}

func TestRatingFor(t *testing.T) {
	if got := ratingFor(false, 100); got != 1 {
		t.Errorf("failure: expected 1, got %d", got)
	}
	if got := ratingFor(true, 500); got != 5 {
		t.Errorf("fast success: expected 5, got %d", got)
	}
	if got := ratingFor(true, 5000); got != 4 {
		t.Errorf("slow success: expected 4, got %d", got)
	}
}
