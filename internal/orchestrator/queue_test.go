package orchestrator

import (
	"testing"
)

func TestEnqueueRequiresType(t *testing.T) {
	q := NewTaskQueue()
	if _, err := q.Enqueue(&Task{Input: "do something"}); err != ErrTaskTypeRequired {
		t.Fatalf("expected ErrTaskTypeRequired, got %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after rejected enqueue, got %d", q.Len())
	}
}

func TestEnqueueDefaults(t *testing.T) {
	q := NewTaskQueue()
	id, err := q.Enqueue(&Task{Type: "research", Priority: "bogus"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated task id")
	}

	tasks := q.List()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Priority != PriorityMedium {
		t.Errorf("expected medium priority default, got %q", tasks[0].Priority)
	}
	if tasks[0].Status != TaskQueued {
		t.Errorf("expected queued status, got %q", tasks[0].Status)
	}
}

func TestDequeuePriorityOrder(t *testing.T) {
	q := NewTaskQueue()
	for _, p := range []Priority{PriorityMedium, PriorityUrgent, PriorityLow} {
		if _, err := q.Enqueue(&Task{Type: "t", Priority: p}); err != nil {
			t.Fatalf("enqueue %s: %v", p, err)
		}
	}

	want := []Priority{PriorityUrgent, PriorityMedium, PriorityLow}
	for i, p := range want {
		task, ok := q.DequeueNext()
		if !ok {
			t.Fatalf("dequeue %d: queue empty", i)
		}
		if task.Priority != p {
			t.Errorf("dequeue %d: expected %s, got %s", i, p, task.Priority)
		}
	}
	if _, ok := q.DequeueNext(); ok {
		t.Error("expected empty queue")
	}
}

func TestDequeueFIFOWithinBand(t *testing.T) {
	q := NewTaskQueue()
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(&Task{Type: "t", Priority: PriorityHigh})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, id)
	}

	for i, want := range ids {
		task, ok := q.DequeueNext()
		if !ok {
			t.Fatalf("dequeue %d: queue empty", i)
		}
		if task.ID != want {
			t.Errorf("dequeue %d: expected %s, got %s", i, want, task.ID)
		}
	}
}

func TestHigherPriorityJumpsQueue(t *testing.T) {
	q := NewTaskQueue()
	lowID, _ := q.Enqueue(&Task{Type: "t", Priority: PriorityLow})
	urgentID, _ := q.Enqueue(&Task{Type: "t", Priority: PriorityUrgent})

	first, _ := q.DequeueNext()
	if first.ID != urgentID {
		t.Errorf("expected urgent task first, got %s", first.Priority)
	}
	second, _ := q.DequeueNext()
	if second.ID != lowID {
		t.Errorf("expected low task second, got %s", second.Priority)
	}
}
