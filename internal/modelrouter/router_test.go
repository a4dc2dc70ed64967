package modelrouter

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, store PerformanceStore, tiers map[Complexity][]string) *Router {
	t.Helper()
	return New(store, Config{
		DefaultModel: "fallback-model",
		Tiers:        tiers,
		// Short TTL so tests never see a stale preference cache.
		PreferenceTTL: 50 * time.Millisecond,
	}, nil, zap.NewNop())
}

func record(model string, success bool, rating int, ms int64) *PerformanceRecord {
	return &PerformanceRecord{
		ModelID:        model,
		TaskType:       "research",
		Complexity:     ComplexityStandard,
		Success:        success,
		Rating:         rating,
		ResponseTimeMs: ms,
		UserID:         "u1",
	}
}

func TestParseComplexity(t *testing.T) {
	cases := map[string]Complexity{
		"simple":   ComplexitySimple,
		"complex":  ComplexityComplex,
		"standard": ComplexityStandard,
		"":         ComplexityStandard,
		"bogus":    ComplexityStandard,
	}
	for in, want := range cases {
		if got := ParseComplexity(in); got != want {
			t.Errorf("ParseComplexity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSelectFallsBackToDefault(t *testing.T) {
	r := newTestRouter(t, NewMemoryStore(0), nil)
	if got := r.Select(context.Background(), "u1", "research", ComplexityComplex); got != "fallback-model" {
		t.Errorf("expected fallback-model, got %q", got)
	}
}

func TestSelectStaysInTier(t *testing.T) {
	r := newTestRouter(t, NewMemoryStore(0), map[Complexity][]string{
		ComplexitySimple:  {"small-a", "small-b"},
		ComplexityComplex: {"big-a"},
	})

	got := r.Select(context.Background(), "u1", "research", ComplexitySimple)
	if got != "small-a" && got != "small-b" {
		t.Errorf("expected a simple-tier model, got %q", got)
	}
	if got := r.Select(context.Background(), "u1", "research", ComplexityComplex); got != "big-a" {
		t.Errorf("expected big-a, got %q", got)
	}
}

func TestSelectPrefersHigherSuccessRate(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		store.Append(ctx, record("flaky", false, 1, 1000))
		store.Append(ctx, record("solid", true, 4, 1000))
	}

	r := newTestRouter(t, store, map[Complexity][]string{
		ComplexityStandard: {"flaky", "solid"},
	})
	if got := r.Select(ctx, "u1", "research", ComplexityStandard); got != "solid" {
		t.Errorf("expected solid, got %q", got)
	}
}

func TestSelectBreaksTiesByPreference(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	// Identical success rates, but the user rates model-b higher.
	store.Append(ctx, record("model-a", true, 3, 1000))
	store.Append(ctx, record("model-b", true, 5, 1000))

	r := newTestRouter(t, store, map[Complexity][]string{
		ComplexityStandard: {"model-a", "model-b"},
	})
	if got := r.Select(ctx, "u1", "research", ComplexityStandard); got != "model-b" {
		t.Errorf("expected preferred model-b, got %q", got)
	}
}

func TestUserPreferredModelsEmptyHistory(t *testing.T) {
	r := newTestRouter(t, NewMemoryStore(0), nil)
	got := r.UserPreferredModels(context.Background(), "nobody", "research")
	if len(got) != 1 || got[0] != AutoModel {
		t.Errorf("expected [%s], got %v", AutoModel, got)
	}
}

func TestUserPreferredModelsOrdering(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		store.Append(ctx, record("liked", true, 5, 800))
		store.Append(ctx, record("tolerated", true, 2, 800))
	}

	r := newTestRouter(t, store, nil)
	got := r.UserPreferredModels(ctx, "u1", "research")
	if len(got) != 2 {
		t.Fatalf("expected 2 models, got %v", got)
	}
	if got[0] != "liked" {
		t.Errorf("expected liked first, got %v", got)
	}
}

func TestUserPreferredModelsResponseTimeTieBreak(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	// Same ratings; fast should win the tie.
	store.Append(ctx, record("slow", true, 4, 9000))
	store.Append(ctx, record("fast", true, 4, 500))

	r := newTestRouter(t, store, nil)
	got := r.UserPreferredModels(ctx, "u1", "research")
	if len(got) != 2 || got[0] != "fast" {
		t.Errorf("expected fast first, got %v", got)
	}
}

func TestRecordInvalidatesPreferenceCache(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	r := newTestRouter(t, store, nil)

	store.Append(ctx, record("first", true, 5, 500))
	if got := r.UserPreferredModels(ctx, "u1", "research"); got[0] != "first" {
		t.Fatalf("expected first, got %v", got)
	}

	// A flood of strong ratings for a new model reorders preferences
	// immediately because Record drops the cached entry.
	for i := 0; i < 10; i++ {
		if err := r.Record(ctx, record("second", true, 5, 100)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got := r.UserPreferredModels(ctx, "u1", "research")
	if got[0] != "second" {
		t.Errorf("expected second after new feedback, got %v", got)
	}
}

func TestMemoryStoreBounded(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		store.Append(ctx, record("m", true, 3, 100))
	}
	got, err := store.Recent(ctx, "", "", 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("expected ring capped at 10, got %d", len(got))
	}
}

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	store.Append(ctx, &PerformanceRecord{ModelID: "a", TaskType: "research", UserID: "u1", Rating: 3})
	store.Append(ctx, &PerformanceRecord{ModelID: "b", TaskType: "coding", UserID: "u2", Rating: 3})

	got, _ := store.Recent(ctx, "u1", "", 10)
	if len(got) != 1 || got[0].ModelID != "a" {
		t.Errorf("user filter: expected [a], got %v", got)
	}
	got, _ = store.Recent(ctx, "", "coding", 10)
	if len(got) != 1 || got[0].ModelID != "b" {
		t.Errorf("task filter: expected [b], got %v", got)
	}
	got, _ = store.Recent(ctx, "", "", 10)
	if len(got) != 2 {
		t.Errorf("no filter: expected 2 records, got %d", len(got))
	}
}
