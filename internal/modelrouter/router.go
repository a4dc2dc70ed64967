// Package modelrouter selects which AI model serves a task, based on the
// task's declared complexity class and historical performance feedback.
package modelrouter

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Complexity is a coarse task-difficulty class mapped to a model tier.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

// ParseComplexity normalizes a caller-supplied complexity tag.
// Unknown or empty values default to standard.
func ParseComplexity(s string) Complexity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple":
		return ComplexitySimple
	case "complex":
		return ComplexityComplex
	default:
		return ComplexityStandard
	}
}

// AutoModel is the sentinel returned when no history or tier binding
// exists; the provider registry maps it to the default backend.
const AutoModel = "auto"

// Weights tunes the preference aggregation. The exact weighting of
// recency versus rating is deliberately configuration, not constants.
type Weights struct {
	StrongRating int     `json:"strong_rating"` // ratings >= this count as strong signal
	StrongBoost  float64 `json:"strong_boost"`  // weight multiplier for strong-signal records
	Decay        float64 `json:"decay"`         // per-record age decay, newest first
	Window       int     `json:"window"`        // recent records considered
}

// DefaultWeights returns the balanced defaults.
func DefaultWeights() Weights {
	return Weights{
		StrongRating: 4,
		StrongBoost:  2.0,
		Decay:        0.92,
		Window:       50,
	}
}

// Config configures a Router.
type Config struct {
	DefaultModel  string
	Tiers         map[Complexity][]string
	Weights       Weights
	PreferenceTTL time.Duration
}

// Router picks one model id for a task. It never issues the model call
// itself; retry and timeout for the call belong to the provider client.
type Router struct {
	store      PerformanceStore
	cfg        Config
	prefs      *gocache.Cache
	selections *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a Router. reg may be nil to skip metric registration.
func New(store PerformanceStore, cfg Config, reg prometheus.Registerer, logger *zap.Logger) *Router {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = AutoModel
	}
	if cfg.Weights.Window <= 0 {
		cfg.Weights = DefaultWeights()
	}
	if cfg.PreferenceTTL <= 0 {
		cfg.PreferenceTTL = 5 * time.Minute
	}

	r := &Router{
		store:  store,
		cfg:    cfg,
		prefs:  gocache.New(cfg.PreferenceTTL, 2*cfg.PreferenceTTL),
		logger: logger,
	}
	if reg != nil {
		r.selections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "modelrouter",
			Name:      "selections_total",
			Help:      "Model selections by chosen model id.",
		}, []string{"model"})
		reg.MustRegister(r.selections)
	}
	return r
}

// Select picks one model for a task: candidates come from the complexity
// tier, the best recent success rate wins, and the caller's preference
// order breaks ties. Falls back to the configured default when the tier
// has no candidates.
func (r *Router) Select(ctx context.Context, userID, taskType string, c Complexity) string {
	candidates := r.cfg.Tiers[c]
	if len(candidates) == 0 {
		return r.chosen(r.cfg.DefaultModel)
	}

	rates := r.successRates(ctx, taskType, candidates)
	prefs := r.UserPreferredModels(ctx, userID, taskType)
	prefRank := make(map[string]int, len(prefs))
	for i, m := range prefs {
		prefRank[m] = i
	}

	best := candidates[0]
	for _, m := range candidates[1:] {
		if better(m, best, rates, prefRank) {
			best = m
		}
	}
	return r.chosen(best)
}

// better reports whether a should be chosen over b.
func better(a, b string, rates map[string]float64, prefRank map[string]int) bool {
	ra, rb := rates[a], rates[b]
	if math.Abs(ra-rb) > 1e-9 {
		return ra > rb
	}
	pa, okA := prefRank[a]
	pb, okB := prefRank[b]
	switch {
	case okA && okB:
		return pa < pb
	case okA:
		return true
	default:
		return false
	}
}

// successRates computes each candidate's recent success rate for the task
// type across all users. Models without history score neutral.
func (r *Router) successRates(ctx context.Context, taskType string, candidates []string) map[string]float64 {
	rates := make(map[string]float64, len(candidates))
	for _, m := range candidates {
		rates[m] = 0.5
	}

	records, err := r.store.Recent(ctx, "", taskType, r.cfg.Weights.Window)
	if err != nil {
		r.logger.Warn("performance lookup failed", zap.Error(err))
		return rates
	}

	total := make(map[string]int)
	succ := make(map[string]int)
	for _, rec := range records {
		total[rec.ModelID]++
		if rec.Success {
			succ[rec.ModelID]++
		}
	}
	for _, m := range candidates {
		if total[m] > 0 {
			rates[m] = float64(succ[m]) / float64(total[m])
		}
	}
	return rates
}

// UserPreferredModels returns model ids most-preferred first for a
// user/taskType pair, aggregated from recent feedback: a decayed mean of
// ratings where strong recent ratings weigh heavier, ties broken by
// lowest mean response time. Returns [AutoModel] when no history exists.
// Results are cached for the configured TTL.
func (r *Router) UserPreferredModels(ctx context.Context, userID, taskType string) []string {
	key := userID + "|" + taskType
	if v, ok := r.prefs.Get(key); ok {
		return v.([]string)
	}

	records, err := r.store.Recent(ctx, userID, taskType, r.cfg.Weights.Window)
	if err != nil {
		r.logger.Warn("preference lookup failed", zap.Error(err))
		return []string{AutoModel}
	}
	if len(records) == 0 {
		out := []string{AutoModel}
		r.prefs.Set(key, out, gocache.DefaultExpiration)
		return out
	}

	type agg struct {
		score   float64
		weight  float64
		timeSum int64
		count   int64
	}
	byModel := make(map[string]*agg)
	w := 1.0
	for _, rec := range records { // newest first
		a := byModel[rec.ModelID]
		if a == nil {
			a = &agg{}
			byModel[rec.ModelID] = a
		}
		rw := w
		if rec.Rating >= r.cfg.Weights.StrongRating {
			rw *= r.cfg.Weights.StrongBoost
		}
		a.score += rw * float64(rec.Rating)
		a.weight += rw
		a.timeSum += rec.ResponseTimeMs
		a.count++
		w *= r.cfg.Weights.Decay
	}

	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	sort.SliceStable(models, func(i, j int) bool {
		a, b := byModel[models[i]], byModel[models[j]]
		sa, sb := a.score/a.weight, b.score/b.weight
		if math.Abs(sa-sb) > 1e-9 {
			return sa > sb
		}
		return a.timeSum/a.count < b.timeSum/b.count
	})

	r.prefs.Set(key, models, gocache.DefaultExpiration)
	return models
}

// Record appends one feedback entry and invalidates the cached
// preference ordering it affects.
func (r *Router) Record(ctx context.Context, rec *PerformanceRecord) error {
	if err := r.store.Append(ctx, rec); err != nil {
		return err
	}
	r.prefs.Delete(rec.UserID + "|" + rec.TaskType)
	return nil
}

// RecordAsync appends feedback without blocking the caller. A slow store
// must never stall task dispatch.
func (r *Router) RecordAsync(rec *PerformanceRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Record(ctx, rec); err != nil {
			r.logger.Warn("record model performance failed",
				zap.String("model", rec.ModelID), zap.Error(err))
		}
	}()
}

// chosen counts the selection and returns it.
func (r *Router) chosen(model string) string {
	if r.selections != nil {
		r.selections.WithLabelValues(model).Inc()
	}
	return model
}
