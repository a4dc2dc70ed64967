package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the configured providers and routes chat requests by
// model id. The model router decides which model to use; the registry
// only knows which backend serves it and what to fall back to.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	byModel   map[string]string // model id -> provider id
	fallbacks []string          // provider ids tried in order after the primary
	defaults  string
	logger    *zap.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		byModel:   make(map[string]string),
		logger:    logger,
	}
}

// Register adds a provider and binds its declared models. The first
// registered provider becomes the default.
func (r *Registry) Register(p Provider, models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	for _, m := range models {
		r.byModel[m] = p.ID()
	}
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider",
		zap.String("id", p.ID()),
		zap.String("name", p.Name()),
		zap.Int("models", len(models)))
}

// SetDefault sets the default provider.
func (r *Registry) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// SetFallbacks configures the provider chain tried after the primary fails.
func (r *Registry) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = providerIDs
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns all registered providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// Chat routes a request to the provider serving req.Model, falling back
// through the configured chain when the primary fails. A model with no
// binding (including the "auto" sentinel) goes to the default provider.
func (r *Registry) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.providerForModel(req.Model)
	chain := make([]string, len(r.fallbacks))
	copy(chain, r.fallbacks)
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for model %q", req.Model)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("provider", primary.ID()),
		zap.String("model", req.Model),
		zap.Error(err))

	for _, fbID := range chain {
		if fbID == primary.ID() {
			continue
		}
		fb, ok := r.Get(fbID)
		if !ok {
			continue
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for model %q: %w", req.Model, err)
}

// providerForModel resolves the provider for a model id; callers hold r.mu.
func (r *Registry) providerForModel(model string) Provider {
	if pid, ok := r.byModel[model]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}
