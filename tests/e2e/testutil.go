package e2e

import (
	"context"
	"fmt"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/arclight-ai/dispatch/internal/agent"
	"github.com/arclight-ai/dispatch/internal/modelrouter"
	"github.com/arclight-ai/dispatch/internal/orchestrator"
	"github.com/arclight-ai/dispatch/internal/provider"
	pgstore "github.com/arclight-ai/dispatch/internal/store"
)

// Package-level shared state set by TestMain, used by all tests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
	stackReady   bool
)

// skipIfNoStack skips when the container stack did not come up (DISPATCH_E2E unset).
func skipIfNoStack(t *testing.T) {
	t.Helper()
	if !stackReady {
		t.Skip("container stack not available (set DISPATCH_E2E=1 and run with Docker)")
	}
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("dispatch_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// echoProvider answers every chat with a canned reply so no LLM is needed.
type echoProvider struct{}

func (echoProvider) ID() string   { return "echo" }
func (echoProvider) Name() string { return "Echo" }

func (echoProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Model: req.Model, Content: "echoed result"}, nil
}

func (echoProvider) HealthCheck(ctx context.Context) error { return nil }

// newStack wires an orchestrator against the real Postgres archive and
// Redis event bus from the containers.
func newStack(t *testing.T) (*orchestrator.Orchestrator, *agent.Engine, *orchestrator.EventBus) {
	t.Helper()

	registry := provider.NewRegistry(testLogger)
	registry.Register(echoProvider{}, []string{"echo-model"})

	// Model feedback goes straight to Postgres.
	router := modelrouter.New(testPGStore, modelrouter.Config{
		DefaultModel: "echo-model",
	}, nil, testLogger)

	engine := agent.NewEngine(registry, router, testLogger)

	bus, err := orchestrator.NewEventBus(testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("event bus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })

	orch := orchestrator.New(engine, bus, testPGStore, nil, orchestrator.Options{
		PoolSize: 4,
	}, testLogger)
	return orch, engine, bus
}
