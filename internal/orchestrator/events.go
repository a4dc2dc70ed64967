package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventBus publishes orchestrator lifecycle events over Redis Streams so
// external consumers (dashboards, downstream workers) can follow task progress
// without polling. The orchestrator works without one; a nil bus drops
// events.
type EventBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewEventBus connects to Redis and verifies it with a ping.
func NewEventBus(redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &EventBus{rdb: rdb, logger: logger}, nil
}

// Event kinds published by the orchestrator.
const (
	EventTaskQueued         = "task_queued"
	EventTaskCompleted      = "task_completed"
	EventTaskFailed         = "task_failed"
	EventHandoff            = "handoff"
	EventCollaboration      = "collaboration"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
)

// Event is one orchestrator lifecycle notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	AgentID   string    `json:"agent_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	globalStream      = "dispatch:events"
	agentStreamPrefix = "dispatch:agent:"
)

// Publish appends an event to the global stream and, when the event
// concerns an agent, to that agent's stream.
func (b *EventBus) Publish(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	streams := []string{globalStream}
	if ev.AgentID != "" {
		streams = append(streams, agentStreamPrefix+ev.AgentID)
	}
	for _, stream := range streams {
		if _, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{"data": string(data)},
		}).Result(); err != nil {
			return fmt.Errorf("publish to %s: %w", stream, err)
		}
	}

	b.logger.Debug("published event",
		zap.String("kind", ev.Kind),
		zap.String("agent", ev.AgentID),
		zap.String("task", ev.TaskID))
	return nil
}

// Subscribe listens for events on an agent's stream, or the global
// stream when agentID is empty. Cancel the context to stop.
func (b *EventBus) Subscribe(ctx context.Context, agentID string) <-chan *Event {
	ch := make(chan *Event, 16)
	stream := globalStream
	if agentID != "" {
		stream = agentStreamPrefix + agentID
	}

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *EventBus) Close() error {
	return b.rdb.Close()
}
