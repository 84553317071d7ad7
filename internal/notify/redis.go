package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"handoff/internal/chat"
)

// streamAdder is the slice of the redis client the notifier needs.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends each alert to a Redis stream, where paging or e-mail
// workers can consume it with a consumer group.
type RedisStream struct {
	client streamAdder
	stream string
	maxLen int64
}

func NewRedisStream(addr, stream string) *RedisStream {
	return &RedisStream{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		stream: stream,
		maxLen: 10000,
	}
}

func (r *RedisStream) HumanRequested(ctx context.Context, req chat.PendingRequest) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":        "human_requested",
			"roomId":      req.RoomID,
			"userName":    req.VisitorName,
			"userEmail":   req.VisitorEmail,
			"issue":       req.Issue,
			"priority":    string(req.Priority),
			"requestedAt": req.RequestedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", r.stream, err)
	}
	return nil
}

// Close releases the underlying client when it owns one.
func (r *RedisStream) Close() error {
	if c, ok := r.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
