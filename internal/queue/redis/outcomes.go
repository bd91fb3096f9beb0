package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

var _ monitor.OutcomeQueue = (*OutcomeQueue)(nil)

// OutcomeQueue is a Redis List: workers RPUSH to the tail, the batch
// consumer reads and trims from the head.
type OutcomeQueue struct {
	client goredis.UniversalClient
	key    string
}

// NewOutcomeQueue wraps an existing client.
func NewOutcomeQueue(client goredis.UniversalClient, key string) (*OutcomeQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("outcome queue key is required")
	}
	return &OutcomeQueue{client: client, key: key}, nil
}

// Push appends an outcome. A nil error means Redis accepted the write.
func (q *OutcomeQueue) Push(ctx context.Context, outcome monitor.Outcome) error {
	payload, err := monitor.EncodeOutcome(outcome)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

// Len returns the backlog length.
func (q *OutcomeQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}

// Peek returns up to n of the oldest items in enqueue order.
func (q *OutcomeQueue) Peek(ctx context.Context, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := q.client.LRange(ctx, q.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", q.key, err)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

// Trim drops exactly n items from the head.
func (q *OutcomeQueue) Trim(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if err := q.client.LTrim(ctx, q.key, int64(n), -1).Err(); err != nil {
		return fmt.Errorf("ltrim %s: %w", q.key, err)
	}
	return nil
}
