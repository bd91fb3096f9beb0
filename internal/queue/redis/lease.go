package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

var _ monitor.DrainLock = (*Lease)(nil)

// releaseScript deletes the lease only if it still holds our token, so an
// expired holder can't free a lease someone else has since taken.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a single-holder lock with a TTL, used to serialize the outcome
// queue drain across consumer replicas.
type Lease struct {
	client goredis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewLease wraps an existing client.
func NewLease(client goredis.UniversalClient, key string, ttl time.Duration) (*Lease, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" || ttl <= 0 {
		return nil, errors.New("lease key and positive ttl are required")
	}
	return &Lease{client: client, key: key, ttl: ttl}, nil
}

// Acquire takes the lease or returns monitor.ErrLeaseHeld.
func (l *Lease) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, monitor.ErrLeaseHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lease %s: %w", l.key, err)
		}
		return nil
	}, nil
}
