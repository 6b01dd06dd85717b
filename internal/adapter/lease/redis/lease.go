package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only when the stored token still
// belongs to this holder, so an expired-and-reacquired lease is never
// released by its previous owner.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ClientLease implements domain.CompactionLease on Redis. Two compaction
// runs launched concurrently are each individually safe, but they can race
// on which run's summary wins for overlapping threshold windows; holding a
// per-client lease serializes the mutating steps for that client. A run
// whose selection went stale while waiting is stopped by the compactor's
// deletion-count check before it writes a summary. The TTL bounds how long
// a crashed holder can block other runs.
type ClientLease struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
	prefix string
}

// NewClientLease creates a lease manager with the given time-to-live.
func NewClientLease(client *redis.Client, logger *slog.Logger, ttl time.Duration) *ClientLease {
	return &ClientLease{
		client: client,
		logger: logger.With("component", "redis_lease"),
		ttl:    ttl,
		prefix: "ledgerfold:lease:",
	}
}

// Acquire takes the lease for one client. acquired is false when another run
// currently holds it; release is only valid when acquired is true.
func (l *ClientLease) Acquire(ctx context.Context, clientID string) (release func(context.Context) error, acquired bool, err error) {
	key := l.prefix + clientID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("releasing lease %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}
