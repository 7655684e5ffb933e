package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payrecon/internal/payment/domain"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	keyPrefix    = "payrecon:lock:"
	pollInterval = 25 * time.Millisecond
	maxPoll      = 250 * time.Millisecond
)

// Redis holds keys across replicas with SET NX PX. The ttl bounds how long a
// crashed holder can block a key.
type Redis struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

// Lock polls until the key is acquired or ctx is done.
func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, errors.New("lock key is empty")
	}

	redisKey := keyPrefix + key
	token := uuid.NewString()
	wait := pollInterval
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, domain.ErrLockTimeout
			}
			return nil, err
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, domain.ErrLockTimeout
		case <-timer.C:
		}
		wait = nextWait(wait)
	}
}

// releaser deletes the key only while it still carries our token. It uses a
// fresh context because the caller's may already be cancelled.
func (l *Redis) releaser(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.script.Run(ctx, l.client, []string{key}, token).Err()
	}
}

func nextWait(current time.Duration) time.Duration {
	next := current * 2
	if next > maxPoll {
		return maxPoll
	}
	return next
}

var _ domain.Locker = (*Redis)(nil)
