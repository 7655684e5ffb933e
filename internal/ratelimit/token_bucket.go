package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBucketMisconfigured = errors.New("ratelimit: bucket misconfigured")
	ErrEmptyBucketKey      = errors.New("ratelimit: empty bucket key")
	ErrBadScriptReply      = errors.New("ratelimit: unexpected script reply")
)

// refillScript keeps one hash per bucket. Tokens are returned as a string so
// the fractional part survives the Lua to RESP conversion.
const refillScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local granted = 0
if tokens >= 1 then
  granted = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {granted, tostring(tokens), now}
`

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed bucket refilled at a fixed rate up to burst.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

func NewTokenBucket(client redis.Scripter, rate float64, burst int) (*TokenBucket, error) {
	if client == nil || rate <= 0 || burst <= 0 {
		return nil, ErrBucketMisconfigured
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(refillScript),
		rate:   rate,
		burst:  burst,
		ttl:    idleTTL(rate, burst),
	}, nil
}

// Take spends one token from the bucket stored at key.
func (b *TokenBucket) Take(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyBucketKey
	}
	reply, err := b.script.Run(ctx, b.client, []string{key}, b.rate, b.burst, b.ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, err
	}
	return b.decide(reply)
}

func (b *TokenBucket) decide(reply []interface{}) (Decision, error) {
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("%w: %d values", ErrBadScriptReply, len(reply))
	}
	granted, ok := reply[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("%w: granted=%v", ErrBadScriptReply, reply[0])
	}
	raw, ok := reply[1].(string)
	if !ok {
		return Decision{}, fmt.Errorf("%w: tokens=%v", ErrBadScriptReply, reply[1])
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBadScriptReply, err)
	}
	nowMillis, ok := reply[2].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("%w: now=%v", ErrBadScriptReply, reply[2])
	}

	d := Decision{
		Allowed:   granted == 1,
		Limit:     b.burst,
		Remaining: int(math.Floor(tokens)),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration((1 - tokens) / b.rate * float64(time.Second))
	}
	d.ResetTime = time.UnixMilli(nowMillis).Add(d.RetryAfter)
	return d, nil
}

// idleTTL keeps a bucket around for twice the time it takes to refill.
func idleTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(2*float64(burst)/rate))
	return time.Duration(seconds) * time.Second
}
