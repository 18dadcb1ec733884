package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/jobpipe/internal/logger"
	"github.com/spigell/jobpipe/internal/utils"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultTTL   = 2 * time.Minute
	retryDelay   = 100 * time.Millisecond
	releaseLimit = 250 * time.Millisecond
)

// Redis is a Locker backed by SET NX with a random token. The TTL bounds how
// long a crashed holder can keep the key.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	script *redis.Script
	logger *zap.Logger
}

// NewRedis parses url and returns a Redis locker. Keys are stored under
// prefix.
func NewRedis(url, prefix string, ttl time.Duration, log *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opts), prefix, ttl, log), nil
}

func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		script: redis.NewScript(releaseScript),
		logger: logger.WithFields(log),
	}
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// Lock polls until the key is free or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis client is not configured")
	}

	redisKey := r.key(key)
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		if err := utils.WaitFor(ctx, retryDelay); err != nil {
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(redisKey, token) })
	}, nil
}

func (r *Redis) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseLimit)
	defer cancel()
	if err := r.script.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
		r.logger.Warn("failed to release lock", zap.String("key", redisKey), zap.Error(err))
	}
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
