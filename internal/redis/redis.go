package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client backs the uptime cycle lock and the shared rate limiter counters.
type Client struct {
	RedisClient *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

func NewClient(dsn string) (*Client, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}

	return NewClientFromOptions(opts), nil
}

func NewClientFromOptions(opts *redis.Options) *Client {
	return &Client{
		RedisClient: redis.NewClient(opts),
		tokens:      make(map[string]string),
	}
}

// Lock takes lockKey for lockTimeDuration under a token unique to this call.
func (c *Client) Lock(ctx context.Context, lockKey string, lockTimeDuration time.Duration) (result bool, err error) {
	token := uuid.NewString()
	result, err = c.RedisClient.SetNX(ctx, lockKey, token, lockTimeDuration).Result()
	if err != nil {
		return false, err
	}

	if result {
		c.mu.Lock()
		c.tokens[lockKey] = token
		c.mu.Unlock()
	}
	return result, nil
}

// Unlock releases lockKey if this client still holds it. A lock that expired and
// was taken by someone else is left alone.
func (c *Client) Unlock(ctx context.Context, lockKey string) (err error) {
	c.mu.Lock()
	token, ok := c.tokens[lockKey]
	delete(c.tokens, lockKey)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	return unlockScript.Run(ctx, c.RedisClient, []string{lockKey}, token).Err()
}

// IncrWindow increments key and starts its expiry on the first hit of a window.
// It returns the count so far and the time left until the window resets.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error) {
	count, err = c.RedisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	if count == 1 {
		if err = c.RedisClient.PExpire(ctx, key, window).Err(); err != nil {
			return count, 0, err
		}
		return count, window, nil
	}

	ttl, err = c.RedisClient.PTTL(ctx, key).Result()
	if err != nil {
		return count, 0, err
	}

	// A key left without expiry by an earlier failed PEXPIRE would block forever
	if ttl < 0 {
		if err = c.RedisClient.PExpire(ctx, key, window).Err(); err != nil {
			return count, 0, err
		}
		ttl = window
	}

	return count, ttl, nil
}

func (c *Client) Del(ctx context.Context, key string) (err error) {
	return c.RedisClient.Del(ctx, key).Err()
}

func (c *Client) Close() (err error) {
	err = c.RedisClient.Close()
	return err
}

func (c *Client) Ping(ctx context.Context) (err error) {
	err = c.RedisClient.Ping(ctx).Err()
	return err
}
