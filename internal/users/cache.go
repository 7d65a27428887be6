package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// PrincipalCache holds assembled users keyed by username for the bearer
// middleware. Failures degrade to a miss.
//
// Every Delete bumps a per-username generation. Callers read Generation before
// loading from the store and pass it to Set, which drops the write when the
// username was invalidated in between.
type PrincipalCache interface {
	Get(ctx context.Context, username string) (User, bool)
	// Generation reports the current invalidation generation. ok is false when
	// it cannot be read, in which case the caller must not Set.
	Generation(ctx context.Context, username string) (gen uint64, ok bool)
	Set(ctx context.Context, user User, gen uint64)
	Delete(ctx context.Context, usernames ...string)
}

const (
	principalKeyPrefix    = "iam:principal:"
	principalGenKeyPrefix = "iam:principal:gen:"

	// generationTTL outlives any principal entry so a counter never resets
	// under a live lookup.
	generationTTL = 24 * time.Hour
)

var errStaleGeneration = errors.New("principal generation changed")

// RedisCache stores principals as JSON in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, username string) (User, bool) {
	raw, err := c.client.Get(ctx, principalKeyPrefix+username).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("principal cache get", slog.String("username", username), slog.Any("error", err))
		}
		return User{}, false
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		c.logger.Warn("principal cache decode", slog.String("username", username), slog.Any("error", err))
		return User{}, false
	}
	return user, true
}

func (c *RedisCache) Generation(ctx context.Context, username string) (uint64, bool) {
	gen, err := c.client.Get(ctx, principalGenKeyPrefix+username).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("principal cache generation", slog.String("username", username), slog.Any("error", err))
		return 0, false
	}
	return gen, true
}

// Set writes user under WATCH on its generation key, so a concurrent Delete
// aborts the write.
func (c *RedisCache) Set(ctx context.Context, user User, gen uint64) {
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	genKey := principalGenKeyPrefix + user.Username
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, principalKeyPrefix+user.Username, raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil, errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
	default:
		c.logger.Warn("principal cache set", slog.String("username", user.Username), slog.Any("error", err))
	}
}

func (c *RedisCache) Delete(ctx context.Context, usernames ...string) {
	if len(usernames) == 0 {
		return
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range usernames {
			pipe.Incr(ctx, principalGenKeyPrefix+u)
			pipe.Expire(ctx, principalGenKeyPrefix+u, generationTTL)
			pipe.Del(ctx, principalKeyPrefix+u)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("principal cache delete", slog.Any("usernames", usernames), slog.Any("error", err))
	}
}

// MemoryCache keeps principals in process. Invalidation does not reach other
// processes.
type MemoryCache struct {
	c *gocache.Cache

	mu   sync.Mutex
	gens map[string]uint64
}

// NewMemoryCache constructs a MemoryCache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(ttl, time.Minute), gens: map[string]uint64{}}
}

func (m *MemoryCache) Get(_ context.Context, username string) (User, bool) {
	v, ok := m.c.Get(username)
	if !ok {
		return User{}, false
	}
	user, ok := v.(User)
	return user, ok
}

func (m *MemoryCache) Generation(_ context.Context, username string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[username], true
}

func (m *MemoryCache) Set(_ context.Context, user User, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[user.Username] != gen {
		return
	}
	m.c.SetDefault(user.Username, user)
}

func (m *MemoryCache) Delete(_ context.Context, usernames ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range usernames {
		m.gens[u]++
		m.c.Delete(u)
	}
}

// NopCache disables caching.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (User, bool)          { return User{}, false }
func (NopCache) Generation(context.Context, string) (uint64, bool) { return 0, false }
func (NopCache) Set(context.Context, User, uint64)                 {}
func (NopCache) Delete(context.Context, ...string)                 {}
