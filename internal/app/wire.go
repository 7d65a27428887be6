package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-iam/internal/credential"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Backends holds the connections shared by every entrypoint.
type Backends struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Connect opens Postgres and, when REDIS_ADDR is set, Redis. A Redis outage is
// logged and leaves Redis nil so callers fall back to in-process caching.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backends, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	b := &Backends{Pool: pool}
	if cfg.RedisAddr == "" {
		return b, nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory principal cache", slog.Any("error", err))
		return b, nil
	}
	b.Redis = client
	return b, nil
}

// Close releases every open connection.
func (b *Backends) Close(logger *slog.Logger) {
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	b.Pool.Close()
}

// memoryPrincipalTTL bounds how long another replica may serve a principal
// after a change it never heard about.
const memoryPrincipalTTL = 30 * time.Second

// PrincipalCache picks the redis cache when connected, otherwise go-cache with
// the TTL capped at memoryPrincipalTTL.
func (b *Backends) PrincipalCache(cfg *Config, logger *slog.Logger) users.PrincipalCache {
	if b.Redis != nil {
		return users.NewRedisCache(b.Redis, cfg.PrincipalCacheTTL, logger)
	}
	return users.NewMemoryCache(fallbackPrincipalTTL(cfg.PrincipalCacheTTL))
}

func fallbackPrincipalTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > memoryPrincipalTTL {
		return memoryPrincipalTTL
	}
	return ttl
}

// NewUserService assembles the user service over the pg repository.
func (b *Backends) NewUserService(cfg *Config, recorder rbac.Recorder, logger *slog.Logger) *users.Service {
	return users.NewService(
		users.NewRepository(b.Pool),
		credential.NewPasswordHasher(credential.DefaultArgon2),
		rbac.NewReconciler(recorder),
		b.PrincipalCache(cfg, logger),
		logger,
	)
}

// NewTokenManager loads the configured key pair.
func NewTokenManager(cfg *Config) (*credential.TokenManager, error) {
	priv, pub, err := credential.LoadKeyPair(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, err
	}
	return credential.NewTokenManager(priv, pub, credential.TokenConfig{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Duration: cfg.JWTDuration,
	}), nil
}
