package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 24*time.Hour, cfg.JWTDuration)
	require.Equal(t, 5*time.Minute, cfg.PrincipalCacheTTL)
	require.Equal(t, 60, cfg.RateLimitPerMinute)
	require.False(t, cfg.CanSign())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresPublicKey(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	t.Setenv("JWT_PUBLIC_KEY_PATH", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("JWT_PRIVATE_KEY_PATH", "/keys/private.pem")
	t.Setenv("JWT_DURATION", "90m")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, cfg.JWTDuration)
	require.True(t, cfg.CanSign())
	require.True(t, cfg.IsProduction())
	require.Empty(t, cfg.RedisAddr)
}

func TestLoadConfigRejectsNonPositiveDuration(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("JWT_DURATION", "0s")

	_, err := LoadConfig()
	require.Error(t, err)
}
