package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

// inEmptyDir runs the test from a directory without a .env file
func inEmptyDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("JWT_SIGNING_KEY", testKey)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 10*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 30*time.Second, cfg.WSPongWait)
	assert.Equal(t, time.Second, cfg.ThrottleInterval)
	assert.Equal(t, 10*time.Minute, cfg.ThrottleIdleTTL)
	assert.Equal(t, "memory", cfg.PubSubType)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins)
	assert.False(t, cfg.OAuthEnabled)
	assert.False(t, cfg.StorageEnabled())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("JWT_SIGNING_KEY", testKey)
	t.Setenv("PORT", "9000")
	t.Setenv("THROTTLE_INTERVAL", "250ms")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("PUBSUB_TYPE", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("GOOGLE_CLIENT_ID", "id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("R2_ACCESS_KEY_ID", "k")
	t.Setenv("R2_SECRET_ACCESS_KEY", "s")
	t.Setenv("R2_BUCKET", "avatars")
	t.Setenv("R2_ENDPOINT", "http://localhost:9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.ThrottleInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "redis", cfg.PubSubType)
	assert.True(t, cfg.OAuthEnabled)
	assert.True(t, cfg.StorageEnabled())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inEmptyDir(t)
	t.Setenv("JWT_SIGNING_KEY", testKey)
	// registered with Setenv so the value .env loads is undone afterwards
	t.Setenv("APP_BASE_URL", "")
	require.NoError(t, os.Unsetenv("APP_BASE_URL"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("APP_BASE_URL=https://chat.example\nJWT_SIGNING_KEY=ignored-because-set\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example", cfg.AppBaseURL)
	assert.Equal(t, testKey, cfg.JWTSigningKey, "real environment wins over .env")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"short key", map[string]string{"JWT_SIGNING_KEY": "short"}},
		{"bad duration", map[string]string{"JWT_SIGNING_KEY": testKey, "THROTTLE_INTERVAL": "soon"}},
		{"zero throttle", map[string]string{"JWT_SIGNING_KEY": testKey, "THROTTLE_INTERVAL": "0s"}},
		{"redis without url", map[string]string{"JWT_SIGNING_KEY": testKey, "PUBSUB_TYPE": "redis"}},
		{"unknown pubsub", map[string]string{"JWT_SIGNING_KEY": testKey, "PUBSUB_TYPE": "kafka"}},
		{"tiny pong wait", map[string]string{"JWT_SIGNING_KEY": testKey, "WS_PONG_WAIT": "10ms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inEmptyDir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
