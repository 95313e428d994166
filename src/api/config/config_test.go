package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("S3_BUCKET", "pujo")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/abc")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TRUSTED_PROXIES", "")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
	require.Equal(t, 3, cfg.Upstream.Attempts)
	require.Equal(t, "big picture", cfg.Discord.Username)
	require.True(t, cfg.S3.UseSSL)
	require.Empty(t, cfg.Origins())
	require.Empty(t, cfg.Proxies())
}

func TestLoadMissingRequired(t *testing.T) {
	for _, key := range []string{"JWT_SECRET", "REDIS_URL", "S3_BUCKET", "DISCORD_WEBHOOK_URL", "CONFIG_FILE"} {
		t.Setenv(key, "")
	}
	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"JWT_SECRET", "REDIS_URL", "S3_BUCKET", "DISCORD_WEBHOOK_URL"} {
		require.Contains(t, err.Error(), key)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
app_url: https://pujo.example
token_ttl: 48h
s3:
  bucket: from-file
  use_ssl: false
upstream:
  attempts: 5
  timeout: 3s
`), 0o600))

	setRequired(t)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("S3_BUCKET", "")
	t.Setenv("PORT", "9100")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9100", cfg.Port)
	require.Equal(t, "https://pujo.example", cfg.AppURL)
	require.Equal(t, 48*time.Hour, cfg.TokenTTL)
	require.Equal(t, "from-file", cfg.S3.Bucket)
	require.False(t, cfg.S3.UseSSL)
	require.Equal(t, 5, cfg.Upstream.Attempts)
	require.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins())
}

func TestLoadBadNumbers(t *testing.T) {
	setRequired(t)
	t.Setenv("UPSTREAM_ATTEMPTS", "lots")
	t.Setenv("TOKEN_TTL", "a week")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "UPSTREAM_ATTEMPTS")
	require.Contains(t, err.Error(), "TOKEN_TTL")
}

func TestApplySettings(t *testing.T) {
	cfg := Default()
	cfg.AppURL = "http://env"
	settings := map[string]string{
		"app_url":          "https://pujo.example",
		"discord_username": "moderation",
	}
	cfg.ApplySettings(func(name string) string { return settings[name] })
	require.Equal(t, "https://pujo.example", cfg.AppURL)
	require.Equal(t, "moderation", cfg.Discord.Username)
	require.Empty(t, cfg.Discord.AvatarURL)
}

func TestLoadTrustedProxies(t *testing.T) {
	setRequired(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 172.16.0.0/12")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.Proxies())

	t.Setenv("TRUSTED_PROXIES", "10.0.0.1,not-an-ip")
	_, err = Load()
	require.ErrorContains(t, err, "not-an-ip")
}
