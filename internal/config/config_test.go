package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaults(t *testing.T) {
	cfg, err := load(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Error(t, cfg.Validate(), "empty secret must not validate")
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
  allowed_origins: ["https://app.example.com"]
auth:
  secret: from-file
  access_ttl: 5m
  refresh_ttl: 48h
log:
  level: debug
`), 0o600))

	environ := []string{
		"TASKFLOW_AUTH_SECRET=from-env",
		"TASKFLOW_HTTP_ADDR=:9100",
		"TASKFLOW_REDIS_ADDR=localhost:6379",
		"UNRELATED=1",
	}
	fs := newFlags(t, "--config", path, "--http-addr", ":9200", "--auth-access-ttl", "2m")

	cfg, err := load(fs, environ)
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.HTTP.Addr, "flag beats env and file")
	assert.Equal(t, "from-env", cfg.Auth.Secret, "env beats file")
	assert.Equal(t, 2*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 48*time.Hour, cfg.Auth.RefreshTTL, "file beats default")
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Redis.MaxFailures, "default kept")
	require.NoError(t, cfg.Validate())
}

func TestUnchangedFlagsDoNotOverride(t *testing.T) {
	cfg, err := load(newFlags(t), []string{"TASKFLOW_HTTP_ADDR=:7000", "TASKFLOW_AUTH_SECRET=s"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "s"
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Auth.AccessTTL = 0
	assert.ErrorContains(t, bad.Validate(), "access_ttl")

	bad = cfg
	bad.Auth.RefreshTTL = 500 * time.Millisecond
	assert.ErrorContains(t, bad.Validate(), "refresh_ttl")

	bad = cfg
	bad.Redis.Addr = "localhost:6379"
	bad.Redis.Window = 0
	assert.ErrorContains(t, bad.Validate(), "redis")
}

func TestTrustedProxyPrefixes(t *testing.T) {
	cfg, err := load(newFlags(t, "--trusted-proxies", "10.0.0.0/8,192.168.1.7"), []string{"TASKFLOW_AUTH_SECRET=s"})
	require.NoError(t, err)
	prefixes, err := cfg.HTTP.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.168.1.7/32", prefixes[1].String())
	require.NoError(t, cfg.Validate())

	cfg.HTTP.TrustedProxies = []string{"not-an-ip"}
	assert.ErrorContains(t, cfg.Validate(), "trusted_proxies")
}
