package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 180*time.Minute, cfg.SyncInterval)
	assert.Zero(t, cfg.SyncJitter, "checks run on a fixed schedule unless jitter is configured")
	assert.Equal(t, 100*time.Millisecond, cfg.RedirectDelay)
}

func TestPrecedenceFileThenDotenvThenEnv(t *testing.T) {
	yamlPath := writeFile(t, "newtabrick.yaml", `
listen_addr: ":9000"
state_dsn: "sqlite:///tmp/rick.db"
sync_interval: 45m
tab_source: cdp
log_level: debug
`)
	dotenvPath := writeFile(t, ".env", "NEWTABRICK_STATE_DSN=memory://\nNEWTABRICK_LOG_FORMAT=json\n")
	t.Setenv("NEWTABRICK_LOG_FORMAT", "text")
	t.Setenv("NEWTABRICK_ORIGIN_PATTERNS", "chrome-extension://abc,http://localhost:*")

	t.Cleanup(func() { os.Unsetenv("NEWTABRICK_STATE_DSN") })

	cfg, err := Load(yamlPath, dotenvPath)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 45*time.Minute, cfg.SyncInterval)
	assert.Equal(t, TabSourceCDP, cfg.TabSource)
	assert.Equal(t, "memory://", cfg.StateDSN)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, []string{"chrome-extension://abc", "http://localhost:*"}, cfg.OriginPatterns)
}

func TestMissingDotenvIsIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"tab source": func(c *Config) { c.TabSource = "carrier-pigeon" },
		"interval":   func(c *Config) { c.SyncInterval = 0 },
		"jitter":     func(c *Config) { c.SyncJitter = 1.5 },
		"landing":    func(c *Config) { c.LandingURL = " " },
		"remote url": func(c *Config) { c.RemoteConfig = "gopher://x" },
		"log level":  func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLoggerHonorsFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := Defaults()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestResolveStateDSNProfiles(t *testing.T) {
	cfg := Defaults()
	dsn, err := cfg.ResolveStateDSN()
	require.NoError(t, err)
	assert.Equal(t, "file://newtab-rick-state.json", dsn)

	cfg.Profile = "memory"
	dsn, err = cfg.ResolveStateDSN()
	require.NoError(t, err)
	assert.Equal(t, "memory://", dsn)

	cfg.Profile = "durable-local"
	cfg.DataDir = "/var/lib/rick"
	dsn, err = cfg.ResolveStateDSN()
	require.NoError(t, err)
	assert.Equal(t, "sqlite:/var/lib/rick/state.db", dsn)

	cfg.Profile = "production"
	_, err = cfg.ResolveStateDSN()
	assert.Error(t, err)
	cfg.PostgresDSN = "postgres://rick@localhost/rick?sslmode=disable"
	dsn, err = cfg.ResolveStateDSN()
	require.NoError(t, err)
	assert.Equal(t, cfg.PostgresDSN, dsn)

	cfg.Profile = "cloud"
	assert.Error(t, cfg.Validate())
}
