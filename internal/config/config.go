// Package config loads daemon settings from defaults, a YAML file, a .env
// file and NEWTABRICK_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/configsync"
	"github.com/GXboy12345/newtab-rick/internal/engine"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "NEWTABRICK_"

const (
	TabSourceCDP    = "cdp"
	TabSourceBridge = "bridge"
	TabSourceNone   = "none"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"ADDR"`
	// Profile picks a state DSN preset: memory, durable-local or
	// production. Empty uses StateDSN as given.
	Profile     string `yaml:"profile" env:"PROFILE"`
	DataDir     string `yaml:"data_dir" env:"DATA_DIR"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	StateDSN    string `yaml:"state_dsn" env:"STATE_DSN"`

	LandingURL   string `yaml:"landing_url" env:"LANDING_URL"`
	RemoteConfig string `yaml:"remote_config_url" env:"REMOTE_CONFIG_URL"`

	SyncInterval     time.Duration `yaml:"sync_interval" env:"SYNC_INTERVAL"`
	SyncInitialDelay time.Duration `yaml:"sync_initial_delay" env:"SYNC_INITIAL_DELAY"`
	SyncJitter       float64       `yaml:"sync_jitter" env:"SYNC_JITTER"`
	HTTPTimeout      time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
	RedirectDelay    time.Duration `yaml:"redirect_delay" env:"REDIRECT_DELAY"`

	TabSource      string   `yaml:"tab_source" env:"TAB_SOURCE"`
	CDPControlURL  string   `yaml:"cdp_control_url" env:"CDP_URL"`
	CDPHeadless    bool     `yaml:"cdp_headless" env:"CDP_HEADLESS"`
	OriginPatterns []string `yaml:"origin_patterns" env:"ORIGIN_PATTERNS" envSeparator:","`
	ConsoleBadge   bool     `yaml:"console_badge" env:"CONSOLE_BADGE"`

	JWTSecret    string `yaml:"jwt_secret" env:"JWT_SECRET"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	RateLimitMax int    `yaml:"rate_limit_max" env:"RATE_LIMIT_MAX"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

func Defaults() Config {
	return Config{
		ListenAddr:       ":8091",
		DataDir:          ".newtab-rick",
		StateDSN:         "file://newtab-rick-state.json",
		LandingURL:       engine.DefaultLandingURL,
		SyncInterval:     configsync.DefaultInterval,
		SyncInitialDelay: configsync.DefaultInitialDelay,
		SyncJitter:       0,
		HTTPTimeout:      30 * time.Second,
		RedirectDelay:    engine.DefaultRedirectDelay,
		TabSource:        TabSourceBridge,
		OriginPatterns:   []string{"chrome-extension://*", "moz-extension://*"},
		ConsoleBadge:     true,
		MaxBodyBytes:     1 << 20,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load builds the configuration. path may be empty; a missing dotenv file
// is not an error.
func Load(path, dotenvPath string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.TabSource {
	case TabSourceCDP, TabSourceBridge, TabSourceNone:
	default:
		return fmt.Errorf("unknown tab source %q", c.TabSource)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", c.SyncInterval)
	}
	if c.SyncJitter < 0 || c.SyncJitter > 1 {
		return fmt.Errorf("sync jitter must be within [0,1], got %v", c.SyncJitter)
	}
	if strings.TrimSpace(c.LandingURL) == "" {
		return errors.New("landing url must not be empty")
	}
	if c.RemoteConfig != "" {
		if err := configsync.ValidateRemoteURL(c.RemoteConfig); err != nil {
			return fmt.Errorf("remote config url: %w", err)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.ResolveStateDSN(); err != nil {
		return err
	}
	return nil
}

// ResolveStateDSN applies Profile on top of StateDSN.
func (c Config) ResolveStateDSN() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(c.Profile))
	dataDir := strings.TrimSpace(c.DataDir)
	if dataDir == "" {
		dataDir = ".newtab-rick"
	}
	switch profile {
	case "", "custom":
		return strings.TrimSpace(c.StateDSN), nil
	case "memory", "inmemory":
		return "memory://", nil
	case "durable-local", "local-durable":
		return "sqlite:" + filepath.Join(dataDir, "state.db"), nil
	case "production", "prod":
		dsn := strings.TrimSpace(c.PostgresDSN)
		if dsn == "" {
			return "", fmt.Errorf("%sPOSTGRES_DSN is required when profile=%s", EnvPrefix, profile)
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported profile: %s", profile)
	}
}

func ParseLogLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", value)
	}
	return level, nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
