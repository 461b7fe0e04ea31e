package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	envPrefix = "DOCSYNC"
	// ContextDir holds the docsync.yml written by the CLI context commands.
	ContextDir = "./.tmp"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Relay    struct {
		URL              string        `mapstructure:"url"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
		PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
		ChangesTimeout   time.Duration `mapstructure:"changes_timeout"`
		LastSeqTimeout   time.Duration `mapstructure:"lastseq_timeout"`
	} `mapstructure:"relay"`
	Identity struct {
		// Key is the hex encoded ed25519 seed. Empty means read-only.
		Key string `mapstructure:"key"`
	} `mapstructure:"identity"`
	DB struct {
		// Type is sqlite or postgres.
		Type string `mapstructure:"type"`
		DSN  string `mapstructure:"dsn"`
	} `mapstructure:"db"`
	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	Sync struct {
		Kind        int    `mapstructure:"kind"`
		PageSize    int    `mapstructure:"page_size"`
		Interval    string `mapstructure:"interval"`
		Compression string `mapstructure:"compression"`
	} `mapstructure:"sync"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("relay.url", "ws://localhost:7447")
	v.SetDefault("relay.handshake_timeout", 5*time.Second)
	v.SetDefault("relay.publish_timeout", 10*time.Second)
	v.SetDefault("relay.changes_timeout", 30*time.Second)
	v.SetDefault("relay.lastseq_timeout", 10*time.Second)
	v.SetDefault("identity.key", "")
	v.SetDefault("db.type", "sqlite")
	v.SetDefault("db.dsn", ".tmp/docsync.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)
	v.SetDefault("sync.kind", 40000)
	v.SetDefault("sync.page_size", 0)
	v.SetDefault("sync.interval", "@every 30s")
	v.SetDefault("sync.compression", "gzip")
}

// Load reads defaults, the optional docsync.yml and DOCSYNC_* environment variables into a Config.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("docsync")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath(ContextDir)
	v.AddConfigPath("$HOME/.config/docsync")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfig loads .env and the global viper configuration. It exits on invalid configuration.
func LoadConfig() *Config {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := Load(viper.GetViper())
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("unknown log level %q, keeping %s", cfg.LogLevel, logrus.GetLevel())
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return errors.New("relay.url is required")
	}
	if !strings.HasPrefix(c.Relay.URL, "ws://") && !strings.HasPrefix(c.Relay.URL, "wss://") {
		return fmt.Errorf("relay.url must be a ws:// or wss:// url, got %q", c.Relay.URL)
	}
	if c.DB.Type != "sqlite" && c.DB.Type != "postgres" {
		return fmt.Errorf("db.type must be sqlite or postgres, got %q", c.DB.Type)
	}
	if c.Sync.Kind < 40000 || c.Sync.Kind > 49999 {
		return fmt.Errorf("sync.kind must be within 40000-49999, got %d", c.Sync.Kind)
	}
	if c.Sync.PageSize < 0 {
		return errors.New("sync.page_size must not be negative")
	}

	return nil
}
