package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "COLLAB"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultLogLevel    = "info"
)

// AppConfig captures runtime configuration for the collaboration server.
// An empty DatabasePath selects the in-memory snapshot store.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SnapshotInterval int
	SnapshotKeep     int
	SnapshotMaxAge   time.Duration
	SweepInterval    time.Duration
	LockTTL          time.Duration
	StaleAfter       time.Duration
	ReaperInterval   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("snapshot.interval", 10)
	configViper.SetDefault("snapshot.keep_count", 10)
	configViper.SetDefault("snapshot.max_age", 168*time.Hour)
	configViper.SetDefault("snapshot.sweep_interval", time.Hour)
	configViper.SetDefault("lock.ttl", 5*time.Minute)
	configViper.SetDefault("presence.stale_after", 5*time.Minute)
	configViper.SetDefault("reaper.interval", 60*time.Second)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SnapshotInterval: configViper.GetInt("snapshot.interval"),
		SnapshotKeep:     configViper.GetInt("snapshot.keep_count"),
		SnapshotMaxAge:   configViper.GetDuration("snapshot.max_age"),
		SweepInterval:    configViper.GetDuration("snapshot.sweep_interval"),
		LockTTL:          configViper.GetDuration("lock.ttl"),
		StaleAfter:       configViper.GetDuration("presence.stale_after"),
		ReaperInterval:   configViper.GetDuration("reaper.interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.SnapshotInterval < 1 {
		return fmt.Errorf("snapshot.interval must be at least 1")
	}
	if c.SnapshotKeep < 1 {
		return fmt.Errorf("snapshot.keep_count must be at least 1")
	}
	return nil
}
