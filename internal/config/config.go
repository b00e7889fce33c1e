// Package config loads the peer and hub settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/nearby/internal/nearby"
	"github.com/1ureka/nearby/internal/transport"
)

// Accept policy names.
const (
	AcceptAll  = "all"
	AcceptNone = "none"
)

// Config holds every setting of the nearby binary.
type Config struct {
	ServiceID string        `mapstructure:"service_id"`
	Strategy  string        `mapstructure:"strategy"`
	Nickname  string        `mapstructure:"nickname"` // empty picks a random one per session
	Hub       HubConfig     `mapstructure:"hub"`
	Link      string        `mapstructure:"link"`
	STUN      []string      `mapstructure:"stun"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
	Accept    string        `mapstructure:"accept"`
	Debug     bool          `mapstructure:"debug"`
}

// HubConfig locates the rendezvous hub.
type HubConfig struct {
	Listen string `mapstructure:"listen"` // address `nearby hub` binds
	URL    string `mapstructure:"url"`    // address `nearby peer` dials
}

// RetryConfig bounds connection request retries.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServiceID: nearby.DefaultServiceID,
		Strategy:  string(nearby.StrategyCluster),
		Hub: HubConfig{
			Listen: "127.0.0.1:7878",
			URL:    "ws://127.0.0.1:7878/ws",
		},
		Link: string(transport.LinkRelay),
		STUN: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		Timeout: transport.DefaultTimeout,
		Retry:   RetryConfig{Attempts: 1, Backoff: 500 * time.Millisecond},
		Accept:  AcceptAll,
	}
}

// DefaultPath is $HOME/.config/nearby/config.toml.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "nearby", "config.toml")
}

// Load reads configuration from path (or NEARBY_CONFIG, or DefaultPath) and
// the environment. Env var overrides use prefix NEARBY_, e.g.
// NEARBY_RETRY_ATTEMPTS. A missing default file is not an error; a missing
// explicit one is.
func Load(path string) (Config, error) {
	v := viper.New()
	setAll(v, Default())

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv("NEARBY_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Dir(DefaultPath()))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("NEARBY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save writes cfg to path as TOML, creating the directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	setAll(v, cfg)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the enumerated and numeric settings.
func (c Config) Validate() error {
	if _, err := nearby.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if _, err := transport.ParseLinkKind(c.Link); err != nil {
		return err
	}
	if c.Accept != AcceptAll && c.Accept != AcceptNone {
		return fmt.Errorf("unknown accept policy %q (want %s or %s)", c.Accept, AcceptAll, AcceptNone)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// AcceptPolicy maps the configured policy name.
func (c Config) AcceptPolicy() nearby.AcceptPolicy {
	if c.Accept == AcceptNone {
		return nearby.RejectAll
	}
	return nearby.AcceptAll
}

// RetryPolicy maps the retry settings.
func (c Config) RetryPolicy() nearby.RetryPolicy {
	return nearby.RetryPolicy{Attempts: c.Retry.Attempts, Backoff: c.Retry.Backoff}
}

func setAll(v *viper.Viper, c Config) {
	v.SetDefault("service_id", c.ServiceID)
	v.SetDefault("strategy", c.Strategy)
	v.SetDefault("nickname", c.Nickname)
	v.SetDefault("hub.listen", c.Hub.Listen)
	v.SetDefault("hub.url", c.Hub.URL)
	v.SetDefault("link", c.Link)
	v.SetDefault("stun", c.STUN)
	v.SetDefault("timeout", c.Timeout.String())
	v.SetDefault("retry.attempts", c.Retry.Attempts)
	v.SetDefault("retry.backoff", c.Retry.Backoff.String())
	v.SetDefault("accept", c.Accept)
	v.SetDefault("debug", c.Debug)
}
