package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/statusr/internal/env"
	"github.com/loykin/statusr/internal/eventlog"
	"github.com/loykin/statusr/internal/logger"
	"github.com/loykin/statusr/internal/provider"
)

// EnvPrefix prefixes environment overrides, e.g. STATUSR_SERVER_LISTEN.
const EnvPrefix = "STATUSR"

var ErrNoTargets = errors.New("config: no targets configured")

// Config represents the top-level TOML structure.
type Config struct {
	// Env holds "K=V" pairs available to ${VAR} references in target
	// URLs and history DSNs, on top of the process environment.
	Env      []string        `mapstructure:"env"`
	Server   ServerConfig    `mapstructure:"server"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Log      logger.Config   `mapstructure:"log"`
	EventLog EventLogConfig  `mapstructure:"event_log"`
	Dedup    DedupConfig     `mapstructure:"dedup"`
	Poll     PollConfig      `mapstructure:"poll"`
	History  []HistoryConfig `mapstructure:"history"`
	Targets  []TargetConfig  `mapstructure:"targets"`
}

type ServerConfig struct {
	Listen        string     `mapstructure:"listen"`
	BasePath      string     `mapstructure:"base_path"`
	TLS           *TLSConfig `mapstructure:"tls"`
	TLSMinVersion string     `mapstructure:"tls_min_version"`
	TLSMaxVersion string     `mapstructure:"tls_max_version"`
}

type TLSConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	CertFile     string      `mapstructure:"cert_file"`
	KeyFile      string      `mapstructure:"key_file"`
	Dir          string      `mapstructure:"dir"`
	AutoGenerate bool        `mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"` // empty: serve /metrics on the API listener
}

type EventLogConfig struct {
	Path     string        `mapstructure:"path"`
	MaxBytes int64         `mapstructure:"max_bytes"`
	Window   time.Duration `mapstructure:"window"`
	KeepLast int           `mapstructure:"keep_last"`
}

// Options converts the section into event log options.
func (c EventLogConfig) Options() eventlog.Options {
	return eventlog.Options{Path: c.Path, MaxBytes: c.MaxBytes, Window: c.Window, KeepLast: c.KeepLast}
}

type DedupConfig struct {
	SeedFromLog bool `mapstructure:"seed_from_log"`
	SeedRecords int  `mapstructure:"seed_records"`
}

// PollConfig holds the defaults targets inherit and the round count of the
// one-shot poll command.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Rounds   int           `mapstructure:"rounds"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type TargetConfig struct {
	Name     string        `mapstructure:"name"`
	URL      string        `mapstructure:"url"`
	Provider string        `mapstructure:"provider"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8000")
	v.SetDefault("server.base_path", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("event_log.path", eventlog.DefaultPath)
	v.SetDefault("event_log.max_bytes", eventlog.DefaultMaxBytes)
	v.SetDefault("event_log.window", eventlog.DefaultWindow)
	v.SetDefault("event_log.keep_last", eventlog.DefaultKeepLast)
	v.SetDefault("dedup.seed_from_log", true)
	v.SetDefault("dedup.seed_records", 1000)
	v.SetDefault("poll.interval", 30*time.Second)
	v.SetDefault("poll.timeout", 15*time.Second)
	v.SetDefault("poll.rounds", 2)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the TOML file at path, applies defaults and STATUSR_*
// environment overrides, and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		// defaults always validate
		panic(err)
	}
	return c
}

func (c *Config) applyDefaults() {
	vars := env.New()
	vars.SetPairs(c.Env)
	for i := range c.History {
		c.History[i].DSN = vars.Expand(c.History[i].DSN)
	}
	for i := range c.Targets {
		t := &c.Targets[i]
		t.URL = vars.Expand(t.URL)
		if t.Interval <= 0 {
			t.Interval = c.Poll.Interval
		}
		if t.Timeout <= 0 {
			t.Timeout = c.Poll.Timeout
		}
		if strings.TrimSpace(t.Provider) == "" {
			t.Provider = string(provider.KindStatuspage)
		}
	}
	if c.Poll.Rounds <= 0 {
		c.Poll.Rounds = 1
	}
}

// Validate checks invariants that cannot be expressed as defaults.
func (c *Config) Validate() error {
	if c.EventLog.MaxBytes < 0 || c.EventLog.KeepLast < 0 || c.EventLog.Window < 0 {
		return errors.New("config: event_log limits must not be negative")
	}
	if c.Dedup.SeedRecords < 0 {
		return errors.New("config: dedup.seed_records must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for i, t := range c.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("config: targets[%d]: name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("config: duplicate target name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		u, err := url.Parse(t.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: target %s: invalid url %q", t.Name, t.URL)
		}
		if _, err := provider.ParseKind(t.Provider); err != nil {
			return fmt.Errorf("config: target %s: %w", t.Name, err)
		}
	}
	for i, h := range c.History {
		if strings.TrimSpace(h.DSN) == "" {
			return fmt.Errorf("config: history[%d]: dsn is required", i)
		}
	}
	if c.Server.TLS != nil && c.Server.TLS.Enabled {
		t := c.Server.TLS
		if (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
			return errors.New("config: server.tls enabled without cert_file/key_file or dir")
		}
	}
	return nil
}

// RequireTargets fails with ErrNoTargets when nothing is configured to poll.
func (c *Config) RequireTargets() error {
	if len(c.Targets) == 0 {
		return ErrNoTargets
	}
	return nil
}

// ProviderTargets converts the configured targets. Validate has already
// checked every provider name.
func (c *Config) ProviderTargets() []provider.Target {
	out := make([]provider.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		kind, _ := provider.ParseKind(t.Provider)
		out = append(out, provider.Target{
			Name:     t.Name,
			URL:      t.URL,
			Provider: kind,
			Interval: t.Interval,
			Timeout:  t.Timeout,
		})
	}
	return out
}

// HistoryDSNs returns the configured sink DSNs in order.
func (c *Config) HistoryDSNs() []string {
	out := make([]string, 0, len(c.History))
	for _, h := range c.History {
		out = append(out, h.DSN)
	}
	return out
}
