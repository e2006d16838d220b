// Package config loads gateway configuration from YAML and environment.
//
// DESIGN: A single Config struct is loaded once at startup and passed down
// by value-of-pointer; nothing re-reads the file. Secrets are referenced in
// YAML as ${ENV_VAR} and expanded at load time so config files stay
// committable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
// Bare numbers are taken as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root gateway configuration.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Store      StoreConfig               `yaml:"store"`
	Admission  AdmissionConfig           `yaml:"admission"`
	VoicePool  VoicePoolConfig           `yaml:"voice_pool"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Monitoring MonitoringConfig          `yaml:"monitoring"`
	Log        LogConfig                 `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// StoreConfig holds the durable record store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// AdmissionConfig controls the admission gate.
type AdmissionConfig struct {
	// FailClosed denies requests when the quota store errors. The voice
	// proxy historically failed open; the streaming gate fails closed.
	FailClosed bool `yaml:"fail_closed"`

	VoiceDailyLimit int `yaml:"voice_daily_limit"`
	TextDailyLimit  int `yaml:"text_daily_limit"`

	// ExemptCategories always pass the quota check (background jobs).
	ExemptCategories []string `yaml:"exempt_categories"`
}

// VoicePoolConfig configures the pooled synthesis credentials.
type VoicePoolConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Credentials    []string `yaml:"credentials"`
	HealthCacheTTL Duration `yaml:"health_cache_ttl"`
	Voices         []Voice  `yaml:"voices"`
}

// Voice is one entry of the static voice catalog.
type Voice struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Language string `yaml:"language,omitempty" json:"language,omitempty"`
	Preview  string `yaml:"preview,omitempty" json:"preview,omitempty"`
}

// ProviderConfig describes one upstream completion provider.
type ProviderConfig struct {
	// Family selects the wire protocol: "openai" or "anthropic".
	Family  string `yaml:"family"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// Version is sent as the anthropic-version header when set.
	Version string `yaml:"version"`
}

// MonitoringConfig controls telemetry recording.
type MonitoringConfig struct {
	Enabled     bool `yaml:"enabled"`
	LogToStdout bool `yaml:"log_to_stdout"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultServerPort,
			ReadTimeout:  Duration(DefaultServerReadTimeout),
			WriteTimeout: Duration(DefaultServerWriteTimeout),
		},
		Store: StoreConfig{Path: DefaultStorePath},
		Admission: AdmissionConfig{
			FailClosed:      true,
			VoiceDailyLimit: DefaultVoiceDailyLimit,
			TextDailyLimit:  DefaultTextDailyLimit,
			ExemptCategories: []string{
				CategoryScheduledRefresh,
				CategoryBackgroundJob,
			},
		},
		VoicePool: VoicePoolConfig{
			BaseURL:        DefaultSynthesisBaseURL,
			HealthCacheTTL: Duration(DefaultHealthCacheTTL),
		},
		Providers:  map[string]ProviderConfig{},
		Monitoring: MonitoringConfig{Enabled: true, LogToStdout: false},
		Log:        LogConfig{Level: "info", Pretty: false},
	}
}

// Load reads the YAML config at path over defaults. A missing file is not an
// error; env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			expanded := expandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps well-known env vars onto the config. Env wins over
// file for credentials so secrets never need to live in YAML.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SEEME_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SEEME_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEYS"); v != "" {
		c.VoicePool.Credentials = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if p, ok := c.Providers["openai"]; ok {
			p.APIKey = v
			c.Providers["openai"] = p
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		if p, ok := c.Providers["anthropic"]; ok {
			p.APIKey = v
			c.Providers["anthropic"] = p
		}
	}
}

func (c *Config) validate() error {
	for name, p := range c.Providers {
		switch p.Family {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("provider %q: unknown family %q", name, p.Family)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", name)
		}
	}
	if c.Admission.VoiceDailyLimit <= 0 {
		c.Admission.VoiceDailyLimit = DefaultVoiceDailyLimit
	}
	if c.Admission.TextDailyLimit <= 0 {
		c.Admission.TextDailyLimit = DefaultTextDailyLimit
	}
	if c.VoicePool.HealthCacheTTL <= 0 {
		c.VoicePool.HealthCacheTTL = Duration(DefaultHealthCacheTTL)
	}
	// Unresolved ${VAR} references leave empty entries behind.
	kept := c.VoicePool.Credentials[:0]
	for _, cred := range c.VoicePool.Credentials {
		if strings.TrimSpace(cred) != "" {
			kept = append(kept, cred)
		}
	}
	c.VoicePool.Credentials = kept
	return nil
}

// expandEnv replaces ${VAR} references with environment values.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
