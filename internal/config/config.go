// Package config loads and validates all runtime configuration for the gateway.
//
// Scalar settings (port, log level, timeouts, stats persistence) are read
// from environment variables or a .env file, following the same
// env-first / dotenv-fallback convention used throughout this codebase.
// The provider and api_keys lists are heterogeneous, ordered records, so
// they are loaded from a YAML document instead of being forced through
// flat env vars — set CONFIG_FILE to point at it (default "config.yaml").
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nulpointcorp/uniproxy/internal/protocol"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// Engine is an explicit wire-protocol override for a Provider.
type Engine = protocol.Engine

const (
	EngineGPT          = protocol.EngineGPT
	EngineClaude       = protocol.EngineClaude
	EngineGemini       = protocol.EngineGemini
	EngineVertex       = protocol.EngineVertex
	EngineVertexClaude = protocol.EngineVertexClaude
	EngineVertexGemini = protocol.EngineVertexGemini
	EngineOpenRouter   = protocol.EngineOpenRouter
	EngineDalle        = protocol.EngineDalle
)

// StringList accepts either a bare YAML scalar or a sequence, normalizing
// both into a []string. Providers commonly rotate across several API keys
// but a single string is the common case and shouldn't require "- " syntax.
type StringList []string

func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var one string
		if err := value.Decode(&one); err != nil {
			return err
		}
		*s = StringList{one}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = StringList(many)
		return nil
	default:
		return fmt.Errorf("config: api_key must be a string or list of strings")
	}
}

// Provider is one upstream LLM/image backend.
type Provider struct {
	Name    string            `yaml:"provider"`
	BaseURL string            `yaml:"base_url"`
	APIKeys StringList        `yaml:"api_key"`
	Model   map[string]string `yaml:"model"`
	Engine  Engine            `yaml:"engine,omitempty"`
	Extra   map[string]string `yaml:"extra,omitempty"`
}

// HasAlias reports whether this provider serves the given logical alias.
func (p Provider) HasAlias(alias string) bool {
	_, ok := p.Model[alias]
	return ok
}

// UpstreamModel returns the wire-level model id for a logical alias.
func (p Provider) UpstreamModel(alias string) string {
	return p.Model[alias]
}

// Preferences holds an api_keys record's dispatch policy. Pointer booleans
// distinguish "unset" (apply the documented default) from an explicit false.
type Preferences struct {
	UseRoundRobin *bool  `yaml:"USE_ROUND_ROBIN,omitempty"`
	AutoRetry     *bool  `yaml:"AUTO_RETRY,omitempty"`
	RateLimit     string `yaml:"RATE_LIMIT,omitempty"`
}

func (p Preferences) RoundRobinEnabled() bool {
	if p.UseRoundRobin == nil {
		return true
	}
	return *p.UseRoundRobin
}

func (p Preferences) AutoRetryEnabled() bool {
	if p.AutoRetry == nil {
		return true
	}
	return *p.AutoRetry
}

// ApiKeyRecord is one caller credential with its model policy.
type ApiKeyRecord struct {
	API         string         `yaml:"api"`
	Role        string         `yaml:"role"`
	Model       []string       `yaml:"model"`
	Weights     map[string]int `yaml:"weights,omitempty"`
	Preferences Preferences    `yaml:"preferences,omitempty"`
}

func (r ApiKeyRecord) IsAdmin() bool { return strings.EqualFold(r.Role, "admin") }

// fileDoc is the shape of the YAML document holding providers/api_keys.
type fileDoc struct {
	Providers []Provider     `yaml:"providers"`
	APIKeys   []ApiKeyRecord `yaml:"api_keys"`
}

// Config is the top-level configuration container.
type Config struct {
	Port     int
	LogLevel string

	// Timeout is the per-candidate upstream read timeout override, seconds.
	Timeout time.Duration

	StatsFile         string
	StatsSaveInterval time.Duration

	CORSOrigins []string

	Providers []Provider
	APIKeys   []ApiKeyRecord

	// apiIndex maps an opaque token to its position in APIKeys — the
	// "index(token)" derived index from the data model.
	apiIndex map[string]int
}

// BuildIndex (re)builds the token lookup index from APIKeys. Load calls this
// automatically; it is exported so tests that construct a Config literal
// directly (bypassing Load) can populate the index too.
func (c *Config) BuildIndex() {
	c.apiIndex = make(map[string]int, len(c.APIKeys))
	for i, rec := range c.APIKeys {
		c.apiIndex[rec.API] = i
	}
}

// Index returns the position of token in APIKeys, or -1 if not present.
func (c *Config) Index(token string) int {
	if i, ok := c.apiIndex[token]; ok {
		return i
	}
	return -1
}

// Record returns the ApiKeyRecord for token and whether it was found.
func (c *Config) Record(token string) (ApiKeyRecord, bool) {
	i := c.Index(token)
	if i < 0 {
		return ApiKeyRecord{}, false
	}
	return c.APIKeys[i], true
}

// ProviderByName returns the provider with the given name, if configured.
func (c *Config) ProviderByName(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// Load reads configuration from environment variables (or .env) for scalars,
// and from a YAML document for the providers/api_keys lists.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TIMEOUT", 20)
	v.SetDefault("STATS_FILE", "stats.json")
	v.SetDefault("STATS_SAVE_INTERVAL", 3600)
	v.SetDefault("CORS_ORIGINS", []string{"*"})
	v.SetDefault("CONFIG_FILE", "config.yaml")

	cfg := &Config{
		Port:              v.GetInt("PORT"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
		Timeout:           time.Duration(v.GetInt("TIMEOUT")) * time.Second,
		StatsFile:         v.GetString("STATS_FILE"),
		StatsSaveInterval: time.Duration(v.GetInt("STATS_SAVE_INTERVAL")) * time.Second,
		CORSOrigins:       v.GetStringSlice("CORS_ORIGINS"),
	}

	doc, err := loadFileDoc(v.GetString("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Providers = doc.Providers
	cfg.APIKeys = doc.APIKeys

	cfg.BuildIndex()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFileDoc(path string) (fileDoc, error) {
	var doc fileDoc

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, fmt.Errorf("config: %s not found: at least one provider must be configured", path)
		}
		return doc, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return doc, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be configured")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider entry missing 'provider' name")
		}
		if names[p.Name] {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		names[p.Name] = true
		if p.BaseURL == "" {
			return fmt.Errorf("config: provider %q missing base_url", p.Name)
		}
		if p.Engine != "" {
			switch p.Engine {
			case EngineGPT, EngineClaude, EngineGemini, EngineVertex,
				EngineVertexClaude, EngineVertexGemini, EngineOpenRouter, EngineDalle:
			default:
				return fmt.Errorf("config: provider %q has unknown engine override %q", p.Name, p.Engine)
			}
		}
	}

	for _, rec := range c.APIKeys {
		if rec.API == "" {
			return fmt.Errorf("config: api_keys entry missing 'api' token")
		}
		if rec.Role != "admin" && rec.Role != "user" {
			return fmt.Errorf("config: api_keys entry %q has invalid role %q", rec.API, rec.Role)
		}
		if rec.Preferences.RateLimit != "" {
			if _, _, err := ParseRateLimit(rec.Preferences.RateLimit); err != nil {
				return fmt.Errorf("config: api_keys entry %q: %w", rec.API, err)
			}
		}
	}

	return nil
}

// unitSeconds mirrors the original reference implementation's rate-limit
// unit table exactly (see ParseRateLimit).
var unitSeconds = map[string]int64{
	"s": 1, "sec": 1, "second": 1,
	"m": 60, "min": 60, "minute": 60,
	"h": 3600, "hr": 3600, "hour": 3600,
	"d": 86400, "day": 86400,
	"mo": 2592000, "month": 2592000,
	"y": 31536000, "year": 31536000,
}

// ParseRateLimit parses a preferences.RATE_LIMIT string of the form
// "<count>/<unit>" into (count, window duration). BadConfig (§7) on any
// malformed string or unrecognized unit.
func ParseRateLimit(s string) (count int, window time.Duration, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid RATE_LIMIT %q: expected '<count>/<unit>'", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid RATE_LIMIT %q: count must be a positive integer", s)
	}
	unit := strings.ToLower(strings.TrimSpace(parts[1]))
	secs, ok := unitSeconds[unit]
	if !ok {
		return 0, 0, fmt.Errorf("invalid RATE_LIMIT %q: unrecognized unit %q", s, unit)
	}
	return n, time.Duration(secs) * time.Second, nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
