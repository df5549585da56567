package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brettbedarf/wikifs/internal/util"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl = util.InfoLevel

	// DefaultBackendType keeps everything in process memory
	DefaultBackendType = MemoryBackend

	// DefaultPageLimit is the number of keys requested per prefix scan page
	DefaultPageLimit = 500

	// DefaultFanOut bounds concurrent backend calls of one bulk operation
	DefaultFanOut = 16

	// DefaultCacheTTL is the entry cache lifetime in seconds; 0 disables the cache
	DefaultCacheTTL = 0.0

	// DefaultSessionTTL is how long an idle authenticated session is kept, in seconds
	DefaultSessionTTL = 600.0

	DefaultListenAddr  = ":8080"
	DefaultPrefix      = "/"
	DefaultMetricsPath = "/metrics"

	DefaultFsName = "wikifs"
	DefaultName   = "wikifs"
)

// Config contains runtime configuration values for the wiki filesystem.
type Config struct {
	MountOptions
	Listen     ListenOptions
	Backend    BackendConfig
	LogLvl     util.LogLevel // Internal log level (Default Info)
	PageLimit  int           // Keys requested per prefix scan page (Default 500)
	FanOut     int           // Max concurrent backend calls per rename/delete/list; 0 = unbounded (Default 16)
	CacheTTL   time.Duration // Entry cache lifetime; 0 disables caching (Default 0)
	SessionTTL time.Duration // Idle session lifetime (Default 10m)
}

// BackendConfig selects a registered backend type and carries its options.
// Options are handed to the backend factory as JSON.
type BackendConfig struct {
	Type    string         `yaml:"type" json:"type"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// Raw returns the JSON document passed to backend factories: the options
// plus "type" and a "page_limit" default.
func (b BackendConfig) Raw(pageLimit int) ([]byte, error) {
	doc := make(map[string]any, len(b.Options)+2)
	doc["page_limit"] = pageLimit
	maps.Copy(doc, b.Options)
	doc["type"] = b.Type
	return json.Marshal(doc)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	LogLvl      *int           `yaml:"verbose,omitempty" json:"verbose,omitempty"` // CLI verbosity 1 (error) .. 5 (trace)
	Backend     *BackendConfig `yaml:"backend,omitempty" json:"backend,omitempty"`
	PageLimit   *int           `yaml:"page_limit,omitempty" json:"page_limit,omitempty"`
	FanOut      *int           `yaml:"fan_out,omitempty" json:"fan_out,omitempty"`
	CacheTTL    *float64       `yaml:"cache_ttl,omitempty" json:"cache_ttl,omitempty"`
	SessionTTL  *float64       `yaml:"session_ttl,omitempty" json:"session_ttl,omitempty"`
	ListenAddr  *string        `yaml:"listen_addr,omitempty" json:"listen_addr,omitempty"`
	Prefix      *string        `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	MetricsPath *string        `yaml:"metrics_path,omitempty" json:"metrics_path,omitempty"`
	Anonymous   *bool          `yaml:"anonymous,omitempty" json:"anonymous,omitempty"`
	FuseDebug   *bool          `yaml:"fuse_debug,omitempty" json:"fuse_debug,omitempty"`
	FsName      *string        `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name        *string        `yaml:"name,omitempty" json:"name,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		Listen: ListenOptions{
			Addr:        DefaultListenAddr,
			Prefix:      DefaultPrefix,
			MetricsPath: DefaultMetricsPath,
		},
		Backend:    BackendConfig{Type: DefaultBackendType},
		LogLvl:     DefaultLogLvl,
		PageLimit:  DefaultPageLimit,
		FanOut:     DefaultFanOut,
		CacheTTL:   seconds(DefaultCacheTTL),
		SessionTTL: seconds(DefaultSessionTTL),
	}
}

// NewConfig creates a Config from defaults with override applied on top.
// A nil override yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = util.LevelFromVerbosity(*override.LogLvl)
	}
	if override.Backend != nil {
		c.Backend = *override.Backend
	}
	if override.PageLimit != nil {
		c.PageLimit = *override.PageLimit
	}
	if override.FanOut != nil {
		c.FanOut = *override.FanOut
	}
	if override.CacheTTL != nil {
		c.CacheTTL = seconds(*override.CacheTTL)
	}
	if override.SessionTTL != nil {
		c.SessionTTL = seconds(*override.SessionTTL)
	}
	if override.ListenAddr != nil {
		c.Listen.Addr = *override.ListenAddr
	}
	if override.Prefix != nil {
		c.Listen.Prefix = *override.Prefix
	}
	if override.MetricsPath != nil {
		c.Listen.MetricsPath = *override.MetricsPath
	}
	if override.Anonymous != nil {
		c.Listen.Anonymous = *override.Anonymous
	}
	if override.FuseDebug != nil {
		c.Debug = *override.FuseDebug
	}
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
}

// Validate checks the resolved configuration
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PageLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.FanOut, validation.Min(0)),
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.SessionTTL, validation.Required, validation.Min(time.Second)),
	); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := validation.ValidateStruct(&c.Backend,
		validation.Field(&c.Backend.Type, validation.Required),
	); err != nil {
		return fmt.Errorf("config: backend: %w", err)
	}
	if err := validation.ValidateStruct(&c.Listen,
		validation.Field(&c.Listen.Addr, validation.Required),
		validation.Field(&c.Listen.Prefix, validation.Required, validation.By(absPath)),
		validation.Field(&c.Listen.MetricsPath, validation.By(absPath)),
	); err != nil {
		return fmt.Errorf("config: listen: %w", err)
	}
	return nil
}

func absPath(value any) error {
	s, _ := value.(string)
	if s != "" && !strings.HasPrefix(s, "/") {
		return fmt.Errorf("must start with /")
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
