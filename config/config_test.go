package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestNewConfig_WithNilOverride tests that NewConfig creates a config with all default values
// when no override is provided.
func TestNewConfig_WithNilOverride(t *testing.T) {
	t.Parallel()

	cfg := NewConfig(nil)

	require.NotNil(t, cfg)
	assert.Equal(t, createDefaultCfg(), cfg, "must use default values when no config provided")
	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

// TestNewConfig_WithAllOverride tests that NewConfig properly applies overrides while
// preserving defaults for unset fields.
func TestNewConfig_WithAllOverride(t *testing.T) {
	t.Parallel()

	override := createOverride()
	override.LogLvl = util.Pointer(TraceVerbose)
	cfg := NewConfig(override)

	expCfg := &Config{
		MountOptions: MountOptions{
			Debug:  true,
			FsName: "test_fs",
			Name:   "test_name",
		},
		Listen: ListenOptions{
			Addr:        "127.0.0.1:9999",
			Prefix:      "/dav",
			MetricsPath: "/stats",
			Anonymous:   true,
		},
		Backend:    *override.Backend,
		LogLvl:     util.TraceLevel,
		PageLimit:  *override.PageLimit,
		FanOut:     *override.FanOut,
		CacheTTL:   1500 * time.Millisecond,
		SessionTTL: 30 * time.Second,
	}
	require.NotNil(t, cfg)
	assert.Equal(t, expCfg, cfg, "must override all provided fields")
}

func TestConfig_Merge_LogLvlConversion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		verboseValue  int
		expectedLevel util.LogLevel
	}{
		{"verbose_1_error", 1, util.ErrorLevel},
		{"verbose_2_warn", 2, util.WarnLevel},
		{"verbose_3_info", 3, util.InfoLevel},
		{"verbose_4_debug", 4, util.DebugLevel},
		{"verbose_5_trace", 5, util.TraceLevel},
		{"verbose_0_clamped_to_1", 0, util.ErrorLevel},     // clamped to 1
		{"verbose_100_clamped_to_5", 100, util.TraceLevel}, // clamped to 5
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			override := &ConfigOverride{
				LogLvl: &tt.verboseValue,
			}

			cfg := NewConfig(override)

			assert.Equal(t, tt.expectedLevel, cfg.LogLvl,
				"CLI verbose %d should map to util.LogLevel %v", tt.verboseValue, tt.expectedLevel)
		})
	}
}

func TestConfig_Merge_NilOverrideVals(t *testing.T) {
	t.Parallel()

	cfg := NewConfig(&ConfigOverride{})

	require.NotNil(t, cfg)
	assert.Equal(t, createDefaultCfg(), cfg, "must use default values for nil override fields")
}

func TestConfig_Merge_PartialOverride(t *testing.T) {
	t.Parallel()

	override := &ConfigOverride{
		FsName:    util.Pointer("test_fs"),
		PageLimit: util.Pointer(DefaultPageLimit + 1),
	}
	cfg := NewConfig(override)

	expCfg := createDefaultCfg()
	expCfg.FsName = "test_fs"
	expCfg.PageLimit = DefaultPageLimit + 1

	require.NotNil(t, cfg)
	assert.Equal(t, expCfg, cfg, "must override all provided fields and leave rest default")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero page limit", func(c *Config) { c.PageLimit = 0 }, "PageLimit"},
		{"negative page limit", func(c *Config) { c.PageLimit = -5 }, "PageLimit"},
		{"negative fan out", func(c *Config) { c.FanOut = -1 }, "FanOut"},
		{"missing backend type", func(c *Config) { c.Backend.Type = "" }, "backend: type"},
		{"relative prefix", func(c *Config) { c.Listen.Prefix = "dav" }, "must start with /"},
		{"short session ttl", func(c *Config) { c.SessionTTL = time.Millisecond }, "SessionTTL"},
		{"empty listen addr", func(c *Config) { c.Listen.Addr = "" }, "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBackendConfig_Raw(t *testing.T) {
	t.Parallel()

	t.Run("injects type and page limit", func(t *testing.T) {
		t.Parallel()
		b := BackendConfig{Type: BadgerBackend, Options: map[string]any{"dir": "/tmp/x"}}

		raw, err := b.Raw(42)
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(raw, &doc))
		assert.Equal(t, "badger", doc["type"])
		assert.Equal(t, "/tmp/x", doc["dir"])
		assert.EqualValues(t, 42, doc["page_limit"])
	})
	t.Run("explicit page limit wins", func(t *testing.T) {
		t.Parallel()
		b := BackendConfig{Type: MemoryBackend, Options: map[string]any{"page_limit": 7}}

		raw, err := b.Raw(42)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"memory","page_limit":7}`, string(raw))
	})
}

func TestLoadConfigOverrideFile_Valid(t *testing.T) {
	t.Parallel()

	type tc struct {
		ext   string
		build func() (*ConfigOverride, []byte)
	}

	cases := []tc{
		{
			ext: ".yaml",
			build: func() (*ConfigOverride, []byte) {
				o := createOverride()
				b, err := yaml.Marshal(o)
				require.NoError(t, err)
				return o, b
			},
		},
		{
			ext: ".yml",
			build: func() (*ConfigOverride, []byte) {
				o := createOverride()
				b, err := yaml.Marshal(o)
				require.NoError(t, err)
				return o, b
			},
		},
		{
			ext: ".json",
			build: func() (*ConfigOverride, []byte) {
				o := createOverride()
				b, err := json.Marshal(o)
				require.NoError(t, err)
				return o, b
			},
		},
	}

	for _, c := range cases {
		name := "valid" + c.ext
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			override, data := c.build()
			dir := t.TempDir()
			path := filepath.Join(dir, "override"+c.ext)
			require.NoError(t, os.WriteFile(path, data, 0o600))

			loaded, err := LoadConfigOverrideFile(path)

			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, *override, *loaded)
		})
	}
}

func TestLoadConfigOverrideFile_YAMLBackendOptions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wikifs.yaml")
	data := []byte(`
verbose: 4
backend:
  type: mediawiki
  options:
    url: https://wiki.example.org/api.php
    rate: 5
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := NewConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, util.DebugLevel, cfg.LogLvl)
	assert.Equal(t, MediaWikiBackend, cfg.Backend.Type)
	assert.Equal(t, "https://wiki.example.org/api.php", cfg.Backend.Options["url"])
	assert.Equal(t, 5, cfg.Backend.Options["rate"])
}

// TestLoadConfigOverrideFile_NonExistentFile tests error handling
// when trying to load a file that doesn't exist.
func TestLoadConfigOverrideFile_NonExistentFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "does_not_exist.yaml")

	_, err := LoadConfigOverrideFile(path)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err), "expected not exist error, got %v", err)
}

// TestLoadConfigOverrideFile_UnsupportedExtension tests error handling
// for file extensions that aren't supported (.txt, .xml, etc).
func TestLoadConfigOverrideFile_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "override.txt")
	require.NoError(t, os.WriteFile(path, []byte("page_limit: 1"), 0o600))

	_, err := LoadConfigOverrideFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config file extension")
}

// TestNewConfigFromFile_FileError tests that file loading errors
// are properly propagated by the convenience function.
func TestNewConfigFromFile_FileError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.json")

	_, err := NewConfigFromFile(path)
	require.Error(t, err)
}

func createDefaultCfg() *Config {
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
		CacheTTL:   0,
		SessionTTL: 10 * time.Minute,
	}
}

// createOverride makes a ConfigOverride with all non-default values
func createOverride() *ConfigOverride {
	testLogVerbose := TraceVerbose
	if DefaultLogLvl == util.TraceLevel {
		testLogVerbose = DebugVerbose
	}
	return &ConfigOverride{
		LogLvl:      util.Pointer(testLogVerbose),
		Backend:     &BackendConfig{Type: SQLiteBackend, Options: map[string]any{"path": "wiki.db"}},
		PageLimit:   util.Pointer(DefaultPageLimit + 1),
		FanOut:      util.Pointer(DefaultFanOut + 1),
		CacheTTL:    util.Pointer(1.5),
		SessionTTL:  util.Pointer(30.0),
		ListenAddr:  util.Pointer("127.0.0.1:9999"),
		Prefix:      util.Pointer("/dav"),
		MetricsPath: util.Pointer("/stats"),
		Anonymous:   util.Pointer(true),
		FuseDebug:   util.Pointer(true),
		FsName:      util.Pointer("test_fs"),
		Name:        util.Pointer("test_name"),
	}
}
