package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv() []string { return nil }

type mapSource struct {
	data       map[string]any
	sourceType SourceType
}

func (m *mapSource) Load() (map[string]any, error) { return m.data, nil }
func (m *mapSource) Type() SourceType              { return m.sourceType }
func (m *mapSource) Close() error                  { return nil }

func TestLoader_Load(t *testing.T) {
	t.Run("Should load default configuration when no sources provided", func(t *testing.T) {
		svc := NewService(WithEnviron(noEnv))

		cfg, err := svc.Load(t.Context())

		require.NoError(t, err)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, ".vscode/settings.json", cfg.Settings.FolderSettings)
		assert.Equal(t, ".vscode/tasks.json", cfg.Settings.Standalone["tasks"])
		assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
		assert.Equal(t, 256, cfg.Cache.FolderLookupSize)
		assert.Equal(t, SourceDefault, svc.GetSource("log.level"))
	})

	t.Run("Should apply sources in precedence order", func(t *testing.T) {
		svc := NewService(WithEnviron(noEnv))
		yamlSrc := &mapSource{sourceType: SourceYAML, data: map[string]any{
			"log":      map[string]any{"level": "debug", "json": true},
			"settings": map[string]any{"user_file": "/home/me/settings.json"},
		}}
		cliSrc := &mapSource{sourceType: SourceCLI, data: map[string]any{
			"log": map[string]any{"level": "warn"},
		}}

		cfg, err := svc.Load(t.Context(), yamlSrc, cliSrc)

		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.True(t, cfg.Log.JSON)
		assert.Equal(t, "/home/me/settings.json", cfg.Settings.UserFile)
		assert.Equal(t, ".vscode/settings.json", cfg.Settings.FolderSettings)
		assert.Equal(t, SourceCLI, svc.GetSource("log.level"))
		assert.Equal(t, SourceYAML, svc.GetSource("log.json"))
	})

	t.Run("Should let the environment win", func(t *testing.T) {
		svc := NewService(WithEnviron(func() []string {
			return []string{
				"STRATA_LOG_LEVEL=error",
				"STRATA_WATCH_DEBOUNCE=250ms",
				"STRATA_SETTINGS_FOLDERS=/a,/b",
				"STRATA_CACHE_FOLDER_LOOKUP_SIZE=8",
				"HOME=/root",
			}
		}))
		yamlSrc := &mapSource{sourceType: SourceYAML, data: map[string]any{"log": map[string]any{"level": "debug"}}}

		cfg, err := svc.Load(t.Context(), yamlSrc)

		require.NoError(t, err)
		assert.Equal(t, "error", cfg.Log.Level)
		assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
		assert.Equal(t, []string{"/a", "/b"}, cfg.Settings.Folders)
		assert.Equal(t, 8, cfg.Cache.FolderLookupSize)
		assert.Equal(t, SourceEnv, svc.GetSource("log.level"))
	})

	t.Run("Should let CLI flags beat the environment", func(t *testing.T) {
		svc := NewService(WithEnviron(func() []string {
			return []string{"STRATA_LOG_LEVEL=error"}
		}))
		flags := NewCLIProvider(map[string]any{"log.level": "debug"})

		cfg, err := svc.Load(t.Context(), flags)

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, SourceCLI, svc.GetSource("log.level"))
	})

	t.Run("Should reject invalid values", func(t *testing.T) {
		svc := NewService(WithEnviron(noEnv))
		for name, data := range map[string]map[string]any{
			"level":      {"log": map[string]any{"level": "loud"}},
			"cache":      {"cache": map[string]any{"folder_lookup_size": 0}},
			"abs folder": {"settings": map[string]any{"folder_settings": "/etc/settings.json"}},
			"escape":     {"settings": map[string]any{"standalone": map[string]any{"tasks": "../tasks.json"}}},
			"short wait": {"watch": map[string]any{"debounce": "2s", "max_wait": "1s"}},
		} {
			_, err := svc.Load(t.Context(), &mapSource{sourceType: SourceYAML, data: data})
			assert.Error(t, err, name)
		}
	})
}

func TestTransformEnvKey(t *testing.T) {
	t.Run("Should map unbound variables to paths", func(t *testing.T) {
		assert.Equal(t, "watch.max_wait", transformEnvKey("STRATA_WATCH_MAX_WAIT"))
		assert.Equal(t, "log", transformEnvKey("STRATA_LOG"))
		assert.Equal(t, "", transformEnvKey("STRATA__"))
	})
}

func TestEnvVarFor(t *testing.T) {
	t.Run("Should resolve env tags", func(t *testing.T) {
		assert.Equal(t, "STRATA_WATCH_MAX_WAIT", EnvVarFor("watch.max_wait"))
		assert.Equal(t, "", EnvVarFor("settings.standalone"))
	})
}

func TestYAMLProvider(t *testing.T) {
	t.Run("Should read nested values and drop nulls", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/etc/strata.yaml", []byte("log:\n  level: debug\n  json: ~\nwatch:\n  enabled: true\n"), 0o644))

		data, err := NewYAMLProvider(fs, "/etc/strata.yaml").Load()

		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"log":   map[string]any{"level": "debug"},
			"watch": map[string]any{"enabled": true},
		}, data)
	})

	t.Run("Should treat a missing file as empty", func(t *testing.T) {
		data, err := NewYAMLProvider(afero.NewMemMapFs(), "/missing.yaml").Load()
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("Should fail on malformed YAML", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("log: [unclosed"), 0o644))
		_, err := NewYAMLProvider(fs, "/bad.yaml").Load()
		assert.Error(t, err)
	})
}

func TestCLIProvider(t *testing.T) {
	t.Run("Should nest dotted paths", func(t *testing.T) {
		data, err := NewCLIProvider(map[string]any{"log.level": "debug", "watch.enabled": true}).Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"log":   map[string]any{"level": "debug"},
			"watch": map[string]any{"enabled": true},
		}, data)
	})

	t.Run("Should report path conflicts", func(t *testing.T) {
		err := setNested(map[string]any{"log": "x"}, "log.level", "debug")
		assert.ErrorContains(t, err, `key "log" is not a map`)
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should fall back to defaults", func(t *testing.T) {
		assert.Equal(t, Default(), FromContext(t.Context()))
		cfg := Default()
		cfg.Log.Level = "debug"
		assert.Same(t, cfg, FromContext(ContextWithConfig(t.Context(), cfg)))
	})
}

func TestServiceFromContext(t *testing.T) {
	t.Run("Should return the stored service", func(t *testing.T) {
		_, ok := ServiceFromContext(t.Context())
		assert.False(t, ok)

		svc := NewService(WithEnviron(noEnv))
		got, ok := ServiceFromContext(ContextWithService(t.Context(), svc))
		require.True(t, ok)
		assert.Same(t, svc, got)
	})
}
