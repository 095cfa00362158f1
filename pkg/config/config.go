package config

import (
	"context"
	"time"
)

// Config is the configuration of the strata tool itself: where the layer
// files live, how to watch them and how to log.
type Config struct {
	Log      LogConfig      `koanf:"log"      validate:"required"`
	Settings SettingsConfig `koanf:"settings" validate:"required"`
	Watch    WatchConfig    `koanf:"watch"`
	Cache    CacheConfig    `koanf:"cache"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `koanf:"level"  validate:"oneof=debug info warn error" env:"STRATA_LOG_LEVEL"`
	JSON   bool   `koanf:"json"                                          env:"STRATA_LOG_JSON"`
	Source bool   `koanf:"source"                                        env:"STRATA_LOG_SOURCE"`
}

// SettingsConfig locates the layer files.
type SettingsConfig struct {
	// DefaultsFile declares the known settings with their defaults and scopes.
	DefaultsFile  string `koanf:"defaults_file"  env:"STRATA_SETTINGS_DEFAULTS_FILE"`
	UserFile      string `koanf:"user_file"      env:"STRATA_SETTINGS_USER_FILE"`
	WorkspaceFile string `koanf:"workspace_file" env:"STRATA_SETTINGS_WORKSPACE_FILE"`
	// Folders is used when there is no workspace file. The first is the root.
	Folders        []string          `koanf:"folders"         env:"STRATA_SETTINGS_FOLDERS"`
	FolderSettings string            `koanf:"folder_settings" env:"STRATA_SETTINGS_FOLDER_SETTINGS" validate:"required,relpath"`
	Standalone     map[string]string `koanf:"standalone"                                            validate:"dive,keys,required,endkeys,relpath"`
}

// WatchConfig controls file watching and reload debouncing.
type WatchConfig struct {
	Enabled  bool          `koanf:"enabled"  env:"STRATA_WATCH_ENABLED"`
	Debounce time.Duration `koanf:"debounce" env:"STRATA_WATCH_DEBOUNCE" validate:"min=0"`
	MaxWait  time.Duration `koanf:"max_wait" env:"STRATA_WATCH_MAX_WAIT" validate:"min=0"`
}

// CacheConfig sizes the lookup caches.
type CacheConfig struct {
	FolderLookupSize int `koanf:"folder_lookup_size" env:"STRATA_CACHE_FOLDER_LOOKUP_SIZE" validate:"min=1"`
}

// Service loads and validates configuration.
type Service interface {
	// Load merges defaults, file sources in order, the environment, then CLI flags.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	Validate(config *Config) error
	// GetSource returns the source type for a specific configuration key.
	GetSource(key string) SourceType
}

// Source provides configuration data.
type Source interface {
	Load() (map[string]any, error)
	// Type returns the source type identifier.
	Type() SourceType
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// Metadata records where each key came from.
type Metadata struct {
	Sources  map[string]SourceType
	LoadedAt time.Time
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Settings: SettingsConfig{
			FolderSettings: ".vscode/settings.json",
			Standalone: map[string]string{
				"tasks":  ".vscode/tasks.json",
				"launch": ".vscode/launch.json",
			},
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
			MaxWait:  time.Second,
		},
		Cache: CacheConfig{FolderLookupSize: 256},
	}
}
