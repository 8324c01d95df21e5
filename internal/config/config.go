// Package config loads the configuration document: YAML from disk,
// overridden by TV_* environment variables, then validated.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sydlexius/tunevault/internal/logging"
	"github.com/sydlexius/tunevault/internal/provider"
)

// DefaultPath is used when TV_CONFIG_PATH is unset.
const DefaultPath = "/data/config.yaml"

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig                 `yaml:"server"`
	Database    DatabaseConfig               `yaml:"database"`
	Logging     logging.Config               `yaml:"logging"`
	Storage     StorageConfig                `yaml:"storage"`
	Monitor     map[string][]MonitoredArtist `yaml:"monitor"`
	Providers   ProvidersConfig              `yaml:"providers"`
	Healer      HealerConfig                 `yaml:"healer"`
	Downloader  DownloaderConfig             `yaml:"downloader"`
	Watcher     WatcherConfig                `yaml:"watcher"`
	Maintenance MaintenanceConfig            `yaml:"maintenance"`
	Notify      map[string]any               `yaml:"notify"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig holds the managed directories.
type StorageConfig struct {
	CacheDir         string `yaml:"cache_dir"`
	FavoritesDir     string `yaml:"favorites_dir"`
	LibraryDir       string `yaml:"library_dir"`
	UploadsDir       string `yaml:"uploads_dir"`
	APICacheDir      string `yaml:"api_cache_dir"`
	APICacheTTLHours int    `yaml:"api_cache_ttl_hours"`
	RetentionDays    int    `yaml:"retention_days"`
	AutoCache        bool   `yaml:"auto_cache"`
	AutoCacheLimit   int    `yaml:"auto_cache_limit"`
}

// MonitoredArtist is an artist subscribed to on one platform.
type MonitoredArtist struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ProvidersConfig selects and orders the platform adapters.
type ProvidersConfig struct {
	// Metadata lists metadata providers by preference; the first is primary.
	Metadata []string `yaml:"metadata"`
	// Audio is the download escalation order.
	Audio   []string        `yaml:"audio"`
	Enabled map[string]bool `yaml:"enabled"`
	// RefreshIntervalHours schedules monitored refreshes; 0 disables.
	RefreshIntervalHours int `yaml:"refresh_interval_hours"`
}

// HealerConfig tunes the metadata healer.
type HealerConfig struct {
	Parallelism          int      `yaml:"parallelism"`
	GenericCoverPatterns []string `yaml:"generic_cover_patterns"`
}

// DownloaderConfig tunes the downloader.
type DownloaderConfig struct {
	Tokens              int `yaml:"tokens"`
	RefillSeconds       int `yaml:"refill_seconds"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
	TaggerWorkers       int `yaml:"tagger_workers"`
}

// WatcherConfig controls the auto-ingest watcher.
type WatcherConfig struct {
	Enabled         bool `yaml:"enabled"`
	DebounceSeconds int  `yaml:"debounce_seconds"`
}

// MaintenanceConfig schedules housekeeping.
type MaintenanceConfig struct {
	IntervalHours int `yaml:"interval_hours"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path: "/data/tunevault.db",
		},
		Logging: logging.DefaultConfig(),
		Storage: StorageConfig{
			CacheDir:         "/data/cache",
			FavoritesDir:     "/data/favorites",
			LibraryDir:       "/music",
			UploadsDir:       "/data/uploads",
			APICacheDir:      "/data/cache/api_cache",
			APICacheTTLHours: 24,
			RetentionDays:    0,
			AutoCacheLimit:   20,
		},
		Monitor: map[string][]MonitoredArtist{},
		Providers: ProvidersConfig{
			Metadata:             []string{string(provider.NameQQMusic), string(provider.NameNetEase)},
			Audio:                []string{string(provider.NameQQMusic), string(provider.NameNetEase), string(provider.NameKugou)},
			Enabled:              map[string]bool{},
			RefreshIntervalHours: 12,
		},
		Healer: HealerConfig{
			Parallelism: 5,
		},
		Downloader: DownloaderConfig{
			Tokens:              45,
			RefillSeconds:       300,
			FetchTimeoutSeconds: 300,
			TaggerWorkers:       4,
		},
		Watcher: WatcherConfig{
			Enabled:         true,
			DebounceSeconds: 5,
		},
		Maintenance: MaintenanceConfig{
			IntervalHours: 24,
		},
	}
}

// Path returns the config file location from TV_CONFIG_PATH.
func Path() string {
	if v := os.Getenv("TV_CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	str := map[string]*string{
		"TV_BASE_PATH":     &c.Server.BasePath,
		"TV_DB_PATH":       &c.Database.Path,
		"TV_LOG_LEVEL":     &c.Logging.Level,
		"TV_LOG_FORMAT":    &c.Logging.Format,
		"TV_LOG_FILE":      &c.Logging.FilePath,
		"TV_CACHE_DIR":     &c.Storage.CacheDir,
		"TV_FAVORITES_DIR": &c.Storage.FavoritesDir,
		"TV_LIBRARY_DIR":   &c.Storage.LibraryDir,
		"TV_UPLOADS_DIR":   &c.Storage.UploadsDir,
		"TV_API_CACHE_DIR": &c.Storage.APICacheDir,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TV_PORT":           &c.Server.Port,
		"TV_RETENTION_DAYS": &c.Storage.RetentionDays,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	bools := map[string]*bool{
		"TV_AUTO_CACHE":      &c.Storage.AutoCache,
		"TV_WATCHER_ENABLED": &c.Watcher.Enabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	if v := os.Getenv("TV_METADATA_PROVIDERS"); v != "" {
		c.Providers.Metadata = splitList(v)
	}
	if v := os.Getenv("TV_AUDIO_PROVIDERS"); v != "" {
		c.Providers.Audio = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}

	if c.Storage.CacheDir == "" || c.Storage.FavoritesDir == "" {
		return fmt.Errorf("storage.cache_dir and storage.favorites_dir are required")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("invalid retention_days: %d", c.Storage.RetentionDays)
	}
	if c.Storage.LibraryDir != "" && overlaps(c.Storage.LibraryDir, c.Storage.CacheDir, c.Storage.FavoritesDir) {
		return fmt.Errorf("storage.library_dir must not contain or sit inside the cache or favorites directories")
	}
	if c.Storage.APICacheDir == "" {
		c.Storage.APICacheDir = filepath.Join(c.Storage.CacheDir, "api_cache")
	}

	for _, list := range [][]string{c.Providers.Metadata, c.Providers.Audio} {
		for _, name := range list {
			if _, err := parseProvider(name); err != nil {
				return err
			}
		}
	}
	for name := range c.Providers.Enabled {
		if _, err := parseProvider(name); err != nil {
			return err
		}
	}
	for source, artists := range c.Monitor {
		if _, err := parseProvider(source); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		for i, a := range artists {
			if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Name) == "" {
				return fmt.Errorf("monitor.%s[%d]: id and name are required", source, i)
			}
		}
	}
	if len(c.MetadataOrder()) == 0 {
		return fmt.Errorf("providers.metadata: at least one enabled provider is required")
	}
	return nil
}

func parseProvider(name string) (provider.ProviderName, error) {
	n, err := provider.ParseName(name)
	if err != nil {
		return "", err
	}
	if n == provider.SourceLocal {
		return "", fmt.Errorf("%q is not a platform", name)
	}
	return n, nil
}

// overlaps reports whether dir contains or is contained by any of others.
func overlaps(dir string, others ...string) bool {
	clean := filepath.Clean(dir)
	for _, o := range others {
		if o == "" {
			continue
		}
		oc := filepath.Clean(o)
		if within(clean, oc) || within(oc, clean) {
			return true
		}
	}
	return false
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ProviderEnabled reports whether a platform may be used. Platforms are
// enabled unless switched off.
func (c *Config) ProviderEnabled(name provider.ProviderName) bool {
	on, ok := c.Providers.Enabled[string(name)]
	return !ok || on
}

// MetadataOrder returns the enabled metadata providers by preference.
func (c *Config) MetadataOrder() []provider.ProviderName {
	return c.enabledList(c.Providers.Metadata)
}

// AudioOrder returns the enabled download escalation order.
func (c *Config) AudioOrder() []provider.ProviderName {
	return c.enabledList(c.Providers.Audio)
}

func (c *Config) enabledList(names []string) []provider.ProviderName {
	var out []provider.ProviderName
	seen := make(map[provider.ProviderName]bool)
	for _, s := range names {
		n, err := parseProvider(s)
		if err != nil || seen[n] || !c.ProviderEnabled(n) {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Primary returns the preferred metadata provider.
func (c *Config) Primary() provider.ProviderName {
	if order := c.MetadataOrder(); len(order) > 0 {
		return order[0]
	}
	return ""
}
