package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/gamesync/internal/safety"
)

// DisabledDBPath turns off the operation history store.
const DisabledDBPath = "none"

// Config is the top-level configuration
type Config struct {
	Game      GameConfig      `yaml:"game"`
	Download  DownloadConfig  `yaml:"download"`
	PatchTool PatchToolConfig `yaml:"patch_tool"`
	Store     StoreConfig     `yaml:"store"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GameConfig identifies the manifest and the local installation
type GameConfig struct {
	ManifestURL      string   `yaml:"manifest_url"`
	InstallDir       string   `yaml:"install_dir"`
	ResourcePackDirs []string `yaml:"resource_pack_dirs"`
	DeltaExtensions  []string `yaml:"delta_extensions"`
}

// DownloadConfig holds transfer settings
type DownloadConfig struct {
	RetryAttempts      int    `yaml:"retry_attempts"`
	ChunkSize          int    `yaml:"chunk_size"`
	MaxBytesPerSecond  int64  `yaml:"max_bytes_per_second"`
	UserAgent          string `yaml:"user_agent"`
	ManifestBodyLimit  int64  `yaml:"manifest_body_limit"`
	MinFreeSpaceMargin int64  `yaml:"min_free_space_margin"`
}

// PatchToolConfig describes where the diff-apply tool comes from and how it is trusted
type PatchToolConfig struct {
	PrimaryURL      string   `yaml:"primary_url"`
	MirrorURL       string   `yaml:"mirror_url"`
	CacheDir        string   `yaml:"cache_dir"`
	MinSize         int64    `yaml:"min_size"`
	SHA256Allowlist []string `yaml:"sha256_allowlist"`
}

// StoreConfig holds the operation history database location
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// EventsConfig configures optional progress publishing
type EventsConfig struct {
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cacheDir := filepath.Join(os.TempDir(), "gamesync")
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "gamesync")
	}

	return &Config{
		Game: GameConfig{
			ResourcePackDirs: []string{"Client/Content/Paks"},
			DeltaExtensions:  []string{".krdiff", ".hdiff"},
		},
		Download: DownloadConfig{
			RetryAttempts:     3,
			ChunkSize:         64 * 1024,
			MaxBytesPerSecond: 0,
			UserAgent:         "gamesync/1.0",
			ManifestBodyLimit: 64 << 20,
		},
		PatchTool: PatchToolConfig{
			CacheDir: cacheDir,
			MinSize:  64 * 1024,
		},
		Events: EventsConfig{
			Channel: "gamesync:progress",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"gamesync.yaml",
		"/etc/gamesync/gamesync.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "gamesync", "gamesync.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides selected keys from GAMESYNC_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup("GAMESYNC_MANIFEST_URL"); ok && v != "" {
		c.Game.ManifestURL = v
	}
	if v, ok := lookup("GAMESYNC_INSTALL_DIR"); ok && v != "" {
		c.Game.InstallDir = v
	}
	if v, ok := lookup("GAMESYNC_DB_PATH"); ok && v != "" {
		c.Store.DBPath = v
	}
	if v, ok := lookup("GAMESYNC_REDIS_URL"); ok {
		c.Events.RedisURL = v
	}
	if v, ok := lookup("GAMESYNC_MAX_BYTES_PER_SECOND"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid GAMESYNC_MAX_BYTES_PER_SECOND %q: %w", v, err)
		}
		c.Download.MaxBytesPerSecond = n
	}
	return nil
}

// Validate checks the fields every sync operation depends on
func (c *Config) Validate() error {
	var problems []string

	if c.Game.ManifestURL == "" {
		problems = append(problems, "game.manifest_url is required")
	} else if _, err := safety.ValidateHTTPURL(c.Game.ManifestURL); err != nil {
		problems = append(problems, fmt.Sprintf("game.manifest_url: %v", err))
	}
	for _, u := range []struct{ name, raw string }{
		{"patch_tool.primary_url", c.PatchTool.PrimaryURL},
		{"patch_tool.mirror_url", c.PatchTool.MirrorURL},
	} {
		if u.raw == "" {
			continue
		}
		if _, err := safety.ValidateHTTPURL(u.raw); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", u.name, err))
		}
	}
	if c.Game.InstallDir == "" {
		problems = append(problems, "game.install_dir is required")
	}
	if c.Download.RetryAttempts < 1 {
		problems = append(problems, "download.retry_attempts must be at least 1")
	}
	if c.Download.ChunkSize < 1024 {
		problems = append(problems, "download.chunk_size must be at least 1024")
	}
	if c.Download.MaxBytesPerSecond < 0 {
		problems = append(problems, "download.max_bytes_per_second must not be negative")
	}
	if c.Download.MaxBytesPerSecond > 0 && c.Download.MaxBytesPerSecond < int64(c.Download.ChunkSize) {
		problems = append(problems, "download.max_bytes_per_second must be at least download.chunk_size")
	}
	if c.Download.ManifestBodyLimit <= 0 {
		problems = append(problems, "download.manifest_body_limit must be positive")
	}
	if c.PatchTool.MinSize < 0 {
		problems = append(problems, "patch_tool.min_size must not be negative")
	}
	for _, ext := range c.Game.DeltaExtensions {
		if !strings.HasPrefix(ext, ".") {
			problems = append(problems, fmt.Sprintf("game.delta_extensions entry %q must start with '.'", ext))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DBPath resolves the store location; "" means the default next to the install
// directory and DisabledDBPath returns "".
func (c *Config) DBPath() string {
	switch c.Store.DBPath {
	case DisabledDBPath:
		return ""
	case "":
		return filepath.Join(filepath.Dir(filepath.Clean(c.Game.InstallDir)), ".gamesync.db")
	default:
		return c.Store.DBPath
	}
}

// PatchToolPath returns where the cached diff tool binary lives.
func (c *Config) PatchToolPath(goos string) string {
	name := "hpatchz"
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(c.PatchTool.CacheDir, name)
}
