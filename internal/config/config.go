package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvAPIToken names the environment variable supplying the transcription API
// bearer token. The token never lives in the config file.
const EnvAPIToken = "SUBFORGE_API_TOKEN"

// Paths contains directory configuration.
type Paths struct {
	CacheDir string `toml:"cache_dir"`
	StateDir string `toml:"state_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
}

// API contains configuration for the remote transcription endpoint.
type API struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
	BaseDelayMS    int    `toml:"base_delay_ms"`
	MaxDelayMS     int    `toml:"max_delay_ms"`
}

// Chunking contains configuration for splitting long audio files.
type Chunking struct {
	MaxChunkBytes     int64   `toml:"max_chunk_bytes"`
	MinChunkBytes     int64   `toml:"min_chunk_bytes"`
	MaxChunkSeconds   float64 `toml:"max_chunk_seconds"`
	OverlapSeconds    float64 `toml:"overlap_seconds"`
	MaxChunksInMemory int     `toml:"max_chunks_in_memory"`
	MaxParallelChunks int     `toml:"max_parallel_chunks"`
}

// Cache contains configuration for the content-addressed artifact cache.
type Cache struct {
	MaxBytes         int64 `toml:"max_bytes"`
	MaxAgeHours      int   `toml:"max_age_hours"`
	SweepMinutes     int   `toml:"sweep_minutes"`
	MinFreeBytes     int64 `toml:"min_free_bytes"`
	DisableEviction  bool  `toml:"disable_eviction"`
	DisablePruneLock bool  `toml:"disable_prune_lock"`
}

// Scheduler contains concurrency and backpressure settings for batch runs.
type Scheduler struct {
	MaxConcurrent    int     `toml:"max_concurrent"`
	MaxMemoryPercent float64 `toml:"max_memory_percent"`
	MemoryPollMS     int     `toml:"memory_poll_ms"`
}

// Subtitles contains segmentation defaults.
type Subtitles struct {
	Language string `toml:"language"`
}

// FFmpeg contains configuration for the external extraction tools.
type FFmpeg struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the pipeline.
type Config struct {
	Paths     Paths     `toml:"paths"`
	API       API       `toml:"api"`
	Chunking  Chunking  `toml:"chunking"`
	Cache     Cache     `toml:"cache"`
	Scheduler Scheduler `toml:"scheduler"`
	Subtitles Subtitles `toml:"subtitles"`
	FFmpeg    FFmpeg    `toml:"ffmpeg"`
	Logging   Logging   `toml:"logging"`

	// APIToken is resolved from the environment during normalization.
	APIToken string `toml:"-"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/subforge/config.toml")
}

// Load locates, parses, normalizes, and validates a configuration file. A
// missing file is not an error; defaults apply. The returned path reports
// which file was consulted and whether it existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return expanded, true, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates every directory the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.StateDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// QueuePath returns the path of the SQLite job queue database.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// ExpandPath resolves ~ prefixes and makes the path absolute.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Abs(path)
}
