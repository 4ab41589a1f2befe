package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeChunking()
	c.normalizeCache()
	c.normalizeScheduler()
	c.normalizeSubtitles()
	c.normalizeFFmpeg()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.CacheDir, err = ExpandPath(orDefault(c.Paths.CacheDir, defaultCacheDir)); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.StateDir, err = ExpandPath(orDefault(c.Paths.StateDir, defaultStateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.WorkDir, err = ExpandPath(orDefault(c.Paths.WorkDir, defaultWorkDir)); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = ExpandPath(orDefault(c.Paths.LogDir, defaultLogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.URL = strings.TrimSpace(c.API.URL)
	if c.API.URL == "" {
		c.API.URL = defaultAPIURL
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = defaultAPITimeoutSeconds
	}
	if c.API.MaxRetries <= 0 {
		c.API.MaxRetries = defaultMaxRetries
	}
	if c.API.BaseDelayMS <= 0 {
		c.API.BaseDelayMS = defaultBaseDelayMS
	}
	if c.API.MaxDelayMS <= 0 {
		c.API.MaxDelayMS = defaultMaxDelayMS
	}
	c.APIToken = strings.TrimSpace(os.Getenv(EnvAPIToken))
}

func (c *Config) normalizeChunking() {
	if c.Chunking.MaxChunkBytes <= 0 {
		c.Chunking.MaxChunkBytes = defaultMaxChunkBytes
	}
	if c.Chunking.MinChunkBytes <= 0 {
		c.Chunking.MinChunkBytes = defaultMinChunkBytes
	}
	if c.Chunking.MaxChunkSeconds <= 0 {
		c.Chunking.MaxChunkSeconds = defaultMaxChunkSeconds
	}
	if c.Chunking.OverlapSeconds < 0 {
		c.Chunking.OverlapSeconds = defaultOverlapSeconds
	}
	if c.Chunking.MaxChunksInMemory <= 0 {
		c.Chunking.MaxChunksInMemory = defaultMaxChunksInMemory
	}
	if c.Chunking.MaxParallelChunks <= 0 {
		c.Chunking.MaxParallelChunks = defaultMaxParallelChunks
	}
}

func (c *Config) normalizeCache() {
	if c.Cache.MaxBytes <= 0 {
		c.Cache.MaxBytes = defaultCacheMaxBytes
	}
	if c.Cache.MaxAgeHours <= 0 {
		c.Cache.MaxAgeHours = defaultCacheMaxAgeHours
	}
	if c.Cache.SweepMinutes <= 0 {
		c.Cache.SweepMinutes = defaultCacheSweepMins
	}
	if c.Cache.MinFreeBytes <= 0 {
		c.Cache.MinFreeBytes = defaultCacheMinFree
	}
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.MaxConcurrent <= 0 {
		c.Scheduler.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Scheduler.MaxMemoryPercent <= 0 || c.Scheduler.MaxMemoryPercent > 100 {
		c.Scheduler.MaxMemoryPercent = defaultMaxMemoryPercent
	}
	if c.Scheduler.MemoryPollMS <= 0 {
		c.Scheduler.MemoryPollMS = defaultMemoryPollMS
	}
}

func (c *Config) normalizeSubtitles() {
	c.Subtitles.Language = strings.TrimSpace(c.Subtitles.Language)
	if c.Subtitles.Language == "" {
		c.Subtitles.Language = defaultLanguage
	}
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.FFmpegBinary = strings.TrimSpace(c.FFmpeg.FFmpegBinary)
	if c.FFmpeg.FFmpegBinary == "" {
		c.FFmpeg.FFmpegBinary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
	if c.FFmpeg.TimeoutSeconds <= 0 {
		c.FFmpeg.TimeoutSeconds = defaultFFmpegTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLoggingFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLoggingLevel
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
