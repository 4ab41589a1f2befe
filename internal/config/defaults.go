package config

const (
	defaultCacheDir = "~/.local/share/subforge/cache"
	defaultStateDir = "~/.local/share/subforge/state"
	defaultWorkDir  = "~/.local/share/subforge/work"
	defaultLogDir   = "~/.local/share/subforge/logs"

	defaultAPIURL            = "https://api-inference.huggingface.co/models/openai/whisper-large-v3-turbo"
	defaultAPITimeoutSeconds = 30
	defaultMaxRetries        = 5
	defaultBaseDelayMS       = 1000
	defaultMaxDelayMS        = 32000

	defaultMaxChunkBytes     = 25 << 20  // remote payload limit
	defaultMinChunkBytes     = 512 << 10 // avoid degenerate tiny requests
	defaultMaxChunkSeconds   = 300.0
	defaultOverlapSeconds    = 1.0
	defaultMaxChunksInMemory = 10
	defaultMaxParallelChunks = 4

	defaultCacheMaxBytes    = 10 << 30
	defaultCacheMaxAgeHours = 7 * 24
	defaultCacheSweepMins   = 60
	defaultCacheMinFree     = 1 << 30

	defaultMaxConcurrent    = 3
	defaultMaxMemoryPercent = 80.0
	defaultMemoryPollMS     = 1000

	defaultLanguage = "en"

	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
	defaultFFmpegTimeout = 3600
	defaultLoggingFormat = "console"
	defaultLoggingLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir: defaultCacheDir,
			StateDir: defaultStateDir,
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
		},
		API: API{
			URL:            defaultAPIURL,
			TimeoutSeconds: defaultAPITimeoutSeconds,
			MaxRetries:     defaultMaxRetries,
			BaseDelayMS:    defaultBaseDelayMS,
			MaxDelayMS:     defaultMaxDelayMS,
		},
		Chunking: Chunking{
			MaxChunkBytes:     defaultMaxChunkBytes,
			MinChunkBytes:     defaultMinChunkBytes,
			MaxChunkSeconds:   defaultMaxChunkSeconds,
			OverlapSeconds:    defaultOverlapSeconds,
			MaxChunksInMemory: defaultMaxChunksInMemory,
			MaxParallelChunks: defaultMaxParallelChunks,
		},
		Cache: Cache{
			MaxBytes:     defaultCacheMaxBytes,
			MaxAgeHours:  defaultCacheMaxAgeHours,
			SweepMinutes: defaultCacheSweepMins,
			MinFreeBytes: defaultCacheMinFree,
		},
		Scheduler: Scheduler{
			MaxConcurrent:    defaultMaxConcurrent,
			MaxMemoryPercent: defaultMaxMemoryPercent,
			MemoryPollMS:     defaultMemoryPollMS,
		},
		Subtitles: Subtitles{
			Language: defaultLanguage,
		},
		FFmpeg: FFmpeg{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			TimeoutSeconds: defaultFFmpegTimeout,
		},
		Logging: Logging{
			Format: defaultLoggingFormat,
			Level:  defaultLoggingLevel,
		},
	}
}
