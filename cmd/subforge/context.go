package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"subforge/internal/cache"
	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg.QueuePath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) openCache(cfg *config.Config, logger *slog.Logger) (*cache.Store, error) {
	return cache.NewStore(cache.Options{
		Dir:             cfg.Paths.CacheDir,
		MaxBytes:        cfg.Cache.MaxBytes,
		MaxAge:          hoursToDuration(cfg.Cache.MaxAgeHours),
		SweepInterval:   minutesToDuration(cfg.Cache.SweepMinutes),
		MinFreeBytes:    uint64(cfg.Cache.MinFreeBytes),
		DisableEviction: cfg.Cache.DisableEviction,
		DisableLock:     cfg.Cache.DisablePruneLock,
	}, logger)
}

func (c *commandContext) newLogger(cfg *config.Config) *slog.Logger {
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "subforge.log")},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}
