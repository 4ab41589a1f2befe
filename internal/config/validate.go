package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is structurally usable. Validation
// failures are startup-fatal; no command runs against a broken configuration.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	return nil
}

// ValidateForProcessing additionally requires the credentials that only
// transcription runs need. Inspection commands skip this check.
func (c *Config) ValidateForProcessing() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIToken == "" {
		return fmt.Errorf("transcription API token is required: set the %s environment variable", EnvAPIToken)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.BaseDelayMS > c.API.MaxDelayMS {
		return errors.New("api.base_delay_ms must not exceed api.max_delay_ms")
	}
	return nil
}

func (c *Config) validateChunking() error {
	if c.Chunking.MinChunkBytes > c.Chunking.MaxChunkBytes {
		return errors.New("chunking.min_chunk_bytes must not exceed chunking.max_chunk_bytes")
	}
	if c.Chunking.OverlapSeconds >= c.Chunking.MaxChunkSeconds {
		return errors.New("chunking.overlap_seconds must be smaller than chunking.max_chunk_seconds")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent > 64 {
		return errors.New("scheduler.max_concurrent is unreasonably large")
	}
	return nil
}
