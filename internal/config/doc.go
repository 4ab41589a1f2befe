// Package config loads, normalizes, and validates the TOML configuration for
// the subtitle pipeline. Path fields are tilde-expanded, missing values fall
// back to repository defaults, and validation catches unusable settings before
// any job starts.
package config
