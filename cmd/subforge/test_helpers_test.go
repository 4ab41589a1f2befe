package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeCLIConfig materializes a config file rooted in a per-test temp
// directory and returns its path.
func writeCLIConfig(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
cache_dir = %q
state_dir = %q
work_dir = %q
log_dir = %q
`,
		filepath.Join(base, "cache"),
		filepath.Join(base, "state"),
		filepath.Join(base, "work"),
		filepath.Join(base, "logs"),
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// runCommand executes the CLI with the given arguments against the provided
// config file and returns the captured output.
func runCommand(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append(args, "--config", configPath))
	err := cmd.Execute()
	return buf.String(), err
}
