package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates the target path with exactly size bytes. The payload
// cycles through distinct byte values so fixtures with different sizes never
// share content hashes. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte('a' + i%23)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
