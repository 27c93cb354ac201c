package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path with size bytes of repeating content, standing in
// for an audio artifact. Parent directories are created as needed.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size < 1 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	pattern := []byte("tonearm-test-audio\n")
	data := bytes.Repeat(pattern, int(size/int64(len(pattern)))+1)[:size]
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
