package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteInstances creates count instance files for a series below dir and
// returns their names.
func WriteInstances(t testing.TB, dir, seriesUID string, count int, ext string) []string {
	t.Helper()

	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%04d%s", i+1, ext)
		WriteFile(t, filepath.Join(dir, seriesUID, name), 16)
		names = append(names, name)
	}
	return names
}
