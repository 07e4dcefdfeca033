package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Touch creates each path, with parent folders, holding a one-byte
// placeholder. Expansion and cleanup tests only care that the files exist.
func Touch(t testing.TB, paths ...string) {
	t.Helper()
	for _, path := range paths {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", path, err)
		}
		if err := os.WriteFile(path, []byte{0}, 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

// MediaDir returns an empty folder named "media" under the test's temp dir.
func MediaDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "media")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	return dir
}
