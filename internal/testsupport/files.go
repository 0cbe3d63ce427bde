package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

// Pattern returns size bytes whose value at offset i is byte(i % 251), so any
// window of the content can be checked against its offsets.
func Pattern(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// WriteFile writes data to path on fs, creating parent directories.
func WriteFile(t testing.TB, fs afero.Fs, path string, data []byte) {
	t.Helper()

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
