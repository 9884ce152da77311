package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	if err := WriteFileAtomic(path, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != `{"v":2}` {
		t.Errorf("Unexpected content %q, %v", data, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the target file, found %d entries", len(entries))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestWriteAtomicFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.m4a")
	os.WriteFile(path, []byte("original"), 0o644)

	if err := WriteAtomic(path, failingReader{}); err == nil {
		t.Fatal("Expected error")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Errorf("Original file was modified: %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Temp file left behind: %d entries", len(entries))
	}
}

func TestIsTemp(t *testing.T) {
	tests := map[string]bool{
		".job-1.json.123456.tmp": true,
		"job-1.json":             false,
		".tmp":                   false,
		"notes.tmp":              false,
	}
	for name, want := range tests {
		if got := IsTemp(name); got != want {
			t.Errorf("IsTemp(%q) = %v, expected %v", name, got, want)
		}
	}
}
