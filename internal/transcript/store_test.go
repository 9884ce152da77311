package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/transcription"
)

func entry(speaker, text string, at time.Time) transcription.Entry {
	return transcription.Entry{Timestamp: at, SpeakerName: speaker, Text: text, Confidence: 0.9}
}

func TestAppendPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	at := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	if err := store.Append("m1", entry("Alice", "Hello", at)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append("m1", entry("Bob", "Hi Alice", at.Add(5*time.Second))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reopened, _ := NewStore(dir)
	entries, err := reopened.Entries("m1")
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 2 || entries[1].SpeakerName != "Bob" {
		t.Fatalf("Unexpected entries: %+v", entries)
	}

	tmps, _ := filepath.Glob(filepath.Join(dir, "m1", "*.tmp"))
	if len(tmps) != 0 {
		t.Errorf("Temp files left behind: %v", tmps)
	}
}

func TestEntriesNotFound(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if _, err := store.Entries("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestInvalidMeetingID(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if err := store.Append(id, entry("A", "x", time.Now())); err == nil {
			t.Errorf("Expected error for id %q", id)
		}
	}
}

func TestExportText(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	at := time.Date(2026, 3, 4, 9, 30, 15, 0, time.UTC)
	store.Append("m2", entry("Alice", "Agenda first", at))
	store.Append("m2", entry("Unknown", "Sounds good", at.Add(time.Minute)))

	path, err := store.ExportText("m2")
	if err != nil {
		t.Fatalf("ExportText failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	expected := "[09:30:15] Alice: Agenda first\n[09:31:15] Unknown: Sounds good\n"
	if string(data) != expected {
		t.Errorf("Unexpected export:\n%s", data)
	}

	ids, err := store.Meetings()
	if err != nil || len(ids) != 1 || ids[0] != "m2" {
		t.Errorf("Unexpected meetings: %v (%v)", ids, err)
	}
}

func TestFormatTextEmpty(t *testing.T) {
	if strings.TrimSpace(FormatText(nil)) != "" {
		t.Error("Expected empty text for no entries")
	}
}
