// Package transcript persists meeting transcripts. Each meeting has a
// directory holding transcript.json, rewritten atomically after every
// append, and an optional plain-text export.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AnnixInvestments/annix-sub033/internal/fileutil"
	"github.com/AnnixInvestments/annix-sub033/internal/transcription"
)

const (
	jsonFile = "transcript.json"
	textFile = "transcript.txt"
)

// ErrNotFound is returned for meetings without a transcript.
var ErrNotFound = errors.New("transcript not found")

// Store is an append-only transcript per meeting.
type Store struct {
	dir string

	mu      sync.Mutex
	entries map[string][]transcription.Entry
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Store{dir: dir, entries: make(map[string][]transcription.Entry)}, nil
}

func (s *Store) meetingDir(meetingID string) (string, error) {
	if meetingID == "" || strings.ContainsAny(meetingID, `/\`) || meetingID == "." || meetingID == ".." {
		return "", fmt.Errorf("invalid meeting id %q", meetingID)
	}
	return filepath.Join(s.dir, meetingID), nil
}

// Path returns the transcript.json path for a meeting.
func (s *Store) Path(meetingID string) (string, error) {
	dir, err := s.meetingDir(meetingID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, jsonFile), nil
}

// Append adds an entry and persists the whole transcript.
func (s *Store) Append(meetingID string, entry transcription.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(meetingID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	entries = append(entries, entry)

	if err := s.writeLocked(meetingID, entries); err != nil {
		return err
	}
	s.entries[meetingID] = entries
	return nil
}

// Entries returns a copy of a meeting's transcript.
func (s *Store) Entries(meetingID string) ([]transcription.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(meetingID)
	if err != nil {
		return nil, err
	}
	out := make([]transcription.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Meetings lists meeting IDs with a transcript on disk.
func (s *Store) Meetings() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read transcript dir: %w", err)
	}
	var ids []string
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, d.Name(), jsonFile)); err == nil {
			ids = append(ids, d.Name())
		}
	}
	return ids, nil
}

// ExportText writes transcript.txt next to the JSON and returns its path.
func (s *Store) ExportText(meetingID string) (string, error) {
	entries, err := s.Entries(meetingID)
	if err != nil {
		return "", err
	}
	dir, _ := s.meetingDir(meetingID)
	path := filepath.Join(dir, textFile)
	if err := fileutil.WriteFileAtomic(path, []byte(FormatText(entries))); err != nil {
		return "", err
	}
	return path, nil
}

// FormatText renders entries as "[HH:MM:SS] Speaker: text" lines.
func FormatText(entries []transcription.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.SpeakerName, e.Text)
	}
	return b.String()
}

func (s *Store) loadLocked(meetingID string) ([]transcription.Entry, error) {
	if entries, ok := s.entries[meetingID]; ok {
		return entries, nil
	}

	path, err := s.Path(meetingID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var entries []transcription.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", meetingID, err)
	}
	s.entries[meetingID] = entries
	return entries, nil
}

func (s *Store) writeLocked(meetingID string, entries []transcription.Entry) error {
	dir, err := s.meetingDir(meetingID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create meeting dir: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return fileutil.WriteFileAtomic(filepath.Join(dir, jsonFile), data)
}

// Forget drops the in-memory copy of a finished meeting.
func (s *Store) Forget(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, meetingID)
}
