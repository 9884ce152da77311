// Package jobstore keeps one JSON document per record in a directory.
// Writes are atomic, so readers in other processes never observe a partial
// record, and Watch lets a long-running process pick up records written by
// someone else (the CLI, an operator editing a file).
package jobstore

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/AnnixInvestments/annix-sub033/internal/fileutil"
)

const ext = ".json"

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidID is returned for ids that are not safe file names.
	ErrInvalidID = errors.New("invalid record id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Store persists values of T keyed by id.
type Store[T any] struct {
	dir string

	mu      sync.Mutex
	written map[string][sha256.Size]byte // digest of our own last write per id
}

// Open creates dir if needed and returns a store rooted there.
func Open[T any](dir string) (*Store[T], error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store[T]{dir: dir, written: make(map[string][sha256.Size]byte)}, nil
}

// Dir returns the root directory.
func (s *Store[T]) Dir() string {
	return s.dir
}

// ValidID reports whether id can be used as a record key.
func ValidID(id string) bool {
	return idPattern.MatchString(id) && !strings.Contains(id, "..")
}

func (s *Store[T]) path(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+ext), nil
}

// Put writes v under id, replacing any previous record.
func (s *Store[T]) Put(id string, v *T) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return err
	}
	s.written[id] = sha256.Sum256(data)
	return nil
}

// Get loads the record stored under id.
func (s *Store[T]) Get(id string) (*T, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &v, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store[T]) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	delete(s.written, id)
	return nil
}

// IDs returns every stored id in lexical order.
func (s *Store[T]) IDs() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	ids := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if id, ok := recordID(d.Name()); ok && !d.IsDir() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// List loads every record. Records that fail to decode are reported in the
// returned error but do not hide the others.
func (s *Store[T]) List() ([]*T, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(ids))
	var errs []error
	for _, id := range ids {
		v, err := s.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, v)
	}
	return out, errors.Join(errs...)
}

// recordID maps a file name to its id, rejecting temp files and strays.
func recordID(name string) (string, bool) {
	base := filepath.Base(name)
	if fileutil.IsTemp(base) || !strings.HasSuffix(base, ext) {
		return "", false
	}
	id := strings.TrimSuffix(base, ext)
	return id, ValidID(id)
}

// foreign reports whether the file for id differs from what this store last
// wrote, i.e. whether another writer changed it.
func (s *Store[T]) foreign(id string) bool {
	path, err := s.path(id)
	if err != nil {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.written[id]
	return !ok || last != sha256.Sum256(data)
}
