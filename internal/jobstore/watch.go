package jobstore

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the fallback scan period used by Watch.
const DefaultPollInterval = 2 * time.Second

// Watch calls fn with the id of every record created or modified by another
// writer until ctx is cancelled. Writes made through this Store are not
// reported. It prefers fsnotify and keeps a polling ticker as a backstop,
// switching to polling only if the watcher cannot be used.
func (s *Store[T]) Watch(ctx context.Context, logger *slog.Logger, interval time.Duration, fn func(id string)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	seen := s.snapshot()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify not available, falling back to polling", slog.String("error", err.Error()))
		s.poll(ctx, interval, seen, fn)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Error("Failed to close watcher", slog.String("error", err.Error()))
		}
	}()

	if err := watcher.Add(s.dir); err != nil {
		logger.Warn("Failed to watch store directory, falling back to polling", slog.String("dir", s.dir), slog.String("error", err.Error()))
		s.poll(ctx, interval, seen, fn)
		return
	}

	logger.Debug("Store watcher started", slog.String("dir", s.dir))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				logger.Warn("fsnotify watcher closed, switching to polling")
				s.poll(ctx, interval, seen, fn)
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			id, ok := recordID(event.Name)
			if !ok {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil {
				seen[id] = info.ModTime()
			}
			if s.foreign(id) {
				fn(id)
			}

		case <-ticker.C:
			s.scan(seen, fn)

		case err, ok := <-watcher.Errors:
			if !ok {
				logger.Warn("fsnotify error channel closed, switching to polling")
				s.poll(ctx, interval, seen, fn)
				return
			}
			logger.Error("Store watcher error", slog.String("error", err.Error()))
		}
	}
}

func (s *Store[T]) poll(ctx context.Context, interval time.Duration, seen map[string]time.Time, fn func(string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(seen, fn)
		}
	}
}

// scan reports records whose modification time moved since the last look.
func (s *Store[T]) scan(seen map[string]time.Time, fn func(string)) {
	current := s.snapshot()
	for id, mod := range current {
		if prev, ok := seen[id]; ok && !mod.After(prev) {
			continue
		}
		if s.foreign(id) {
			fn(id)
		}
	}
	for id := range seen {
		if _, ok := current[id]; !ok {
			delete(seen, id)
		}
	}
	for id, mod := range current {
		seen[id] = mod
	}
}

func (s *Store[T]) snapshot() map[string]time.Time {
	out := make(map[string]time.Time)
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return out
	}
	for _, d := range dirents {
		id, ok := recordID(d.Name())
		if !ok || d.IsDir() {
			continue
		}
		if info, err := d.Info(); err == nil {
			out[id] = info.ModTime()
		}
	}
	return out
}
