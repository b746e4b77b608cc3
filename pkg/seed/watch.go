package seed

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDelay collapses bursts of writes from editors into one apply
const DefaultWatchDelay = 500 * time.Millisecond

// Watch re-applies the seed file at path whenever it changes, until ctx is
// done. The directory is watched rather than the file so that editors that
// replace the file on save are still seen.
func (s *Seeder) Watch(ctx context.Context, path string, delay time.Duration) error {
	if path == "" {
		return fmt.Errorf("seed watch requires a file path")
	}
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve seed path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	s.logger.WithField("path", target).Info("watching seed file")

	timer := time.NewTimer(delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(delay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("seed watcher error")

		case <-timer.C:
			s.reload(ctx, target)
		}
	}
}

func (s *Seeder) reload(ctx context.Context, path string) {
	f, err := Load(path)
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Error("failed to load seed file")
		s.metrics.SeedRun(err)
		return
	}
	if _, err := s.Apply(ctx, f); err != nil {
		s.logger.WithError(err).WithField("path", path).Error("failed to apply seed file")
	}
}
