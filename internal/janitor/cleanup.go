// Package janitor removes stale recordings and downloaded answer audio
package janitor

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// CleanupService periodically deletes files older than MaxAge from a set of
// directories.
type CleanupService struct {
	dirs     []string
	maxAge   time.Duration
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service. A nil clk uses the wall
// clock.
func NewCleanupService(dirs []string, maxAge, interval time.Duration, clk clock.Clock, logger *zap.Logger) *CleanupService {
	if clk == nil {
		clk = clock.New()
	}
	return &CleanupService{
		dirs:     dirs,
		maxAge:   maxAge,
		interval: interval,
		clock:    clk,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every interval. A zero max age or
// interval disables the service.
func (s *CleanupService) Start() {
	if s.started.Swap(true) {
		return
	}
	if s.maxAge <= 0 || s.interval <= 0 {
		s.logger.Info("Cache cleanup disabled")
		close(s.done)
		return
	}
	go s.cleanupLoop()
	s.logger.Info("Cache cleanup service started",
		zap.Duration("maxAge", s.maxAge),
		zap.Duration("interval", s.interval))
}

// Stop ends the loop and waits for a running sweep. It is a no-op if the
// service was never started.
func (s *CleanupService) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
	s.logger.Info("Cache cleanup service stopped")
}

func (s *CleanupService) cleanupLoop() {
	defer close(s.done)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.RunCleanup()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunCleanup()
		}
	}
}

// RunCleanup performs one sweep and returns the number of removed files
func (s *CleanupService) RunCleanup() int {
	cutoff := s.clock.Now().Add(-s.maxAge)
	removed := 0

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("Failed to list directory", zap.String("dir", dir), zap.Error(err))
			}
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Warn("Failed to remove stale file", zap.String("path", path), zap.Error(err))
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Cache cleanup completed", zap.Int("removed", removed))
	}
	return removed
}
