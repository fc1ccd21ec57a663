package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkingFileTTL  = time.Hour
	DefaultJanitorInterval = 10 * time.Minute
)

// Janitor removes working files that outlived their request, e.g. after a
// failed deletion or a crash between save and cleanup.
type Janitor struct {
	workArea *WorkArea
	ttl      time.Duration
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewJanitor returns a janitor for both areas of workArea.
func NewJanitor(workArea *WorkArea, ttl time.Duration, logger *slog.Logger) *Janitor {
	if ttl <= 0 {
		ttl = DefaultWorkingFileTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{workArea: workArea, ttl: ttl, logger: logger, observer: NopObserver{}, now: time.Now}
}

// Start sweeps every interval until ctx is done.
func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := j.Sweep(ctx); err != nil {
					j.logger.Warn("Working file sweep incomplete.", "error", err)
				}
			}
		}
	}()
}

// Sweep deletes regular files older than the TTL in both areas and returns
// how many were removed. Subdirectories are left alone.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.ttl)

	// Both areas are listed before any deletion starts.
	var paths []string
	for _, dir := range []string{j.workArea.UploadDir, j.workArea.SanitizedDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return 0, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				paths = append(paths, filepath.Join(dir, entry.Name()))
			}
		}
	}

	var removed atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for _, path := range paths {
		eg.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().Before(cutoff) {
				return nil
			}
			ok, err := RemoveWorkingFile(path)
			if err != nil {
				j.observer.RecordCleanupFailure()
				j.logger.Warn("Failed to delete stale working file.", "path", path, "error", err)
				return nil
			}
			if ok {
				removed.Add(1)
				j.logger.Info("Deleted stale working file.", "path", path, "modTime", info.ModTime())
			}
			return nil
		})
	}
	err := eg.Wait()
	return int(removed.Load()), err
}

// WithObserver reports sweep deletion failures through o.
func (j *Janitor) WithObserver(o Observer) *Janitor {
	if o != nil {
		j.observer = o
	}
	return j
}
