package cache

import (
	"context"
	"os"
	"sort"
	"time"

	"subforge/internal/logging"
)

// Start launches the background sweep loop. It is a no-op when eviction is
// disabled or no interval is configured.
func (s *Store) Start(ctx context.Context) {
	if s.opts.DisableEviction || s.opts.SweepInterval <= 0 {
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.sweepLoop(sweepCtx)
}

// Stop terminates the background sweep loop and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Warn("cache sweep failed", logging.Error(err))
			}
		}
	}
}

// Sweep applies the eviction policy once: entries whose artifact is missing
// are dropped, entries older than the age bound are removed, and the
// least-recently-accessed remainder is evicted until the cache fits its size
// bound.
func (s *Store) Sweep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.acquireFileLock(ctx); err != nil {
		return err
	}
	defer s.releaseFileLock()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	removed := 0
	var total int64

	for key, entry := range s.idx.Entries {
		if _, err := os.Stat(s.artifactAbs(entry)); err != nil {
			delete(s.idx.Entries, key)
			removed++
			continue
		}
		if s.opts.MaxAge > 0 && now.Sub(entry.CreatedAt) > s.opts.MaxAge {
			s.removeLocked(entry)
			removed++
			continue
		}
		total += entry.SizeBytes
	}

	if s.opts.MaxBytes > 0 && total > s.opts.MaxBytes {
		entries := make([]Entry, 0, len(s.idx.Entries))
		for _, entry := range s.idx.Entries {
			entries = append(entries, entry)
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].LastAccess.Before(entries[j].LastAccess)
		})
		for _, entry := range entries {
			if total <= s.opts.MaxBytes {
				break
			}
			s.removeLocked(entry)
			total -= entry.SizeBytes
			removed++
		}
	}

	if removed == 0 {
		return nil
	}
	s.logger.Info("cache sweep evicted entries",
		logging.Int("removed", removed),
		logging.Int64("total_bytes", total),
	)
	return s.persistLocked()
}

func (s *Store) removeLocked(entry Entry) {
	_ = os.Remove(s.artifactAbs(entry))
	delete(s.idx.Entries, entry.Key)
}
