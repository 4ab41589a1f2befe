package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/disk"

	"subforge/internal/logging"
	"subforge/internal/services"
)

const (
	indexVersion  = 1
	indexFileName = "index.json"
	lockFileName  = ".subforge-cache.lock"
	objectsDir    = "objects"
)

// Entry records one cached artifact in the index.
type Entry struct {
	Key        string            `json:"key"`
	SourcePath string            `json:"source_path"`
	Params     map[string]string `json:"params,omitempty"`
	Artifact   string            `json:"artifact"`
	SizeBytes  int64             `json:"size_bytes"`
	CreatedAt  time.Time         `json:"created_at"`
	LastAccess time.Time         `json:"last_access"`
}

type index struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Stats summarizes the cache for status output.
type Stats struct {
	Entries    int
	TotalBytes int64
	MaxBytes   int64
	Oldest     time.Time
}

// Options configures a Store.
type Options struct {
	Dir             string
	MaxBytes        int64
	MaxAge          time.Duration
	SweepInterval   time.Duration
	MinFreeBytes    uint64
	DisableEviction bool
	DisableLock     bool
}

// Store is a size- and age-bounded artifact cache. All methods are safe for
// concurrent use.
type Store struct {
	dir    string
	opts   Options
	logger *slog.Logger
	lock   *flock.Flock

	mu  sync.Mutex
	idx index

	now      func() time.Time
	diskFree func(path string) (uint64, error)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore opens (or creates) the cache rooted at opts.Dir and loads its
// index. A corrupt index is discarded and rebuilt empty rather than wedging
// the pipeline.
func NewStore(opts Options, logger *slog.Logger) (*Store, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "caching", "open", "cache directory is empty", nil)
	}
	if err := os.MkdirAll(filepath.Join(dir, objectsDir), 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "caching", "open", "create cache dir", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	store := &Store{
		dir:      dir,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "cache"),
		now:      time.Now,
		diskFree: freeBytes,
	}
	if !opts.DisableLock {
		store.lock = flock.New(filepath.Join(dir, lockFileName))
	}
	if err := store.loadIndex(); err != nil {
		store.logger.Warn("discarding unreadable cache index", logging.Error(err))
		store.idx = index{Version: indexVersion, Entries: map[string]Entry{}}
	}
	return store, nil
}

// Key derives the cache key for a source path and parameter set: a SHA-256
// over the path and the sorted k=v pairs.
func Key(sourcePath string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hasher := sha256.New()
	hasher.Write([]byte(sourcePath))
	for _, k := range keys {
		fmt.Fprintf(hasher, "|%s=%s", k, params[k])
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Get returns the artifact path for the given source and params when present.
// A hit refreshes the entry's last-access time so the sweeper evicts it last.
func (s *Store) Get(ctx context.Context, sourcePath string, params map[string]string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	key := Key(sourcePath, params)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.idx.Entries[key]
	if !ok {
		return "", false, nil
	}
	artifact := s.artifactAbs(entry)
	if _, err := os.Stat(artifact); err != nil {
		// Artifact vanished underneath the index; treat as a miss and heal.
		delete(s.idx.Entries, key)
		if err := s.persistLocked(); err != nil {
			s.logger.Warn("persist index after stale entry", logging.Error(err))
		}
		return "", false, nil
	}
	entry.LastAccess = s.now().UTC()
	s.idx.Entries[key] = entry
	if err := s.persistLocked(); err != nil {
		s.logger.Warn("persist index after access", logging.Error(err))
	}
	return artifact, true, nil
}

// Put stores payload for the given source and params, returning the artifact
// path. Writes are refused when the free-space floor would be breached.
func (s *Store) Put(ctx context.Context, sourcePath string, params map[string]string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.checkFreeSpace(uint64(len(payload))); err != nil {
		return "", err
	}
	if err := s.acquireFileLock(ctx); err != nil {
		return "", err
	}
	defer s.releaseFileLock()

	key := Key(sourcePath, params)
	relative := filepath.Join(objectsDir, key[:2], key)
	absolute := filepath.Join(s.dir, relative)
	if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
		return "", services.Wrap(services.ErrValidation, "caching", "put", "create object dir", err)
	}
	if err := writeFileAtomic(absolute, payload, 0o644); err != nil {
		return "", services.Wrap(services.ErrValidation, "caching", "put", "write artifact", err)
	}

	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.Entries[key] = Entry{
		Key:        key,
		SourcePath: sourcePath,
		Params:     params,
		Artifact:   relative,
		SizeBytes:  int64(len(payload)),
		CreatedAt:  now,
		LastAccess: now,
	}
	if err := s.persistLocked(); err != nil {
		return "", err
	}
	s.logger.Debug("cached artifact",
		logging.String("key", key),
		logging.String("source", sourcePath),
		logging.Int64("bytes", int64(len(payload))),
	)
	return absolute, nil
}

// Invalidate drops the entry for the given source and params if present.
func (s *Store) Invalidate(ctx context.Context, sourcePath string, params map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := Key(sourcePath, params)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.idx.Entries[key]
	if !ok {
		return nil
	}
	_ = os.Remove(s.artifactAbs(entry))
	delete(s.idx.Entries, key)
	return s.persistLocked()
}

// Clear removes every artifact and resets the index. It returns the number of
// entries dropped.
func (s *Store) Clear(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.acquireFileLock(ctx); err != nil {
		return 0, err
	}
	defer s.releaseFileLock()

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := len(s.idx.Entries)
	for _, entry := range s.idx.Entries {
		_ = os.Remove(s.artifactAbs(entry))
	}
	s.idx.Entries = map[string]Entry{}
	if err := s.persistLocked(); err != nil {
		return dropped, err
	}
	return dropped, nil
}

// Stats reports entry count, total bytes, and the oldest creation time.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Entries: len(s.idx.Entries), MaxBytes: s.opts.MaxBytes}
	for _, entry := range s.idx.Entries {
		stats.TotalBytes += entry.SizeBytes
		if stats.Oldest.IsZero() || entry.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = entry.CreatedAt
		}
	}
	return stats
}

// Dir exposes the backing directory for inspection.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) artifactAbs(entry Entry) string {
	return filepath.Join(s.dir, entry.Artifact)
}

func (s *Store) checkFreeSpace(incoming uint64) error {
	if s.opts.MinFreeBytes == 0 {
		return nil
	}
	free, err := s.diskFree(s.dir)
	if err != nil {
		s.logger.Warn("free space probe failed", logging.Error(err))
		return nil
	}
	if free < s.opts.MinFreeBytes+incoming {
		return services.Wrap(services.ErrDiskSpace, "caching", "put",
			fmt.Sprintf("free space %d below floor %d", free, s.opts.MinFreeBytes), nil)
	}
	return nil
}

func (s *Store) acquireFileLock(ctx context.Context) error {
	if s.lock == nil {
		return nil
	}
	ok, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return services.Wrap(services.ErrValidation, "caching", "lock", "acquire cache lock", err)
	}
	if !ok {
		return services.Wrap(services.ErrValidation, "caching", "lock", "cache lock held elsewhere", nil)
	}
	return nil
}

func (s *Store) releaseFileLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("release cache lock", logging.Error(err))
	}
}

func (s *Store) loadIndex() error {
	payload, err := os.ReadFile(filepath.Join(s.dir, indexFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.idx = index{Version: indexVersion, Entries: map[string]Entry{}}
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var loaded index
	if err := json.Unmarshal(payload, &loaded); err != nil {
		return fmt.Errorf("decode cache index: %w", err)
	}
	if loaded.Version != indexVersion {
		return fmt.Errorf("unsupported cache index version %d", loaded.Version)
	}
	if loaded.Entries == nil {
		loaded.Entries = map[string]Entry{}
	}
	s.idx = loaded
	return nil
}

func (s *Store) persistLocked() error {
	payload, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, indexFileName), payload, 0o644); err != nil {
		return fmt.Errorf("persist cache index: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func freeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
