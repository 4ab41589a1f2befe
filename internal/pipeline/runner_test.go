package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subforge/internal/cache"
	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/media"
	"subforge/internal/queue"
	"subforge/internal/services"
	"subforge/internal/services/whisper"
)

type fakeExtractor struct {
	durationSeconds float64
	audioBytes      int

	extractCalls atomic.Int64
	chunkCalls   atomic.Int64
}

func (f *fakeExtractor) ExtractAudio(_ context.Context, _ string, dest string) error {
	f.extractCalls.Add(1)
	return os.WriteFile(dest, make([]byte, f.audioBytes), 0o644)
}

func (f *fakeExtractor) ExtractChunk(_ context.Context, _ string, _ media.Chunk, dest string) error {
	f.chunkCalls.Add(1)
	return os.WriteFile(dest, []byte("chunk audio"), 0o644)
}

func (f *fakeExtractor) ProbeDuration(context.Context, string) (float64, error) {
	return f.durationSeconds, nil
}

type fakeTranscriber struct {
	calls atomic.Int64
	fn    func(audioPath string) (whisper.Transcription, error)
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioPath string) (whisper.Transcription, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(audioPath)
	}
	return whisper.Transcription{
		Text: "Hello from the fake transcriber.",
		Segments: []whisper.Segment{
			{Text: "Hello from the fake transcriber.", Start: 0, End: 4},
		},
	}, nil
}

type testEnv struct {
	cfg    *config.Config
	store  *queue.Store
	cache  *cache.Store
	runner *Runner
	source string
}

func newTestEnv(t *testing.T, extractor *fakeExtractor, transcriber *fakeTranscriber) *testEnv {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CacheDir = filepath.Join(root, "cache")
	cfg.Paths.StateDir = filepath.Join(root, "state")
	cfg.Paths.WorkDir = filepath.Join(root, "work")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.APIToken = "test-token"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	store, err := queue.Open(cfg.QueuePath())
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cacheStore, err := cache.NewStore(cache.Options{
		Dir:      cfg.Paths.CacheDir,
		MaxBytes: 1 << 30,
		MaxAge:   24 * time.Hour,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}

	source := filepath.Join(root, "episode.mkv")
	if err := os.WriteFile(source, []byte("not really video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	runner := New(&cfg, store, cacheStore, logging.NewNop(),
		WithExtractor(extractor),
		WithTranscriber(transcriber),
	)
	return &testEnv{cfg: &cfg, store: store, cache: cacheStore, runner: runner, source: source}
}

func (env *testEnv) enqueue(t *testing.T) *queue.Item {
	t.Helper()
	item, err := env.store.NewItem(context.Background(), env.source, "en")
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	return item
}

func TestProcessCompletesEndToEnd(t *testing.T) {
	extractor := &fakeExtractor{durationSeconds: 30, audioBytes: 30 * 32000}
	transcriber := &fakeTranscriber{}
	env := newTestEnv(t, extractor, transcriber)
	item := env.enqueue(t)

	result, err := env.runner.Process(context.Background(), item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	wantArtifact := strings.TrimSuffix(env.source, ".mkv") + ".srt"
	if result.ArtifactPath != wantArtifact {
		t.Fatalf("artifact = %q, want %q", result.ArtifactPath, wantArtifact)
	}
	if _, err := os.Stat(wantArtifact); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if result.ChunkCount != 1 {
		t.Fatalf("chunk count = %d, want 1", result.ChunkCount)
	}
	if result.CueCount == 0 {
		t.Fatal("expected at least one cue")
	}

	updated, err := env.store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
	if updated.Progress != 100 {
		t.Fatalf("progress = %d, want 100", updated.Progress)
	}
	if updated.ArtifactPath != wantArtifact {
		t.Fatalf("stored artifact = %q, want %q", updated.ArtifactPath, wantArtifact)
	}

	// A single short chunk reuses the full extraction, so no chunk extraction
	// should have run.
	if got := extractor.chunkCalls.Load(); got != 0 {
		t.Fatalf("chunk extraction ran %d times, want 0", got)
	}
}

func TestProcessCacheHitSkipsTranscription(t *testing.T) {
	extractor := &fakeExtractor{durationSeconds: 30, audioBytes: 30 * 32000}
	transcriber := &fakeTranscriber{}
	env := newTestEnv(t, extractor, transcriber)

	first := env.enqueue(t)
	if _, err := env.runner.Process(context.Background(), first); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	firstCalls := transcriber.calls.Load()
	if firstCalls == 0 {
		t.Fatal("expected the first run to call the transcriber")
	}

	second := env.enqueue(t)
	result, err := env.runner.Process(context.Background(), second)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !result.CacheHit {
		t.Fatal("expected second run to hit the cache")
	}
	if got := transcriber.calls.Load(); got != firstCalls {
		t.Fatalf("transcriber called %d times after cache hit, want %d", got, firstCalls)
	}

	updated, err := env.store.GetByID(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
}

func TestProcessToleratesPartialChunkFailure(t *testing.T) {
	// 250 seconds of 16 kHz mono PCM splits into three chunks under a
	// 100-second chunk cap.
	extractor := &fakeExtractor{durationSeconds: 250, audioBytes: 250 * 32000}
	transcriber := &fakeTranscriber{}
	transcriber.fn = func(audioPath string) (whisper.Transcription, error) {
		if strings.Contains(audioPath, "chunk-001") {
			return whisper.Transcription{}, services.Wrap(services.ErrTransient, "transcribing", "transcribe", "inference unavailable", nil)
		}
		return whisper.Transcription{
			Text:     "Partial coverage still succeeds.",
			Segments: []whisper.Segment{{Text: "Partial coverage still succeeds.", Start: 0, End: 4}},
		}, nil
	}
	env := newTestEnv(t, extractor, transcriber)
	env.cfg.Chunking.MaxChunkSeconds = 100
	env.cfg.Chunking.MaxParallelChunks = 2
	env.cfg.Chunking.MaxChunksInMemory = 2
	item := env.enqueue(t)

	result, err := env.runner.Process(context.Background(), item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.ChunkCount != 3 {
		t.Fatalf("chunk count = %d, want 3", result.ChunkCount)
	}
	if result.ChunksFailed != 1 {
		t.Fatalf("chunks failed = %d, want 1", result.ChunksFailed)
	}

	updated, err := env.store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
}

func TestProcessFailsWhenAllChunksFail(t *testing.T) {
	extractor := &fakeExtractor{durationSeconds: 250, audioBytes: 250 * 32000}
	transcriber := &fakeTranscriber{}
	transcriber.fn = func(string) (whisper.Transcription, error) {
		return whisper.Transcription{}, services.Wrap(services.ErrTransient, "transcribing", "transcribe", "inference unavailable", nil)
	}
	env := newTestEnv(t, extractor, transcriber)
	env.cfg.Chunking.MaxChunkSeconds = 100
	env.cfg.Chunking.MaxParallelChunks = 2
	env.cfg.Chunking.MaxChunksInMemory = 2
	item := env.enqueue(t)

	if _, err := env.runner.Process(context.Background(), item); err == nil {
		t.Fatal("expected Process to fail when every chunk errors")
	}

	updated, err := env.store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", updated.Status)
	}
	if updated.ErrorMessage == "" {
		t.Fatal("expected a stored error message")
	}
}

func TestFailedChunkAudioDoesNotAccumulate(t *testing.T) {
	extractor := &fakeExtractor{durationSeconds: 250, audioBytes: 250 * 32000}

	// Every transcription fails; count the chunk files present while each
	// call is in flight. With a parallelism of one there must never be more
	// than the chunk currently being transcribed.
	var mu sync.Mutex
	maxOnDisk := 0
	transcriber := &fakeTranscriber{}
	transcriber.fn = func(audioPath string) (whisper.Transcription, error) {
		matches, globErr := filepath.Glob(filepath.Join(filepath.Dir(audioPath), "chunk-*.wav"))
		if globErr == nil {
			mu.Lock()
			if len(matches) > maxOnDisk {
				maxOnDisk = len(matches)
			}
			mu.Unlock()
		}
		return whisper.Transcription{}, services.Wrap(services.ErrTransient, "transcribing", "transcribe", "inference unavailable", nil)
	}
	env := newTestEnv(t, extractor, transcriber)
	env.cfg.Chunking.MaxChunkSeconds = 100
	env.cfg.Chunking.MaxParallelChunks = 1
	env.cfg.Chunking.MaxChunksInMemory = 2
	item := env.enqueue(t)

	if _, err := env.runner.Process(context.Background(), item); err == nil {
		t.Fatal("expected Process to fail when every chunk errors")
	}
	if got := transcriber.calls.Load(); got != 3 {
		t.Fatalf("transcriber called %d times, want 3", got)
	}
	if maxOnDisk > 1 {
		t.Fatalf("%d chunk files on disk at once, want at most 1", maxOnDisk)
	}
}

func TestProgressUpdatesStayMonotone(t *testing.T) {
	extractor := &fakeExtractor{durationSeconds: 30, audioBytes: 30 * 32000}
	transcriber := &fakeTranscriber{}
	env := newTestEnv(t, extractor, transcriber)

	var mu sync.Mutex
	var published []int
	env.runner.progressFn = func(_ int64, percent int, _ string) {
		mu.Lock()
		published = append(published, percent)
		mu.Unlock()
	}
	item := env.enqueue(t)

	var wg sync.WaitGroup
	for _, percent := range []int{30, 80, 50, 60, 90, 40} {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			env.runner.progress(context.Background(), item.ID, p, "chunk update")
		}(percent)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 6 {
		t.Fatalf("published %d updates, want 6", len(published))
	}
	for i := 1; i < len(published); i++ {
		if published[i] < published[i-1] {
			t.Fatalf("progress regressed: %v", published)
		}
	}

	updated, err := env.store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Progress != 90 {
		t.Fatalf("stored progress = %d, want 90", updated.Progress)
	}
}

func TestProcessFailsFastOnConfigurationError(t *testing.T) {
	extractor := &fakeExtractor{durationSeconds: 30, audioBytes: 30 * 32000}
	transcriber := &fakeTranscriber{}
	transcriber.fn = func(string) (whisper.Transcription, error) {
		return whisper.Transcription{}, services.Wrap(services.ErrConfiguration, "transcribing", "transcribe", "api token required", nil)
	}
	env := newTestEnv(t, extractor, transcriber)
	item := env.enqueue(t)

	_, err := env.runner.Process(context.Background(), item)
	if err == nil {
		t.Fatal("expected Process to fail")
	}
	if !services.IsFatal(err) {
		t.Fatalf("expected a configuration error, got %v", err)
	}

	updated, getErr := env.store.GetByID(context.Background(), item.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if updated.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", updated.Status)
	}
}

func TestProcessCleansUpWorkDirectory(t *testing.T) {
	extractor := &fakeExtractor{durationSeconds: 30, audioBytes: 30 * 32000}
	transcriber := &fakeTranscriber{}
	env := newTestEnv(t, extractor, transcriber)
	item := env.enqueue(t)

	if _, err := env.runner.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}

	entries, err := os.ReadDir(env.cfg.Paths.WorkDir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("work dir not empty after success: %d entries", len(entries))
	}
}

func TestProcessCleansUpWorkDirectoryOnFailure(t *testing.T) {
	extractor := &fakeExtractor{durationSeconds: 30, audioBytes: 30 * 32000}
	transcriber := &fakeTranscriber{}
	transcriber.fn = func(string) (whisper.Transcription, error) {
		return whisper.Transcription{}, services.Wrap(services.ErrTransient, "transcribing", "transcribe", "boom", nil)
	}
	env := newTestEnv(t, extractor, transcriber)
	item := env.enqueue(t)

	if _, err := env.runner.Process(context.Background(), item); err == nil {
		t.Fatal("expected Process to fail")
	}

	entries, err := os.ReadDir(env.cfg.Paths.WorkDir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("work dir not empty after failure: %d entries", len(entries))
	}
}

func TestSubtitlePath(t *testing.T) {
	cases := map[string]string{
		"/media/show.mkv":    "/media/show.srt",
		"/media/movie.mp4":   "/media/movie.srt",
		"/media/noext":       "/media/noext.srt",
		"/media/two.part.ts": "/media/two.part.srt",
	}
	for source, want := range cases {
		if got := subtitlePath(source); got != want {
			t.Errorf("subtitlePath(%q) = %q, want %q", source, got, want)
		}
	}
}
