package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"subforge/internal/cache"
	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/media"
	"subforge/internal/queue"
	"subforge/internal/segmentation"
	"subforge/internal/services"
	"subforge/internal/services/whisper"
	"subforge/internal/srt"
)

const (
	purposeSubtitles = "subtitles"
	purposeAudio     = "audio"
)

// audioExtractor is the surface of media.Extractor the runner depends on.
type audioExtractor interface {
	ExtractAudio(ctx context.Context, source, dest string) error
	ExtractChunk(ctx context.Context, source string, chunk media.Chunk, dest string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Transcriber issues one inference call for a single audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (whisper.Transcription, error)
}

// Runner processes queue items one at a time. It is safe for concurrent use;
// each Process call works in its own job directory.
type Runner struct {
	cfg       *config.Config
	store     *queue.Store
	cache     *cache.Store
	extractor audioExtractor
	client    Transcriber
	logger    *slog.Logger

	progressFn func(itemID int64, percent int, message string)

	progressMu  sync.Mutex
	lastPercent map[int64]int
}

// Option customizes a Runner, mostly for tests.
type Option func(*Runner)

// WithExtractor overrides the ffmpeg-backed extractor.
func WithExtractor(extractor audioExtractor) Option {
	return func(r *Runner) {
		if extractor != nil {
			r.extractor = extractor
		}
	}
}

// WithTranscriber overrides the inference client.
func WithTranscriber(client Transcriber) Option {
	return func(r *Runner) {
		if client != nil {
			r.client = client
		}
	}
}

// WithProgressFunc registers a sink that observes every persisted progress
// update, e.g. for batch event fan-out.
func WithProgressFunc(fn func(itemID int64, percent int, message string)) Option {
	return func(r *Runner) {
		r.progressFn = fn
	}
}

// New constructs a Runner wired to the configured ffmpeg binaries and
// inference endpoint.
func New(cfg *config.Config, store *queue.Store, cacheStore *cache.Store, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	runner := &Runner{
		cfg:         cfg,
		store:       store,
		cache:       cacheStore,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		lastPercent: make(map[int64]int),
	}
	runner.extractor = media.NewExtractor(
		cfg.FFmpeg.FFmpegBinary,
		cfg.FFmpeg.FFprobeBinary,
		runner.logger,
		media.WithTimeout(time.Duration(cfg.FFmpeg.TimeoutSeconds)*time.Second),
	)
	runner.client = whisper.NewClient(whisper.Config{
		APIToken:       cfg.APIToken,
		BaseURL:        cfg.API.URL,
		TimeoutSeconds: cfg.API.TimeoutSeconds,
		MaxRetries:     cfg.API.MaxRetries,
		BaseDelay:      time.Duration(cfg.API.BaseDelayMS) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.API.MaxDelayMS) * time.Millisecond,
	})
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Result summarizes one completed job.
type Result struct {
	ArtifactPath string
	CueCount     int
	ChunkCount   int
	ChunksFailed int
	CacheHit     bool
}

// Process runs item through every pipeline stage and returns the artifact
// path. On failure the item is marked failed with the error message; a
// context cancellation leaves the item in its processing state so a later
// ResetStuckProcessing can requeue it. Temporary files are removed on every
// exit path.
func (r *Runner) Process(ctx context.Context, item *queue.Item) (Result, error) {
	defer r.forgetProgress(item.ID)
	result, err := r.process(ctx, item)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		if markErr := r.store.MarkFailed(context.WithoutCancel(ctx), item.ID, err.Error()); markErr != nil {
			r.logger.Error("failed to persist job failure",
				logging.Int64(logging.FieldJobID, item.ID),
				logging.Error(markErr))
		}
		return result, err
	}
	return result, nil
}

func (r *Runner) process(ctx context.Context, item *queue.Item) (Result, error) {
	var result Result
	jobLogger := r.logger.With(
		logging.Int64(logging.FieldJobID, item.ID),
		logging.String("source", item.SourcePath),
	)

	artifactDest := subtitlePath(item.SourcePath)
	subtitleParams := map[string]string{
		"purpose":  purposeSubtitles,
		"language": item.Language,
	}

	if err := r.store.Transition(ctx, item.ID, queue.StatusExtracting); err != nil {
		return result, err
	}

	if cached, ok := r.cacheLookup(ctx, item.SourcePath, subtitleParams, jobLogger); ok {
		if err := copyFile(cached, artifactDest); err != nil {
			return result, services.Wrap(services.ErrValidation, "caching", "restore", "copy cached subtitle", err)
		}
		jobLogger.Info("cache hit, skipping transcription", logging.String("artifact", artifactDest))
		if err := r.fastForward(ctx, item.ID, queue.StatusExtracting); err != nil {
			return result, err
		}
		if err := r.store.MarkCompleted(ctx, item.ID, artifactDest); err != nil {
			return result, err
		}
		count, _ := srt.CountCues(artifactDest)
		result = Result{ArtifactPath: artifactDest, CueCount: count, CacheHit: true}
		return result, nil
	}

	if _, err := os.Stat(item.SourcePath); err != nil {
		return result, services.Wrap(services.ErrValidation, "extracting", "stat", "source file unavailable", err)
	}

	workDir := filepath.Join(r.cfg.Paths.WorkDir, "job-"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return result, services.Wrap(services.ErrConfiguration, "extracting", "workdir", "create job directory", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			jobLogger.Warn("failed to remove job directory", logging.Error(err))
		}
	}()

	wavPath, err := r.extractStage(ctx, item, workDir, jobLogger)
	if err != nil {
		return result, err
	}

	if err := r.store.Transition(ctx, item.ID, queue.StatusChunking); err != nil {
		return result, err
	}
	chunks, duration, err := r.chunkStage(ctx, item, wavPath)
	if err != nil {
		return result, err
	}
	result.ChunkCount = len(chunks)
	jobLogger.Info("planned chunks",
		logging.Int("chunks", len(chunks)),
		logging.Float64("duration_seconds", duration))

	if err := r.store.Transition(ctx, item.ID, queue.StatusTranscribing); err != nil {
		return result, err
	}
	transcripts, failed, err := r.transcribeChunks(ctx, item, wavPath, chunks, workDir, jobLogger)
	if err != nil {
		return result, err
	}
	result.ChunksFailed = failed

	if err := r.store.Transition(ctx, item.ID, queue.StatusMerging); err != nil {
		return result, err
	}
	merged, err := mergeTranscripts(transcripts, len(chunks), failed)
	if err != nil {
		return result, err
	}
	r.progress(ctx, item.ID, 85, "merged chunk transcripts")

	if err := r.store.Transition(ctx, item.ID, queue.StatusSegmenting); err != nil {
		return result, err
	}
	engine := segmentation.NewEngine(item.Language)
	cues := engine.Segment(merged)
	if len(cues) == 0 {
		return result, services.Wrap(services.ErrValidation, "segmenting", "segment", "transcript produced no subtitle cues", nil)
	}
	result.CueCount = len(cues)
	r.progress(ctx, item.ID, 90, fmt.Sprintf("laid out %d cues", len(cues)))

	if err := r.store.Transition(ctx, item.ID, queue.StatusCaching); err != nil {
		return result, err
	}
	if err := srt.WriteFile(artifactDest, cues); err != nil {
		return result, services.Wrap(services.ErrValidation, "caching", "write", "write subtitle file", err)
	}
	r.cacheStore(ctx, item.SourcePath, subtitleParams, srt.Render(cues), jobLogger)
	r.progress(ctx, item.ID, 95, "cached subtitle artifact")

	if err := r.store.MarkCompleted(ctx, item.ID, artifactDest); err != nil {
		return result, err
	}
	result.ArtifactPath = artifactDest
	jobLogger.Info("job completed",
		logging.String("artifact", artifactDest),
		logging.Int("cues", len(cues)),
		logging.Int("chunks_failed", failed))
	return result, nil
}

// extractStage produces the mono 16 kHz WAV for the source, serving it from
// the cache when a prior run already extracted it.
func (r *Runner) extractStage(ctx context.Context, item *queue.Item, workDir string, jobLogger *slog.Logger) (string, error) {
	r.progress(ctx, item.ID, 5, "extracting audio")

	audioParams := map[string]string{"purpose": purposeAudio}
	if cached, ok := r.cacheLookup(ctx, item.SourcePath, audioParams, jobLogger); ok {
		jobLogger.Debug("reusing cached audio", logging.String("path", cached))
		r.progress(ctx, item.ID, 15, "reused cached audio")
		return cached, nil
	}

	wavPath := filepath.Join(workDir, "audio.wav")
	if err := r.extractor.ExtractAudio(ctx, item.SourcePath, wavPath); err != nil {
		return "", err
	}
	r.cacheAudio(ctx, item.SourcePath, audioParams, wavPath, jobLogger)
	r.progress(ctx, item.ID, 15, "extracted audio")
	return wavPath, nil
}

func (r *Runner) chunkStage(ctx context.Context, item *queue.Item, wavPath string) ([]media.Chunk, float64, error) {
	duration, err := r.extractor.ProbeDuration(ctx, wavPath)
	if err != nil {
		return nil, 0, err
	}
	info, err := os.Stat(wavPath)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "chunking", "stat", "audio file unavailable", err)
	}
	chunks, err := media.PlanChunks(duration, info.Size(), media.ChunkOptions{
		MaxChunkBytes:     r.cfg.Chunking.MaxChunkBytes,
		MinChunkBytes:     r.cfg.Chunking.MinChunkBytes,
		MaxChunkSeconds:   r.cfg.Chunking.MaxChunkSeconds,
		OverlapSeconds:    r.cfg.Chunking.OverlapSeconds,
		MaxChunksInMemory: r.cfg.Chunking.MaxChunksInMemory,
		MaxParallelChunks: r.cfg.Chunking.MaxParallelChunks,
	})
	if err != nil {
		return nil, 0, err
	}
	r.progress(ctx, item.ID, 20, fmt.Sprintf("planned %d chunks", len(chunks)))
	return chunks, duration, nil
}

// cacheLookup is a best-effort Get; cache trouble is logged, never fatal.
func (r *Runner) cacheLookup(ctx context.Context, sourcePath string, params map[string]string, jobLogger *slog.Logger) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	path, ok, err := r.cache.Get(ctx, sourcePath, params)
	if err != nil {
		jobLogger.Warn("cache lookup failed", logging.Error(err))
		return "", false
	}
	return path, ok
}

// cacheStore persists a finished artifact. A full disk downgrades the write
// to a miss rather than failing the job.
func (r *Runner) cacheStore(ctx context.Context, sourcePath string, params map[string]string, payload []byte, jobLogger *slog.Logger) {
	if r.cache == nil {
		return
	}
	if _, err := r.cache.Put(ctx, sourcePath, params, payload); err != nil {
		if errors.Is(err, services.ErrDiskSpace) {
			jobLogger.Warn("cache write skipped, disk nearly full", logging.Error(err))
			return
		}
		jobLogger.Warn("cache write failed", logging.Error(err))
	}
}

func (r *Runner) cacheAudio(ctx context.Context, sourcePath string, params map[string]string, wavPath string, jobLogger *slog.Logger) {
	payload, err := os.ReadFile(wavPath)
	if err != nil {
		jobLogger.Warn("read extracted audio for caching failed", logging.Error(err))
		return
	}
	r.cacheStore(ctx, sourcePath, params, payload, jobLogger)
}

// fastForward walks the remaining happy-path stages so a cache hit still
// advances one stage at a time.
func (r *Runner) fastForward(ctx context.Context, id int64, from queue.Status) error {
	current := from
	for current != queue.StatusCaching {
		next, ok := nextStage(current)
		if !ok {
			return fmt.Errorf("no stage after %s", current)
		}
		if err := r.store.Transition(ctx, id, next); err != nil {
			return err
		}
		current = next
	}
	return nil
}

func nextStage(from queue.Status) (queue.Status, bool) {
	switch from {
	case queue.StatusPending:
		return queue.StatusExtracting, true
	case queue.StatusExtracting:
		return queue.StatusChunking, true
	case queue.StatusChunking:
		return queue.StatusTranscribing, true
	case queue.StatusTranscribing:
		return queue.StatusMerging, true
	case queue.StatusMerging:
		return queue.StatusSegmenting, true
	case queue.StatusSegmenting:
		return queue.StatusCaching, true
	}
	return "", false
}

// progress persists an update and forwards it to the registered sink. Updates
// are serialized so concurrent chunk completions cannot publish a lower
// percentage after a higher one; a late arrival is clamped to the item's
// high-water mark.
func (r *Runner) progress(ctx context.Context, id int64, percent int, message string) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	if last, ok := r.lastPercent[id]; ok && percent < last {
		percent = last
	}
	r.lastPercent[id] = percent
	if err := r.store.UpdateProgress(ctx, id, percent, message); err != nil {
		r.logger.Warn("failed to persist progress",
			logging.Int64(logging.FieldJobID, id),
			logging.Error(err))
	}
	if r.progressFn != nil {
		r.progressFn(id, percent, message)
	}
}

func (r *Runner) forgetProgress(id int64) {
	r.progressMu.Lock()
	delete(r.lastPercent, id)
	r.progressMu.Unlock()
}

// subtitlePath derives the artifact location next to the source file.
func subtitlePath(sourcePath string) string {
	ext := filepath.Ext(sourcePath)
	return strings.TrimSuffix(sourcePath, ext) + ".srt"
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".subforge-artifact-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
