package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"subforge/internal/logging"
	"subforge/internal/media"
	"subforge/internal/queue"
	"subforge/internal/segmentation"
	"subforge/internal/services"
	"subforge/internal/services/whisper"
)

// transcribeChunks fans one inference call out per chunk, bounded by the
// configured parallelism. Each chunk's audio file is deleted as soon as its
// response lands. Transient chunk failures are recorded but do not abort the
// job; a configuration failure cancels the remaining chunks immediately.
func (r *Runner) transcribeChunks(ctx context.Context, item *queue.Item, wavPath string, chunks []media.Chunk, workDir string, jobLogger *slog.Logger) ([][]segmentation.Segment, int, error) {
	maxParallel := r.cfg.Chunking.MaxParallelChunks
	if maxParallel < 1 {
		maxParallel = 1
	}

	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
		done     atomic.Int64
	)
	results := make([][]segmentation.Segment, len(chunks))
	chunkErrs := make([]error, len(chunks))
	sem := make(chan struct{}, maxParallel)

	for i, chunk := range chunks {
		select {
		case <-chunkCtx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func(index int, chunk media.Chunk) {
				defer wg.Done()
				defer func() { <-sem }()

				segments, err := r.transcribeOne(chunkCtx, wavPath, chunk, len(chunks), workDir)
				if err != nil {
					chunkErrs[index] = err
					if services.IsFatal(err) {
						mu.Lock()
						if fatalErr == nil {
							fatalErr = err
						}
						mu.Unlock()
						cancel()
					}
					return
				}
				results[index] = segments

				completed := done.Add(1)
				percent := 20 + int(60*completed/int64(len(chunks)))
				r.progress(ctx, item.ID, percent, fmt.Sprintf("transcribed chunk %d/%d", completed, len(chunks)))
			}(i, chunk)
		}
	}
	wg.Wait()

	if fatalErr != nil {
		return nil, 0, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	failed := 0
	for i, err := range chunkErrs {
		if err == nil {
			continue
		}
		failed++
		jobLogger.Warn("chunk transcription failed",
			logging.Int("chunk", i),
			logging.Float64("start_seconds", chunks[i].Start),
			logging.Error(err))
	}
	return results, failed, nil
}

// transcribeOne extracts the chunk's audio (reusing the full WAV when the
// plan is a single chunk), uploads it, and shifts the returned segment times
// by the chunk's offset.
func (r *Runner) transcribeOne(ctx context.Context, wavPath string, chunk media.Chunk, total int, workDir string) ([]segmentation.Segment, error) {
	audioPath := wavPath
	if total > 1 {
		audioPath = filepath.Join(workDir, fmt.Sprintf("chunk-%03d.wav", chunk.Index))
		if err := r.extractor.ExtractChunk(ctx, wavPath, chunk, audioPath); err != nil {
			return nil, err
		}
	}

	transcription, err := r.client.Transcribe(ctx, audioPath)
	if audioPath != wavPath {
		if removeErr := os.Remove(audioPath); removeErr != nil {
			r.logger.Warn("failed to remove chunk audio", logging.Error(removeErr))
		}
	}
	if err != nil {
		return nil, err
	}
	return offsetSegments(transcription, chunk), nil
}

// offsetSegments rebases a chunk-relative transcription onto the source
// timeline. A flat transcript with no timestamps becomes one segment spanning
// the whole chunk.
func offsetSegments(transcription whisper.Transcription, chunk media.Chunk) []segmentation.Segment {
	if len(transcription.Segments) == 0 {
		return []segmentation.Segment{{
			Text:  transcription.Text,
			Start: chunk.Start,
			End:   chunk.End(),
		}}
	}
	segments := make([]segmentation.Segment, 0, len(transcription.Segments))
	for _, seg := range transcription.Segments {
		segments = append(segments, segmentation.Segment{
			Text:  seg.Text,
			Start: seg.Start + chunk.Start,
			End:   seg.End + chunk.Start,
		})
	}
	return segments
}

// mergeTranscripts flattens per-chunk results in timeline order. Chunks that
// errored are simply absent; the job only fails when nothing transcribed.
func mergeTranscripts(transcripts [][]segmentation.Segment, total, failed int) ([]segmentation.Segment, error) {
	if total > 0 && failed >= total {
		return nil, services.Wrap(services.ErrTransient, "merging", "merge",
			fmt.Sprintf("all %d chunks failed to transcribe", total), nil)
	}
	var merged []segmentation.Segment
	for _, segments := range transcripts {
		merged = append(merged, segments...)
	}
	if len(merged) == 0 {
		return nil, services.Wrap(services.ErrValidation, "merging", "merge", "no transcript segments to merge", nil)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start < merged[j].Start
	})
	return merged, nil
}
