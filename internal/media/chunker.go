package media

import (
	"fmt"
	"math"

	"subforge/internal/services"
)

// Chunk is one planned slice of the extracted audio. Start and Duration are
// seconds relative to the start of the track; consecutive chunks overlap so
// words cut at a boundary appear whole in at least one chunk.
type Chunk struct {
	Index    int
	Start    float64
	Duration float64
}

// End returns the chunk's end offset in seconds.
func (c Chunk) End() float64 {
	return c.Start + c.Duration
}

// ChunkOptions bounds the chunk plan.
type ChunkOptions struct {
	MaxChunkBytes     int64
	MinChunkBytes     int64
	MaxChunkSeconds   float64
	OverlapSeconds    float64
	MaxChunksInMemory int
	MaxParallelChunks int
}

// PlanChunks computes the chunk layout for an audio track of the given
// duration and byte size. A track that fits one chunk outright (within both
// the time and payload bounds) yields a single chunk spanning the whole
// track. Otherwise the per-chunk length is the tighter of two bounds:
//
//   - size: max(MinChunkBytes, totalBytes/MaxChunksInMemory), capped at
//     MaxChunkBytes, converted to seconds at the track's average byte rate
//   - time: min(MaxChunkSeconds, duration/MaxParallelChunks)
//
// Chunk starts advance by the length minus the overlap, and the last chunk
// is clamped to the track end. The plan is pure: same inputs, same plan.
func PlanChunks(durationSeconds float64, totalBytes int64, opts ChunkOptions) ([]Chunk, error) {
	if durationSeconds <= 0 {
		return nil, services.Wrap(services.ErrValidation, "chunking", "plan",
			fmt.Sprintf("invalid duration %.3f", durationSeconds), nil)
	}
	if totalBytes <= 0 {
		return nil, services.Wrap(services.ErrValidation, "chunking", "plan",
			fmt.Sprintf("invalid size %d", totalBytes), nil)
	}
	if opts.MaxChunkSeconds <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "chunking", "plan", "max chunk seconds must be positive", nil)
	}
	if opts.OverlapSeconds < 0 || opts.OverlapSeconds >= opts.MaxChunkSeconds {
		return nil, services.Wrap(services.ErrConfiguration, "chunking", "plan",
			fmt.Sprintf("overlap %.3f must be in [0, max chunk seconds)", opts.OverlapSeconds), nil)
	}

	fitsTime := durationSeconds <= opts.MaxChunkSeconds
	fitsSize := opts.MaxChunkBytes <= 0 || totalBytes <= opts.MaxChunkBytes
	if fitsTime && fitsSize {
		return []Chunk{{Index: 0, Start: 0, Duration: durationSeconds}}, nil
	}

	bytesPerSecond := float64(totalBytes) / durationSeconds

	sizeBoundBytes := float64(totalBytes)
	if opts.MaxChunksInMemory > 0 {
		sizeBoundBytes = float64(totalBytes) / float64(opts.MaxChunksInMemory)
	}
	if opts.MinChunkBytes > 0 && sizeBoundBytes < float64(opts.MinChunkBytes) {
		sizeBoundBytes = float64(opts.MinChunkBytes)
	}
	if opts.MaxChunkBytes > 0 && sizeBoundBytes > float64(opts.MaxChunkBytes) {
		sizeBoundBytes = float64(opts.MaxChunkBytes)
	}
	sizeBoundSeconds := sizeBoundBytes / bytesPerSecond

	timeBoundSeconds := opts.MaxChunkSeconds
	if opts.MaxParallelChunks > 0 {
		if byParallel := durationSeconds / float64(opts.MaxParallelChunks); byParallel < timeBoundSeconds {
			timeBoundSeconds = byParallel
		}
	}

	chunkSeconds := math.Min(sizeBoundSeconds, timeBoundSeconds)
	if chunkSeconds >= durationSeconds {
		return []Chunk{{Index: 0, Start: 0, Duration: durationSeconds}}, nil
	}
	if chunkSeconds <= opts.OverlapSeconds {
		return nil, services.Wrap(services.ErrConfiguration, "chunking", "plan",
			"chunk bounds leave no room beyond the overlap", nil)
	}

	stride := chunkSeconds - opts.OverlapSeconds
	var chunks []Chunk
	for start := 0.0; start < durationSeconds; start += stride {
		length := chunkSeconds
		if start+length > durationSeconds {
			length = durationSeconds - start
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, Duration: length})
		if start+chunkSeconds >= durationSeconds {
			break
		}
	}
	return chunks, nil
}

// CoverageGap returns the largest uncovered span between consecutive chunks,
// zero when the plan covers the track end to end.
func CoverageGap(chunks []Chunk, durationSeconds float64) float64 {
	if len(chunks) == 0 {
		return durationSeconds
	}
	gap := chunks[0].Start
	for i := 1; i < len(chunks); i++ {
		if delta := chunks[i].Start - chunks[i-1].End(); delta > gap {
			gap = delta
		}
	}
	if tail := durationSeconds - chunks[len(chunks)-1].End(); tail > gap {
		gap = tail
	}
	return math.Max(gap, 0)
}
