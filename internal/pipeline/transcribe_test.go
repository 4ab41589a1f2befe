package pipeline

import (
	"errors"
	"testing"

	"subforge/internal/media"
	"subforge/internal/segmentation"
	"subforge/internal/services"
	"subforge/internal/services/whisper"
)

func TestMergeTranscriptsOrdersByStartTime(t *testing.T) {
	// Per-chunk results arrive indexed, not in completion order; the late
	// chunks here carry the earliest timestamps.
	transcripts := [][]segmentation.Segment{
		{{Text: "third", Start: 200, End: 210}},
		{{Text: "first", Start: 0, End: 5}, {Text: "second", Start: 5, End: 10}},
		{{Text: "fourth", Start: 300, End: 310}},
	}

	merged, err := mergeTranscripts(transcripts, 3, 0)
	if err != nil {
		t.Fatalf("mergeTranscripts: %v", err)
	}
	if len(merged) != 4 {
		t.Fatalf("len(merged) = %d, want 4", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].Start < merged[i-1].Start {
			t.Fatalf("merged[%d].Start = %v precedes merged[%d].Start = %v", i, merged[i].Start, i-1, merged[i-1].Start)
		}
	}
	if merged[0].Text != "first" || merged[3].Text != "fourth" {
		t.Fatalf("unexpected ordering: %q ... %q", merged[0].Text, merged[3].Text)
	}
}

func TestMergeTranscriptsFailsWhenAllChunksFailed(t *testing.T) {
	_, err := mergeTranscripts(make([][]segmentation.Segment, 3), 3, 3)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestMergeTranscriptsRejectsEmptyTranscript(t *testing.T) {
	_, err := mergeTranscripts(make([][]segmentation.Segment, 2), 2, 0)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestOffsetSegmentsRebasesOntoSourceTimeline(t *testing.T) {
	chunk := media.Chunk{Index: 1, Start: 99, Duration: 100}
	transcription := whisper.Transcription{
		Segments: []whisper.Segment{
			{Text: "a", Start: 0, End: 4},
			{Text: "b", Start: 4, End: 9},
		},
	}

	segments := offsetSegments(transcription, chunk)
	if len(segments) != 2 {
		t.Fatalf("len(segments) = %d, want 2", len(segments))
	}
	if segments[0].Start != 99 || segments[0].End != 103 {
		t.Fatalf("segments[0] = [%v, %v], want [99, 103]", segments[0].Start, segments[0].End)
	}
	if segments[1].Start != 103 || segments[1].End != 108 {
		t.Fatalf("segments[1] = [%v, %v], want [103, 108]", segments[1].Start, segments[1].End)
	}
}

func TestOffsetSegmentsSynthesizesFlatTranscript(t *testing.T) {
	chunk := media.Chunk{Index: 0, Start: 10, Duration: 30}
	segments := offsetSegments(whisper.Transcription{Text: "hello"}, chunk)
	if len(segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(segments))
	}
	if segments[0].Text != "hello" || segments[0].Start != 10 || segments[0].End != 40 {
		t.Fatalf("segment = %+v, want hello spanning [10, 40]", segments[0])
	}
}
