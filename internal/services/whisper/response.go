package whisper

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Segment is one timed span of recognized speech. Times are seconds relative
// to the start of the uploaded audio.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Transcription is the normalized result of one inference call. Text is
// always populated; Segments may be empty when the endpoint returned only a
// flat transcript.
type Transcription struct {
	Text     string
	Segments []Segment
}

type rawChunk struct {
	Text      string     `json:"text"`
	Timestamp []*float64 `json:"timestamp"`
}

type rawSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type rawResponse struct {
	Text     string       `json:"text"`
	Chunks   []rawChunk   `json:"chunks"`
	Segments []rawSegment `json:"segments"`
	Error    string       `json:"error"`
}

// decodeTranscription accepts every payload shape the endpoint is known to
// produce: an object with "text", an object with "chunks" (text plus a
// [start, end] timestamp pair), an object with "segments", a bare array of
// either, or an object carrying only "error".
func decodeTranscription(body []byte) (Transcription, error) {
	var empty Transcription
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return empty, errors.New("empty response body")
	}

	if strings.HasPrefix(trimmed, "[") {
		return decodeArray([]byte(trimmed))
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return empty, fmt.Errorf("unmarshal response: %w", err)
	}
	if raw.Error != "" {
		return empty, fmt.Errorf("api error: %s", raw.Error)
	}

	result := Transcription{Text: strings.TrimSpace(raw.Text)}
	switch {
	case len(raw.Chunks) > 0:
		result.Segments = segmentsFromChunks(raw.Chunks)
	case len(raw.Segments) > 0:
		result.Segments = segmentsFromSegments(raw.Segments)
	}
	if result.Text == "" {
		result.Text = joinSegmentText(result.Segments)
	}
	if result.Text == "" && len(result.Segments) == 0 {
		return empty, errors.New("response carried no transcript")
	}
	return result, nil
}

func decodeArray(body []byte) (Transcription, error) {
	var empty Transcription

	var chunks []rawChunk
	if err := json.Unmarshal(body, &chunks); err == nil && len(chunks) > 0 && chunks[0].Timestamp != nil {
		segments := segmentsFromChunks(chunks)
		return Transcription{Text: joinSegmentText(segments), Segments: segments}, nil
	}

	var segs []rawSegment
	if err := json.Unmarshal(body, &segs); err != nil {
		return empty, fmt.Errorf("unmarshal response array: %w", err)
	}
	segments := segmentsFromSegments(segs)
	if len(segments) == 0 {
		return empty, errors.New("response carried no transcript")
	}
	return Transcription{Text: joinSegmentText(segments), Segments: segments}, nil
}

func segmentsFromChunks(chunks []rawChunk) []Segment {
	segments := make([]Segment, 0, len(chunks))
	for _, chunk := range chunks {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		segment := Segment{Text: text}
		// Timestamps arrive as [start, end]; the final end may be null when
		// the model ran off the end of the audio.
		if len(chunk.Timestamp) > 0 && chunk.Timestamp[0] != nil {
			segment.Start = *chunk.Timestamp[0]
		}
		if len(chunk.Timestamp) > 1 && chunk.Timestamp[1] != nil {
			segment.End = *chunk.Timestamp[1]
		} else {
			segment.End = segment.Start
		}
		segments = append(segments, segment)
	}
	return segments
}

func segmentsFromSegments(raw []rawSegment) []Segment {
	segments := make([]Segment, 0, len(raw))
	for _, seg := range raw {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Text: text, Start: seg.Start, End: seg.End})
	}
	return segments
}

func joinSegmentText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		parts = append(parts, segment.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
