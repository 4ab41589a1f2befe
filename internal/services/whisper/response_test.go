package whisper

import (
	"strings"
	"testing"
)

func TestDecodePlainText(t *testing.T) {
	result, err := decodeTranscription([]byte(`{"text":" The quick brown fox. "}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.Text != "The quick brown fox." {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if len(result.Segments) != 0 {
		t.Fatalf("plain text response should carry no segments, got %d", len(result.Segments))
	}
}

func TestDecodeChunksWithTimestamps(t *testing.T) {
	body := `{"text":"one two","chunks":[{"text":" one ","timestamp":[0.0,1.5]},{"text":"two","timestamp":[1.5,null]}]}`
	result, err := decodeTranscription([]byte(body))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(result.Segments))
	}
	first := result.Segments[0]
	if first.Text != "one" || first.Start != 0 || first.End != 1.5 {
		t.Fatalf("unexpected first segment %+v", first)
	}
	// A null trailing timestamp collapses to the segment start.
	second := result.Segments[1]
	if second.Start != 1.5 || second.End != 1.5 {
		t.Fatalf("unexpected second segment %+v", second)
	}
}

func TestDecodeSegmentShape(t *testing.T) {
	body := `{"segments":[{"text":"hello","start":0.2,"end":2.4},{"text":"world","start":2.4,"end":4.0}]}`
	result, err := decodeTranscription([]byte(body))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.Text != "hello world" {
		t.Fatalf("expected text joined from segments, got %q", result.Text)
	}
	if len(result.Segments) != 2 || result.Segments[1].End != 4.0 {
		t.Fatalf("unexpected segments %+v", result.Segments)
	}
}

func TestDecodeBareArray(t *testing.T) {
	body := `[{"text":"alpha","timestamp":[0,1]},{"text":"beta","timestamp":[1,2]}]`
	result, err := decodeTranscription([]byte(body))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.Text != "alpha beta" || len(result.Segments) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestDecodeErrorPayload(t *testing.T) {
	_, err := decodeTranscription([]byte(`{"error":"model is overloaded"}`))
	if err == nil {
		t.Fatal("expected error payload to surface")
	}
	if !strings.Contains(err.Error(), "model is overloaded") {
		t.Fatalf("error should carry api message, got %v", err)
	}
}

func TestDecodeRejectsEmptyTranscript(t *testing.T) {
	for _, body := range []string{``, `{}`, `{"chunks":[]}`} {
		if _, err := decodeTranscription([]byte(body)); err == nil {
			t.Fatalf("expected error for body %q", body)
		}
	}
}
