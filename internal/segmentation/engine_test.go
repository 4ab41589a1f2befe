package segmentation

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSegmentSingleShortSentence(t *testing.T) {
	engine := NewEngine("en")
	cues := engine.Segment([]Segment{{Text: "Hello world.", Start: 0, End: 5}})
	if len(cues) != 1 {
		t.Fatalf("expected one cue, got %d", len(cues))
	}
	cue := cues[0]
	if cue.Index != 1 {
		t.Fatalf("first cue index should be 1, got %d", cue.Index)
	}
	if len(cue.Lines) != 1 || cue.Lines[0] != "Hello world." {
		t.Fatalf("unexpected lines %q", cue.Lines)
	}
	// 12 chars at 20 cps is below the 1s floor.
	if cue.Start != 0 || math.Abs(cue.End-1.0) > 1e-9 {
		t.Fatalf("unexpected timing %.3f-%.3f", cue.Start, cue.End)
	}
}

func TestSegmentLineLengthInvariant(t *testing.T) {
	engine := NewEngine("en")
	text := strings.Repeat("some reasonably sized words flowing along ", 6)
	cues := engine.Segment([]Segment{{Text: text, Start: 0, End: 60}})
	if len(cues) == 0 {
		t.Fatal("expected cues")
	}
	for _, cue := range cues {
		if len(cue.Lines) == 0 || len(cue.Lines) > engine.Rule().MaxLines {
			t.Fatalf("cue %d has %d lines", cue.Index, len(cue.Lines))
		}
		for _, line := range cue.Lines {
			if utf8.RuneCountInString(line) > engine.Rule().MaxCharsPerLine {
				t.Fatalf("cue %d line %q exceeds %d chars", cue.Index, line, engine.Rule().MaxCharsPerLine)
			}
		}
	}
}

func TestSegmentDurationBoundsAndSegmentEnd(t *testing.T) {
	engine := NewEngine("en")
	text := strings.Repeat("word after word after word after word. ", 8)
	segEnd := 12.0
	cues := engine.Segment([]Segment{{Text: text, Start: 2, End: segEnd}})
	if len(cues) == 0 {
		t.Fatal("expected cues")
	}
	for i, cue := range cues {
		if cue.End > segEnd+1e-9 {
			t.Fatalf("cue %d end %.3f exceeds segment end %.3f", cue.Index, cue.End, segEnd)
		}
		if cue.End <= cue.Start {
			t.Fatalf("cue %d has non-positive duration", cue.Index)
		}
		if i > 0 && cue.Start < cues[i-1].End-1e-9 {
			t.Fatalf("cue %d starts before predecessor ends", cue.Index)
		}
	}
	last := cues[len(cues)-1]
	if last.End > segEnd+1e-9 {
		t.Fatalf("final cue overruns the segment: %.3f > %.3f", last.End, segEnd)
	}
}

func TestSegmentAppliesEmphasisMultiplier(t *testing.T) {
	engine := NewEngine("en")
	// Both sentences total the same characters; only the punctuation differs.
	plain := engine.Segment([]Segment{{Text: "Watch out for the car.", Start: 0, End: 100}})
	strong := engine.Segment([]Segment{{Text: "Watch out for the car!", Start: 0, End: 100}})
	if len(plain) != 1 || len(strong) != 1 {
		t.Fatalf("expected one cue each, got %d and %d", len(plain), len(strong))
	}
	plainDur := plain[0].End - plain[0].Start
	strongDur := strong[0].End - strong[0].Start
	if math.Abs(strongDur-plainDur*1.2) > 1e-9 {
		t.Fatalf("emphatic cue should dwell 20%% longer: %.3f vs %.3f", strongDur, plainDur)
	}
}

func TestSegmentAppliesMultiLineMultiplier(t *testing.T) {
	engine := NewEngine("en")
	// Two words that cannot share a 42-char line force a two-line cue.
	text := strings.Repeat("a", 30) + " " + strings.Repeat("b", 30)
	cues := engine.Segment([]Segment{{Text: text, Start: 0, End: 100}})
	if len(cues) != 1 {
		t.Fatalf("expected one cue, got %d", len(cues))
	}
	if len(cues[0].Lines) != 2 {
		t.Fatalf("expected two lines, got %q", cues[0].Lines)
	}
	// 60 chars at 20 cps, then the multi-line dwell multiplier.
	want := 3.0 * 1.1
	if got := cues[0].End - cues[0].Start; math.Abs(got-want) > 1e-9 {
		t.Fatalf("duration %.3f, want %.3f", got, want)
	}
}

func TestSegmentHyphenatesOversizedWord(t *testing.T) {
	engine := NewEngine("en")
	word := strings.Repeat("x", 50)
	cues := engine.Segment([]Segment{{Text: word, Start: 0, End: 10}})
	if len(cues) == 0 {
		t.Fatal("expected cues")
	}
	first := cues[0].Lines[0]
	if !strings.HasSuffix(first, "-") {
		t.Fatalf("oversized word should hyphenate, got %q", first)
	}
	if utf8.RuneCountInString(first) != engine.Rule().MaxCharsPerLine {
		t.Fatalf("hyphenated line should use the full budget, got %d chars", utf8.RuneCountInString(first))
	}
}

func TestSegmentIndicesAreGlobal(t *testing.T) {
	engine := NewEngine("en")
	cues := engine.Segment([]Segment{
		{Text: "First segment here.", Start: 0, End: 5},
		{Text: "Second segment here. And another sentence.", Start: 5, End: 15},
	})
	if len(cues) < 3 {
		t.Fatalf("expected at least 3 cues, got %d", len(cues))
	}
	for i, cue := range cues {
		if cue.Index != i+1 {
			t.Fatalf("cue %d carries index %d", i, cue.Index)
		}
	}
}

func TestSegmentWrapsRTLText(t *testing.T) {
	engine := NewEngine("ar")
	cues := engine.Segment([]Segment{{Text: "مرحبا بالعالم.", Start: 0, End: 5}})
	if len(cues) != 1 {
		t.Fatalf("expected one cue, got %d", len(cues))
	}
	for _, line := range cues[0].Lines {
		if !strings.HasPrefix(line, rtlMark) || !strings.HasSuffix(line, rtlMark) {
			t.Fatalf("line %q should be wrapped in RTL marks", line)
		}
	}
}

func TestSegmentCJKUsesRuneBudget(t *testing.T) {
	engine := NewEngine("zh")
	text := strings.Repeat("字", 45) + "."
	cues := engine.Segment([]Segment{{Text: text, Start: 0, End: 30}})
	if len(cues) == 0 {
		t.Fatal("expected cues")
	}
	for _, cue := range cues {
		for _, line := range cue.Lines {
			if utf8.RuneCountInString(line) > 30 {
				t.Fatalf("line %q exceeds the CJK rune budget", line)
			}
		}
	}
}

func TestUnknownLanguageFallsBackToDefault(t *testing.T) {
	engine := NewEngine("xx")
	if engine.Rule() != defaultRule {
		t.Fatalf("unknown code should use default rules, got %+v", engine.Rule())
	}
}

func TestSegmentSkipsEmptyInput(t *testing.T) {
	engine := NewEngine("en")
	cues := engine.Segment([]Segment{
		{Text: "   ", Start: 0, End: 5},
		{Text: "valid.", Start: 5, End: 4},
	})
	if len(cues) != 0 {
		t.Fatalf("empty or inverted segments should yield no cues, got %d", len(cues))
	}
}
