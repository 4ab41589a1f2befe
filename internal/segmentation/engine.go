package segmentation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"subforge/internal/language"
)

// rtlMark is U+200F RIGHT-TO-LEFT MARK.
const rtlMark = "‏"

// Segment is one timed span of transcript text to lay out as cues.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Cue is one subtitle display unit. Index is 1-based and sequential across
// the whole file.
type Cue struct {
	Index int
	Start float64
	End   float64
	Lines []string
}

// Engine converts transcript segments into cues under one language's rules.
type Engine struct {
	rule Rule
	rtl  bool
}

// NewEngine builds an engine for the given language code. Unknown codes use
// the default rules.
func NewEngine(languageCode string) *Engine {
	return &Engine{
		rule: RuleFor(languageCode),
		rtl:  language.IsRTL(languageCode),
	}
}

// Rule exposes the active rule set.
func (e *Engine) Rule() Rule {
	return e.rule
}

// Segment lays out all input segments as cues. Within a segment, sentences
// are timed by reading speed and packed front to back; a cue never extends
// past its parent segment's end.
func (e *Engine) Segment(segments []Segment) []Cue {
	var cues []Cue
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" || seg.End <= seg.Start {
			continue
		}
		current := seg.Start
		for _, sentence := range splitSentences(text) {
			lines := e.packLines(sentence.text)
			if len(lines) == 0 {
				continue
			}
			for _, group := range groupLines(lines, e.rule.MaxLines) {
				remaining := seg.End - current
				if remaining <= 0 {
					break
				}
				duration := e.cueDuration(group.lines, group.last && sentence.emphatic)
				if duration > remaining {
					duration = remaining
				}
				cues = append(cues, Cue{
					Start: current,
					End:   current + duration,
					Lines: e.renderLines(group.lines),
				})
				current += duration
			}
		}
	}
	for i := range cues {
		cues[i].Index = i + 1
	}
	return cues
}

// cueDuration computes the clamped reading-speed duration for one cue, then
// applies the dwell multipliers. The multipliers run after the [min, max]
// clamp; the parent-segment truncation happens in the caller.
func (e *Engine) cueDuration(lines []string, emphatic bool) float64 {
	totalChars := 0
	for _, line := range lines {
		totalChars += utf8.RuneCountInString(line)
	}
	duration := float64(totalChars) / e.rule.CharsPerSecond
	if duration < e.rule.MinDuration {
		duration = e.rule.MinDuration
	}
	if duration > e.rule.MaxDuration {
		duration = e.rule.MaxDuration
	}
	if len(lines) > 1 {
		duration *= 1.1
	}
	if emphatic {
		duration *= 1.2
	}
	return duration
}

// packLines greedily packs words into lines of at most MaxCharsPerLine
// characters. A single word longer than the limit is hyphen-split at
// limit-1 characters.
func (e *Engine) packLines(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	maxChars := e.rule.MaxCharsPerLine

	var lines []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
			current = nil
			currentLen = 0
		}
	}

	for _, word := range words {
		for utf8.RuneCountInString(word) > maxChars {
			flush()
			runes := []rune(word)
			split := maxChars - 1
			lines = append(lines, string(runes[:split])+"-")
			word = string(runes[split:])
		}
		wordLen := utf8.RuneCountInString(word)
		spaceLen := 0
		if len(current) > 0 {
			spaceLen = 1
		}
		if currentLen+wordLen+spaceLen > maxChars {
			flush()
		}
		current = append(current, word)
		currentLen += wordLen
		if len(current) > 1 {
			currentLen++
		}
	}
	flush()
	return lines
}

func (e *Engine) renderLines(lines []string) []string {
	if !e.rtl {
		return lines
	}
	wrapped := make([]string, len(lines))
	for i, line := range lines {
		wrapped[i] = rtlMark + line + rtlMark
	}
	return wrapped
}

type sentencePart struct {
	text     string
	emphatic bool
}

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

// splitSentences splits text on sentence-ending punctuation runs, keeping
// each run attached to the sentence it terminates. Text after the final
// punctuation run becomes a trailing sentence of its own.
func splitSentences(text string) []sentencePart {
	var parts []sentencePart
	last := 0
	for _, match := range sentenceEnd.FindAllStringIndex(text, -1) {
		body := strings.TrimSpace(text[last:match[0]])
		punct := text[match[0]:match[1]]
		if body != "" {
			parts = append(parts, sentencePart{
				text:     body + punct,
				emphatic: strings.ContainsAny(punct, "!?"),
			})
		}
		last = match[1]
	}
	if tail := strings.TrimSpace(text[last:]); tail != "" {
		parts = append(parts, sentencePart{text: tail})
	}
	return parts
}

type lineGroup struct {
	lines []string
	last  bool
}

// groupLines splits packed lines into cue-sized groups of at most maxLines.
func groupLines(lines []string, maxLines int) []lineGroup {
	if maxLines <= 0 {
		return []lineGroup{{lines: lines, last: true}}
	}
	var groups []lineGroup
	for start := 0; start < len(lines); start += maxLines {
		end := start + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		groups = append(groups, lineGroup{lines: lines[start:end], last: end == len(lines)})
	}
	return groups
}
