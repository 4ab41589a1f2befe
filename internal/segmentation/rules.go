package segmentation

import "subforge/internal/language"

// Rule parameterizes cue layout and timing for one language, following
// common broadcaster subtitle guidelines.
type Rule struct {
	MaxCharsPerLine int
	MinCharsPerLine int
	MaxLines        int
	MinDuration     float64
	MaxDuration     float64
	CharsPerSecond  float64
}

var defaultRule = Rule{
	MaxCharsPerLine: 42,
	MinCharsPerLine: 20,
	MaxLines:        2,
	MinDuration:     1.0,
	MaxDuration:     7.0,
	CharsPerSecond:  20,
}

var rules = map[string]Rule{
	"en": defaultRule,
	// CJK glyphs carry more information per character and need more space.
	"zh": {
		MaxCharsPerLine: 30,
		MinCharsPerLine: 15,
		MaxLines:        2,
		MinDuration:     1.0,
		MaxDuration:     7.0,
		CharsPerSecond:  15,
	},
	"ja": {
		MaxCharsPerLine: 30,
		MinCharsPerLine: 15,
		MaxLines:        2,
		MinDuration:     1.0,
		MaxDuration:     7.0,
		CharsPerSecond:  15,
	},
	// Arabic script is more compact.
	"ar": {
		MaxCharsPerLine: 50,
		MinCharsPerLine: 25,
		MaxLines:        2,
		MinDuration:     1.0,
		MaxDuration:     7.0,
		CharsPerSecond:  25,
	},
}

// RuleFor returns the rule set for a language code (two- or three-letter),
// falling back to the default rules for unknown codes.
func RuleFor(code string) Rule {
	if rule, ok := rules[language.ToISO2(code)]; ok {
		return rule
	}
	return defaultRule
}
