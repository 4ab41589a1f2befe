package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

type entry struct {
	code2 string   // ISO 639-1 (2-letter)
	code3 string   // ISO 639-2 primary (3-letter)
	alt3  string   // ISO 639-2 alternate (e.g. "fre" vs "fra")
	words []string // Full word forms (e.g. "english")
}

var languages = []entry{
	{"en", "eng", "", []string{"english"}},
	{"es", "spa", "", []string{"spanish"}},
	{"fr", "fra", "fre", []string{"french"}},
	{"de", "deu", "ger", []string{"german"}},
	{"it", "ita", "", []string{"italian"}},
	{"pt", "por", "", []string{"portuguese"}},
	{"nl", "nld", "dut", []string{"dutch"}},
	{"pl", "pol", "", []string{"polish"}},
	{"ru", "rus", "", []string{"russian"}},
	{"uk", "ukr", "", []string{"ukrainian"}},
	{"ja", "jpn", "", []string{"japanese"}},
	{"ko", "kor", "", []string{"korean"}},
	{"zh", "zho", "chi", []string{"chinese"}},
	{"ar", "ara", "", []string{"arabic"}},
	{"he", "heb", "", []string{"hebrew"}},
	{"fa", "fas", "per", []string{"persian", "farsi"}},
	{"ur", "urd", "", []string{"urdu"}},
	{"hi", "hin", "", []string{"hindi"}},
	{"bn", "ben", "", []string{"bengali"}},
}

// rtl holds the 2-letter codes of right-to-left scripts.
var rtl = map[string]struct{}{
	"ar": {},
	"he": {},
	"fa": {},
	"ur": {},
}

var (
	byCode2 map[string]*entry
	byCode3 map[string]*entry
	byWord  map[string]*entry
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byCode3 = make(map[string]*entry, len(languages)*2)
	byWord = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		byCode3[e.code3] = e
		if e.alt3 != "" {
			byCode3[e.alt3] = e
		}
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if e, ok := byCode2[code]; ok {
		return e
	}
	if e, ok := byCode3[code]; ok {
		return e
	}
	if e, ok := byWord[code]; ok {
		return e
	}
	return nil
}

// ToISO2 converts any recognized language code or word to ISO 639-1 (2-letter).
// Returns empty string for unrecognized input. If the input is already a
// 2-letter code, it passes through even when unknown to the table.
func ToISO2(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if e := lookup(code); e != nil {
		return e.code2
	}
	if len(code) == 2 {
		return code
	}
	return ""
}

// IsRTL reports whether the language is written right to left.
func IsRTL(code string) bool {
	_, ok := rtl[ToISO2(code)]
	return ok
}

// DisplayName returns the English display name for a language code,
// or the input unchanged when the code cannot be resolved.
func DisplayName(code string) string {
	iso := ToISO2(code)
	if iso == "" {
		return code
	}
	tag, err := language.Parse(iso)
	if err != nil {
		return code
	}
	return display.English.Languages().Name(tag)
}
